package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/viralforge/escrow-commission-engine/internal/adapters/security"
	"github.com/viralforge/escrow-commission-engine/internal/app/bootstrap"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and internal gRPC server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			return rt.RunAPI(cmd.Context())
		},
	}
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the outbox publisher, dispute consumer and reconciliation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			return rt.RunWorker(cmd.Context())
		},
	}
}

func reconcileCmd(configPath *string) *cobra.Command {
	jobs := []string{
		application.JobExpireQRCodes,
		application.JobCancelStuckDeposits,
		application.JobRecomputeTiers,
		application.JobMonthlyReport,
	}
	return &cobra.Command{
		Use:       "reconcile [job]",
		Short:     "Run one reconciliation job now",
		Long:      "Run one reconciliation job now. Jobs: " + strings.Join(jobs, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.RunJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func reportCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [period]",
		Short: "Show or generate the monthly commission report for YYYY-MM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			generate, _ := cmd.Flags().GetBool("generate")
			rt, err := bootstrap.NewRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			actor := application.Actor{SubjectID: "escrowctl", Role: domain.RoleAdmin, RequestID: "escrowctl-" + uuid.NewString()}
			var report domain.MonthlyCommissionReport
			if generate {
				report, err = rt.Service().GenerateMonthlyReport(cmd.Context(), actor, args[0])
			} else {
				report, err = rt.Service().GetMonthlyReport(cmd.Context(), actor, args[0])
			}
			if err != nil {
				return fmt.Errorf("monthly report %s: %s", args[0], application.PublicMessage(err))
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolP("generate", "g", false, "Build the report from stored commissions before printing")
	return cmd
}

func tierCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tier [specialist-id]",
		Short: "Print a specialist's current commission tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(cmd.OutOrStdout(), rt.Service().GetSpecialistTier(cmd.Context(), args[0]))
		},
	}
}

func tokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an access token signed with the configured JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			cfg, err := bootstrap.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			verifier, err := security.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return err
			}
			token, err := verifier.Sign(security.Claims{UserID: args[0], Role: role}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringP("role", "r", domain.RoleClient, "Role claim (client, specialist, admin)")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
