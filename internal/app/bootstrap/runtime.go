package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cacheadapter "github.com/viralforge/escrow-commission-engine/internal/adapters/cache"
	eventadapter "github.com/viralforge/escrow-commission-engine/internal/adapters/events"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/gateway"
	grpcadapter "github.com/viralforge/escrow-commission-engine/internal/adapters/grpc"
	httpadapter "github.com/viralforge/escrow-commission-engine/internal/adapters/http"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/memory"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/metrics"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/postgres"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/scheduler"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/security"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	service   *application.Service
	metrics   *metrics.Prometheus
	tokens    *security.TokenVerifier
	webhooks  *security.WebhookVerifier
	outbox    *eventadapter.OutboxWorker
	consumer  *eventadapter.ConsumerWorker
	scheduler *scheduler.Scheduler
	probes    []func(context.Context) error
	cleanup   []func()
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)
	logger.Info("bootstrapping escrow commission engine", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	rt := &Runtime{cfg: cfg, logger: logger, metrics: metrics.NewPrometheus()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		store      ports.LedgerStore
		audit      ports.AuditRepository
		outbox     ports.OutboxRepository
		eventDedup ports.EventDedupRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gorm sql db: %w", err)
		}
		rt.cleanup = append(rt.cleanup, func() { _ = sqlDB.Close() })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		repos := postgres.NewRepositories(db)
		store, audit, outbox, eventDedup = repos.Ledger, repos.Audit, repos.Outbox, repos.EventDedup
		rt.probes = append(rt.probes, sqlDB.PingContext)
	} else {
		logger.Warn("no postgres url configured; using in-memory ledger store")
		mem := memory.NewStore()
		store, audit, outbox, eventDedup = mem, mem, mem, mem
	}

	var activity ports.ActivityCounter
	if cfg.RedisURL != "" {
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.cleanup = append(rt.cleanup, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		activity = cacheadapter.NewRedisActivityCounter(redisClient)
		rt.probes = append(rt.probes, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	} else {
		logger.Warn("no redis url configured; suspicious-activity counters are process-local")
		activity = cacheadapter.NewMemoryActivityCounter(nil)
	}

	var paymentGateway ports.PaymentGateway
	if cfg.GatewayBaseURL != "" {
		paymentGateway = gateway.NewClient(gateway.ClientConfig{
			BaseURL:           cfg.GatewayBaseURL,
			SecretKey:         cfg.GatewaySecretKey,
			RequestsPerSecond: cfg.GatewayRPS,
			Burst:             cfg.GatewayBurst,
		})
	} else {
		logger.Warn("no payment gateway configured; using sandbox gateway")
		paymentGateway = gateway.NewSandbox()
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		logger.Warn("using ephemeral JWT secret for local/dev runtime")
		jwtSecret = uuid.NewString() + uuid.NewString()
	}
	rt.tokens, err = security.NewTokenVerifier(jwtSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("init jwt verifier: %w", err)
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("no gateway webhook secret configured; payment webhooks will be rejected")
	}
	rt.webhooks = security.NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	rt.service = application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:               cfg.ServiceID,
			Currency:                  cfg.Currency,
			DepositTimeout:            cfg.DepositTimeout,
			QRTTL:                     cfg.QRTTL,
			ReconciliationBatchSize:   cfg.ReconciliationBatchSize,
			TierTable:                 cfg.TierTable,
			LargeTransactionThreshold: cfg.LargeTransactionThreshold,
			ContractStateChangeLimit:  cfg.ContractStateChangeLimit,
			ContractStateChangeWindow: cfg.ContractStateChangeWindow,
			ClientTransactionLimit:    cfg.ClientTransactionLimit,
			ClientTransactionWindow:   cfg.ClientTransactionWindow,
		},
		Store:      store,
		Audit:      audit,
		Gateway:    paymentGateway,
		Activity:   activity,
		EventDedup: eventDedup,
		Metrics:    rt.metrics,
		Logger:     logger,
	})

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	var consumer eventadapter.Consumer = eventadapter.NewNoopConsumer()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, topicMap(cfg.KafkaTopicPrefix))
		if err != nil {
			return nil, err
		}
		rt.cleanup = append(rt.cleanup, func() { _ = kafkaPublisher.Close() })
		kafkaConsumer, err := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaDisputeTopic})
		if err != nil {
			return nil, err
		}
		rt.cleanup = append(rt.cleanup, func() { _ = kafkaConsumer.Close() })
		publisher, consumer = kafkaPublisher, kafkaConsumer
	}
	rt.outbox = eventadapter.NewOutboxWorker(logger, outbox, publisher,
		cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxClaimTTL, cfg.OutboxMaxRetries)
	rt.consumer = eventadapter.NewConsumerWorker(logger, consumer, rt.service, cfg.KafkaDisputeTopic, cfg.ConsumerPollPeriod)

	rt.scheduler, err = scheduler.New(logger, rt.service, []scheduler.Schedule{
		{Job: application.JobExpireQRCodes, Spec: cfg.CronExpireQRCodes},
		{Job: application.JobCancelStuckDeposits, Spec: cfg.CronCancelStuckDeposits},
		{Job: application.JobRecomputeTiers, Spec: cfg.CronRecomputeTiers},
		{Job: application.JobMonthlyReport, Spec: cfg.CronMonthlyReport},
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// topicMap routes every emitted event to prefix+event type. An empty prefix
// publishes to topics named after the event types.
func topicMap(prefix string) map[string]string {
	if prefix == "" {
		return nil
	}
	out := map[string]string{}
	for _, eventType := range []string{
		domain.EventEscrowCreated,
		domain.EventEscrowFunded,
		domain.EventEscrowReleased,
		domain.EventEscrowRefunded,
		domain.EventEscrowCancelled,
		domain.EventEscrowDisputed,
		domain.EventSecurityCriticalEvent,
		domain.EventCommissionReportReady,
	} {
		out[eventType] = prefix + eventType
	}
	return out
}

func (r *Runtime) Service() *application.Service {
	return r.service
}

func (r *Runtime) Tokens() *security.TokenVerifier {
	return r.tokens
}

func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	opts := httpadapter.Options{
		Verifier:        r.tokens,
		Webhooks:        r.webhooks,
		RateLimiter:     httpadapter.NewRateLimiter(r.cfg.APIRateLimitRPS, r.cfg.APIRateLimitBurst),
		Instrument:      r.metrics.InstrumentHandler,
		MetricsHandler:  r.metrics.Handler(),
		ReadinessProbes: r.probes,
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(httpadapter.NewHandler(r.service, opts), opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	probes := make([]grpcadapter.Probe, 0, len(r.probes))
	for _, p := range r.probes {
		probes = append(probes, p)
	}
	grpcServer := grpcadapter.NewServer(r.logger, r.cfg.ServiceID, probes...)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := grpcServer.GRPC().Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go grpcServer.MonitorHealth(ctx, r.cfg.HealthProbePeriod)

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.Shutdown()
	return runErr
}

// RunWorker runs the outbox publisher, the inbound consumer and the
// reconciliation scheduler until the first of them fails or a signal arrives.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	r.logger.Info("worker started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.outbox.Run(gctx) })
	g.Go(func() error { return r.consumer.Run(gctx) })
	g.Go(func() error { return r.scheduler.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunJob runs one reconciliation job and then publishes whatever it enqueued.
func (r *Runtime) RunJob(ctx context.Context, name string) (application.JobResult, error) {
	result, err := r.service.RunJob(ctx, name)
	if err != nil {
		return result, err
	}
	if _, err := r.outbox.ProcessOnce(ctx); err != nil {
		r.logger.WarnContext(ctx, "outbox flush after job failed", "job", name, "error", err)
	}
	return result, nil
}

func (r *Runtime) Close() {
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
	r.cleanup = nil
}
