package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

// Config is the resolved runtime configuration. Values come from defaults,
// then configs/default.yaml, then environment variables.
type Config struct {
	ServiceID string
	LogLevel  string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	MaxDBConns  int32
	RedisURL    string

	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaDisputeTopic  string
	KafkaTopicPrefix   string
	ConsumerPollPeriod time.Duration

	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayRPS       float64
	GatewayBurst     int

	JWTSecret         string
	JWTIssuer         string
	AllowEphemeralJWT bool
	WebhookSecret     string
	WebhookTolerance  time.Duration
	APIRateLimitRPS   float64
	APIRateLimitBurst int
	HealthProbePeriod time.Duration
	ShutdownTimeout   time.Duration

	Currency                  string
	DepositTimeout            time.Duration
	QRTTL                     time.Duration
	ReconciliationBatchSize   int
	LargeTransactionThreshold int64
	ContractStateChangeLimit  int
	ContractStateChangeWindow time.Duration
	ClientTransactionLimit    int
	ClientTransactionWindow   time.Duration
	TierTable                 []domain.TierRule

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	CronExpireQRCodes       string
	CronCancelStuckDeposits string
	CronRecomputeTiers      string
	CronMonthlyReport       string
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
		Kafka       struct {
			Brokers      []string `yaml:"brokers"`
			GroupID      string   `yaml:"group_id"`
			DisputeTopic string   `yaml:"dispute_topic"`
			TopicPrefix  string   `yaml:"topic_prefix"`
		} `yaml:"kafka"`
		Gateway struct {
			BaseURL           string  `yaml:"base_url"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"gateway"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTIssuer         string  `yaml:"jwt_issuer"`
		AllowEphemeralJWT *bool   `yaml:"allow_ephemeral_jwt"`
		RateLimitRPS      float64 `yaml:"rate_limit_rps"`
		RateLimitBurst    int     `yaml:"rate_limit_burst"`
	} `yaml:"auth"`
	Escrow struct {
		Currency                string `yaml:"currency"`
		DepositTimeoutHours     int    `yaml:"deposit_timeout_hours"`
		QRTTLHours              int    `yaml:"qr_ttl_hours"`
		ReconciliationBatchSize int    `yaml:"reconciliation_batch_size"`
	} `yaml:"escrow"`
	Audit struct {
		LargeTransactionThreshold  int64 `yaml:"large_transaction_threshold"`
		ContractStateChangeLimit   int   `yaml:"contract_state_change_limit"`
		ContractStateChangeMinutes int   `yaml:"contract_state_change_window_minutes"`
		ClientTransactionLimit     int   `yaml:"client_transaction_limit"`
		ClientTransactionHours     int   `yaml:"client_transaction_window_hours"`
	} `yaml:"audit"`
	Tiers    []domain.TierRule `yaml:"tiers"`
	Schedule struct {
		ExpireQRCodes       *string `yaml:"expire_qr_codes"`
		CancelStuckDeposits *string `yaml:"cancel_stuck_deposits"`
		RecomputeTiers      *string `yaml:"recompute_tiers"`
		MonthlyReport       *string `yaml:"monthly_report"`
	} `yaml:"schedule"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                 "escrow-commission-engine",
		LogLevel:                  "info",
		HTTPPort:                  8080,
		GRPCPort:                  9090,
		MaxDBConns:                20,
		KafkaGroupID:              "escrow-commission-engine",
		KafkaDisputeTopic:         domain.EventDisputeOpened,
		ConsumerPollPeriod:        2 * time.Second,
		GatewayRPS:                25,
		GatewayBurst:              10,
		AllowEphemeralJWT:         true,
		WebhookTolerance:          5 * time.Minute,
		APIRateLimitRPS:           20,
		APIRateLimitBurst:         40,
		HealthProbePeriod:         10 * time.Second,
		ShutdownTimeout:           10 * time.Second,
		Currency:                  "usd",
		DepositTimeout:            24 * time.Hour,
		QRTTL:                     domain.DefaultQRTTL,
		ReconciliationBatchSize:   500,
		LargeTransactionThreshold: 1_000_000,
		ContractStateChangeLimit:  5,
		ContractStateChangeWindow: time.Hour,
		ClientTransactionLimit:    10,
		ClientTransactionWindow:   24 * time.Hour,
		TierTable:                 domain.DefaultTierTable(),
		OutboxPollInterval:        2 * time.Second,
		OutboxBatchSize:           100,
		OutboxClaimTTL:            30 * time.Second,
		OutboxMaxRetries:          5,
		CronExpireQRCodes:         "*/5 * * * *",
		CronCancelStuckDeposits:   "0 * * * *",
		CronRecomputeTiers:        "30 2 * * *",
		CronMonthlyReport:         "0 3 1 * *",
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.Kafka.Brokers
	}
	if f.Dependencies.Kafka.GroupID != "" {
		cfg.KafkaGroupID = f.Dependencies.Kafka.GroupID
	}
	if f.Dependencies.Kafka.DisputeTopic != "" {
		cfg.KafkaDisputeTopic = f.Dependencies.Kafka.DisputeTopic
	}
	cfg.KafkaTopicPrefix = f.Dependencies.Kafka.TopicPrefix
	if f.Dependencies.Gateway.BaseURL != "" {
		cfg.GatewayBaseURL = f.Dependencies.Gateway.BaseURL
	}
	if f.Dependencies.Gateway.RequestsPerSecond > 0 {
		cfg.GatewayRPS = f.Dependencies.Gateway.RequestsPerSecond
	}
	if f.Dependencies.Gateway.Burst > 0 {
		cfg.GatewayBurst = f.Dependencies.Gateway.Burst
	}
	if f.Auth.JWTIssuer != "" {
		cfg.JWTIssuer = f.Auth.JWTIssuer
	}
	if f.Auth.AllowEphemeralJWT != nil {
		cfg.AllowEphemeralJWT = *f.Auth.AllowEphemeralJWT
	}
	if f.Auth.RateLimitRPS > 0 {
		cfg.APIRateLimitRPS = f.Auth.RateLimitRPS
	}
	if f.Auth.RateLimitBurst > 0 {
		cfg.APIRateLimitBurst = f.Auth.RateLimitBurst
	}
	if f.Escrow.Currency != "" {
		cfg.Currency = strings.ToLower(f.Escrow.Currency)
	}
	if f.Escrow.DepositTimeoutHours > 0 {
		cfg.DepositTimeout = time.Duration(f.Escrow.DepositTimeoutHours) * time.Hour
	}
	if f.Escrow.QRTTLHours > 0 {
		cfg.QRTTL = time.Duration(f.Escrow.QRTTLHours) * time.Hour
	}
	if f.Escrow.ReconciliationBatchSize > 0 {
		cfg.ReconciliationBatchSize = f.Escrow.ReconciliationBatchSize
	}
	if f.Audit.LargeTransactionThreshold > 0 {
		cfg.LargeTransactionThreshold = f.Audit.LargeTransactionThreshold
	}
	if f.Audit.ContractStateChangeLimit > 0 {
		cfg.ContractStateChangeLimit = f.Audit.ContractStateChangeLimit
	}
	if f.Audit.ContractStateChangeMinutes > 0 {
		cfg.ContractStateChangeWindow = time.Duration(f.Audit.ContractStateChangeMinutes) * time.Minute
	}
	if f.Audit.ClientTransactionLimit > 0 {
		cfg.ClientTransactionLimit = f.Audit.ClientTransactionLimit
	}
	if f.Audit.ClientTransactionHours > 0 {
		cfg.ClientTransactionWindow = time.Duration(f.Audit.ClientTransactionHours) * time.Hour
	}
	if len(f.Tiers) > 0 {
		cfg.TierTable = f.Tiers
	}
	overrideSpec(&cfg.CronExpireQRCodes, f.Schedule.ExpireQRCodes)
	overrideSpec(&cfg.CronCancelStuckDeposits, f.Schedule.CancelStuckDeposits)
	overrideSpec(&cfg.CronRecomputeTiers, f.Schedule.RecomputeTiers)
	overrideSpec(&cfg.CronMonthlyReport, f.Schedule.MonthlyReport)
	return nil
}

// overrideSpec lets the file disable a job with an empty string.
func overrideSpec(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func applyEnv(cfg *Config) {
	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envOrDefault("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.KafkaDisputeTopic = envOrDefault("KAFKA_DISPUTE_TOPIC", cfg.KafkaDisputeTopic)
	cfg.KafkaTopicPrefix = envOrDefault("KAFKA_TOPIC_PREFIX", cfg.KafkaTopicPrefix)
	cfg.GatewayBaseURL = envOrDefault("GATEWAY_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewaySecretKey = envOrDefault("GATEWAY_SECRET_KEY", cfg.GatewaySecretKey)
	cfg.GatewayRPS = envFloat("GATEWAY_RPS", cfg.GatewayRPS)
	cfg.GatewayBurst = envInt("GATEWAY_BURST", cfg.GatewayBurst)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AllowEphemeralJWT = envBool("ALLOW_EPHEMERAL_JWT", cfg.AllowEphemeralJWT)
	cfg.WebhookSecret = envOrDefault("GATEWAY_WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.APIRateLimitRPS = envFloat("API_RATE_LIMIT_RPS", cfg.APIRateLimitRPS)
	cfg.APIRateLimitBurst = envInt("API_RATE_LIMIT_BURST", cfg.APIRateLimitBurst)
	cfg.Currency = strings.ToLower(envOrDefault("ESCROW_CURRENCY", cfg.Currency))
	cfg.DepositTimeout = time.Duration(envInt("DEPOSIT_TIMEOUT_HOURS", int(cfg.DepositTimeout.Hours()))) * time.Hour
	cfg.QRTTL = time.Duration(envInt("QR_TTL_HOURS", int(cfg.QRTTL.Hours()))) * time.Hour
	cfg.ReconciliationBatchSize = envInt("RECONCILIATION_BATCH_SIZE", cfg.ReconciliationBatchSize)
	cfg.LargeTransactionThreshold = int64(envInt("LARGE_TRANSACTION_THRESHOLD", int(cfg.LargeTransactionThreshold)))
	cfg.ContractStateChangeLimit = envInt("CONTRACT_STATE_CHANGE_LIMIT", cfg.ContractStateChangeLimit)
	cfg.ClientTransactionLimit = envInt("CLIENT_TRANSACTION_LIMIT", cfg.ClientTransactionLimit)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.CronExpireQRCodes = envOrDefault("CRON_EXPIRE_QR_CODES", cfg.CronExpireQRCodes)
	cfg.CronCancelStuckDeposits = envOrDefault("CRON_CANCEL_STUCK_DEPOSITS", cfg.CronCancelStuckDeposits)
	cfg.CronRecomputeTiers = envOrDefault("CRON_RECOMPUTE_TIERS", cfg.CronRecomputeTiers)
	cfg.CronMonthlyReport = envOrDefault("CRON_MONTHLY_REPORT", cfg.CronMonthlyReport)
}

func (c Config) validate() error {
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		return fmt.Errorf("http and grpc ports must be positive")
	}
	if c.JWTSecret == "" && !c.AllowEphemeralJWT {
		return fmt.Errorf("missing JWT_SECRET")
	}
	if c.GatewayBaseURL != "" && c.GatewaySecretKey == "" {
		return fmt.Errorf("missing GATEWAY_SECRET_KEY for gateway %s", c.GatewayBaseURL)
	}
	if c.DepositTimeout <= 0 || c.QRTTL <= 0 {
		return fmt.Errorf("deposit timeout and qr ttl must be positive")
	}
	for _, rule := range c.TierTable {
		if rule.RateBps < 0 || rule.RateBps > 10000 {
			return fmt.Errorf("tier %s: rate_bps must be within 0..10000", rule.Tier)
		}
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
