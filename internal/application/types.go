package application

import (
	"log/slog"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

type Config struct {
	ServiceName string
	Currency    string

	DepositTimeout time.Duration
	QRTTL          time.Duration

	ReconciliationBatchSize  int
	ReconciliationMaxBatches int

	TierTable        []domain.TierRule
	TierVolumeWindow time.Duration

	LargeTransactionThreshold int64
	ContractStateChangeLimit  int
	ContractStateChangeWindow time.Duration
	ClientTransactionLimit    int
	ClientTransactionWindow   time.Duration

	EventDedupTTL time.Duration
}

// Actor is the authenticated caller. Role comes from the access-control
// layer; the service re-checks ownership against stored records.
type Actor struct {
	SubjectID string
	Role      string
	RequestID string
}

func (a Actor) privileged() bool {
	return a.Role == domain.RoleAdmin || a.Role == domain.RoleSystem
}

// SystemActor is used by background jobs and verified gateway webhooks.
func SystemActor(requestID string) Actor {
	return Actor{SubjectID: "system", Role: domain.RoleSystem, RequestID: requestID}
}

type CreateTransactionInput struct {
	ContractID   string
	ClientID     string
	SpecialistID string
	Amount       int64
}

type CreateTransactionResult struct {
	Transaction  domain.EscrowTransaction
	ClientSecret string
	QRPayload    string
	QRExpiresAt  time.Time
	Replayed     bool
}

type ConfirmDepositInput struct {
	TransactionID string
	PaymentRef    string
}

type ReleaseFundsInput struct {
	ContractID string
}

type RefundFundsInput struct {
	ContractID string
	Reason     string
}

type CancelTransactionInput struct {
	TransactionID string
	Reason        string
}

const (
	DisputeOutcomeRelease = "release"
	DisputeOutcomeRefund  = "refund"
)

type ResolveDisputeInput struct {
	ContractID string
	Outcome    string
	Reason     string
}

// AuditEvent is the input to Record. Before, After and Metadata may carry
// sensitive values; they are redacted before storage.
type AuditEvent struct {
	Action        string
	Category      domain.AuditCategory
	Severity      domain.Severity
	ActorID       string
	ActorRole     string
	ContractID    string
	TransactionID string
	SubjectUserID string
	Amount        int64
	Before        map[string]any
	After         map[string]any
	Metadata      map[string]any
	RequestID     string
}

type JobError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// JobResult reports one reconciliation pass. Per-item failures are collected
// in Errors and never abort the pass.
type JobResult struct {
	Job            string     `json:"job"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsSkipped   int        `json:"items_skipped"`
	Errors         []JobError `json:"errors"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

const (
	JobExpireQRCodes       = "expire_qr_codes"
	JobCancelStuckDeposits = "cancel_stuck_deposits"
	JobRecomputeTiers      = "recompute_tiers"
	JobMonthlyReport       = "monthly_report"
)

type Service struct {
	cfg        Config
	store      ports.LedgerStore
	audit      ports.AuditRepository
	gateway    ports.PaymentGateway
	activity   ports.ActivityCounter
	eventDedup ports.EventDedupRepository
	metrics    ports.Metrics
	logger     *slog.Logger
	nowFn      func() time.Time
}

type Dependencies struct {
	Config     Config
	Store      ports.LedgerStore
	Audit      ports.AuditRepository
	Gateway    ports.PaymentGateway
	Activity   ports.ActivityCounter
	EventDedup ports.EventDedupRepository
	Metrics    ports.Metrics
	Logger     *slog.Logger
	Clock      func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "escrow-commission-engine"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.DepositTimeout <= 0 {
		cfg.DepositTimeout = 24 * time.Hour
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = domain.DefaultQRTTL
	}
	if cfg.ReconciliationBatchSize <= 0 {
		cfg.ReconciliationBatchSize = 500
	}
	if cfg.ReconciliationMaxBatches <= 0 {
		cfg.ReconciliationMaxBatches = 20
	}
	if len(cfg.TierTable) == 0 {
		cfg.TierTable = domain.DefaultTierTable()
	}
	if cfg.TierVolumeWindow <= 0 {
		cfg.TierVolumeWindow = 30 * 24 * time.Hour
	}
	if cfg.LargeTransactionThreshold <= 0 {
		cfg.LargeTransactionThreshold = 1_000_000
	}
	if cfg.ContractStateChangeLimit <= 0 {
		cfg.ContractStateChangeLimit = 5
	}
	if cfg.ContractStateChangeWindow <= 0 {
		cfg.ContractStateChangeWindow = time.Hour
	}
	if cfg.ClientTransactionLimit <= 0 {
		cfg.ClientTransactionLimit = 10
	}
	if cfg.ClientTransactionWindow <= 0 {
		cfg.ClientTransactionWindow = 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		audit:      deps.Audit,
		gateway:    deps.Gateway,
		activity:   deps.Activity,
		eventDedup: deps.EventDedup,
		metrics:    metrics,
		logger:     logger,
		nowFn:      nowFn,
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration)   {}
func (noopMetrics) ObserveGatewayCall(string, string, time.Duration) {}
func (noopMetrics) ObserveJob(string, int, int, time.Duration)       {}
func (noopMetrics) ObserveSecurityEvent(string, string)              {}
