package postgres

import "gorm.io/gorm"

type Repositories struct {
	Ledger     *LedgerStore
	Audit      *AuditRepository
	Outbox     *OutboxRepository
	EventDedup *EventDedupRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Ledger:     NewLedgerStore(db),
		Audit:      NewAuditRepository(db),
		Outbox:     NewOutboxRepository(db),
		EventDedup: NewEventDedupRepository(db),
	}
}
