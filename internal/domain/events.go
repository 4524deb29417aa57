package domain

const (
	EventEscrowCreated         = "escrow.created"
	EventEscrowFunded          = "escrow.funded"
	EventEscrowReleased        = "escrow.released"
	EventEscrowRefunded        = "escrow.refunded"
	EventEscrowCancelled       = "escrow.cancelled"
	EventEscrowDisputed        = "escrow.disputed"
	EventSecurityCriticalEvent = "security.critical_event"
	EventCommissionReportReady = "commission.monthly_report_generated"
	EventDisputeOpened         = "dispute.opened"
)

func IsCanonicalInputEvent(eventType string) bool {
	return eventType == EventDisputeOpened
}

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventEscrowCreated, EventEscrowFunded, EventEscrowReleased, EventEscrowRefunded,
		EventEscrowCancelled, EventEscrowDisputed, EventSecurityCriticalEvent, EventCommissionReportReady:
		return true
	default:
		return false
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	switch eventType {
	case EventSecurityCriticalEvent:
		return "data.user_id"
	case EventCommissionReportReady:
		return "data.period"
	case EventDisputeOpened:
		return "data.contract_id"
	}
	if IsCanonicalEmittedEvent(eventType) {
		return "data.contract_id"
	}
	return ""
}
