package ports

import (
	"context"
	"time"
)

// ActivityCounter counts occurrences of key within a trailing window and
// returns the count including the one just recorded.
type ActivityCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Metrics receives ledger, gateway and job observations. Implementations must
// be safe for concurrent use.
type Metrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	ObserveGatewayCall(call, outcome string, elapsed time.Duration)
	ObserveJob(job string, processed, failed int, elapsed time.Duration)
	ObserveSecurityEvent(eventType, severity string)
}
