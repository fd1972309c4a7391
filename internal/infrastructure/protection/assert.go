package protection

import coreprotection "orchestrator/internal/core/protection"

var (
	_ coreprotection.TimeoutPolicy  = (*Timeout)(nil)
	_ coreprotection.CircuitBreaker = (*CircuitBreaker)(nil)
	_ coreprotection.Bulkhead       = (*Bulkhead)(nil)
	_ coreprotection.RateLimiter    = (*RateLimiter)(nil)
	_ coreprotection.HedgePolicy    = (*Hedge)(nil)
)
