package protection

import (
	"context"
	"time"

	"orchestrator/internal/core/orc"
	coreprotection "orchestrator/internal/core/protection"
)

// Hedge is the default HedgePolicy: when enabled, it launches up to
// cfg.MaxHedges additional attempts of next spaced cfg.HedgeDelayMs
// apart, takes the first response to arrive, and cancels the rest via
// context cancellation. Disabled (the zero-value default), it is a
// pass-through.
type Hedge struct {
	cfg coreprotection.HedgeConfig
}

// NewHedge builds a Hedge guard from cfg.
func NewHedge(cfg coreprotection.HedgeConfig) *Hedge {
	return &Hedge{cfg: cfg}
}

type hedgeResult struct {
	outcome orc.Outcome
	err     error
}

func (h *Hedge) Execute(ctx context.Context, resourceKey string, next coreprotection.Call) (orc.Outcome, error) {
	if !h.cfg.Enabled || h.cfg.MaxHedges <= 0 {
		return next(ctx)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan hedgeResult, h.cfg.MaxHedges+1)
	launch := func() {
		outcome, err := next(attemptCtx)
		select {
		case results <- hedgeResult{outcome, err}:
		case <-attemptCtx.Done():
		}
	}

	go launch()

	delay := time.Duration(h.cfg.HedgeDelayMs) * time.Millisecond
	for i := 0; i < h.cfg.MaxHedges; i++ {
		timer := time.NewTimer(delay)
		select {
		case r := <-results:
			timer.Stop()
			return r.outcome, r.err
		case <-timer.C:
			go launch()
		case <-ctx.Done():
			timer.Stop()
			return orc.Outcome{}, ctx.Err()
		}
	}

	select {
	case r := <-results:
		return r.outcome, r.err
	case <-ctx.Done():
		return orc.Outcome{}, ctx.Err()
	}
}
