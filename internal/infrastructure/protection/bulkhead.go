package protection

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"orchestrator/internal/core/apperror"
	"orchestrator/internal/core/orc"
	coreprotection "orchestrator/internal/core/protection"
)

// Bulkhead is the default Bulkhead guard: a weighted semaphore bounding
// concurrent Executor calls per resource key. Acquisition blocks up to
// cfg.MaxWaitMs before failing fast with Fail(BULKHEAD_FULL).
type Bulkhead struct {
	cfg  coreprotection.BulkheadConfig
	sems sync.Map // map[string]*semaphore.Weighted
}

// NewBulkhead builds a Bulkhead guard from cfg.
func NewBulkhead(cfg coreprotection.BulkheadConfig) *Bulkhead {
	return &Bulkhead{cfg: cfg}
}

func (b *Bulkhead) semFor(resourceKey string) *semaphore.Weighted {
	if s, ok := b.sems.Load(resourceKey); ok {
		return s.(*semaphore.Weighted)
	}
	fresh := semaphore.NewWeighted(int64(b.cfg.MaxConcurrent))
	actual, _ := b.sems.LoadOrStore(resourceKey, fresh)
	return actual.(*semaphore.Weighted)
}

func (b *Bulkhead) Execute(ctx context.Context, resourceKey string, next coreprotection.Call) (orc.Outcome, error) {
	sem := b.semFor(resourceKey)

	waitCtx := ctx
	if b.cfg.MaxWaitMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(b.cfg.MaxWaitMs)*time.Millisecond)
		defer cancel()
	}

	if err := sem.Acquire(waitCtx, 1); err != nil {
		return orc.Fail(apperror.CodeBulkheadFull, "bulkhead full for "+resourceKey, err), nil
	}
	defer sem.Release(1)

	return next(ctx)
}
