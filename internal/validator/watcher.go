package validator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/store"
)

// DefaultPollInterval is how often a watched slip is re-fetched.
const DefaultPollInterval = 5 * time.Second

// Watcher polls a slip while it is processing. Polling is read-only and
// stops exactly once, on the first non-processing observation or when the
// context is cancelled.
type Watcher struct {
	store    store.Store
	interval time.Duration
}

// NewWatcher creates a Watcher; interval <= 0 selects DefaultPollInterval.
func NewWatcher(st store.Store, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{store: st, interval: interval}
}

// Watch fetches the slip immediately and then on every tick, invoking
// onObserve (if non-nil) with each record read. It returns the first record
// observed outside processing, or the context error on cancellation.
func (w *Watcher) Watch(ctx context.Context, id string, onObserve func(*model.SlipRecord)) (*model.SlipRecord, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		rec, err := w.store.GetSlip(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "watch slip %s", id)
		}
		if onObserve != nil {
			onObserve(rec)
		}
		if rec.Status != model.StatusProcessing {
			zap.L().Debug("watch finished",
				zap.String("slip_id", id),
				zap.String("status", string(rec.Status)))
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
