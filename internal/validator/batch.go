package validator

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/store"
)

// FileOpener resolves a stored slip record to its uploaded file contents,
// typically from the path or URL recorded at submission.
type FileOpener func(rec *model.SlipRecord) (io.ReadCloser, error)

const revalidatePageSize = 200

// RevalidatePending runs another validation pass over every pending slip,
// at most maxConcurrent at a time. The pending set is snapshotted in full
// before any slip is touched: validation flips records out of pending, and
// listing while the filtered set shrinks shifts the offset window past
// records near page boundaries. Per-slip failures are logged and skipped
// so one bad upload cannot abort the batch; the returned count is the
// number of slips that completed a pass.
func (v *Validator) RevalidatePending(ctx context.Context, open FileOpener, maxConcurrent int) (int, error) {
	if v.store == nil {
		return 0, eris.New("revalidate: no store configured")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	seen := make(map[string]struct{})
	var snapshot []model.SlipRecord
	for page := 1; ; page++ {
		items, total, err := v.store.ListSlips(ctx, store.SlipFilter{
			Status:  model.StatusPending,
			Page:    page,
			PerPage: revalidatePageSize,
		})
		if err != nil {
			return 0, eris.Wrap(err, "revalidate: list pending")
		}
		for i := range items {
			if _, dup := seen[items[i].ID]; dup {
				continue
			}
			seen[items[i].ID] = struct{}{}
			snapshot = append(snapshot, items[i])
		}
		if len(items) == 0 || page*revalidatePageSize >= total {
			break
		}
	}

	var processed int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i := range snapshot {
		rec := snapshot[i]
		g.Go(func() error {
			if err := v.Revalidate(ctx, &rec, "", open); err != nil {
				zap.L().Warn("revalidate slip failed",
					zap.String("slip_id", rec.ID),
					zap.Error(err))
				return nil
			}
			atomic.AddInt64(&processed, 1)
			return nil
		})
	}

	err := g.Wait()
	v.Wait()
	return int(atomic.LoadInt64(&processed)), err
}

// Revalidate moves one pending slip back to processing and runs a fresh
// validation pass against its stored file. The entered reference is not
// persisted on the record, so callers resupply it; an empty reference
// leaves the match check undetermined.
func (v *Validator) Revalidate(ctx context.Context, rec *model.SlipRecord, reference string, open FileOpener) error {
	if err := CheckTransition(rec.Status, model.StatusProcessing); err != nil {
		return err
	}
	if err := v.store.UpdateStatus(ctx, rec.ID, model.StatusProcessing); err != nil {
		return eris.Wrapf(err, "revalidate: mark processing %s", rec.ID)
	}

	f, err := open(rec)
	if err != nil {
		return eris.Wrapf(err, "revalidate: open file for %s", rec.ID)
	}
	defer f.Close()

	_, err = v.Validate(ctx, Submission{
		File:           f,
		Filename:       rec.Filename,
		Reference:      reference,
		ExpectedAmount: rec.ExpectedAmount,
		RecordID:       rec.ID,
	})
	return err
}
