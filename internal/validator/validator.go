// Package validator orchestrates a single slip validation pass: OCR, the
// slip-type gate, reference matching and amount reconciliation, plus the
// polling watcher and batch re-validation over stored slips.
package validator

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/ocr"
	"github.com/transferdesk/slipcheck/internal/resilience"
	"github.com/transferdesk/slipcheck/internal/slip"
	"github.com/transferdesk/slipcheck/internal/store"
)

const persistTimeout = 30 * time.Second

// Submission carries one uploaded slip through a validation pass.
type Submission struct {
	File           io.Reader
	Filename       string
	Reference      string
	ExpectedAmount *float64

	// RecordID links the pass to a pre-created SlipRecord. When set, the
	// outcome is persisted out of band; when empty the verdict is returned
	// without touching the store.
	RecordID string
}

// Validator runs the validation pipeline against an OCR extractor and,
// optionally, a slip store for out-of-band persistence.
type Validator struct {
	extractor ocr.Extractor
	store     store.Store
	retry     resilience.RetryConfig

	persistWG sync.WaitGroup
}

// Option configures a Validator.
type Option func(*Validator)

// WithRetryConfig overrides the retry policy used for OCR and persistence.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(v *Validator) { v.retry = cfg }
}

// New creates a Validator. The store may be nil for verdict-only use.
func New(extractor ocr.Extractor, st store.Store, opts ...Option) *Validator {
	v := &Validator{
		extractor: extractor,
		store:     st,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs OCR on the submission and reduces the text to a verdict.
// A classifier rejection short-circuits the reference and amount checks.
// OCR failure is a hard error: no verdict is produced and a linked record
// gains an ocr_error review event but keeps its status, pending manual retry.
// Persistence of the outcome never blocks the returned verdict.
func (v *Validator) Validate(ctx context.Context, sub Submission) (*model.Verdict, error) {
	// The extractor may be retried, so the upload has to be re-readable.
	data, err := io.ReadAll(sub.File)
	if err != nil {
		return nil, eris.Wrap(err, "read upload")
	}

	retryCfg := v.retry
	retryCfg.Operation = "ocr extract"
	res, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*ocr.Result, error) {
		return v.extractor.Extract(ctx, bytes.NewReader(data), sub.Filename)
	})
	if err != nil {
		v.recordOCRFailure(sub.RecordID, err)
		return nil, eris.Wrap(err, "ocr extract")
	}

	verdict := v.evaluate(res, sub)
	if sub.RecordID != "" && v.store != nil {
		v.persistVerdict(sub.RecordID, verdict)
	}
	return verdict, nil
}

// evaluate reduces OCR output to a verdict. Pure: no I/O, no store access.
func (v *Validator) evaluate(res *ocr.Result, sub Submission) *model.Verdict {
	cls := slip.Classify(res.Text, res.Confidence)
	verdict := &model.Verdict{
		Slip:          cls.Accepted,
		Reason:        cls.Rule,
		Confidence:    res.Confidence,
		ExtractedText: res.Text,
	}
	if !cls.Accepted {
		return verdict
	}

	verdict.DetectedReference = slip.DetectReference(res.Text, sub.Reference)
	if sub.Reference != "" && verdict.DetectedReference != nil {
		m := slip.ReferencesMatch(*verdict.DetectedReference, sub.Reference)
		verdict.Match = &m
	}

	verdict.DetectedAmount = slip.ExtractAmount(res.Text)
	verdict.AmountMatch = slip.AmountsMatch(verdict.DetectedAmount, sub.ExpectedAmount)
	return verdict
}

// persistVerdict writes the outcome to the linked record in the background.
// Failures are retried and logged but never surfaced to the submitter.
func (v *Validator) persistVerdict(recordID string, verdict *model.Verdict) {
	v.persistWG.Add(1)
	go func() {
		defer v.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		retryCfg := v.retry
		retryCfg.Operation = "persist verdict"
		err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			return v.store.SetValidation(ctx, recordID, store.ValidationUpdate{
				Status:            VerdictStatus(verdict),
				OCRText:           verdict.ExtractedText,
				OCRConfidence:     verdict.Confidence,
				DetectedAmount:    verdict.DetectedAmount,
				DetectedReference: verdict.DetectedReference,
				Match:             verdict.Match,
				AmountMatch:       verdict.AmountMatch,
			})
		})
		if err != nil {
			zap.L().Error("persist verdict failed",
				zap.String("slip_id", recordID),
				zap.Error(err))
		}
	}()
}

// recordOCRFailure annotates a linked record with an ocr_error event. The
// record keeps its current status so the slip surfaces for manual retry.
func (v *Validator) recordOCRFailure(recordID string, cause error) {
	if recordID == "" || v.store == nil {
		return
	}
	v.persistWG.Add(1)
	go func() {
		defer v.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err := v.store.AppendReviewEvents(ctx, recordID, model.ReviewEvent{
			Kind:    model.ReviewOCRError,
			Message: cause.Error(),
		})
		if err != nil {
			zap.L().Error("record ocr failure failed",
				zap.String("slip_id", recordID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until all background persistence has finished. Used on
// shutdown and by short-lived CLI commands.
func (v *Validator) Wait() {
	v.persistWG.Wait()
}

// VerdictStatus maps a verdict onto the slip lifecycle: classifier
// rejections fail the slip, a clean reference match validates it, and
// anything ambiguous goes to pending for staff review. An undetermined
// amount check is informational and does not block validation.
func VerdictStatus(verdict *model.Verdict) model.SlipStatus {
	if !verdict.Slip {
		return model.StatusFailed
	}
	refMatched := verdict.Match != nil && *verdict.Match
	amountOK := verdict.AmountMatch == nil || *verdict.AmountMatch
	if refMatched && amountOK {
		return model.StatusValidated
	}
	return model.StatusPending
}
