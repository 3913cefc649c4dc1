package validator

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/ocr"
	"github.com/transferdesk/slipcheck/internal/resilience"
	"github.com/transferdesk/slipcheck/internal/slip"
	"github.com/transferdesk/slipcheck/internal/store"
)

const slipText = "Bank Transfer Receipt\nReference: TXN998877\nAmount: MVR 1,250.00"

// fakeExtractor returns scripted results in order, one per Extract call.
type fakeExtractor struct {
	mu      sync.Mutex
	results []*ocr.Result
	errs    []error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, _ io.Reader, _ string) (*ocr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu    sync.Mutex
	slips map[string]*model.SlipRecord
}

func newMemStore() *memStore {
	return &memStore{slips: map[string]*model.SlipRecord{}}
}

func (m *memStore) CreateSlip(_ context.Context, rec *model.SlipRecord) (*model.SlipRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *rec
	if out.Status == "" {
		out.Status = model.StatusPending
	}
	m.slips[out.ID] = &out
	return &out, nil
}

func (m *memStore) GetSlip(_ context.Context, id string) (*model.SlipRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (m *memStore) ListSlips(_ context.Context, filter store.SlipFilter) ([]model.SlipRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []model.SlipRecord
	for _, rec := range m.slips {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		items = append(items, *rec)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := len(items)
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	lo := (page - 1) * perPage
	if lo > total {
		lo = total
	}
	hi := lo + perPage
	if hi > total {
		hi = total
	}
	return items[lo:hi], total, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status model.SlipStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slips[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (m *memStore) SetValidation(_ context.Context, id string, upd store.ValidationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slips[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = upd.Status
	rec.OCRText = upd.OCRText
	rec.OCRConfidence = upd.OCRConfidence
	rec.DetectedAmount = upd.DetectedAmount
	rec.DetectedReference = upd.DetectedReference
	rec.Match = upd.Match
	rec.AmountMatch = upd.AmountMatch
	return nil
}

func (m *memStore) AppendReviewEvents(_ context.Context, id string, events ...model.ReviewEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.slips[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.ReviewTrail = append(rec.ReviewTrail, events...)
	return nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Ping(context.Context) error    { return nil }
func (m *memStore) Close() error                  { return nil }

func f64(v float64) *float64 { return &v }

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestValidate_CleanSlipMatchesAndPersists(t *testing.T) {
	st := newMemStore()
	_, err := st.CreateSlip(context.Background(), &model.SlipRecord{
		ID:     "slip-1",
		Status: model.StatusProcessing,
	})
	require.NoError(t, err)

	ext := &fakeExtractor{results: []*ocr.Result{{Text: slipText, Confidence: f64(95)}}}
	v := New(ext, st, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:           strings.NewReader("image-bytes"),
		Filename:       "slip.jpg",
		Reference:      "TXN998877",
		ExpectedAmount: f64(1250),
		RecordID:       "slip-1",
	})
	require.NoError(t, err)

	assert.True(t, verdict.Slip)
	require.NotNil(t, verdict.Match)
	assert.True(t, *verdict.Match)
	require.NotNil(t, verdict.DetectedReference)
	assert.Equal(t, "TXN998877", *verdict.DetectedReference)
	require.NotNil(t, verdict.DetectedAmount)
	assert.InDelta(t, 1250.0, *verdict.DetectedAmount, 1e-9)
	require.NotNil(t, verdict.AmountMatch)
	assert.True(t, *verdict.AmountMatch)

	v.Wait()
	rec, err := st.GetSlip(context.Background(), "slip-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, rec.Status)
	assert.Equal(t, slipText, rec.OCRText)
}

func TestValidate_RejectionShortCircuitsChecks(t *testing.T) {
	st := newMemStore()
	_, err := st.CreateSlip(context.Background(), &model.SlipRecord{
		ID:     "slip-1",
		Status: model.StatusProcessing,
	})
	require.NoError(t, err)

	ext := &fakeExtractor{results: []*ocr.Result{{
		Text:       "a photo of the beach at sunset with palm trees",
		Confidence: f64(90),
	}}}
	v := New(ext, st, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:      strings.NewReader("image-bytes"),
		Filename:  "beach.jpg",
		Reference: "TXN998877",
		RecordID:  "slip-1",
	})
	require.NoError(t, err)

	assert.False(t, verdict.Slip)
	assert.Equal(t, "negative_keyword", verdict.Reason)
	assert.Nil(t, verdict.Match)
	assert.Nil(t, verdict.DetectedReference)
	assert.Nil(t, verdict.DetectedAmount)
	assert.Nil(t, verdict.AmountMatch)

	v.Wait()
	rec, err := st.GetSlip(context.Background(), "slip-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
}

func TestValidate_RetriesTransientOCRFailure(t *testing.T) {
	ext := &fakeExtractor{
		errs:    []error{resilience.NewTransientError(errors.New("upstream busy"), 503)},
		results: []*ocr.Result{nil, {Text: slipText, Confidence: f64(95)}},
	}
	v := New(ext, nil, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:      strings.NewReader("image-bytes"),
		Filename:  "slip.jpg",
		Reference: "TXN998877",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Slip)
	assert.Equal(t, 2, ext.calls)
}

func TestValidate_HardOCRFailureAnnotatesRecord(t *testing.T) {
	st := newMemStore()
	_, err := st.CreateSlip(context.Background(), &model.SlipRecord{
		ID:     "slip-1",
		Status: model.StatusProcessing,
	})
	require.NoError(t, err)

	ext := &fakeExtractor{errs: []error{errors.New("unsupported file format")}}
	v := New(ext, st, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:     strings.NewReader("not-an-image"),
		Filename: "slip.bin",
		RecordID: "slip-1",
	})
	require.Error(t, err)
	assert.Nil(t, verdict)
	assert.Equal(t, 1, ext.calls, "non-transient errors are not retried")

	v.Wait()
	rec, err := st.GetSlip(context.Background(), "slip-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, rec.Status, "status untouched pending manual retry")
	require.Len(t, rec.ReviewTrail, 1)
	assert.Equal(t, model.ReviewOCRError, rec.ReviewTrail[0].Kind)
	assert.Contains(t, rec.ReviewTrail[0].Message, "unsupported file format")
}

func TestValidate_UndeterminedAmountDoesNotBlockValidation(t *testing.T) {
	text := "Bank Transfer\nReference: TXN998877"
	ext := &fakeExtractor{results: []*ocr.Result{{Text: text, Confidence: f64(92)}}}
	v := New(ext, nil, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:      strings.NewReader("image-bytes"),
		Filename:  "slip.jpg",
		Reference: "TXN998877",
	})
	require.NoError(t, err)
	assert.True(t, verdict.Slip)
	require.NotNil(t, verdict.Match)
	assert.True(t, *verdict.Match)
	assert.Nil(t, verdict.AmountMatch)
	assert.Equal(t, model.StatusValidated, VerdictStatus(verdict))
}

func TestValidate_PartialReferenceAnchorsFullToken(t *testing.T) {
	text := "Bank Transfer\nReference: TXN998877\nAmount: MVR 1,250.00"
	ext := &fakeExtractor{results: []*ocr.Result{{Text: text, Confidence: f64(85)}}}
	v := New(ext, nil, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:           strings.NewReader("image-bytes"),
		Filename:       "slip.jpg",
		Reference:      "998877",
		ExpectedAmount: slip.ParseAmount("1250"),
	})
	require.NoError(t, err)

	assert.True(t, verdict.Slip)
	require.NotNil(t, verdict.DetectedReference)
	assert.Equal(t, "TXN998877", *verdict.DetectedReference)
	require.NotNil(t, verdict.Match)
	assert.True(t, *verdict.Match)
	require.NotNil(t, verdict.DetectedAmount)
	assert.InDelta(t, 1250.0, *verdict.DetectedAmount, 1e-9)
	require.NotNil(t, verdict.AmountMatch)
	assert.True(t, *verdict.AmountMatch)
}

func TestValidate_UnmatchedReferenceStillReconcilesAmount(t *testing.T) {
	ext := &fakeExtractor{results: []*ocr.Result{{Text: slipText, Confidence: f64(95)}}}
	v := New(ext, nil, WithRetryConfig(fastRetry()))

	verdict, err := v.Validate(context.Background(), Submission{
		File:           strings.NewReader("image-bytes"),
		Filename:       "slip.jpg",
		Reference:      "000000",
		ExpectedAmount: f64(1250),
	})
	require.NoError(t, err)

	assert.True(t, verdict.Slip)
	require.NotNil(t, verdict.Match)
	assert.False(t, *verdict.Match)
	require.NotNil(t, verdict.AmountMatch, "amount check is independent of the reference check")
	assert.True(t, *verdict.AmountMatch)
}

func TestVerdictStatus(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }
	tests := []struct {
		name    string
		verdict model.Verdict
		want    model.SlipStatus
	}{
		{"classifier rejection fails", model.Verdict{Slip: false}, model.StatusFailed},
		{"clean match validates", model.Verdict{Slip: true, Match: boolPtr(true), AmountMatch: boolPtr(true)}, model.StatusValidated},
		{"undetermined amount still validates", model.Verdict{Slip: true, Match: boolPtr(true)}, model.StatusValidated},
		{"amount mismatch goes to review", model.Verdict{Slip: true, Match: boolPtr(true), AmountMatch: boolPtr(false)}, model.StatusPending},
		{"reference mismatch goes to review", model.Verdict{Slip: true, Match: boolPtr(false), AmountMatch: boolPtr(true)}, model.StatusPending},
		{"undetermined reference goes to review", model.Verdict{Slip: true, AmountMatch: boolPtr(true)}, model.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerdictStatus(&tt.verdict))
		})
	}
}
