package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transferdesk/slipcheck/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "slips.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func boolPtr(v bool) *bool { return &v }

func TestSQLiteStore_CreateAndGetRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	conf := 85.5
	expected := 1250.0
	ref := "TXN998877"

	created, err := s.CreateSlip(ctx, &model.SlipRecord{
		Filename:          "slip.jpg",
		Source:            model.SourcePOS,
		UploadedBy:        "cashier-7",
		Status:            model.StatusValidated,
		OCRText:           "Bank Transfer\nTXN998877",
		OCRConfidence:     &conf,
		ExpectedAmount:    &expected,
		DetectedReference: &ref,
		Match:             boolPtr(true),
		ReviewTrail: []model.ReviewEvent{
			{Kind: model.ReviewManualRequested, Actor: "cashier-7"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetSlip(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "slip.jpg", got.Filename)
	assert.Equal(t, model.SourcePOS, got.Source)
	assert.Equal(t, model.StatusValidated, got.Status)
	assert.Equal(t, "Bank Transfer\nTXN998877", got.OCRText)
	require.NotNil(t, got.OCRConfidence)
	assert.InDelta(t, 85.5, *got.OCRConfidence, 1e-9)
	require.NotNil(t, got.DetectedReference)
	assert.Equal(t, "TXN998877", *got.DetectedReference)
	require.NotNil(t, got.Match)
	assert.True(t, *got.Match)
	assert.Nil(t, got.AmountMatch)
	assert.Nil(t, got.DetectedAmount)
	require.Len(t, got.ReviewTrail, 1)
	assert.Equal(t, model.ReviewManualRequested, got.ReviewTrail[0].Kind)
}

func TestSQLiteStore_GetSlip_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetSlip(context.Background(), "no-such-slip")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListSlips_FilterAndPaginate(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateSlip(ctx, &model.SlipRecord{
			Filename: "pending.jpg",
			Source:   model.SourceWebsite,
			Status:   model.StatusPending,
		})
		require.NoError(t, err)
	}
	_, err := s.CreateSlip(ctx, &model.SlipRecord{
		Filename: "done.jpg",
		Source:   model.SourcePOS,
		Status:   model.StatusValidated,
	})
	require.NoError(t, err)

	items, total, err := s.ListSlips(ctx, SlipFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 3)

	items, total, err = s.ListSlips(ctx, SlipFilter{Status: model.StatusPending, Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)

	items, total, err = s.ListSlips(ctx, SlipFilter{Source: model.SourcePOS})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "done.jpg", items[0].Filename)
}

func TestSQLiteStore_UpdateStatus(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateSlip(ctx, &model.SlipRecord{
		Filename: "slip.jpg",
		Source:   model.SourcePOS,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, created.Status)

	require.NoError(t, s.UpdateStatus(ctx, created.ID, model.StatusProcessing))

	got, err := s.GetSlip(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)

	err = s.UpdateStatus(ctx, "no-such-slip", model.StatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SetValidation(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateSlip(ctx, &model.SlipRecord{
		Filename: "slip.jpg",
		Source:   model.SourceWebsite,
		Status:   model.StatusProcessing,
	})
	require.NoError(t, err)

	conf := 91.0
	amount := 1250.0
	ref := "TXN998877"
	err = s.SetValidation(ctx, created.ID, ValidationUpdate{
		Status:            model.StatusValidated,
		OCRText:           "Transfer TXN998877 1,250.00",
		OCRConfidence:     &conf,
		DetectedAmount:    &amount,
		DetectedReference: &ref,
		Match:             boolPtr(true),
		AmountMatch:       boolPtr(false),
	})
	require.NoError(t, err)

	got, err := s.GetSlip(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, got.Status)
	assert.Equal(t, "Transfer TXN998877 1,250.00", got.OCRText)
	require.NotNil(t, got.DetectedAmount)
	assert.InDelta(t, 1250.0, *got.DetectedAmount, 1e-9)
	require.NotNil(t, got.AmountMatch)
	assert.False(t, *got.AmountMatch)

	err = s.SetValidation(ctx, "no-such-slip", ValidationUpdate{Status: model.StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AppendReviewEvents_Accumulates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.CreateSlip(ctx, &model.SlipRecord{
		Filename: "slip.jpg",
		Source:   model.SourcePOS,
	})
	require.NoError(t, err)

	err = s.AppendReviewEvents(ctx, created.ID, model.ReviewEvent{
		Kind:  model.ReviewManualRequested,
		Actor: "cashier-7",
	})
	require.NoError(t, err)

	err = s.AppendReviewEvents(ctx, created.ID, model.ReviewEvent{
		Kind:    model.ReviewContinuedOverride,
		Message: "verified against bank statement",
		Actor:   "staff-3",
	})
	require.NoError(t, err)

	got, err := s.GetSlip(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.ReviewTrail, 2)
	assert.Equal(t, model.ReviewManualRequested, got.ReviewTrail[0].Kind)
	assert.Equal(t, model.ReviewContinuedOverride, got.ReviewTrail[1].Kind)
	assert.Equal(t, "staff-3", got.ReviewTrail[1].Actor)
	assert.False(t, got.ReviewTrail[0].At.IsZero())
	assert.False(t, got.ReviewTrail[1].At.IsZero())

	err = s.AppendReviewEvents(ctx, "no-such-slip", model.ReviewEvent{Kind: model.ReviewOCRError})
	assert.ErrorIs(t, err, ErrNotFound)
}
