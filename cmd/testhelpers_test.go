package main

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/ocr"
	"github.com/transferdesk/slipcheck/internal/store"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu        sync.Mutex
	slips     map[string]*model.SlipRecord
	createErr error
}

func newMemStore() *memStore {
	return &memStore{slips: map[string]*model.SlipRecord{}}
}

func (m *memStore) CreateSlip(_ context.Context, rec *model.SlipRecord) (*model.SlipRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	out := *rec
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
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
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		items = append(items, *rec)
	}
	return items, len(items), nil
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

// staticExtractor returns the same OCR result for every file.
type staticExtractor struct {
	text string
	conf float64
	err  error
}

func (s *staticExtractor) Extract(context.Context, io.Reader, string) (*ocr.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	conf := s.conf
	return &ocr.Result{Text: s.text, Confidence: &conf}, nil
}
