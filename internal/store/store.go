// Package store persists slip records. Two drivers are provided: postgres
// for deployment and sqlite for local use. The review trail column is
// append-only at this layer so concurrent staff annotations are never lost.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/transferdesk/slipcheck/internal/model"
)

// ErrNotFound is returned when no slip exists for the requested id.
var ErrNotFound = eris.New("slip not found")

// SlipFilter specifies criteria for listing slips.
type SlipFilter struct {
	Status   model.SlipStatus `json:"status,omitempty"`
	Source   model.Source     `json:"source,omitempty"`
	DateFrom *time.Time       `json:"date_from,omitempty"`
	DateTo   *time.Time       `json:"date_to,omitempty"`
	Page     int              `json:"page,omitempty"`
	PerPage  int              `json:"per_page,omitempty"`
}

// ValidationUpdate carries the outcome of one validation pass onto a record.
type ValidationUpdate struct {
	Status            model.SlipStatus
	OCRText           string
	OCRConfidence     *float64
	DetectedAmount    *float64
	DetectedReference *string
	Match             *bool
	AmountMatch       *bool
}

// Store defines the persistence interface for slip records.
type Store interface {
	CreateSlip(ctx context.Context, rec *model.SlipRecord) (*model.SlipRecord, error)
	GetSlip(ctx context.Context, id string) (*model.SlipRecord, error)
	ListSlips(ctx context.Context, filter SlipFilter) ([]model.SlipRecord, int, error)
	UpdateStatus(ctx context.Context, id string, status model.SlipStatus) error
	SetValidation(ctx context.Context, id string, upd ValidationUpdate) error
	AppendReviewEvents(ctx context.Context, id string, events ...model.ReviewEvent) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// pageBounds normalizes pagination, defaulting to page 1 with 50 per page.
func pageBounds(f SlipFilter) (limit, offset int) {
	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}
