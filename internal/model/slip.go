package model

import (
	"time"
)

// SlipStatus represents the lifecycle state of a submitted slip.
type SlipStatus string

const (
	StatusPending    SlipStatus = "pending"
	StatusProcessing SlipStatus = "processing"
	StatusValidated  SlipStatus = "validated"
	StatusFailed     SlipStatus = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s SlipStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusValidated, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a status from which automatic polling stops.
func (s SlipStatus) Terminal() bool {
	return s == StatusValidated || s == StatusFailed
}

// Source identifies the channel a slip was submitted from.
type Source string

const (
	SourcePOS     Source = "pos"
	SourceWebsite Source = "website"
)

// ReviewEventKind tags an entry in a slip's review trail.
type ReviewEventKind string

const (
	ReviewManualRequested   ReviewEventKind = "manual_review_requested"
	ReviewContinuedOverride ReviewEventKind = "continued_override"
	ReviewOCRError          ReviewEventKind = "ocr_error"
)

// ReviewEvent is a single annotation on a slip's audit trail. Events are
// append-only: staff actions and automatic failures add entries, nothing
// ever removes or rewrites one.
type ReviewEvent struct {
	Kind    ReviewEventKind `json:"kind"`
	Message string          `json:"message,omitempty"`
	Actor   string          `json:"actor,omitempty"`
	At      time.Time       `json:"at"`
}

// SlipRecord is the persisted, staff-reviewable unit tracking one uploaded
// bank-transfer slip through its lifecycle.
type SlipRecord struct {
	ID                string        `json:"id"`
	Filename          string        `json:"filename"`
	FileURL           string        `json:"file_url,omitempty"`
	Source            Source        `json:"source"`
	UploadedBy        string        `json:"uploaded_by,omitempty"`
	Status            SlipStatus    `json:"status"`
	OCRText           string        `json:"ocr_text,omitempty"`
	OCRConfidence     *float64      `json:"ocr_confidence,omitempty"`
	ExpectedAmount    *float64      `json:"expected_amount,omitempty"`
	DetectedAmount    *float64      `json:"detected_amount,omitempty"`
	DetectedReference *string       `json:"detected_reference,omitempty"`
	Match             *bool         `json:"match,omitempty"`
	AmountMatch       *bool         `json:"amount_match,omitempty"`
	ReviewTrail       []ReviewEvent `json:"review_trail,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// AppendReview adds an event to the record's review trail without touching
// prior entries.
func (r *SlipRecord) AppendReview(ev ReviewEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	r.ReviewTrail = append(r.ReviewTrail, ev)
}

// Verdict is the structured result of one validation attempt, returned
// synchronously to the submitter. A nil Match or AmountMatch means the check
// could not be determined, which is distinct from a definite mismatch.
type Verdict struct {
	Slip              bool     `json:"slip"`
	Reason            string   `json:"reason"`
	Match             *bool    `json:"match,omitempty"`
	AmountMatch       *bool    `json:"amount_match,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	ExtractedText     string   `json:"extracted_text,omitempty"`
	DetectedReference *string  `json:"detected_reference,omitempty"`
	DetectedAmount    *float64 `json:"detected_amount,omitempty"`
}
