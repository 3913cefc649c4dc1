package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/transferdesk/slipcheck/internal/model"
	"github.com/transferdesk/slipcheck/internal/slip"
	"github.com/transferdesk/slipcheck/internal/store"
	"github.com/transferdesk/slipcheck/internal/validator"
)

const maxUploadBytes = 32 << 20

// api bundles the HTTP handlers around the store and validator.
type api struct {
	store     store.Store
	validator *validator.Validator
}

// buildRouter assembles the chi router with CORS for the website channel
// and zap request logging.
func buildRouter(st store.Store, v *validator.Validator, allowedOrigins []string) http.Handler {
	a := &api{store: st, validator: v}

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)
	r.Route("/api/slips", func(r chi.Router) {
		r.Post("/validate", a.handleValidate)
		r.Post("/", a.handleCreate)
		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGet)
		r.Patch("/{id}", a.handlePatch)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verdictResponse is the synchronous reply to a validate request. The slip id
// lets clients poll the record while persistence catches up; it is absent
// when the record could not be created and the verdict stands alone.
type verdictResponse struct {
	ID string `json:"id,omitempty"`
	model.Verdict
}

func (a *api) handleValidate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	source := model.Source(r.FormValue("source"))
	if source == "" {
		source = model.SourceWebsite
	}

	expectedAmount := slip.ParseAmount(r.FormValue("expected_amount"))

	// The record is bookkeeping; a create failure must not block the
	// verdict. Degrade to verdict-only and leave the id off the response.
	var recordID string
	rec, err := a.store.CreateSlip(r.Context(), &model.SlipRecord{
		Filename:       header.Filename,
		Source:         source,
		UploadedBy:     r.FormValue("uploaded_by"),
		Status:         model.StatusProcessing,
		ExpectedAmount: expectedAmount,
	})
	if err != nil {
		zap.L().Error("create slip failed, returning verdict without a record",
			zap.Error(err))
	} else {
		recordID = rec.ID
	}

	verdict, err := a.validator.Validate(r.Context(), validator.Submission{
		File:           file,
		Filename:       header.Filename,
		Reference:      r.FormValue("reference"),
		ExpectedAmount: expectedAmount,
		RecordID:       recordID,
	})
	if err != nil {
		zap.L().Error("validation failed",
			zap.String("slip_id", recordID),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not process the slip, please retry")
		return
	}

	writeJSON(w, http.StatusOK, verdictResponse{ID: recordID, Verdict: *verdict})
}

type createSlipRequest struct {
	Filename       string       `json:"filename"`
	FileURL        string       `json:"file_url"`
	Source         model.Source `json:"source"`
	UploadedBy     string       `json:"uploaded_by"`
	ExpectedAmount *float64     `json:"expected_amount"`
}

// handleCreate saves a slip without validating it; OCR is deferred until a
// re-validation pass picks the record up from pending.
func (a *api) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSlipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.Source == "" {
		req.Source = model.SourceWebsite
	}

	rec, err := a.store.CreateSlip(r.Context(), &model.SlipRecord{
		Filename:       req.Filename,
		FileURL:        req.FileURL,
		Source:         req.Source,
		UploadedBy:     req.UploadedBy,
		Status:         model.StatusPending,
		ExpectedAmount: req.ExpectedAmount,
	})
	if err != nil {
		zap.L().Error("create slip failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create slip record")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type listResponse struct {
	Items []model.SlipRecord `json:"items"`
	Total int                `json:"total"`
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := a.store.ListSlips(r.Context(), filter)
	if err != nil {
		zap.L().Error("list slips failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list slips")
		return
	}
	if items == nil {
		items = []model.SlipRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.GetSlip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "slip not found")
			return
		}
		zap.L().Error("get slip failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load slip")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type patchSlipRequest struct {
	Status       *model.SlipStatus   `json:"status"`
	ReviewEvents []model.ReviewEvent `json:"review_events"`
}

// handlePatch applies a staff action: an optional transition-checked status
// change plus appended review events. Reopening to pending records a
// manual_review_requested event automatically.
func (a *api) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchSlipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := a.store.GetSlip(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "slip not found")
			return
		}
		zap.L().Error("get slip failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load slip")
		return
	}

	events := req.ReviewEvents
	if req.Status != nil {
		if err := validator.CheckTransition(rec.Status, *req.Status); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if *req.Status == model.StatusPending {
			events = append(events, model.ReviewEvent{Kind: model.ReviewManualRequested})
		}
		if err := a.store.UpdateStatus(r.Context(), id, *req.Status); err != nil {
			zap.L().Error("update status failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not update slip")
			return
		}
	}
	if len(events) > 0 {
		if err := a.store.AppendReviewEvents(r.Context(), id, events...); err != nil {
			zap.L().Error("append review events failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not update slip")
			return
		}
	}

	rec, err = a.store.GetSlip(r.Context(), id)
	if err != nil {
		zap.L().Error("reload slip failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load slip")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func parseFilter(r *http.Request) (store.SlipFilter, error) {
	q := r.URL.Query()
	filter := store.SlipFilter{
		Status: model.SlipStatus(q.Get("status")),
		Source: model.Source(q.Get("source")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, errors.New("unknown status filter")
	}

	for _, f := range []struct {
		key  string
		dest **time.Time
	}{
		{"date_from", &filter.DateFrom},
		{"date_to", &filter.DateTo},
	} {
		if raw := q.Get(f.key); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, errors.New(f.key + " must be RFC3339")
			}
			*f.dest = &ts
		}
	}

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("page must be an integer")
		}
		filter.Page = n
	}
	if raw := q.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, errors.New("per_page must be an integer")
		}
		filter.PerPage = n
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
