package sessions

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/practice-platform/internal/payments"
	"github.com/wolfman30/practice-platform/internal/recurrence"
	"github.com/wolfman30/practice-platform/internal/tenancy"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

var validate = validator.New()

// CreateSeriesRequest is the body of POST /v1/series.
type CreateSeriesRequest struct {
	PatientID        string `json:"patient_id" validate:"required,uuid"`
	StartDate        string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Cadence          string `json:"cadence" validate:"required,oneof=weekly biweekly"`
	Time             string `json:"time" validate:"required,datetime=15:04"`
	PriceCents       int64  `json:"price_cents" validate:"gte=0"`
	DiscountCents    int64  `json:"discount_cents" validate:"gte=0"`
	ForecastPayments bool   `json:"forecast_payments"`
	Modality         string `json:"modality" validate:"omitempty,oneof=in_person remote"`
	MeetingLink      string `json:"meeting_link" validate:"omitempty,url"`
}

// AttendanceRequest is the body of POST /v1/sessions/{sessionID}/attendance.
type AttendanceRequest struct {
	Attended *bool  `json:"attended" validate:"required"`
	Notes    string `json:"notes" validate:"max=10000"`
}

// Handler serves the series, attendance and confirmation endpoints.
type Handler struct {
	generator     *SeriesGenerator
	deleter       *SeriesDeleter
	resolver      *AttendanceResolver
	store         *Store
	confirmations *Confirmations
	logger        *logging.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(generator *SeriesGenerator, deleter *SeriesDeleter, resolver *AttendanceResolver, store *Store, confirmations *Confirmations, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		generator:     generator,
		deleter:       deleter,
		resolver:      resolver,
		store:         store,
		confirmations: confirmations,
		logger:        logger,
	}
}

// CreateSeries handles POST /v1/series.
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	var body CreateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start, _ := time.Parse("2006-01-02", body.StartDate)
	end, _ := time.Parse("2006-01-02", body.EndDate)
	cadence, _ := recurrence.ParseCadence(body.Cadence)
	req := SeriesRequest{
		AccountID:        accountID,
		PatientID:        uuid.MustParse(body.PatientID),
		Start:            start,
		End:              end,
		Cadence:          cadence,
		TimeOfDay:        body.Time,
		PriceCents:       body.PriceCents,
		DiscountCents:    body.DiscountCents,
		ForecastPayments: body.ForecastPayments,
		Modality:         Modality(body.Modality),
		MeetingLink:      body.MeetingLink,
	}

	result, err := h.generator.Generate(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoOccurrences), errors.Is(err, payments.ErrNegativeAmount),
		errors.Is(err, payments.ErrInvalidAmount), errors.Is(err, ErrInvalidTime):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	default:
		h.logger.Error("failed to generate series", "account_id", accountID, "error", err)
		http.Error(w, "failed to create series", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"series_id":   result.SeriesID,
		"session_ids": result.SessionIDs,
		"requested":   result.Requested,
		"created":     len(result.SessionIDs),
		"failed":      len(result.Errors),
		"errors":      occurrenceErrors(result.Errors),
	})
}

// DeleteSeries handles DELETE /v1/series/{seriesID}?from=YYYY-MM-DD.
func (h *Handler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	seriesID, err := uuid.Parse(chi.URLParam(r, "seriesID"))
	if err != nil {
		http.Error(w, "invalid series id", http.StatusBadRequest)
		return
	}
	var cutoff *time.Time
	if from := r.URL.Query().Get("from"); from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		cutoff = &parsed
	}

	result, err := h.deleter.Delete(r.Context(), accountID, seriesID, cutoff)
	if err != nil {
		h.logger.Error("failed to delete series", "account_id", accountID, "series_id", seriesID, "error", err)
		http.Error(w, "failed to delete series", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	errs := make([]map[string]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, map[string]string{"id": e.ID.String(), "stage": e.Stage, "error": e.Err.Error()})
	}
	writeJSON(w, status, map[string]any{
		"payments_deleted":   result.PaymentsDeleted,
		"sessions_deleted":   result.SessionsDeleted,
		"series_deactivated": result.SeriesDeactivated,
		"failed":             len(result.Errors),
		"errors":             errs,
	})
}

// ResolveAttendance handles POST /v1/sessions/{sessionID}/attendance.
func (h *Handler) ResolveAttendance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	var body AttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), accountID, sessionID, *body.Attended, body.Notes)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, ErrAlreadyResolved):
		http.Error(w, err.Error(), http.StatusConflict)
	case res == nil:
		h.logger.Error("failed to resolve attendance", "account_id", accountID, "session_id", sessionID, "error", err)
		http.Error(w, "failed to resolve attendance", http.StatusInternalServerError)
	default:
		// The attendance itself is stored; res carries what completed.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      "attendance recorded but follow-up failed",
			"resolution": res,
		})
	}
}

// Detach handles POST /v1/sessions/{sessionID}/detach.
func (h *Handler) Detach(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if err := h.store.Detach(r.Context(), accountID, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to detach session", "account_id", accountID, "session_id", sessionID, "error", err)
		http.Error(w, "failed to detach session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NotifyPatient handles POST /v1/sessions/{sessionID}/notify.
func (h *Handler) NotifyPatient(w http.ResponseWriter, r *http.Request) {
	accountID, ok := tenancy.RequireAccountID(w, r)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	msg, err := h.confirmations.NotifyPatient(r.Context(), accountID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		case errors.Is(err, ErrNotifierDisabled):
			http.Error(w, "patient notifications are not configured", http.StatusServiceUnavailable)
		default:
			http.Error(w, "failed to notify patient", http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"confirm_url": msg.ConfirmURL})
}

// Confirm handles the public POST /public/sessions/{sessionID}/confirm?token=.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	err = h.confirmations.Confirm(r.Context(), sessionID, r.URL.Query().Get("token"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"confirmed": true})
	case errors.Is(err, ErrInvalidToken):
		http.Error(w, "invalid token", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to confirm session", "session_id", sessionID, "error", err)
		http.Error(w, "failed to confirm session", http.StatusInternalServerError)
	}
}

func occurrenceErrors(errs []OccurrenceError) []map[string]string {
	out := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, map[string]string{
			"date":  e.Date.Format("2006-01-02"),
			"stage": e.Stage,
			"error": e.Err.Error(),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
