// Package handlers provides HTTP handlers for the booking API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/D-engahmed/medixai/internal/api/middleware"
	"github.com/D-engahmed/medixai/internal/domain/appointment"
	"github.com/D-engahmed/medixai/internal/domain/obligation"
	"github.com/D-engahmed/medixai/internal/observability/metrics"
)

// Searcher answers filtered appointment queries.
type Searcher interface {
	Search(ctx context.Context, params appointment.SearchParams) ([]appointment.Appointment, error)
}

// ObligationSource reads the obligations recorded for an appointment.
type ObligationSource interface {
	ForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]obligation.Obligation, error)
}

// AppointmentHandler handles appointment endpoints
type AppointmentHandler struct {
	svc         *appointment.Service
	search      Searcher
	obligations ObligationSource
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewAppointmentHandler creates a new handler. metrics may be nil.
func NewAppointmentHandler(svc *appointment.Service, search Searcher, obligations ObligationSource, m *metrics.Metrics, logger *zap.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		svc:         svc,
		search:      search,
		obligations: obligations,
		metrics:     m,
		logger:      logger,
	}
}

// Routes returns the handler routes
func (h *AppointmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Book)
	r.Get("/", h.Search)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/obligations", h.Obligations)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/no-show", h.NoShow)
	r.Post("/{id}/reschedule", h.Reschedule)
	return r
}

// Book handles POST /appointments
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("appointment-handler")
	ctx, span := tracer.Start(ctx, "book_appointment")
	defer span.End()

	var req appointment.BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("doctor_id", req.DoctorID.String()))

	start := time.Now()
	appt, err := h.svc.Book(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.countRejection(err)
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.AppointmentsBooked.Inc()
		h.metrics.BookingDuration.Observe(time.Since(start).Seconds())
	}

	h.logger.Info("appointment booked",
		zap.String("id", appt.ID.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	h.writeJSON(w, http.StatusCreated, appt)
}

// Get handles GET /appointments/{id}
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, appt)
}

// Obligations handles GET /appointments/{id}/obligations
func (h *AppointmentHandler) Obligations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	obls, err := h.obligations.ForAppointment(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load obligations", zap.Error(err))
		h.jsonError(w, "failed to load obligations", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, obls)
}

// Confirm handles POST /appointments/{id}/confirm
func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

// Complete handles POST /appointments/{id}/complete
func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

// NoShow handles POST /appointments/{id}/no-show
func (h *AppointmentHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkNoShow)
}

func (h *AppointmentHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*appointment.Appointment, error)) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	appt, err := fn(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, appt)
}

// CancelRequest is the request body for cancelling an appointment
type CancelRequest struct {
	Reason     string `json:"reason"`
	ByProvider bool   `json:"by_provider"`
}

// CancelResponse reports the cancellation and its policy outcome
type CancelResponse struct {
	Appointment *appointment.Appointment `json:"appointment"`
	Policy      appointment.PolicyResult `json:"policy"`
}

// Cancel handles POST /appointments/{id}/cancel
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	appt, policy, err := h.svc.Cancel(r.Context(), id, req.Reason, req.ByProvider)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		label := "false"
		if policy.FeeApplies {
			label = "true"
		}
		h.metrics.Cancellations.WithLabelValues(label).Inc()
	}

	h.writeJSON(w, http.StatusOK, CancelResponse{Appointment: appt, Policy: policy})
}

// RescheduleRequest is the request body for moving an appointment
type RescheduleRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Reschedule handles POST /appointments/{id}/reschedule
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, req.ScheduledAt, req.DurationMinutes)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.Reschedules.Inc()
	}

	h.writeJSON(w, http.StatusOK, appt)
}

// Search handles GET /appointments
func (h *AppointmentHandler) Search(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	appts, err := h.search.Search(r.Context(), params)
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		h.jsonError(w, "search failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, appts)
}

// Availability handles GET /doctors/{doctorID}/availability
func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		h.jsonError(w, "invalid doctor id", http.StatusBadRequest)
		return
	}

	from, to, err := parseRange(r, 7)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	avail, err := h.svc.Availability(r.Context(), doctorID, from, to)
	if err != nil {
		h.logger.Error("availability computation failed", zap.Error(err))
		h.jsonError(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, avail)
}

// Stats handles GET /doctors/{doctorID}/stats
func (h *AppointmentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		h.jsonError(w, "invalid doctor id", http.StatusBadRequest)
		return
	}

	from, to, err := parseRange(r, 30)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.svc.Stats(r.Context(), doctorID, from, to)
	if err != nil {
		h.logger.Error("stats computation failed", zap.Error(err))
		h.jsonError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func parseSearchParams(r *http.Request) (appointment.SearchParams, error) {
	var params appointment.SearchParams
	q := r.URL.Query()

	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return params, errors.New("invalid doctor_id")
		}
		params.DoctorID = id
	}
	if v := q.Get("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return params, errors.New("invalid patient_id")
		}
		params.PatientID = id
	}
	params.Status = appointment.Status(q.Get("status"))
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, errors.New("invalid from timestamp")
		}
		params.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, errors.New("invalid to timestamp")
		}
		params.To = &t
	}
	return params, nil
}

// parseRange reads from/to query params, defaulting to the next defaultDays
// days starting now.
func parseRange(r *http.Request, defaultDays int) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now, now.AddDate(0, 0, defaultDays)

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from timestamp")
		}
		from = t
		to = from.AddDate(0, 0, defaultDays)
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to timestamp")
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func (h *AppointmentHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *AppointmentHandler) countRejection(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, appointment.ErrSlotUnavailable):
		h.metrics.BookingsRejected.WithLabelValues("slot_unavailable").Inc()
	case errors.Is(err, appointment.ErrInvalidAppointment):
		h.metrics.BookingsRejected.WithLabelValues("invalid").Inc()
	default:
		h.metrics.BookingsRejected.WithLabelValues("error").Inc()
	}
}

// writeDomainError maps domain errors onto HTTP status codes.
func (h *AppointmentHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, appointment.ErrSlotUnavailable):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, appointment.ErrInvalidTransition):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, appointment.ErrInvalidAppointment):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *AppointmentHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *AppointmentHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
