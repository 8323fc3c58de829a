package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/D-engahmed/medixai/internal/domain/appointment"
	"github.com/D-engahmed/medixai/internal/domain/schedule"
)

// BookedSource loads the non-terminal bookings a calendar edit must not
// strand.
type BookedSource interface {
	LoadForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses []appointment.Status) ([]appointment.Appointment, error)
}

// ScheduleHandler handles doctor schedule endpoints
type ScheduleHandler struct {
	repo   *schedule.Repository
	booked BookedSource
	logger *zap.Logger
}

// NewScheduleHandler creates a new handler
func NewScheduleHandler(repo *schedule.Repository, booked BookedSource, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{repo: repo, booked: booked, logger: logger}
}

// List handles GET /doctors/{doctorID}/schedule
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
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

	entries, err := h.repo.EntriesForRange(r.Context(), doctorID, from, to)
	if err != nil {
		h.logger.Error("failed to load schedule", zap.Error(err))
		h.jsonError(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// SaveRequest is the request body for saving a calendar entry
type SaveRequest struct {
	Date            time.Time         `json:"date"`
	WorkingWindows  []schedule.Window `json:"working_windows"`
	BreakWindows    []schedule.Window `json:"break_windows"`
	SlotDuration    int               `json:"slot_duration"`
	MaxAppointments int               `json:"max_appointments"`
	Available       bool              `json:"available"`
}

// StrandedResponse reports bookings a rejected calendar edit would orphan
type StrandedResponse struct {
	Error    string      `json:"error"`
	Stranded []uuid.UUID `json:"stranded_appointments"`
}

// Save handles PUT /doctors/{doctorID}/schedule. An edit that would leave
// existing non-terminal bookings outside the doctor's open time is rejected
// with the stranded booking ids, so the caller can resolve them first.
func (h *ScheduleHandler) Save(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		h.jsonError(w, "invalid doctor id", http.StatusBadRequest)
		return
	}

	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry := &schedule.Entry{
		DoctorID:        doctorID,
		Date:            schedule.Day(req.Date),
		WorkingWindows:  req.WorkingWindows,
		BreakWindows:    req.BreakWindows,
		SlotDuration:    req.SlotDuration,
		MaxAppointments: req.MaxAppointments,
		Available:       req.Available,
	}
	if err := entry.Validate(); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stranded, err := h.strandedBy(r.Context(), entry)
	if err != nil {
		h.logger.Error("stranding check failed", zap.Error(err))
		h.jsonError(w, "failed to verify existing bookings", http.StatusInternalServerError)
		return
	}
	if len(stranded) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(StrandedResponse{
			Error:    "schedule change would strand existing appointments",
			Stranded: stranded,
		})
		return
	}

	if err := h.repo.Save(r.Context(), entry); err != nil {
		if errors.Is(err, schedule.ErrScheduleInvalid) {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to save schedule", zap.Error(err))
		h.jsonError(w, "failed to save schedule", http.StatusInternalServerError)
		return
	}

	h.logger.Info("schedule saved",
		zap.String("doctor_id", doctorID.String()),
		zap.Time("date", entry.Date))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func (h *ScheduleHandler) strandedBy(ctx context.Context, entry *schedule.Entry) ([]uuid.UUID, error) {
	day := schedule.Day(entry.Date)
	appts, err := h.booked.LoadForDoctor(ctx, entry.DoctorID, day, day.AddDate(0, 0, 1), appointment.BlockingStatuses)
	if err != nil {
		return nil, err
	}

	booked := make([]schedule.Booked, 0, len(appts))
	for i := range appts {
		a := &appts[i]
		booked = append(booked, schedule.Booked{
			ID:              a.ID,
			Start:           a.ScheduledAt,
			DurationMinutes: a.DurationMinutes,
		})
	}
	return entry.Strands(booked), nil
}

func (h *ScheduleHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
