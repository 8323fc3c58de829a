package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/D-engahmed/medixai/internal/domain/availability"
	"github.com/D-engahmed/medixai/internal/domain/obligation"
	"github.com/D-engahmed/medixai/internal/domain/schedule"
)

// Store persists appointments together with their domain events.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Create(ctx context.Context, appt *Appointment, events []*Event) error
	Update(ctx context.Context, appt *Appointment, events []*Event) error
	LoadForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses []Status) ([]Appointment, error)
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

// ScheduleSource loads the doctor's calendar.
type ScheduleSource interface {
	EntriesForRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Entry, error)
	History(ctx context.Context, doctorID uuid.UUID) ([]schedule.Entry, error)
}

// Obligations records reminders and notifications owed for appointments.
type Obligations interface {
	IssueReminders(ctx context.Context, appointmentID, patientID uuid.UUID, scheduledAt time.Time) error
	Notify(ctx context.Context, obligations ...obligation.Obligation) error
	Cancel(ctx context.Context, appointmentID uuid.UUID) error
}

// Service implements booking admission, lifecycle transitions and
// availability queries. Admission and reschedule run under the doctor's
// advisory lock; the database overlap constraint is the backup for writers
// that bypass the lock, and a lost race gets one recheck before the caller
// sees ErrSlotUnavailable.
type Service struct {
	store       Store
	schedules   ScheduleSource
	obligations Obligations
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a booking service.
func NewService(store Store, schedules ScheduleSource, obligations Obligations, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		schedules:   schedules,
		obligations: obligations,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// BookRequest carries the fields needed to admit a new appointment.
type BookRequest struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	Type            Type      `json:"appointment_type"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes,omitempty"`
	Fee             float64   `json:"fee"`
}

// Book admits a new appointment. The slot must lie inside an open working
// window, clear of breaks, clear of every non-terminal appointment and
// under the daily cap. On success the appointment is PENDING and its
// reminders and booking notifications are recorded.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	appt := &Appointment{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Type:            req.Type,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
		Notes:           req.Notes,
		Fee:             req.Fee,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
	}
	if err := appt.Validate(); err != nil {
		return nil, err
	}

	err := s.store.WithDoctorLock(ctx, appt.DoctorID, func(ctx context.Context) error {
		return s.admit(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.Time("scheduled_at", appt.ScheduledAt))

	// Obligations are a separate concern from admission: a failure here is
	// recoverable and never rolls back the booking.
	s.recordBookingObligations(ctx, appt)

	return appt, nil
}

func (s *Service) admit(ctx context.Context, appt *Appointment) error {
	if err := s.checkSlot(ctx, appt.DoctorID, appt.ScheduledAt, appt.DurationMinutes, uuid.Nil); err != nil {
		return err
	}

	event, err := NewEvent(appt, EventAppointmentBooked, BookedData{
		AppointmentID:   appt.ID.String(),
		DoctorID:        appt.DoctorID.String(),
		PatientID:       appt.PatientID.String(),
		AppointmentType: appt.Type,
		ScheduledAt:     appt.ScheduledAt,
		DurationMinutes: appt.DurationMinutes,
		Fee:             appt.Fee,
	})
	if err != nil {
		return err
	}
	events := []*Event{event}

	createErr := s.store.Create(ctx, appt, events)
	if !errors.Is(createErr, ErrBookingConflict) {
		return createErr
	}

	// A writer outside the advisory lock won the constraint race. Recheck
	// once against the now-committed state; if the slot survived, the retry
	// is expected to land.
	s.logger.Warn("booking conflict detected, rechecking slot",
		zap.String("doctor_id", appt.DoctorID.String()),
		zap.Time("scheduled_at", appt.ScheduledAt))
	if err := s.checkSlot(ctx, appt.DoctorID, appt.ScheduledAt, appt.DurationMinutes, uuid.Nil); err != nil {
		return err
	}
	if err := s.store.Create(ctx, appt, events); err != nil {
		if errors.Is(err, ErrBookingConflict) {
			return fmt.Errorf("%w: slot was taken concurrently", ErrSlotUnavailable)
		}
		return err
	}
	return nil
}

// checkSlot verifies the three admission rules: the interval is open on the
// calendar, it overlaps no blocking appointment, and the daily cap has room.
// exclude skips one appointment in the conflict and cap checks so a
// reschedule never collides with itself.
func (s *Service) checkSlot(ctx context.Context, doctorID uuid.UUID, start time.Time, durationMinutes int, exclude uuid.UUID) error {
	day := schedule.Day(start)
	next := day.AddDate(0, 0, 1)

	entries, err := s.schedules.EntriesForRange(ctx, doctorID, day, next)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	cal := schedule.NewCalendar(entries)
	if !cal.IsOpen(start, durationMinutes) {
		return fmt.Errorf("%w: outside the doctor's working hours", ErrSlotUnavailable)
	}

	existing, err := s.store.LoadForDoctor(ctx, doctorID, day, next, BlockingStatuses)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if availability.HasConflict(blockingIntervals(existing), start, end, exclude) {
		return fmt.Errorf("%w: overlaps an existing appointment", ErrSlotUnavailable)
	}

	entry, _ := cal.EntryFor(start)
	if entry.MaxAppointments > 0 {
		count := 0
		for _, a := range existing {
			if a.ID != exclude {
				count++
			}
		}
		if count >= entry.MaxAppointments {
			return fmt.Errorf("%w: daily appointment limit reached", ErrSlotUnavailable)
		}
	}
	return nil
}

func blockingIntervals(appts []Appointment) []availability.Booking {
	bookings := make([]availability.Booking, 0, len(appts))
	for i := range appts {
		a := &appts[i]
		bookings = append(bookings, availability.Booking{
			ID:    a.ID,
			Start: a.ScheduledAt,
			End:   a.End(),
		})
	}
	return bookings
}

func (s *Service) recordBookingObligations(ctx context.Context, appt *Appointment) {
	if err := s.obligations.IssueReminders(ctx, appt.ID, appt.PatientID, appt.ScheduledAt); err != nil {
		s.logger.Warn("failed to issue reminders",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
	notifications := obligation.BookingNotifications(appt.ID, appt.PatientID, appt.DoctorID, appt.ScheduledAt)
	if err := s.obligations.Notify(ctx, notifications...); err != nil {
		s.logger.Warn("failed to record booking notifications",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
}

// Get retrieves an appointment by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.Get(ctx, id)
}

// Confirm moves a pending appointment to CONFIRMED and refreshes its
// reminder pair.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, StatusConfirmed, EventAppointmentConfirmed)
	if err != nil {
		return nil, err
	}
	if err := s.obligations.IssueReminders(ctx, appt.ID, appt.PatientID, appt.ScheduledAt); err != nil {
		s.logger.Warn("failed to refresh reminders",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
	return appt, nil
}

// Complete moves a confirmed appointment to COMPLETED and records the
// feedback request.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
	if err != nil {
		return nil, err
	}
	if err := s.obligations.Notify(ctx, obligation.FeedbackRequest(appt.ID, appt.PatientID)); err != nil {
		s.logger.Warn("failed to record feedback request",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
	return appt, nil
}

// MarkNoShow moves a confirmed appointment to NO_SHOW. Pending appointments
// cannot be marked: attendance was never agreed.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, StatusNoShow, EventAppointmentNoShow)
	if err != nil {
		return nil, err
	}
	if err := s.obligations.Cancel(ctx, appt.ID); err != nil {
		s.logger.Warn("failed to cancel obligations",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
	return appt, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, eventType EventType) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := appt.checkTransition(to); err != nil {
		return nil, err
	}

	from := appt.Status
	appt.Status = to

	event, err := NewEvent(appt, eventType, StatusChangedData{
		AppointmentID: appt.ID.String(),
		From:          from,
		To:            to,
		ChangedAt:     s.now(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, appt, []*Event{event}); err != nil {
		return nil, err
	}

	s.logger.Info("appointment transitioned",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return appt, nil
}

// Cancel cancels a pending or confirmed appointment and applies the
// cancellation policy: a patient cancelling with less than 24 hours of
// notice owes the late fee, and a paid appointment is always refunded in
// full. Fee and refund are independent intents, never netted.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, byProvider bool) (*Appointment, PolicyResult, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, PolicyResult{}, err
	}
	if err := appt.checkTransition(StatusCancelled); err != nil {
		return nil, PolicyResult{}, err
	}

	now := s.now()
	policy := EvaluateCancellation(appt, now, byProvider)

	appt.Status = StatusCancelled
	appt.CancellationReason = reason
	appt.CancelledAt = &now
	if policy.RefundEligible {
		appt.PaymentStatus = PaymentRefunded
	}

	cancelled, err := NewEvent(appt, EventAppointmentCancelled, CancelledData{
		AppointmentID: appt.ID.String(),
		Reason:        reason,
		CancelledAt:   now,
		ByProvider:    byProvider,
		FeeApplies:    policy.FeeApplies,
		RefundIssued:  policy.RefundEligible,
	})
	if err != nil {
		return nil, PolicyResult{}, err
	}
	events := []*Event{cancelled}

	intent := PaymentIntentData{
		AppointmentID: appt.ID.String(),
		PatientID:     appt.PatientID.String(),
		Amount:        appt.Fee,
	}
	if policy.RefundEligible {
		e, err := NewEvent(appt, EventRefundRequested, intent)
		if err != nil {
			return nil, PolicyResult{}, err
		}
		events = append(events, e)
	}
	if policy.FeeApplies {
		e, err := NewEvent(appt, EventFeeChargeRequested, intent)
		if err != nil {
			return nil, PolicyResult{}, err
		}
		events = append(events, e)
	}

	if err := s.store.Update(ctx, appt, events); err != nil {
		return nil, PolicyResult{}, err
	}

	s.logger.Info("appointment cancelled",
		zap.String("appointment_id", appt.ID.String()),
		zap.Bool("by_provider", byProvider),
		zap.Bool("fee_applies", policy.FeeApplies),
		zap.Bool("refund_issued", policy.RefundEligible))

	if err := s.obligations.Cancel(ctx, appt.ID); err != nil {
		s.logger.Warn("failed to cancel obligations",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
	notifications := obligation.CancellationNotifications(appt.ID, appt.PatientID, appt.DoctorID, appt.ScheduledAt)
	if err := s.obligations.Notify(ctx, notifications...); err != nil {
		s.logger.Warn("failed to record cancellation notifications",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}

	return appt, policy, nil
}

// Reschedule moves a pending or confirmed appointment to a new slot. The
// new interval passes the same admission checks as a fresh booking, except
// the appointment being moved never conflicts with itself. Reminders are
// reissued against the new time.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDurationMinutes int) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.Blocking() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}

	oldStart, oldDuration := appt.ScheduledAt, appt.DurationMinutes
	appt.ScheduledAt = newStart.UTC()
	appt.DurationMinutes = newDurationMinutes
	if err := appt.Validate(); err != nil {
		return nil, err
	}

	event, err := NewEvent(appt, EventAppointmentRescheduled, RescheduledData{
		AppointmentID:  appt.ID.String(),
		OldScheduledAt: oldStart,
		NewScheduledAt: appt.ScheduledAt,
		OldDuration:    oldDuration,
		NewDuration:    newDurationMinutes,
	})
	if err != nil {
		return nil, err
	}

	err = s.store.WithDoctorLock(ctx, appt.DoctorID, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, appt.DoctorID, appt.ScheduledAt, appt.DurationMinutes, appt.ID); err != nil {
			return err
		}
		if err := s.store.Update(ctx, appt, []*Event{event}); err != nil {
			if errors.Is(err, ErrBookingConflict) {
				return fmt.Errorf("%w: slot was taken concurrently", ErrSlotUnavailable)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID.String()),
		zap.Time("old", oldStart),
		zap.Time("new", appt.ScheduledAt))

	if err := s.obligations.IssueReminders(ctx, appt.ID, appt.PatientID, appt.ScheduledAt); err != nil {
		s.logger.Warn("failed to reissue reminders",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}

	return appt, nil
}

// Availability computes the doctor's bookable slots over [from, to), plus
// the weekly pattern derived from the full calendar history.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (availability.DoctorAvailability, error) {
	entries, err := s.schedules.EntriesForRange(ctx, doctorID, from, to)
	if err != nil {
		return availability.DoctorAvailability{}, fmt.Errorf("load schedule: %w", err)
	}
	existing, err := s.store.LoadForDoctor(ctx, doctorID, from, to, BlockingStatuses)
	if err != nil {
		return availability.DoctorAvailability{}, fmt.Errorf("load bookings: %w", err)
	}

	result := availability.Compute(doctorID, entries, blockingIntervals(existing), s.now())

	history, err := s.schedules.History(ctx, doctorID)
	if err != nil {
		return availability.DoctorAvailability{}, fmt.Errorf("load schedule history: %w", err)
	}
	result.WeeklyPattern = availability.WeeklyPattern(history)

	return result, nil
}

// Stats aggregates the doctor's appointments over [from, to).
func (s *Service) Stats(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (Stats, error) {
	appts, err := s.store.LoadForDoctor(ctx, doctorID, from, to,
		[]Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow})
	if err != nil {
		return Stats{}, fmt.Errorf("load appointments: %w", err)
	}
	return ComputeStats(appts), nil
}
