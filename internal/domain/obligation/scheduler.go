package obligation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists obligations. CancelPendingReminders and CancelPending mark
// unfired obligations cancelled; obligations already claimed for delivery
// are left untouched for the audit trail.
type Store interface {
	Insert(ctx context.Context, obligations []Obligation) error
	CancelPending(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error)
}

// Scheduler issues and cancels obligations for appointments. It never
// delivers anything itself.
type Scheduler struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
}

// NewScheduler creates a scheduler. Reminder messages render the
// appointment time in loc; nil means UTC.
func NewScheduler(store Store, loc *time.Location, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{store: store, loc: loc, logger: logger}
}

// IssueReminders cancels any stale pending reminders for the appointment
// and records a fresh reminder pair relative to scheduledAt. Cancelling
// first guarantees there is never more than one live reminder set per
// appointment, which is what makes reschedules safe.
func (s *Scheduler) IssueReminders(ctx context.Context, appointmentID, patientID uuid.UUID, scheduledAt time.Time) error {
	cancelled, err := s.store.CancelPendingReminders(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("cancel stale reminders: %w", err)
	}
	if cancelled > 0 {
		s.logger.Debug("stale reminders cancelled",
			zap.String("appointment_id", appointmentID.String()),
			zap.Int64("count", cancelled))
	}

	reminders := RemindersFor(appointmentID, patientID, scheduledAt, s.loc)
	if err := s.store.Insert(ctx, reminders); err != nil {
		return fmt.Errorf("insert reminders: %w", err)
	}

	s.logger.Debug("reminders issued",
		zap.String("appointment_id", appointmentID.String()),
		zap.Time("scheduled_at", scheduledAt))
	return nil
}

// Notify records immediate notification obligations.
func (s *Scheduler) Notify(ctx context.Context, obligations ...Obligation) error {
	if len(obligations) == 0 {
		return nil
	}
	if err := s.store.Insert(ctx, obligations); err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

// Cancel marks every unfired obligation for the appointment as cancelled.
func (s *Scheduler) Cancel(ctx context.Context, appointmentID uuid.UUID) error {
	cancelled, err := s.store.CancelPending(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("cancel obligations: %w", err)
	}
	s.logger.Debug("obligations cancelled",
		zap.String("appointment_id", appointmentID.String()),
		zap.Int64("count", cancelled))
	return nil
}
