// Package schedule provides the calendar repository.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists schedule calendar entries.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// EntriesForRange returns the doctor's entries with dates in [from, to),
// ordered by date ascending.
func (r *Repository) EntriesForRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Entry, error) {
	query := `
		SELECT id, doctor_id, date, working_windows, break_windows,
		       slot_duration, max_appointments, is_available, created_at, updated_at
		FROM doctor_schedules
		WHERE doctor_id = $1
		  AND date >= $2
		  AND date < $3
		ORDER BY date ASC
	`

	rows, err := r.pool.Query(ctx, query, doctorID, Day(from), Day(to))
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// History returns every available entry for the doctor, newest first. Used
// by the weekly-pattern heuristic.
func (r *Repository) History(ctx context.Context, doctorID uuid.UUID) ([]Entry, error) {
	query := `
		SELECT id, doctor_id, date, working_windows, break_windows,
		       slot_duration, max_appointments, is_available, created_at, updated_at
		FROM doctor_schedules
		WHERE doctor_id = $1
		  AND is_available
		ORDER BY date DESC
	`

	rows, err := r.pool.Query(ctx, query, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query schedule history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Save validates and upserts an entry, one per (doctor, date). Invalid
// entries are rejected before any write.
func (r *Repository) Save(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	working, err := json.Marshal(entry.WorkingWindows)
	if err != nil {
		return fmt.Errorf("marshal working windows: %w", err)
	}
	breaks, err := json.Marshal(entry.BreakWindows)
	if err != nil {
		return fmt.Errorf("marshal break windows: %w", err)
	}

	query := `
		INSERT INTO doctor_schedules
		(id, doctor_id, date, working_windows, break_windows, slot_duration, max_appointments, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET working_windows = $4, break_windows = $5, slot_duration = $6,
		    max_appointments = $7, is_available = $8, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err = r.pool.QueryRow(ctx, query,
		entry.ID,
		entry.DoctorID,
		Day(entry.Date),
		working,
		breaks,
		entry.SlotDuration,
		entry.MaxAppointments,
		entry.Available,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save schedule entry: %w", err)
	}

	r.logger.Debug("schedule entry saved",
		zap.String("doctor_id", entry.DoctorID.String()),
		zap.Time("date", entry.Date))

	return nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			working []byte
			breaks  []byte
		)
		err := rows.Scan(
			&e.ID, &e.DoctorID, &e.Date, &working, &breaks,
			&e.SlotDuration, &e.MaxAppointments, &e.Available,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		if err := json.Unmarshal(working, &e.WorkingWindows); err != nil {
			return nil, fmt.Errorf("decode working windows: %w", err)
		}
		if len(breaks) > 0 {
			if err := json.Unmarshal(breaks, &e.BreakWindows); err != nil {
				return nil, fmt.Errorf("decode break windows: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
