// Package schedule implements the per-doctor schedule calendar: the ground
// truth for whether a doctor is nominally open at a given instant.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrScheduleInvalid is returned when a calendar write violates the
// working/break-window invariant. Invalid entries are never persisted.
var ErrScheduleInvalid = errors.New("schedule entry is invalid")

// MinSlotDuration is the shortest bookable appointment in minutes.
const MinSlotDuration = 15

const minutesPerDay = 24 * 60

// Window is a half-open [Start, End) range expressed in minutes from
// midnight of the entry's calendar date.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Duration returns the window length in minutes.
func (w Window) Duration() int { return w.End - w.Start }

// Contains reports whether the half-open minute range [from, to) lies
// entirely inside the window.
func (w Window) Contains(from, to int) bool {
	return w.Start <= from && to <= w.End
}

// Overlaps reports whether two half-open windows intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

// Entry is one doctor's calendar for one date: the working windows, the
// break windows carved out of them, and the slotting parameters used by
// availability computation.
type Entry struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Date            time.Time `json:"date"` // midnight UTC of the calendar date
	WorkingWindows  []Window  `json:"working_windows"`
	BreakWindows    []Window  `json:"break_windows"`
	SlotDuration    int       `json:"slot_duration"` // default appointment length in minutes
	MaxAppointments int       `json:"max_appointments"` // 0 means unlimited
	Available       bool      `json:"available"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate enforces the calendar invariant: windows are sorted and
// non-overlapping, every break window lies inside a working window, and the
// slot duration is bookable. Violations are reported as ErrScheduleInvalid.
func (e *Entry) Validate() error {
	if e.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor id is required", ErrScheduleInvalid)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrScheduleInvalid)
	}
	if e.SlotDuration < MinSlotDuration {
		return fmt.Errorf("%w: slot duration %d is below the %d minute minimum", ErrScheduleInvalid, e.SlotDuration, MinSlotDuration)
	}
	if e.MaxAppointments < 0 {
		return fmt.Errorf("%w: max appointments must not be negative", ErrScheduleInvalid)
	}
	if err := validateWindows(e.WorkingWindows, "working"); err != nil {
		return err
	}
	if err := validateWindows(e.BreakWindows, "break"); err != nil {
		return err
	}
	// Working windows are non-overlapping, so a break covered by their union
	// must sit inside exactly one of them.
	for _, b := range e.BreakWindows {
		inside := false
		for _, w := range e.WorkingWindows {
			if w.Contains(b.Start, b.End) {
				inside = true
				break
			}
		}
		if !inside {
			return fmt.Errorf("%w: break window [%d, %d) is outside the working windows", ErrScheduleInvalid, b.Start, b.End)
		}
	}
	return nil
}

func validateWindows(windows []Window, kind string) error {
	for i, w := range windows {
		if w.Start < 0 || w.End > minutesPerDay {
			return fmt.Errorf("%w: %s window [%d, %d) exceeds the day", ErrScheduleInvalid, kind, w.Start, w.End)
		}
		if w.Start >= w.End {
			return fmt.Errorf("%w: %s window [%d, %d) is empty or inverted", ErrScheduleInvalid, kind, w.Start, w.End)
		}
		if i > 0 && windows[i-1].End > w.Start {
			return fmt.Errorf("%w: %s windows are not sorted and disjoint", ErrScheduleInvalid, kind)
		}
	}
	return nil
}

// IsOpen reports whether the doctor is open for the entire half-open
// interval starting at start and lasting durationMinutes: the interval must
// fall on this entry's date, inside one working window, outside every break
// window, and the entry must be marked available.
func (e *Entry) IsOpen(start time.Time, durationMinutes int) bool {
	if !e.Available || durationMinutes <= 0 {
		return false
	}
	if !sameDate(e.Date, start) {
		return false
	}
	// Windows are minutes from midnight UTC; the instant's carried Location
	// must not leak into the extraction.
	start = start.UTC()
	from := start.Hour()*60 + start.Minute()
	to := from + durationMinutes
	if to > minutesPerDay {
		return false
	}
	candidate := Window{Start: from, End: to}
	open := false
	for _, w := range e.WorkingWindows {
		if w.Contains(from, to) {
			open = true
			break
		}
	}
	if !open {
		return false
	}
	for _, b := range e.BreakWindows {
		if b.Overlaps(candidate) {
			return false
		}
	}
	return true
}

// OpenWindows returns the working windows with break windows cut out,
// sorted ascending. This is the set of ranges slots are carved from.
func (e *Entry) OpenWindows() []Window {
	if !e.Available {
		return nil
	}
	open := make([]Window, 0, len(e.WorkingWindows))
	for _, w := range e.WorkingWindows {
		remaining := []Window{w}
		for _, b := range e.BreakWindows {
			var next []Window
			for _, r := range remaining {
				if !r.Overlaps(b) {
					next = append(next, r)
					continue
				}
				if r.Start < b.Start {
					next = append(next, Window{Start: r.Start, End: b.Start})
				}
				if b.End < r.End {
					next = append(next, Window{Start: b.End, End: r.End})
				}
			}
			remaining = next
		}
		open = append(open, remaining...)
	}
	return open
}

// Day returns the entry's calendar date truncated to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(date, t time.Time) bool {
	dy, dm, dd := date.UTC().Date()
	ty, tm, td := t.UTC().Date()
	return dy == ty && dm == tm && dd == td
}

// Calendar is a read-only view over a doctor's entries, keyed by date.
type Calendar struct {
	entries map[time.Time]*Entry
}

// NewCalendar builds a calendar view from loaded entries. Later entries for
// the same date replace earlier ones.
func NewCalendar(entries []Entry) *Calendar {
	c := &Calendar{entries: make(map[time.Time]*Entry, len(entries))}
	for i := range entries {
		e := entries[i]
		c.entries[Day(e.Date)] = &e
	}
	return c
}

// EntryFor returns the entry for the instant's calendar date, if any.
func (c *Calendar) EntryFor(t time.Time) (*Entry, bool) {
	e, ok := c.entries[Day(t)]
	return e, ok
}

// IsOpen reports whether the doctor is open for the full interval.
// Instants on dates with no entry are closed.
func (c *Calendar) IsOpen(start time.Time, durationMinutes int) bool {
	e, ok := c.EntryFor(start)
	if !ok {
		return false
	}
	return e.IsOpen(start, durationMinutes)
}
