// Package availability decides whether candidate intervals can be booked
// and derives bookable slots from a doctor's calendar. All functions are
// pure over in-memory collections so the interval arithmetic stays
// framework-agnostic and unit-testable without a database.
package availability

import (
	"time"

	"github.com/google/uuid"
)

// Booking is an existing appointment interval that blocks booking. Callers
// pass only non-terminal appointments (PENDING or CONFIRMED); cancelled,
// completed and no-show appointments never block.
type Booking struct {
	ID    uuid.UUID
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching intervals (aEnd == bStart) do not
// overlap, so back-to-back bookings are legal.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// HasConflict reports whether the candidate interval [start, end) overlaps
// any existing booking. The booking identified by exclude is skipped so a
// reschedule does not conflict with the appointment being moved; pass
// uuid.Nil to check against every booking.
func HasConflict(bookings []Booking, start, end time.Time, exclude uuid.UUID) bool {
	for _, b := range bookings {
		if exclude != uuid.Nil && b.ID == exclude {
			continue
		}
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
