package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Booked is an existing non-terminal appointment interval, checked when a
// calendar entry is edited after bookings were taken against it.
type Booked struct {
	ID              uuid.UUID
	Start           time.Time
	DurationMinutes int
}

// Strands returns the ids of booked intervals that would fall outside the
// entry's open time if the entry were saved. Calendar edits that strand
// confirmed bookings are rejected rather than applied.
func (e *Entry) Strands(booked []Booked) []uuid.UUID {
	var stranded []uuid.UUID
	for _, b := range booked {
		if !sameDate(e.Date, b.Start) {
			continue
		}
		if !e.IsOpen(b.Start, b.DurationMinutes) {
			stranded = append(stranded, b.ID)
		}
	}
	return stranded
}
