package availability

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name                   string
		aStart, aEnd, bStart, bEnd time.Time
		want                   bool
	}{
		{"identical", at(9, 0), at(9, 30), at(9, 0), at(9, 30), true},
		{"partial overlap", at(9, 0), at(9, 30), at(9, 15), at(9, 45), true},
		{"containment", at(9, 0), at(10, 0), at(9, 15), at(9, 30), true},
		{"touching end to start", at(9, 0), at(9, 30), at(9, 30), at(10, 0), false},
		{"touching start to end", at(9, 30), at(10, 0), at(9, 0), at(9, 30), false},
		{"disjoint", at(9, 0), at(9, 30), at(11, 0), at(11, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasConflict(t *testing.T) {
	existing := uuid.New()
	bookings := []Booking{
		{ID: existing, Start: at(9, 0), End: at(9, 30)},
		{ID: uuid.New(), Start: at(14, 0), End: at(15, 0)},
	}

	if !HasConflict(bookings, at(9, 15), at(9, 45), uuid.Nil) {
		t.Error("overlapping interval not detected")
	}
	if HasConflict(bookings, at(9, 30), at(10, 0), uuid.Nil) {
		t.Error("back-to-back interval reported as conflict")
	}
	if HasConflict(bookings, at(9, 0), at(9, 30), existing) {
		t.Error("excluded booking still conflicts with itself")
	}
	if !HasConflict(bookings, at(14, 30), at(15, 30), existing) {
		t.Error("exclusion must not skip other bookings")
	}
	if HasConflict(nil, at(9, 0), at(9, 30), uuid.Nil) {
		t.Error("empty booking set cannot conflict")
	}
}
