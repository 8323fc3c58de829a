package availability

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/D-engahmed/medixai/internal/domain/schedule"
)

func entryOn(date time.Time, doctorID uuid.UUID) schedule.Entry {
	return schedule.Entry{
		ID:       uuid.New(),
		DoctorID: doctorID,
		Date:     date,
		WorkingWindows: []schedule.Window{
			{Start: 9 * 60, End: 11 * 60},
		},
		BreakWindows: []schedule.Window{
			{Start: 10 * 60, End: 10*60 + 30},
		},
		SlotDuration:    30,
		MaxAppointments: 8,
		Available:       true,
	}
}

func TestComputeSlots(t *testing.T) {
	doctorID := uuid.New()
	entry := entryOn(day, doctorID)

	booked := []Booking{
		{ID: uuid.New(), Start: at(9, 30), End: at(10, 0)},
	}

	result := Compute(doctorID, []schedule.Entry{entry}, booked, at(0, 0))

	slots, ok := result.Slots["2026-03-02"]
	if !ok {
		t.Fatalf("no slots for date, got keys %v", result.Slots)
	}

	// Two hours of working time minus a 30 minute break yields three slots.
	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3: %v", len(slots), slots)
	}
	if !slots[0].Available || !slots[0].Start.Equal(at(9, 0)) {
		t.Errorf("first slot = %+v, want available 09:00", slots[0])
	}
	if slots[1].Available {
		t.Errorf("booked 09:30 slot reported available")
	}
	if !slots[2].Start.Equal(at(10, 30)) || !slots[2].Available {
		t.Errorf("post-break slot = %+v, want available 10:30", slots[2])
	}

	if result.NextAvailable == nil || !result.NextAvailable.Start.Equal(at(9, 0)) {
		t.Errorf("NextAvailable = %+v, want 09:00", result.NextAvailable)
	}
	if result.MaxDailyAppointments != 8 {
		t.Errorf("MaxDailyAppointments = %d, want 8", result.MaxDailyAppointments)
	}
}

func TestComputeNextAvailableSkipsPast(t *testing.T) {
	doctorID := uuid.New()
	entry := entryOn(day, doctorID)

	// Asking mid-morning: slots before now must not be offered as next.
	result := Compute(doctorID, []schedule.Entry{entry}, nil, at(9, 10))

	if result.NextAvailable == nil || !result.NextAvailable.Start.Equal(at(9, 30)) {
		t.Errorf("NextAvailable = %+v, want 09:30", result.NextAvailable)
	}
}

func TestComputeSkipsUnavailableEntries(t *testing.T) {
	doctorID := uuid.New()
	entry := entryOn(day, doctorID)
	entry.Available = false

	result := Compute(doctorID, []schedule.Entry{entry}, nil, at(0, 0))
	if len(result.Slots) != 0 {
		t.Errorf("unavailable day produced slots: %v", result.Slots)
	}
	if result.NextAvailable != nil {
		t.Errorf("unavailable day produced next slot: %+v", result.NextAvailable)
	}
}

func TestWeeklyPattern(t *testing.T) {
	doctorID := uuid.New()

	// Two Mondays: the later one has more working windows and must win.
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	shortDay := entryOn(monday, doctorID)
	fullDay := entryOn(monday.AddDate(0, 0, 7), doctorID)
	fullDay.WorkingWindows = []schedule.Window{
		{Start: 9 * 60, End: 12 * 60},
		{Start: 13 * 60, End: 17 * 60},
	}
	fullDay.BreakWindows = nil

	closed := entryOn(monday.AddDate(0, 0, 1), doctorID)
	closed.Available = false

	pattern := WeeklyPattern([]schedule.Entry{shortDay, fullDay, closed})

	windows, ok := pattern[time.Monday]
	if !ok {
		t.Fatalf("no Monday pattern: %v", pattern)
	}
	if len(windows) != 2 {
		t.Errorf("Monday pattern has %d windows, want 2", len(windows))
	}
	if _, ok := pattern[time.Tuesday]; ok {
		t.Error("unavailable Tuesday must not contribute to the pattern")
	}
}
