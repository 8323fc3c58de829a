package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/D-engahmed/medixai/internal/domain/schedule"
)

// TimeSlot is a derived candidate booking interval. Slots are ephemeral
// presentation values and are never persisted.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// DoctorAvailability is the aggregate answer for one doctor over a date
// range: the slot map, the earliest bookable slot, the derived weekly
// pattern and the daily booking cap.
type DoctorAvailability struct {
	DoctorID             uuid.UUID                          `json:"doctor_id"`
	Slots                map[string][]TimeSlot              `json:"available_slots"` // keyed by ISO date
	NextAvailable        *TimeSlot                          `json:"next_available_slot,omitempty"`
	WeeklyPattern        map[time.Weekday][]schedule.Window `json:"regular_weekly_pattern"`
	MaxDailyAppointments int                                `json:"max_daily_appointments"`
}

const dateKeyFormat = "2006-01-02"

// Compute partitions each open calendar entry into slots of the doctor's
// default duration, with break windows as hard cuts, and marks a slot
// unavailable when it conflicts with an existing booking. NextAvailable is
// the earliest available slot starting at or after now, ties broken by
// (date, start) ascending.
func Compute(doctorID uuid.UUID, entries []schedule.Entry, bookings []Booking, now time.Time) DoctorAvailability {
	result := DoctorAvailability{
		DoctorID:      doctorID,
		Slots:         make(map[string][]TimeSlot, len(entries)),
		WeeklyPattern: WeeklyPattern(entries),
	}

	sorted := make([]schedule.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	for i := range sorted {
		entry := &sorted[i]
		if !entry.Available {
			continue
		}
		if entry.MaxAppointments > result.MaxDailyAppointments {
			result.MaxDailyAppointments = entry.MaxAppointments
		}

		day := schedule.Day(entry.Date)
		slots := slotsForEntry(entry, day, bookings)
		if len(slots) == 0 {
			continue
		}
		result.Slots[day.Format(dateKeyFormat)] = slots

		if result.NextAvailable == nil {
			for _, s := range slots {
				if s.Available && !s.Start.Before(now) {
					slot := s
					result.NextAvailable = &slot
					break
				}
			}
		}
	}

	return result
}

func slotsForEntry(entry *schedule.Entry, day time.Time, bookings []Booking) []TimeSlot {
	duration := time.Duration(entry.SlotDuration) * time.Minute

	var slots []TimeSlot
	for _, w := range entry.OpenWindows() {
		start := day.Add(time.Duration(w.Start) * time.Minute)
		windowEnd := day.Add(time.Duration(w.End) * time.Minute)
		for !start.Add(duration).After(windowEnd) {
			end := start.Add(duration)
			slots = append(slots, TimeSlot{
				Start:     start,
				End:       end,
				Available: !HasConflict(bookings, start, end, uuid.Nil),
			})
			start = end
		}
	}
	return slots
}

// WeeklyPattern derives a canonical weekly shape: for each weekday it picks
// the historical entry with the greatest number of working windows. This is
// a majority-shape heuristic over whatever entries the caller supplies, not
// a guarantee of the doctor's actual recurring schedule.
func WeeklyPattern(entries []schedule.Entry) map[time.Weekday][]schedule.Window {
	best := make(map[time.Weekday]*schedule.Entry)
	for i := range entries {
		e := &entries[i]
		if !e.Available {
			continue
		}
		day := e.Date.UTC().Weekday()
		if cur, ok := best[day]; !ok || len(e.WorkingWindows) > len(cur.WorkingWindows) {
			best[day] = e
		}
	}

	pattern := make(map[time.Weekday][]schedule.Window, len(best))
	for day, e := range best {
		windows := make([]schedule.Window, len(e.WorkingWindows))
		copy(windows, e.WorkingWindows)
		pattern[day] = windows
	}
	return pattern
}
