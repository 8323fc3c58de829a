package appointment

import (
	"time"

	"github.com/google/uuid"
)

// SearchParams filters an appointment search. Zero values mean "any".
type SearchParams struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Status    Status
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Stats is an aggregate view over a set of appointments.
type Stats struct {
	Total              int            `json:"total"`
	ByStatus           map[Status]int `json:"by_status"`
	ByType             map[Type]int   `json:"by_type"`
	Revenue            float64        `json:"revenue"`
	AvgDurationMinutes float64        `json:"avg_duration_minutes"`
	CompletionRate     float64        `json:"completion_rate"`
	NoShowRate         float64        `json:"no_show_rate"`
	BusiestWeekday     string         `json:"busiest_weekday,omitempty"`
	ByWeekday          map[string]int `json:"by_weekday"`
}

// ComputeStats aggregates counts, revenue and rates over the appointments.
// Revenue counts only paid fees. Completion and no-show rates are taken
// over appointments that reached a terminal status other than CANCELLED,
// since cancelled visits never had an attendance outcome.
func ComputeStats(appts []Appointment) Stats {
	stats := Stats{
		ByStatus:  make(map[Status]int),
		ByType:    make(map[Type]int),
		ByWeekday: make(map[string]int),
	}

	var totalMinutes, attended int
	for i := range appts {
		a := &appts[i]
		stats.Total++
		stats.ByStatus[a.Status]++
		stats.ByType[a.Type]++
		stats.ByWeekday[a.ScheduledAt.UTC().Weekday().String()]++
		totalMinutes += a.DurationMinutes

		if a.PaymentStatus == PaymentPaid {
			stats.Revenue += a.Fee
		}
		if a.Status == StatusCompleted || a.Status == StatusNoShow {
			attended++
		}
	}

	if stats.Total > 0 {
		stats.AvgDurationMinutes = float64(totalMinutes) / float64(stats.Total)
	}
	if attended > 0 {
		stats.CompletionRate = float64(stats.ByStatus[StatusCompleted]) / float64(attended)
		stats.NoShowRate = float64(stats.ByStatus[StatusNoShow]) / float64(attended)
	}

	best := 0
	for day, n := range stats.ByWeekday {
		if n > best {
			best = n
			stats.BusiestWeekday = day
		}
	}
	return stats
}
