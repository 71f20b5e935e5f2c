package metrics

import (
	"iter"
	"time"
)

// ItemSnapshot is a work item's point value and completion instant as seen
// at computation time. CompletedAt is nil for unfinished items.
type ItemSnapshot struct {
	Points      int
	Completed   bool
	CompletedAt *time.Time
}

// DayRecord is one day of a sprint burndown projection.
type DayRecord struct {
	Day             int       `json:"day"`
	Date            time.Time `json:"date"`
	IdealRemaining  float64   `json:"ideal_remaining"`
	ActualRemaining int       `json:"actual_remaining"`
	CompletedToday  int       `json:"completed_today"`
}

// Burndown projects remaining work for each calendar day from start to end
// inclusive. It is a pure function of its inputs: the returned sequence is
// finite and can be iterated any number of times with identical results.
// An item counts as burned on the first day boundary at or after its
// completion instant.
func Burndown(start, end time.Time, items []ItemSnapshot) iter.Seq[DayRecord] {
	totalDays := int(end.Sub(start).Hours() / 24)
	if totalDays < 0 {
		totalDays = 0
	}
	total := 0
	for _, it := range items {
		total += it.Points
	}
	// Degenerate single-day sprint: the ideal rate burns the whole total.
	rate := float64(total)
	if totalDays > 0 {
		rate = float64(total) / float64(totalDays)
	}
	return func(yield func(DayRecord) bool) {
		for day := 0; day <= totalDays; day++ {
			boundary := start.Add(time.Duration(day) * 24 * time.Hour)
			prev := boundary.Add(-24 * time.Hour)
			burned := 0
			today := 0
			for _, it := range items {
				if it.CompletedAt == nil {
					continue
				}
				if !it.CompletedAt.After(boundary) {
					burned += it.Points
					if day == 0 || it.CompletedAt.After(prev) {
						today += it.Points
					}
				}
			}
			rec := DayRecord{
				Day:             day,
				Date:            boundary,
				IdealRemaining:  float64(total) - rate*float64(day),
				ActualRemaining: total - burned,
				CompletedToday:  today,
			}
			if !yield(rec) {
				return
			}
		}
	}
}
