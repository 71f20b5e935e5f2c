package metrics

import (
	"sort"
	"time"
)

// Velocity sums the points of completed items. Called at sprint completion
// to produce the value frozen on the sprint.
func Velocity(items []ItemSnapshot) int {
	total := 0
	for _, it := range items {
		if it.Completed {
			total += it.Points
		}
	}
	return total
}

// SprintSummary pairs a sprint with its planned and completed point totals.
type SprintSummary struct {
	SprintID  string     `json:"sprint_id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Planned   int        `json:"planned"`
	Completed int        `json:"completed"`
}

// SprintInput is one sprint plus its linked item snapshots.
type SprintInput struct {
	SprintID string
	Name     string
	Status   string
	EndDate  *time.Time
	Items    []ItemSnapshot
}

// VelocityHistory returns the most recent limit sprints whose status is
// completed or active, most recent end date first. Sprints without an end
// date sort last.
func VelocityHistory(sprints []SprintInput, limit int) []SprintSummary {
	var eligible []SprintInput
	for _, s := range sprints {
		if s.Status == "completed" || s.Status == "active" {
			eligible = append(eligible, s)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].EndDate, eligible[j].EndDate
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]SprintSummary, 0, len(eligible))
	for _, s := range eligible {
		planned := 0
		for _, it := range s.Items {
			planned += it.Points
		}
		out = append(out, SprintSummary{
			SprintID:  s.SprintID,
			Name:      s.Name,
			Status:    s.Status,
			EndDate:   s.EndDate,
			Planned:   planned,
			Completed: Velocity(s.Items),
		})
	}
	return out
}
