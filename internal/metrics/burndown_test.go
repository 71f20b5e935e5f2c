package metrics

import (
	"math"
	"testing"
	"time"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func collect(seq func(func(DayRecord) bool)) []DayRecord {
	var out []DayRecord
	seq(func(r DayRecord) bool {
		out = append(out, r)
		return true
	})
	return out
}

func TestBurndownTwoWeekSprint(t *testing.T) {
	start := day(t, "2024-01-01T00:00:00Z")
	end := day(t, "2024-01-14T00:00:00Z")
	completed := day(t, "2024-01-05T12:00:00Z")
	items := []ItemSnapshot{
		{Points: 10, Completed: true, CompletedAt: &completed},
		{Points: 16},
	}
	days := collect(Burndown(start, end, items))
	if len(days) != 14 {
		t.Fatalf("expected 14 day records, got %d", len(days))
	}
	if days[0].IdealRemaining != 26 {
		t.Fatalf("day 0 ideal %v", days[0].IdealRemaining)
	}
	if math.Abs(days[13].IdealRemaining) > 1e-9 {
		t.Fatalf("day 13 ideal %v", days[13].IdealRemaining)
	}
	if days[5].ActualRemaining != 16 {
		t.Fatalf("day 5 actual remaining %d", days[5].ActualRemaining)
	}
	if days[5].CompletedToday != 10 {
		t.Fatalf("day 5 completed today %d", days[5].CompletedToday)
	}
	if days[4].ActualRemaining != 26 {
		t.Fatalf("day 4 actual remaining %d", days[4].ActualRemaining)
	}
	if days[6].CompletedToday != 0 {
		t.Fatalf("day 6 completed today %d", days[6].CompletedToday)
	}
}

func TestBurndownRestartable(t *testing.T) {
	start := day(t, "2024-03-01T00:00:00Z")
	end := day(t, "2024-03-08T00:00:00Z")
	completed := day(t, "2024-03-03T09:00:00Z")
	seq := Burndown(start, end, []ItemSnapshot{
		{Points: 5, Completed: true, CompletedAt: &completed},
		{Points: 3},
	})
	first := collect(seq)
	second := collect(seq)
	if len(first) != len(second) {
		t.Fatalf("length mismatch %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("day %d differs between iterations: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestBurndownSingleDaySprint(t *testing.T) {
	start := day(t, "2024-06-01T00:00:00Z")
	days := collect(Burndown(start, start, []ItemSnapshot{{Points: 8}}))
	if len(days) != 1 {
		t.Fatalf("expected 1 record, got %d", len(days))
	}
	if days[0].IdealRemaining != 8 {
		t.Fatalf("day 0 ideal %v", days[0].IdealRemaining)
	}
	if days[0].ActualRemaining != 8 {
		t.Fatalf("day 0 actual %d", days[0].ActualRemaining)
	}
}

func TestBurndownStopsEarly(t *testing.T) {
	start := day(t, "2024-06-01T00:00:00Z")
	end := day(t, "2024-06-05T00:00:00Z")
	count := 0
	Burndown(start, end, nil)(func(DayRecord) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("expected early stop after 2 records, got %d", count)
	}
}

func TestVelocityCountsOnlyCompleted(t *testing.T) {
	now := time.Now()
	items := []ItemSnapshot{
		{Points: 5, Completed: true, CompletedAt: &now},
		{Points: 8},
		{Points: 3, Completed: true, CompletedAt: &now},
	}
	if v := Velocity(items); v != 8 {
		t.Fatalf("velocity %d, expected 8", v)
	}
}

func TestVelocityHistoryOrderAndLimit(t *testing.T) {
	jan := day(t, "2024-01-14T00:00:00Z")
	feb := day(t, "2024-02-14T00:00:00Z")
	mar := day(t, "2024-03-14T00:00:00Z")
	done := day(t, "2024-02-01T00:00:00Z")
	sprints := []SprintInput{
		{SprintID: "s1", Name: "one", Status: "completed", EndDate: &jan, Items: []ItemSnapshot{{Points: 4, Completed: true, CompletedAt: &done}}},
		{SprintID: "s2", Name: "two", Status: "completed", EndDate: &feb, Items: []ItemSnapshot{{Points: 6}}},
		{SprintID: "s3", Name: "three", Status: "active", EndDate: &mar},
		{SprintID: "s4", Name: "four", Status: "cancelled", EndDate: &mar},
	}
	history := VelocityHistory(sprints, 2)
	if len(history) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(history))
	}
	if history[0].SprintID != "s3" || history[1].SprintID != "s2" {
		t.Fatalf("unexpected order: %s, %s", history[0].SprintID, history[1].SprintID)
	}
	if history[1].Planned != 6 || history[1].Completed != 0 {
		t.Fatalf("s2 planned/completed %d/%d", history[1].Planned, history[1].Completed)
	}
}
