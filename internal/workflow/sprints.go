package workflow

import (
	"context"
	"iter"
	"time"

	"shiptrack/internal/domain"
	"shiptrack/internal/events"
	"shiptrack/internal/metrics"
	"shiptrack/internal/repo"
)

// StartSprint activates a planning sprint, stamping its start date and
// deriving the end date from the configured duration.
func (e Engine) StartSprint(ctx context.Context, id, actorID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return s, err
	}
	if err := ensureSprintStatus(s.Status, SprintActive); err != nil {
		return s, err
	}
	start := e.now().UTC()
	end := start.Add(time.Duration(s.DurationWeeks) * 7 * 24 * time.Hour)
	startStr := start.Format(time.RFC3339)
	endStr := end.Format(time.RFC3339)
	s.Status = SprintActive
	s.StartDate = &startStr
	s.EndDate = &endStr
	s.UpdatedAt = startStr
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSprint(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sprint.started", s.WorkspaceID, "sprint", s.ID, actorID, events.EventPayload{
		"start_date": startStr,
		"end_date":   endStr,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Version++
	return s, nil
}

// CompleteSprint closes an active sprint and freezes its velocity to the
// completed-point total of its linked items at that instant. Completing
// an already completed sprint is a no-op and leaves the frozen velocity
// alone.
func (e Engine) CompleteSprint(ctx context.Context, id, actorID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return s, err
	}
	if s.Status == SprintCompleted {
		return s, nil
	}
	if err := ensureSprintStatus(s.Status, SprintCompleted); err != nil {
		return s, err
	}
	items, err := e.sprintItemSnapshots(ctx, id)
	if err != nil {
		return s, err
	}
	now := e.nowStr()
	s.Status = SprintCompleted
	s.Velocity = metrics.Velocity(items)
	s.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSprint(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sprint.completed", s.WorkspaceID, "sprint", s.ID, actorID, events.EventPayload{
		"velocity": s.Velocity,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Version++
	return s, nil
}

func (e Engine) CancelSprint(ctx context.Context, id, actorID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return s, err
	}
	if err := ensureSprintStatus(s.Status, SprintCancelled); err != nil {
		return s, err
	}
	s.Status = SprintCancelled
	s.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSprint(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sprint.cancelled", s.WorkspaceID, "sprint", s.ID, actorID, nil); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Version++
	return s, nil
}

// DeleteSprint removes a sprint. Active sprints must be completed or
// cancelled first.
func (e Engine) DeleteSprint(ctx context.Context, id, actorID string) error {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == SprintActive {
		return &PreconditionError{Op: "delete sprint", Reason: "sprint is active"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sprints WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "sprint.deleted", s.WorkspaceID, "sprint", s.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// sprintItemSnapshots collects point/completion snapshots for everything
// linked to the sprint: features count as done at live, bugs at fixed or
// closed, tasks at done.
func (e Engine) sprintItemSnapshots(ctx context.Context, sprintID string) ([]metrics.ItemSnapshot, error) {
	var items []metrics.ItemSnapshot
	features, err := e.Repo.ListFeaturesBySprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		items = append(items, metrics.ItemSnapshot{
			Points:      f.Points,
			Completed:   f.Stage == StageLive,
			CompletedAt: parseTimePtr(f.CompletedAt),
		})
	}
	bugs, err := e.Repo.ListBugsBySprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	for _, b := range bugs {
		items = append(items, metrics.ItemSnapshot{
			Points:      b.Points,
			Completed:   b.Status == BugFixed || b.Status == BugClosed,
			CompletedAt: parseTimePtr(b.ResolvedAt),
		})
	}
	tasks, err := e.Repo.ListTasksBySprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		items = append(items, metrics.ItemSnapshot{
			Points:      t.Points,
			Completed:   t.Status == TaskDone,
			CompletedAt: parseTimePtr(t.CompletedAt),
		})
	}
	return items, nil
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

// SprintBurndown returns the day-by-day burndown projection for an
// active or completed sprint.
func (e Engine) SprintBurndown(ctx context.Context, id string) (iter.Seq[metrics.DayRecord], error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != SprintActive && s.Status != SprintCompleted {
		return nil, &PreconditionError{Op: "sprint burndown", Reason: "sprint is " + s.Status + ", not active or completed"}
	}
	if s.StartDate == nil || s.EndDate == nil {
		return nil, &PreconditionError{Op: "sprint burndown", Reason: "sprint has not started"}
	}
	start, err := time.Parse(time.RFC3339, *s.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(time.RFC3339, *s.EndDate)
	if err != nil {
		return nil, err
	}
	items, err := e.sprintItemSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	return metrics.Burndown(start, end, items), nil
}

// VelocityHistory summarizes the most recent completed or active sprints
// of a product.
func (e Engine) VelocityHistory(ctx context.Context, productID string, limit int) ([]metrics.SprintSummary, error) {
	sprints, err := e.Repo.ListSprints(ctx, repo.SprintFilters{ProductID: productID})
	if err != nil {
		return nil, err
	}
	inputs := make([]metrics.SprintInput, 0, len(sprints))
	for _, s := range sprints {
		items, err := e.sprintItemSnapshots(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, metrics.SprintInput{
			SprintID: s.ID,
			Name:     s.Name,
			Status:   s.Status,
			EndDate:  parseTimePtr(s.EndDate),
			Items:    items,
		})
	}
	return metrics.VelocityHistory(inputs, limit), nil
}
