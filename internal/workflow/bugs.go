package workflow

import (
	"context"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/internal/events"
)

// SetBugStatus moves a bug through its status graph. resolved_at is set
// the first time the bug reaches fixed, closed or wontfix and never
// cleared. Re-entering a terminal status is an idempotent no-op.
func (e Engine) SetBugStatus(ctx context.Context, id, to, actorID string) (domain.Bug, error) {
	b, err := e.Repo.GetBug(ctx, id)
	if err != nil {
		return b, err
	}
	if b.Status == to && bugTerminal(to) {
		return b, nil
	}
	if err := ensureBugStatus(b.Status, to); err != nil {
		return b, err
	}
	from := b.Status
	now := e.nowStr()
	b.Status = to
	b.UpdatedAt = now
	if (to == BugFixed || to == BugClosed || to == BugWontfix) && b.ResolvedAt == nil {
		b.ResolvedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateBug(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "bug.status.changed", b.WorkspaceID, "bug", b.ID, actorID, events.EventPayload{
		"from": from,
		"to":   to,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.Version++
	return b, nil
}

// RecordRetest appends a retest result. A passing retest of a bug in
// retest moves it back to fixed; a failing one is recorded but leaves
// the status for the caller to change explicitly.
func (e Engine) RecordRetest(ctx context.Context, bugID string, passed bool, testerID, notes string) (domain.Bug, error) {
	if testerID == "" {
		return domain.Bug{}, &ValidationError{Field: "tester_id", Reason: "required"}
	}
	b, err := e.Repo.GetBug(ctx, bugID)
	if err != nil {
		return b, err
	}
	now := e.nowStr()
	rt := domain.Retest{
		ID:        uuid.New().String(),
		BugID:     bugID,
		Passed:    passed,
		TesterID:  testerID,
		Notes:     notes,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRetest(ctx, tx, rt); err != nil {
		return b, err
	}
	if passed && b.Status == BugRetest {
		b.Status = BugFixed
		b.UpdatedAt = now
		if b.ResolvedAt == nil {
			b.ResolvedAt = &now
		}
		if err := e.Repo.UpdateBug(ctx, tx, b); err != nil {
			return b, err
		}
		b.Version++
	}
	if err := e.Events.Append(ctx, tx, "bug.retested", b.WorkspaceID, "bug", b.ID, testerID, events.EventPayload{
		"passed": passed,
		"status": b.Status,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.Retests = append(b.Retests, rt)
	return b, nil
}

// BugUpdateOptions encapsulates allowed plain-field updates. Severity is
// deliberately absent: it is fixed at triage.
type BugUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Points      *int
	Assign      *string
	ActorID     string
}

func (e Engine) UpdateBug(ctx context.Context, opts BugUpdateOptions) (domain.Bug, error) {
	b, err := e.Repo.GetBug(ctx, opts.ID)
	if err != nil {
		return b, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return b, &ValidationError{Field: "title", Reason: "required"}
		}
		b.Title = *opts.Title
	}
	if opts.Description != nil {
		b.Description = *opts.Description
	}
	if opts.Points != nil {
		b.Points = *opts.Points
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			b.AssigneeID = nil
		} else {
			b.AssigneeID = opts.Assign
		}
	}
	b.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateBug(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "bug.updated", b.WorkspaceID, "bug", b.ID, opts.ActorID, nil); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.Version++
	return b, nil
}
