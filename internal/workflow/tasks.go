package workflow

import (
	"context"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/internal/events"
)

// SetTaskStatus moves a task through its status graph. completed_at is
// set when the task first reaches done. Re-entering done or canceled is
// an idempotent no-op.
func (e Engine) SetTaskStatus(ctx context.Context, id, to, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if t.Status == to && (to == TaskDone || to == TaskCanceled) {
		return t, nil
	}
	if err := ensureTaskStatus(t.Status, to); err != nil {
		return t, err
	}
	if to == TaskDone {
		if err := e.ensureTaskCompletable(ctx, t); err != nil {
			return t, err
		}
	}
	from := t.Status
	now := e.nowStr()
	t.Status = to
	t.UpdatedAt = now
	if to == TaskDone && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.status.changed", t.WorkspaceID, "task", t.ID, actorID, events.EventPayload{
		"from": from,
		"to":   to,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.Version++
	return t, nil
}

// ensureTaskCompletable blocks completion while subtasks remain open or a
// blocking dependency is not done.
func (e Engine) ensureTaskCompletable(ctx context.Context, t domain.Task) error {
	for _, st := range t.Subtasks {
		if !st.Completed {
			return &PreconditionError{Op: "complete task", Reason: "subtask " + st.ID + " not completed"}
		}
	}
	for _, d := range t.DependsOn {
		if d.Kind != "blocks" {
			continue
		}
		dep, err := e.Repo.GetTask(ctx, d.DependsOnID)
		if err != nil {
			return err
		}
		if dep.Status != TaskDone {
			return &PreconditionError{Op: "complete task", Reason: "dependency " + d.DependsOnID + " not done"}
		}
	}
	return nil
}

func (e Engine) AddSubtask(ctx context.Context, taskID, title, actorID string) (domain.Subtask, error) {
	if title == "" {
		return domain.Subtask{}, &ValidationError{Field: "title", Reason: "required"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Subtask{}, err
	}
	st := domain.Subtask{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Title:     title,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSubtask(ctx, tx, st); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, "task.subtask.added", t.WorkspaceID, "task", t.ID, actorID, events.EventPayload{"subtask_id": st.ID, "title": title}); err != nil {
		return st, err
	}
	return st, tx.Commit()
}

func (e Engine) CompleteSubtask(ctx context.Context, taskID, subtaskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetSubtaskCompleted(ctx, tx, subtaskID, true); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.subtask.completed", t.WorkspaceID, "task", t.ID, actorID, events.EventPayload{"subtask_id": subtaskID}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddTaskDependency links taskID to dependsOnID. Adding an existing edge
// is a no-op; self-dependencies are rejected.
func (e Engine) AddTaskDependency(ctx context.Context, taskID, dependsOnID, kind, actorID string) error {
	if taskID == dependsOnID {
		return &ValidationError{Field: "depends_on_id", Reason: "task cannot depend on itself"}
	}
	if kind == "" {
		kind = "blocks"
	}
	if kind != "blocks" && kind != "relates" {
		return &ValidationError{Field: "kind", Reason: "must be blocks or relates"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetTask(ctx, dependsOnID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.AddTaskDependency(ctx, tx, domain.Dependency{TaskID: taskID, DependsOnID: dependsOnID, Kind: kind}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.dependency.added", t.WorkspaceID, "task", t.ID, actorID, events.EventPayload{"depends_on": dependsOnID, "kind": kind}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveTaskDependency(ctx context.Context, taskID, dependsOnID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveTaskDependency(ctx, tx, taskID, dependsOnID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.dependency.removed", t.WorkspaceID, "task", t.ID, actorID, events.EventPayload{"depends_on": dependsOnID}); err != nil {
		return err
	}
	return tx.Commit()
}
