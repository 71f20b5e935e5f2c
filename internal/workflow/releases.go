package workflow

import (
	"context"

	"github.com/google/uuid"

	"shiptrack/internal/domain"
	"shiptrack/internal/events"
)

// SetReleaseStatus moves a release along its linear lifecycle. Reaching
// production stamps released_at. Re-entering rolled_back is an
// idempotent no-op.
func (e Engine) SetReleaseStatus(ctx context.Context, id, to, actorID string) (domain.Release, error) {
	rel, err := e.Repo.GetRelease(ctx, id)
	if err != nil {
		return rel, err
	}
	if rel.Status == to && to == ReleaseRolledBack {
		return rel, nil
	}
	if err := ensureReleaseStatus(rel.Status, to); err != nil {
		return rel, err
	}
	from := rel.Status
	now := e.nowStr()
	rel.Status = to
	rel.UpdatedAt = now
	if to == ReleaseProduction && rel.ReleasedAt == nil {
		rel.ReleasedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rel, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRelease(ctx, tx, rel); err != nil {
		return rel, err
	}
	if err := e.Events.Append(ctx, tx, "release.status.changed", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{
		"from": from,
		"to":   to,
	}); err != nil {
		return rel, err
	}
	if err := tx.Commit(); err != nil {
		return rel, err
	}
	rel.RowVersion++
	return rel, nil
}

// StartStage marks a pipeline stage running with a fresh start timestamp,
// clearing any earlier completion or notes. Any prior state is allowed:
// the controller does not sequence stages.
func (e Engine) StartStage(ctx context.Context, releaseID, stage, actorID string) (domain.PipelineStage, error) {
	return e.startStage(ctx, releaseID, stage, actorID, "release.stage.started")
}

// RetryStage re-runs a stage. Identical to StartStage except for the
// audit trail.
func (e Engine) RetryStage(ctx context.Context, releaseID, stage, actorID string) (domain.PipelineStage, error) {
	return e.startStage(ctx, releaseID, stage, actorID, "release.stage.retried")
}

func (e Engine) startStage(ctx context.Context, releaseID, stage, actorID, eventType string) (domain.PipelineStage, error) {
	if !knownPipelineStage(stage) {
		return domain.PipelineStage{}, &UnknownStageError{Stage: stage}
	}
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return domain.PipelineStage{}, err
	}
	st, err := e.Repo.GetReleaseStage(ctx, releaseID, stage)
	if err != nil {
		return st, err
	}
	now := e.nowStr()
	st.State = StageRunning
	st.StartedAt = &now
	st.CompletedAt = nil
	st.Notes = ""
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReleaseStage(ctx, tx, st); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, eventType, rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{"stage": stage}); err != nil {
		return st, err
	}
	return st, tx.Commit()
}

// CompleteStage finishes a pipeline stage as completed or failed. Other
// stages are untouched.
func (e Engine) CompleteStage(ctx context.Context, releaseID, stage string, succeeded bool, notes, actorID string) (domain.PipelineStage, error) {
	if !knownPipelineStage(stage) {
		return domain.PipelineStage{}, &UnknownStageError{Stage: stage}
	}
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return domain.PipelineStage{}, err
	}
	st, err := e.Repo.GetReleaseStage(ctx, releaseID, stage)
	if err != nil {
		return st, err
	}
	now := e.nowStr()
	st.State = StageCompleted
	if !succeeded {
		st.State = StageFailed
	}
	st.CompletedAt = &now
	st.Notes = notes
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateReleaseStage(ctx, tx, st); err != nil {
		return st, err
	}
	if err := e.Events.Append(ctx, tx, "release.stage.finished", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{
		"stage": stage,
		"state": st.State,
	}); err != nil {
		return st, err
	}
	return st, tx.Commit()
}

// Deploy records a deployment. Deploying to production drives the release
// status to production and stamps released_at; other environments only
// leave an audit entry.
func (e Engine) Deploy(ctx context.Context, releaseID, environment, actorID string) (domain.Release, error) {
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return rel, err
	}
	if environment != ReleaseProduction {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return rel, err
		}
		defer tx.Rollback()
		if err := e.Events.Append(ctx, tx, "release.deployed", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{"environment": environment}); err != nil {
			return rel, err
		}
		return rel, tx.Commit()
	}
	if err := ensureReleaseStatus(rel.Status, ReleaseProduction); err != nil {
		return rel, err
	}
	now := e.nowStr()
	rel.Status = ReleaseProduction
	rel.ReleasedAt = &now
	rel.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rel, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRelease(ctx, tx, rel); err != nil {
		return rel, err
	}
	if err := e.Events.Append(ctx, tx, "release.deployed", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{
		"environment": environment,
		"released_at": now,
	}); err != nil {
		return rel, err
	}
	if err := tx.Commit(); err != nil {
		return rel, err
	}
	rel.RowVersion++
	return rel, nil
}

// Rollback reverts a production release, appending to the rollback ledger.
func (e Engine) Rollback(ctx context.Context, releaseID, toVersion, reason, actorID string) (domain.Release, error) {
	if reason == "" {
		return domain.Release{}, &ValidationError{Field: "reason", Reason: "required"}
	}
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return rel, err
	}
	if rel.Status != ReleaseProduction {
		return rel, &PreconditionError{Op: "rollback release", Reason: "release is not in production"}
	}
	now := e.nowStr()
	rb := domain.RollbackEntry{
		ID:          uuid.New().String(),
		ReleaseID:   releaseID,
		FromVersion: rel.Version,
		ToVersion:   toVersion,
		Reason:      reason,
		ActorID:     actorID,
		CreatedAt:   now,
	}
	rel.Status = ReleaseRolledBack
	rel.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rel, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRollback(ctx, tx, rb); err != nil {
		return rel, err
	}
	if err := e.Repo.UpdateRelease(ctx, tx, rel); err != nil {
		return rel, err
	}
	if err := e.Events.Append(ctx, tx, "release.rolled_back", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{
		"from_version": rb.FromVersion,
		"to_version":   rb.ToVersion,
		"reason":       reason,
	}); err != nil {
		return rel, err
	}
	if err := tx.Commit(); err != nil {
		return rel, err
	}
	rel.RowVersion++
	rel.Rollbacks = append(rel.Rollbacks, rb)
	return rel, nil
}

// RequestApproval replaces the approval roster with the given approvers,
// all pending. Config default_approvers fill in when none are named.
func (e Engine) RequestApproval(ctx context.Context, releaseID string, approverIDs []string, actorID string) ([]domain.Approval, error) {
	if len(approverIDs) == 0 && e.Config != nil {
		approverIDs = e.Config.Releases.DefaultApprovers
	}
	if len(approverIDs) == 0 {
		return nil, &ValidationError{Field: "approver_ids", Reason: "at least one approver required"}
	}
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceApprovals(ctx, tx, releaseID, approverIDs); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "release.approval.requested", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{
		"approvers": approverIDs,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListApprovals(ctx, releaseID)
}

// DecideApproval records one approver's decision. Actors not on the
// roster are ignored.
func (e Engine) DecideApproval(ctx context.Context, releaseID, approverID string, approved bool, comment string) ([]domain.Approval, error) {
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	a, err := e.Repo.GetApproval(ctx, releaseID, approverID)
	if err != nil {
		if IsNotFound(err) {
			return e.Repo.ListApprovals(ctx, releaseID)
		}
		return nil, err
	}
	now := e.nowStr()
	a.State = "approved"
	eventType := "release.approved"
	if !approved {
		a.State = "rejected"
		eventType = "release.approval.rejected"
	}
	a.Comment = comment
	a.DecidedAt = &now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApproval(ctx, tx, a); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, eventType, rel.WorkspaceID, "release", rel.ID, approverID, events.EventPayload{"comment": comment}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListApprovals(ctx, releaseID)
}

// ApprovalStatus is an advisory summary of a release's approval roster.
type ApprovalStatus struct {
	Required  int               `json:"required"`
	Approved  int               `json:"approved"`
	Rejected  int               `json:"rejected"`
	Pending   int               `json:"pending"`
	Approvers []domain.Approval `json:"approvers,omitempty"`
}

func (e Engine) ReleaseApprovalStatus(ctx context.Context, releaseID string) (ApprovalStatus, error) {
	if _, err := e.Repo.GetRelease(ctx, releaseID); err != nil {
		return ApprovalStatus{}, err
	}
	approvals, err := e.Repo.ListApprovals(ctx, releaseID)
	if err != nil {
		return ApprovalStatus{}, err
	}
	st := ApprovalStatus{Required: len(approvals), Approvers: approvals}
	for _, a := range approvals {
		switch a.State {
		case "approved":
			st.Approved++
		case "rejected":
			st.Rejected++
		default:
			st.Pending++
		}
	}
	return st, nil
}

// DeleteRelease removes a release. Production releases must be rolled
// back first.
func (e Engine) DeleteRelease(ctx context.Context, id, actorID string) error {
	rel, err := e.Repo.GetRelease(ctx, id)
	if err != nil {
		return err
	}
	if rel.Status == ReleaseProduction {
		return &PreconditionError{Op: "delete release", Reason: "release is in production"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM releases WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "release.deleted", rel.WorkspaceID, "release", rel.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
