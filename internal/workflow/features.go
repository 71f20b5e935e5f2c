package workflow

import (
	"context"

	"shiptrack/internal/domain"
	"shiptrack/internal/events"
)

// AdvanceFeatureStage moves a feature one step forward through its
// lifecycle. Advancing a live feature to live is an idempotent no-op.
func (e Engine) AdvanceFeatureStage(ctx context.Context, id, to, actorID string) (domain.Feature, error) {
	f, err := e.Repo.GetFeature(ctx, id)
	if err != nil {
		return f, err
	}
	if f.Stage == to && f.Stage == StageLive {
		return f, nil
	}
	if err := ensureFeatureStage(f.Stage, to); err != nil {
		return f, err
	}
	if to == StageDevelopment && e.requireApprovalForDevelopment() && f.ApprovedBy == nil {
		return f, &PreconditionError{Op: "advance feature", Reason: "approval required before development"}
	}
	from := f.Stage
	now := e.nowStr()
	f.Stage = to
	f.UpdatedAt = now
	if to == StageLive && f.CompletedAt == nil {
		f.CompletedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.stage.advanced", f.WorkspaceID, "feature", f.ID, actorID, events.EventPayload{
		"from": from,
		"to":   to,
	}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	f.Version++
	return f, nil
}

func (e Engine) requireApprovalForDevelopment() bool {
	return e.Config == nil || e.Config.Policies.Approval.RequireForDevelopment
}

func (e Engine) approvalAnyStage() bool {
	return e.Config != nil && e.Config.Policies.Approval.AnyStage
}

// VoteFeature records one vote per voter. The vote count always equals
// the size of the voter set.
func (e Engine) VoteFeature(ctx context.Context, id, voterID string) (domain.Feature, error) {
	if voterID == "" {
		return domain.Feature{}, &ValidationError{Field: "voter_id", Reason: "required"}
	}
	f, err := e.Repo.GetFeature(ctx, id)
	if err != nil {
		return f, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	voted, err := e.Repo.HasVote(ctx, tx, id, voterID)
	if err != nil {
		return f, err
	}
	if voted {
		return f, ErrAlreadyVoted
	}
	now := e.nowStr()
	if err := e.Repo.InsertVote(ctx, tx, id, voterID, now); err != nil {
		return f, err
	}
	f.Votes++
	f.UpdatedAt = now
	if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.voted", f.WorkspaceID, "feature", f.ID, voterID, events.EventPayload{"votes": f.Votes}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	f.Version++
	f.Voters = append(f.Voters, voterID)
	return f, nil
}

// UnvoteFeature removes a voter's vote.
func (e Engine) UnvoteFeature(ctx context.Context, id, voterID string) (domain.Feature, error) {
	f, err := e.Repo.GetFeature(ctx, id)
	if err != nil {
		return f, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	voted, err := e.Repo.HasVote(ctx, tx, id, voterID)
	if err != nil {
		return f, err
	}
	if !voted {
		return f, ErrNotVoted
	}
	if err := e.Repo.DeleteVote(ctx, tx, id, voterID); err != nil {
		return f, err
	}
	f.Votes--
	f.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.unvoted", f.WorkspaceID, "feature", f.ID, voterID, events.EventPayload{"votes": f.Votes}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	f.Version++
	f.Voters, _ = e.Repo.ListVoters(ctx, id)
	return f, nil
}

func (e Engine) ensureApprovalStage(f domain.Feature, op string) error {
	if e.approvalAnyStage() {
		return nil
	}
	if f.Stage != StageReview {
		return &PreconditionError{Op: op, Reason: "feature is not in review"}
	}
	return nil
}

// ApproveFeature records an approval decision. It does not advance the
// stage; approval and rejection are mutually exclusive, so any prior
// rejection is cleared.
func (e Engine) ApproveFeature(ctx context.Context, id, approverID, comment string) (domain.Feature, error) {
	if approverID == "" {
		return domain.Feature{}, &ValidationError{Field: "approver_id", Reason: "required"}
	}
	f, err := e.Repo.GetFeature(ctx, id)
	if err != nil {
		return f, err
	}
	if err := e.ensureApprovalStage(f, "approve feature"); err != nil {
		return f, err
	}
	now := e.nowStr()
	f.ApprovedBy = &approverID
	f.ApprovedAt = &now
	f.ApprovalComment = comment
	f.RejectedBy = nil
	f.RejectedAt = nil
	f.RejectionReason = ""
	f.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.approved", f.WorkspaceID, "feature", f.ID, approverID, events.EventPayload{"comment": comment}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	f.Version++
	return f, nil
}

// RejectFeature records a rejection decision with a substantive reason.
// The stage is not regressed.
func (e Engine) RejectFeature(ctx context.Context, id, rejecterID, reason string) (domain.Feature, error) {
	if rejecterID == "" {
		return domain.Feature{}, &ValidationError{Field: "rejecter_id", Reason: "required"}
	}
	min := 10
	if e.Config != nil {
		min = e.Config.MinRejectionReason()
	}
	if len(reason) < min {
		return domain.Feature{}, &ValidationError{Field: "reason", Reason: "too short"}
	}
	f, err := e.Repo.GetFeature(ctx, id)
	if err != nil {
		return f, err
	}
	if err := e.ensureApprovalStage(f, "reject feature"); err != nil {
		return f, err
	}
	now := e.nowStr()
	f.RejectedBy = &rejecterID
	f.RejectedAt = &now
	f.RejectionReason = reason
	f.ApprovedBy = nil
	f.ApprovedAt = nil
	f.ApprovalComment = ""
	f.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.rejected", f.WorkspaceID, "feature", f.ID, rejecterID, events.EventPayload{"reason": reason}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	f.Version++
	return f, nil
}

// FeatureUpdateOptions encapsulates allowed plain-field updates.
type FeatureUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *string
	Points      *int
	Assign      *string
	ActorID     string
}

func (e Engine) UpdateFeature(ctx context.Context, opts FeatureUpdateOptions) (domain.Feature, error) {
	f, err := e.Repo.GetFeature(ctx, opts.ID)
	if err != nil {
		return f, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return f, &ValidationError{Field: "title", Reason: "required"}
		}
		f.Title = *opts.Title
	}
	if opts.Description != nil {
		f.Description = *opts.Description
	}
	if opts.Priority != nil {
		if !validPriority(*opts.Priority) {
			return f, &ValidationError{Field: "priority", Reason: "must be one of low, medium, high, critical"}
		}
		f.Priority = *opts.Priority
	}
	if opts.Points != nil {
		f.Points = *opts.Points
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			f.AssigneeID = nil
		} else {
			f.AssigneeID = opts.Assign
		}
	}
	f.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.updated", f.WorkspaceID, "feature", f.ID, opts.ActorID, nil); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	f.Version++
	return f, nil
}
