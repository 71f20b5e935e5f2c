package workflow

import (
	"context"

	"shiptrack/internal/domain"
	"shiptrack/internal/events"
)

// LinkReleaseFeature adds a feature to a release's content set. Linking
// twice leaves a single link.
func (e Engine) LinkReleaseFeature(ctx context.Context, releaseID, featureID, actorID string) error {
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetFeature(ctx, featureID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.LinkReleaseFeature(ctx, tx, releaseID, featureID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "release.feature.linked", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{"feature_id": featureID}); err != nil {
		return err
	}
	return tx.Commit()
}

// UnlinkReleaseFeature removes the link; absent links are a no-op.
func (e Engine) UnlinkReleaseFeature(ctx context.Context, releaseID, featureID, actorID string) error {
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UnlinkReleaseFeature(ctx, tx, releaseID, featureID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "release.feature.unlinked", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{"feature_id": featureID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) LinkReleaseBugfix(ctx context.Context, releaseID, bugID, actorID string) error {
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetBug(ctx, bugID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.LinkReleaseBugfix(ctx, tx, releaseID, bugID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "release.bugfix.linked", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{"bug_id": bugID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) UnlinkReleaseBugfix(ctx context.Context, releaseID, bugID, actorID string) error {
	rel, err := e.Repo.GetRelease(ctx, releaseID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UnlinkReleaseBugfix(ctx, tx, releaseID, bugID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "release.bugfix.unlinked", rel.WorkspaceID, "release", rel.ID, actorID, events.EventPayload{"bug_id": bugID}); err != nil {
		return err
	}
	return tx.Commit()
}

// SprintItemKind selects which table AssignToSprint touches.
const (
	ItemFeature = "feature"
	ItemBug     = "bug"
	ItemTask    = "task"
)

// AssignToSprint points an item at a sprint. An item belongs to at most
// one sprint; assigning again overwrites the pointer.
func (e Engine) AssignToSprint(ctx context.Context, sprintID, kind, itemID, actorID string) error {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	return e.setSprintPointer(ctx, s.WorkspaceID, kind, itemID, &sprintID, actorID, "sprint.item.assigned")
}

// RemoveFromSprint clears the pointer; items not in the sprint are a
// no-op.
func (e Engine) RemoveFromSprint(ctx context.Context, sprintID, kind, itemID, actorID string) error {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	return e.setSprintPointer(ctx, s.WorkspaceID, kind, itemID, nil, actorID, "sprint.item.removed")
}

func (e Engine) setSprintPointer(ctx context.Context, workspaceID, kind, itemID string, sprintID *string, actorID, eventType string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.nowStr()
	switch kind {
	case ItemFeature:
		f, err := e.Repo.GetFeature(ctx, itemID)
		if err != nil {
			return err
		}
		f.SprintID = sprintID
		f.UpdatedAt = now
		if err := e.Repo.UpdateFeature(ctx, tx, f); err != nil {
			return err
		}
	case ItemBug:
		b, err := e.Repo.GetBug(ctx, itemID)
		if err != nil {
			return err
		}
		b.SprintID = sprintID
		b.UpdatedAt = now
		if err := e.Repo.UpdateBug(ctx, tx, b); err != nil {
			return err
		}
	case ItemTask:
		t, err := e.Repo.GetTask(ctx, itemID)
		if err != nil {
			return err
		}
		t.SprintID = sprintID
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
	default:
		return &ValidationError{Field: "kind", Reason: "must be feature, bug or task"}
	}
	payload := events.EventPayload{"kind": kind, "item_id": itemID}
	if sprintID != nil {
		payload["sprint_id"] = *sprintID
	}
	if err := e.Events.Append(ctx, tx, eventType, workspaceID, kind, itemID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// SprintItems gathers everything currently pointing at a sprint.
type SprintItems struct {
	Features []domain.Feature `json:"features,omitempty"`
	Bugs     []domain.Bug     `json:"bugs,omitempty"`
	Tasks    []domain.Task    `json:"tasks,omitempty"`
}

func (e Engine) ListSprintItems(ctx context.Context, sprintID string) (SprintItems, error) {
	if _, err := e.Repo.GetSprint(ctx, sprintID); err != nil {
		return SprintItems{}, err
	}
	var items SprintItems
	var err error
	if items.Features, err = e.Repo.ListFeaturesBySprint(ctx, sprintID); err != nil {
		return items, err
	}
	if items.Bugs, err = e.Repo.ListBugsBySprint(ctx, sprintID); err != nil {
		return items, err
	}
	if items.Tasks, err = e.Repo.ListTasksBySprint(ctx, sprintID); err != nil {
		return items, err
	}
	return items, nil
}
