package server

import (
	"encoding/json"

	"shiptrack/internal/config"
	"shiptrack/internal/domain"
)

// Request payloads

type CreateProductRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateProductRequest struct {
	Status      string  `json:"status,omitempty" enum:"active,paused,archived"`
	Description *string `json:"description,omitempty"`
}

type CreateFeatureRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Points      *int    `json:"points,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

type UpdateFeatureRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Points      *int    `json:"points,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

type AdvanceStageRequest struct {
	Stage string `json:"stage" enum:"idea,review,approved,development,testing,release,live"`
}

type ApproveFeatureRequest struct {
	Comment string `json:"comment,omitempty"`
}

type RejectFeatureRequest struct {
	Reason string `json:"reason"`
}

type CreateBugRequest struct {
	ID               *string `json:"id,omitempty"`
	Title            string  `json:"title"`
	Description      *string `json:"description,omitempty"`
	StepsToReproduce *string `json:"steps_to_reproduce,omitempty"`
	Expected         *string `json:"expected,omitempty"`
	Actual           *string `json:"actual,omitempty"`
	Severity         *string `json:"severity,omitempty" enum:"minor,major,critical,blocker"`
	Points           *int    `json:"points,omitempty"`
	AssigneeID       *string `json:"assignee_id,omitempty"`
	FeatureID        *string `json:"feature_id,omitempty"`
}

type UpdateBugRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Points      *int    `json:"points,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

type SetBugStatusRequest struct {
	Status string `json:"status" enum:"open,investigating,in_progress,fixed,retest,closed,wontfix"`
}

type RecordRetestRequest struct {
	Passed bool   `json:"passed"`
	Notes  string `json:"notes,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Points      *int    `json:"points,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"todo,in_progress,done,canceled"`
}

type AddSubtaskRequest struct {
	Title string `json:"title"`
}

type AddDependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
	Kind        string `json:"kind,omitempty" enum:"blocks,relates"`
}

type CreateSprintRequest struct {
	ID            *string `json:"id,omitempty"`
	Name          string  `json:"name"`
	Goal          *string `json:"goal,omitempty"`
	DurationWeeks *int    `json:"duration_weeks,omitempty" minimum:"1" maximum:"4"`
}

type SprintItemRequest struct {
	Kind   string `json:"kind" enum:"feature,bug,task"`
	ItemID string `json:"item_id"`
}

type CreateReleaseRequest struct {
	ID          *string `json:"id,omitempty"`
	Version     string  `json:"version"`
	Description *string `json:"description,omitempty"`
}

type SetReleaseStatusRequest struct {
	Status string `json:"status" enum:"planning,development,testing,staging,production,rolled_back"`
}

type CompleteStageRequest struct {
	Succeeded bool   `json:"succeeded"`
	Notes     string `json:"notes,omitempty"`
}

type DeployRequest struct {
	Environment string `json:"environment"`
}

type RollbackRequest struct {
	ToVersion string `json:"to_version"`
	Reason    string `json:"reason"`
}

type RequestApprovalRequest struct {
	ApproverIDs []string `json:"approver_ids,omitempty"`
}

type DecideApprovalRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is the plaintext secret, returned exactly once at creation.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkspaceConfigResponse struct {
	Workspace workspaceConfigSection `json:"workspace"`
	Policies  policyConfigSection    `json:"policies"`
	Sprints   sprintConfigSection    `json:"sprints"`
	Releases  releaseConfigSection   `json:"releases"`
}

type workspaceConfigSection struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type policyConfigSection struct {
	Approval struct {
		AnyStage              bool `json:"any_stage"`
		RequireForDevelopment bool `json:"require_for_development"`
	} `json:"approval"`
	Rejection struct {
		MinReasonLength int `json:"min_reason_length"`
	} `json:"rejection"`
}

type sprintConfigSection struct {
	DefaultDurationWeeks int `json:"default_duration_weeks"`
}

type releaseConfigSection struct {
	DefaultApprovers []string `json:"default_approvers"`
}

type paginatedFeatures struct {
	Items      []domain.Feature `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedBugs struct {
	Items      []domain.Bug `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		WorkspaceID: e.WorkspaceID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     decodeJSONMap(e.Payload),
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func configResponse(cfg *config.Config) WorkspaceConfigResponse {
	var res WorkspaceConfigResponse
	res.Workspace.ID = cfg.Workspace.ID
	res.Workspace.Name = cfg.Workspace.Name
	res.Policies.Approval.AnyStage = cfg.Policies.Approval.AnyStage
	res.Policies.Approval.RequireForDevelopment = cfg.Policies.Approval.RequireForDevelopment
	res.Policies.Rejection.MinReasonLength = cfg.MinRejectionReason()
	res.Sprints.DefaultDurationWeeks = cfg.Sprints.DefaultDurationWeeks
	res.Releases.DefaultApprovers = nonNilSlice(cfg.Releases.DefaultApprovers)
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func intOrZero(ptr *int) int {
	if ptr == nil {
		return 0
	}
	return *ptr
}
