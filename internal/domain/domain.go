package domain

type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,suspended,archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Product struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"active,paused,archived"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Feature stage moves strictly forward; rejection is recorded separately
// and never regresses the stage.
type Feature struct {
	ID              string   `json:"id"`
	WorkspaceID     string   `json:"workspace_id"`
	ProductID       string   `json:"product_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Stage           string   `json:"stage" enum:"idea,review,approved,development,testing,release,live"`
	Priority        string   `json:"priority" enum:"low,medium,high,critical"`
	Points          int      `json:"points"`
	Votes           int      `json:"votes"`
	Voters          []string `json:"voters,omitempty"`
	AssigneeID      *string  `json:"assignee_id,omitempty"`
	SprintID        *string  `json:"sprint_id,omitempty"`
	ApprovedBy      *string  `json:"approved_by,omitempty"`
	ApprovedAt      *string  `json:"approved_at,omitempty" format:"date-time"`
	ApprovalComment string   `json:"approval_comment,omitempty"`
	RejectedBy      *string  `json:"rejected_by,omitempty"`
	RejectedAt      *string  `json:"rejected_at,omitempty" format:"date-time"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	CompletedAt     *string  `json:"completed_at,omitempty" format:"date-time"`
	Version         int64    `json:"version"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// Bug severity is an importance attribute fixed at triage; it is independent
// of both status and any scheduling priority.
type Bug struct {
	ID               string   `json:"id"`
	WorkspaceID      string   `json:"workspace_id"`
	ProductID        string   `json:"product_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	StepsToReproduce string   `json:"steps_to_reproduce,omitempty"`
	Expected         string   `json:"expected,omitempty"`
	Actual           string   `json:"actual,omitempty"`
	Severity         string   `json:"severity" enum:"minor,major,critical,blocker"`
	Status           string   `json:"status" enum:"open,investigating,in_progress,fixed,retest,closed,wontfix"`
	Points           int      `json:"points"`
	AssigneeID       *string  `json:"assignee_id,omitempty"`
	SprintID         *string  `json:"sprint_id,omitempty"`
	FeatureID        *string  `json:"feature_id,omitempty"`
	ResolvedAt       *string  `json:"resolved_at,omitempty" format:"date-time"`
	Retests          []Retest `json:"retests,omitempty"`
	Version          int64    `json:"version"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

// Retest rows are append-only; once written they are never modified.
type Retest struct {
	ID        string `json:"id"`
	BugID     string `json:"bug_id"`
	Passed    bool   `json:"passed"`
	TesterID  string `json:"tester_id"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	ProductID   string       `json:"product_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      string       `json:"status" enum:"todo,in_progress,done,canceled"`
	Points      int          `json:"points"`
	AssigneeID  *string      `json:"assignee_id,omitempty"`
	SprintID    *string      `json:"sprint_id,omitempty"`
	CompletedAt *string      `json:"completed_at,omitempty" format:"date-time"`
	Subtasks    []Subtask    `json:"subtasks,omitempty"`
	DependsOn   []Dependency `json:"depends_on,omitempty"`
	Version     int64        `json:"version"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
}

type Subtask struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Dependency struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
	Kind        string `json:"kind" enum:"blocks,relates"`
}

// Sprint velocity stays zero until completion, then holds the completed
// point total frozen at that instant.
type Sprint struct {
	ID            string  `json:"id"`
	WorkspaceID   string  `json:"workspace_id"`
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name"`
	Goal          string  `json:"goal,omitempty"`
	Status        string  `json:"status" enum:"planning,active,completed,cancelled"`
	DurationWeeks int     `json:"duration_weeks" minimum:"1" maximum:"4"`
	StartDate     *string `json:"start_date,omitempty" format:"date-time"`
	EndDate       *string `json:"end_date,omitempty" format:"date-time"`
	Velocity      int     `json:"velocity"`
	Version       int64   `json:"version"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Release struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	ProductID   string          `json:"product_id"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status" enum:"planning,development,testing,staging,production,rolled_back"`
	ReleasedAt  *string         `json:"released_at,omitempty" format:"date-time"`
	Stages      []PipelineStage `json:"stages,omitempty"`
	Approvals   []Approval      `json:"approvals,omitempty"`
	Rollbacks   []RollbackEntry `json:"rollbacks,omitempty"`
	FeatureIDs  []string        `json:"feature_ids,omitempty"`
	BugfixIDs   []string        `json:"bugfix_ids,omitempty"`
	RowVersion  int64           `json:"row_version"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

// PipelineStage sub-state is independent of the release's overall status;
// the engine never sequences stages on its own.
type PipelineStage struct {
	ReleaseID   string  `json:"release_id"`
	Name        string  `json:"name" enum:"build,test,staging,production"`
	State       string  `json:"state" enum:"pending,running,completed,failed"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Notes       string  `json:"notes,omitempty"`
}

type Approval struct {
	ReleaseID  string  `json:"release_id"`
	ApproverID string  `json:"approver_id"`
	State      string  `json:"state" enum:"pending,approved,rejected"`
	Comment    string  `json:"comment,omitempty"`
	DecidedAt  *string `json:"decided_at,omitempty" format:"date-time"`
}

// RollbackEntry rows form an append-only audit ledger.
type RollbackEntry struct {
	ID          string `json:"id"`
	ReleaseID   string `json:"release_id"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Reason      string `json:"reason"`
	ActorID     string `json:"actor_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
