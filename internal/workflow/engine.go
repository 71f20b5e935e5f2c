package workflow

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"shiptrack/internal/config"
	"shiptrack/internal/domain"
	"shiptrack/internal/events"
	"shiptrack/internal/repo"
)

// Engine is the workflow façade: every mutating operation runs in a
// transaction, appends its audit event in the same transaction, and
// commits both or neither.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitWorkspace initializes a new workspace with migrations already run.
func (e Engine) InitWorkspace(ctx context.Context, workspaceID, name, actorID string) (domain.Workspace, error) {
	if name == "" {
		name = workspaceID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()

	w := domain.Workspace{
		ID:        workspaceID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.nowStr(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO workspaces(id,name,status,created_at) VALUES (?,?,?,?)`,
		w.ID, w.Name, w.Status, w.CreatedAt); err != nil {
		return domain.Workspace{}, err
	}
	if err := e.Repo.UpsertWorkspaceConfigTx(ctx, tx, w.ID, config.Default(w.ID)); err != nil {
		return domain.Workspace{}, err
	}
	if err := e.Events.Append(ctx, tx, "workspace.init", w.ID, "workspace", w.ID, actorID, events.EventPayload{"name": w.Name}); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	return w, nil
}

func (e Engine) CreateProduct(ctx context.Context, workspaceID, name, description, actorID string) (domain.Product, error) {
	if name == "" {
		return domain.Product{}, &ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := e.Repo.GetWorkspace(ctx, workspaceID); err != nil {
		return domain.Product{}, err
	}
	now := e.nowStr()
	p := domain.Product{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO products(id,workspace_id,name,description,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.WorkspaceID, p.Name, optionalValue(p.Description), p.Status, p.CreatedAt, p.UpdatedAt); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "product.created", workspaceID, "product", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// FeatureCreateOptions are parameters for creating a feature.
type FeatureCreateOptions struct {
	ID          string
	WorkspaceID string
	ProductID   string
	Title       string
	Description string
	Priority    string
	Points      int
	AssigneeID  string
	ActorID     string
}

func (e Engine) CreateFeature(ctx context.Context, opts FeatureCreateOptions) (domain.Feature, error) {
	if opts.Title == "" {
		return domain.Feature{}, &ValidationError{Field: "title", Reason: "required"}
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !validPriority(opts.Priority) {
		return domain.Feature{}, &ValidationError{Field: "priority", Reason: "must be one of low, medium, high, critical"}
	}
	p, err := e.Repo.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return domain.Feature{}, err
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProductID+"|feature|"+opts.Title+"|"+now)).String()
	}
	f := domain.Feature{
		ID:          id,
		WorkspaceID: p.WorkspaceID,
		ProductID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Stage:       StageIdea,
		Priority:    opts.Priority,
		Points:      opts.Points,
		AssigneeID:  optionalString(opts.AssigneeID),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFeature(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "feature.created", f.WorkspaceID, "feature", f.ID, opts.ActorID, events.EventPayload{"title": f.Title, "stage": f.Stage}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

// BugCreateOptions are parameters for reporting a bug.
type BugCreateOptions struct {
	ID               string
	ProductID        string
	Title            string
	Description      string
	StepsToReproduce string
	Expected         string
	Actual           string
	Severity         string
	Points           int
	AssigneeID       string
	FeatureID        string
	ActorID          string
}

func (e Engine) CreateBug(ctx context.Context, opts BugCreateOptions) (domain.Bug, error) {
	if opts.Title == "" {
		return domain.Bug{}, &ValidationError{Field: "title", Reason: "required"}
	}
	if opts.Severity == "" {
		opts.Severity = "minor"
	}
	if !validSeverity(opts.Severity) {
		return domain.Bug{}, &ValidationError{Field: "severity", Reason: "must be one of minor, major, critical, blocker"}
	}
	p, err := e.Repo.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return domain.Bug{}, err
	}
	if opts.FeatureID != "" {
		if _, err := e.Repo.GetFeature(ctx, opts.FeatureID); err != nil {
			return domain.Bug{}, err
		}
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProductID+"|bug|"+opts.Title+"|"+now)).String()
	}
	b := domain.Bug{
		ID:               id,
		WorkspaceID:      p.WorkspaceID,
		ProductID:        p.ID,
		Title:            opts.Title,
		Description:      opts.Description,
		StepsToReproduce: opts.StepsToReproduce,
		Expected:         opts.Expected,
		Actual:           opts.Actual,
		Severity:         opts.Severity,
		Status:           BugOpen,
		Points:           opts.Points,
		AssigneeID:       optionalString(opts.AssigneeID),
		FeatureID:        optionalString(opts.FeatureID),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBug(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "bug.created", b.WorkspaceID, "bug", b.ID, opts.ActorID, events.EventPayload{"title": b.Title, "severity": b.Severity}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProductID   string
	Title       string
	Description string
	Points      int
	AssigneeID  string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, &ValidationError{Field: "title", Reason: "required"}
	}
	p, err := e.Repo.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProductID+"|task|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:          id,
		WorkspaceID: p.WorkspaceID,
		ProductID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      TaskTodo,
		Points:      opts.Points,
		AssigneeID:  optionalString(opts.AssigneeID),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.WorkspaceID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// SprintCreateOptions are parameters for creating a sprint.
type SprintCreateOptions struct {
	ID            string
	ProductID     string
	Name          string
	Goal          string
	DurationWeeks int
	ActorID       string
}

func (e Engine) CreateSprint(ctx context.Context, opts SprintCreateOptions) (domain.Sprint, error) {
	if opts.Name == "" {
		return domain.Sprint{}, &ValidationError{Field: "name", Reason: "required"}
	}
	if opts.DurationWeeks == 0 {
		opts.DurationWeeks = 2
		if e.Config != nil && e.Config.Sprints.DefaultDurationWeeks != 0 {
			opts.DurationWeeks = e.Config.Sprints.DefaultDurationWeeks
		}
	}
	if opts.DurationWeeks < 1 || opts.DurationWeeks > 4 {
		return domain.Sprint{}, &ValidationError{Field: "duration_weeks", Reason: "must be between 1 and 4"}
	}
	p, err := e.Repo.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return domain.Sprint{}, err
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProductID+"|sprint|"+opts.Name+"|"+now)).String()
	}
	s := domain.Sprint{
		ID:            id,
		WorkspaceID:   p.WorkspaceID,
		ProductID:     p.ID,
		Name:          opts.Name,
		Goal:          opts.Goal,
		Status:        SprintPlanning,
		DurationWeeks: opts.DurationWeeks,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "sprint.created", s.WorkspaceID, "sprint", s.ID, opts.ActorID, events.EventPayload{"name": s.Name, "duration_weeks": s.DurationWeeks}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// ReleaseCreateOptions are parameters for planning a release.
type ReleaseCreateOptions struct {
	ID          string
	ProductID   string
	Version     string
	Description string
	ActorID     string
}

// CreateRelease plans a release and seeds its four pipeline stage rows,
// all pending.
func (e Engine) CreateRelease(ctx context.Context, opts ReleaseCreateOptions) (domain.Release, error) {
	if err := validateSemver(opts.Version); err != nil {
		return domain.Release{}, err
	}
	p, err := e.Repo.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return domain.Release{}, err
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProductID+"|release|"+opts.Version)).String()
	}
	rel := domain.Release{
		ID:          id,
		WorkspaceID: p.WorkspaceID,
		ProductID:   p.ID,
		Version:     opts.Version,
		Description: opts.Description,
		Status:      ReleasePlanning,
		RowVersion:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rel, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRelease(ctx, tx, rel); err != nil {
		return rel, err
	}
	if err := e.Repo.SeedReleaseStages(ctx, tx, rel.ID, PipelineStages); err != nil {
		return rel, err
	}
	if err := e.Events.Append(ctx, tx, "release.created", rel.WorkspaceID, "release", rel.ID, opts.ActorID, events.EventPayload{"version": rel.Version}); err != nil {
		return rel, err
	}
	if err := tx.Commit(); err != nil {
		return rel, err
	}
	return e.Repo.GetRelease(ctx, rel.ID)
}

// --- helpers ---

func validPriority(p string) bool {
	switch p {
	case "low", "medium", "high", "critical":
		return true
	}
	return false
}

func validSeverity(s string) bool {
	switch s {
	case "minor", "major", "critical", "blocker":
		return true
	}
	return false
}

// validateSemver accepts MAJOR.MINOR.PATCH with numeric parts.
func validateSemver(v string) error {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return &ValidationError{Field: "version", Reason: "must be MAJOR.MINOR.PATCH"}
	}
	for _, part := range parts {
		if part == "" {
			return &ValidationError{Field: "version", Reason: "must be MAJOR.MINOR.PATCH"}
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return &ValidationError{Field: "version", Reason: "must be MAJOR.MINOR.PATCH"}
			}
		}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// IsNotFound reports whether err is the store's missing-row sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
