package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"shiptrack/internal/config"
	"shiptrack/internal/db"
	"shiptrack/internal/migrate"
	"shiptrack/internal/repo"
	"shiptrack/internal/workflow"
)

type testEnv struct {
	Engine    workflow.Engine
	Ctx       context.Context
	ProductID string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := workflow.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitWorkspace(ctx, "ws-1", "test workspace", "tester"); err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	p, err := eng.CreateProduct(ctx, "ws-1", "widget", "", "tester")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, ProductID: p.ID}
}

func (env testEnv) createFeature(t *testing.T, title string) string {
	t.Helper()
	f, err := env.Engine.CreateFeature(env.Ctx, workflow.FeatureCreateOptions{
		ProductID: env.ProductID,
		Title:     title,
		Points:    5,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}
	return f.ID
}

func TestFeatureStageAdvancesForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "search")
	f, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, "review", "tester")
	if err != nil || f.Stage != "review" {
		t.Fatalf("to review: %v", err)
	}
	// skipping stages is not allowed
	_, err = env.Engine.AdvanceFeatureStage(env.Ctx, id, "testing", "tester")
	var te *workflow.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	// entity left unmodified
	got, err := env.Engine.Repo.GetFeature(env.Ctx, id)
	if err != nil || got.Stage != "review" {
		t.Fatalf("stage changed on invalid transition: %v %s", err, got.Stage)
	}
}

func TestFeatureApprovalGatesDevelopment(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "export")
	if _, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, "review", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveFeature(env.Ctx, id, "alice", "lgtm"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, "approved", "tester"); err != nil {
		t.Fatal(err)
	}
	f, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, "development", "tester")
	if err != nil || f.Stage != "development" {
		t.Fatalf("to development after approval: %v", err)
	}
}

func TestFeatureDevelopmentBlockedWithoutApproval(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "import")
	_, _ = env.Engine.AdvanceFeatureStage(env.Ctx, id, "review", "tester")
	// advance review->approved without a recorded approval decision
	_, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, "approved", "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AdvanceFeatureStage(env.Ctx, id, "development", "tester")
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
}

func TestFeatureLiveIsIdempotentAndStampsCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policies.Approval.RequireForDevelopment = false
	id := env.createFeature(t, "ship it")
	for _, stage := range []string{"review", "approved", "development", "testing", "release", "live"} {
		if _, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, stage, "tester"); err != nil {
			t.Fatalf("to %s: %v", stage, err)
		}
	}
	f, err := env.Engine.Repo.GetFeature(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if f.CompletedAt == nil {
		t.Fatalf("expected completed_at set at live")
	}
	stamp := *f.CompletedAt
	again, err := env.Engine.AdvanceFeatureStage(env.Ctx, id, "live", "tester")
	if err != nil {
		t.Fatalf("live twice should be a no-op: %v", err)
	}
	if again.CompletedAt == nil || *again.CompletedAt != stamp {
		t.Fatalf("completed_at changed on no-op")
	}
}

func TestVoteUnvoteKeepsCountConsistent(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "dark mode")
	if _, err := env.Engine.VoteFeature(env.Ctx, id, "user-a"); err != nil {
		t.Fatalf("vote a: %v", err)
	}
	if _, err := env.Engine.VoteFeature(env.Ctx, id, "user-b"); err != nil {
		t.Fatalf("vote b: %v", err)
	}
	// double vote rejected
	if _, err := env.Engine.VoteFeature(env.Ctx, id, "user-a"); !errors.Is(err, workflow.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	f, err := env.Engine.UnvoteFeature(env.Ctx, id, "user-a")
	if err != nil {
		t.Fatalf("unvote a: %v", err)
	}
	if f.Votes != 1 || len(f.Voters) != 1 || f.Voters[0] != "user-b" {
		t.Fatalf("expected one vote by user-b, got votes=%d voters=%v", f.Votes, f.Voters)
	}
	if _, err := env.Engine.UnvoteFeature(env.Ctx, id, "user-a"); !errors.Is(err, workflow.ErrNotVoted) {
		t.Fatalf("expected ErrNotVoted, got %v", err)
	}
	got, _ := env.Engine.Repo.GetFeature(env.Ctx, id)
	if got.Votes != len(got.Voters) {
		t.Fatalf("votes %d != voter set %d", got.Votes, len(got.Voters))
	}
}

func TestRejectionRequiresSubstantiveReason(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "widgets v2")
	_, _ = env.Engine.AdvanceFeatureStage(env.Ctx, id, "review", "tester")
	_, err := env.Engine.RejectFeature(env.Ctx, id, "bob", "nah")
	var ve *workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	f, err := env.Engine.RejectFeature(env.Ctx, id, "bob", "conflicts with the roadmap")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if f.RejectedBy == nil || f.Stage != "review" {
		t.Fatalf("rejection should record without regressing stage")
	}
	// approval clears rejection
	f, err = env.Engine.ApproveFeature(env.Ctx, id, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if f.RejectedBy != nil || f.ApprovedBy == nil {
		t.Fatalf("approval and rejection must be mutually exclusive")
	}
}

func TestApprovalRestrictedToReviewStage(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "beta program")
	// still in idea
	_, err := env.Engine.ApproveFeature(env.Ctx, id, "alice", "")
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	env.Engine.Config.Policies.Approval.AnyStage = true
	if _, err := env.Engine.ApproveFeature(env.Ctx, id, "alice", ""); err != nil {
		t.Fatalf("any_stage should lift the restriction: %v", err)
	}
}

func TestBugRetestFlow(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBug(env.Ctx, workflow.BugCreateOptions{
		ProductID: env.ProductID,
		Title:     "crash on save",
		Severity:  "critical",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, status := range []string{"in_progress", "fixed", "retest"} {
		if b, err = env.Engine.SetBugStatus(env.Ctx, b.ID, status, "tester"); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	// failed retest records history but leaves status
	b, err = env.Engine.RecordRetest(env.Ctx, b.ID, false, "qa-1", "still crashes")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != "retest" || len(b.Retests) != 1 {
		t.Fatalf("failed retest should keep status, got %s retests=%d", b.Status, len(b.Retests))
	}
	// passing retest moves back to fixed
	b, err = env.Engine.RecordRetest(env.Ctx, b.ID, true, "qa-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != "fixed" {
		t.Fatalf("passing retest should move to fixed, got %s", b.Status)
	}
	got, _ := env.Engine.Repo.GetBug(env.Ctx, b.ID)
	if len(got.Retests) != 2 {
		t.Fatalf("expected 2 retest rows, got %d", len(got.Retests))
	}
}

func TestBugTerminalFromAnyNonTerminal(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBug(env.Ctx, workflow.BugCreateOptions{ProductID: env.ProductID, Title: "minor glitch", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	b, err = env.Engine.SetBugStatus(env.Ctx, b.ID, "wontfix", "tester")
	if err != nil || b.Status != "wontfix" {
		t.Fatalf("open -> wontfix: %v", err)
	}
	_, err = env.Engine.SetBugStatus(env.Ctx, b.ID, "open", "tester")
	var te *workflow.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("terminal bugs must stay terminal, got %v", err)
	}
}

func TestSprintCompletionFreezesVelocity(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{
		ProductID:     env.ProductID,
		Name:          "sprint 1",
		DurationWeeks: 2,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.Engine.Config.Policies.Approval.RequireForDevelopment = false
	done := env.createFeature(t, "done feature")
	open := env.createFeature(t, "open feature")
	if err := env.Engine.AssignToSprint(env.Ctx, s.ID, "feature", done, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.AssignToSprint(env.Ctx, s.ID, "feature", open, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, stage := range []string{"review", "approved", "development", "testing", "release", "live"} {
		if _, err := env.Engine.AdvanceFeatureStage(env.Ctx, done, stage, "tester"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	s, err = env.Engine.CompleteSprint(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.Velocity != 5 {
		t.Fatalf("expected velocity 5 from the live feature only, got %d", s.Velocity)
	}
	// later completion does not change the frozen value
	for _, stage := range []string{"review", "approved", "development", "testing", "release", "live"} {
		_, _ = env.Engine.AdvanceFeatureStage(env.Ctx, open, stage, "tester")
	}
	got, _ := env.Engine.Repo.GetSprint(env.Ctx, s.ID)
	if got.Velocity != 5 {
		t.Fatalf("velocity must stay frozen, got %d", got.Velocity)
	}
}

func TestSprintStartDerivesEndDate(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{
		ProductID: env.ProductID, Name: "sprint dates", DurationWeeks: 1, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err = env.Engine.StartSprint(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	start, _ := time.Parse(time.RFC3339, *s.StartDate)
	end, _ := time.Parse(time.RFC3339, *s.EndDate)
	if end.Sub(start) != 7*24*time.Hour {
		t.Fatalf("expected one-week sprint, got %v", end.Sub(start))
	}
}

func TestDeleteActiveSprintForbidden(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{ProductID: env.ProductID, Name: "busy", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	err = env.Engine.DeleteSprint(env.Ctx, s.ID, "tester")
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if _, err := env.Engine.CancelSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
}

func createRelease(t *testing.T, env testEnv, version string) string {
	t.Helper()
	rel, err := env.Engine.CreateRelease(env.Ctx, workflow.ReleaseCreateOptions{
		ProductID: env.ProductID,
		Version:   version,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create release: %v", err)
	}
	if len(rel.Stages) != 4 {
		t.Fatalf("expected 4 seeded pipeline stages, got %d", len(rel.Stages))
	}
	return rel.ID
}

func promoteToProduction(t *testing.T, env testEnv, id string) {
	t.Helper()
	for _, status := range []string{"development", "testing", "staging", "production"} {
		if _, err := env.Engine.SetReleaseStatus(env.Ctx, id, status, "tester"); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
}

func TestReleasePipelineStageLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := createRelease(t, env, "1.2.0")
	st, err := env.Engine.StartStage(env.Ctx, id, "build", "tester")
	if err != nil || st.State != "running" || st.StartedAt == nil {
		t.Fatalf("start build: %v state=%s", err, st.State)
	}
	st, err = env.Engine.CompleteStage(env.Ctx, id, "build", false, "compiler error", "tester")
	if err != nil || st.State != "failed" || st.Notes != "compiler error" {
		t.Fatalf("fail build: %v state=%s", err, st.State)
	}
	// retry clears the failure record
	st, err = env.Engine.RetryStage(env.Ctx, id, "build", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "running" || st.CompletedAt != nil || st.Notes != "" {
		t.Fatalf("retry should reset stage, got state=%s notes=%q", st.State, st.Notes)
	}
	_, err = env.Engine.StartStage(env.Ctx, id, "qa", "tester")
	var ue *workflow.UnknownStageError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownStageError, got %v", err)
	}
}

func TestRollbackOnlyFromProduction(t *testing.T) {
	env := newTestEnv(t)
	id := createRelease(t, env, "2.0.0")
	_, err := env.Engine.Rollback(env.Ctx, id, "1.9.9", "elevated error rate", "tester")
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError before production, got %v", err)
	}
	promoteToProduction(t, env, id)
	rel, err := env.Engine.Rollback(env.Ctx, id, "1.9.9", "elevated error rate", "tester")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rel.Status != "rolled_back" {
		t.Fatalf("expected rolled_back, got %s", rel.Status)
	}
	got, _ := env.Engine.Repo.GetRelease(env.Ctx, id)
	if len(got.Rollbacks) != 1 || got.Rollbacks[0].FromVersion != "2.0.0" || got.Rollbacks[0].ToVersion != "1.9.9" {
		t.Fatalf("unexpected rollback ledger: %+v", got.Rollbacks)
	}
}

func TestDeployToProductionStampsReleasedAt(t *testing.T) {
	env := newTestEnv(t)
	id := createRelease(t, env, "3.1.4")
	// non-production deploy records only
	rel, err := env.Engine.Deploy(env.Ctx, id, "staging", "tester")
	if err != nil || rel.Status != "planning" {
		t.Fatalf("staging deploy should not change status: %v %s", err, rel.Status)
	}
	for _, status := range []string{"development", "testing", "staging"} {
		if _, err := env.Engine.SetReleaseStatus(env.Ctx, id, status, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	rel, err = env.Engine.Deploy(env.Ctx, id, "production", "tester")
	if err != nil {
		t.Fatalf("production deploy: %v", err)
	}
	if rel.Status != "production" || rel.ReleasedAt == nil {
		t.Fatalf("expected production with released_at, got %s", rel.Status)
	}
}

func TestApprovalRosterDecisions(t *testing.T) {
	env := newTestEnv(t)
	id := createRelease(t, env, "1.0.0")
	approvals, err := env.Engine.RequestApproval(env.Ctx, id, []string{"alice", "bob"}, "tester")
	if err != nil || len(approvals) != 2 {
		t.Fatalf("request: %v", err)
	}
	// decision by someone off the roster is ignored
	approvals, err = env.Engine.DecideApproval(env.Ctx, id, "mallory", true, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range approvals {
		if a.State != "pending" {
			t.Fatalf("off-roster decision changed state: %+v", a)
		}
	}
	if _, err := env.Engine.DecideApproval(env.Ctx, id, "alice", true, "ship it"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DecideApproval(env.Ctx, id, "bob", false, "not yet"); err != nil {
		t.Fatal(err)
	}
	st, err := env.Engine.ReleaseApprovalStatus(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Required != 2 || st.Approved != 1 || st.Rejected != 1 || st.Pending != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestReleaseLinkSetsDeduplicate(t *testing.T) {
	env := newTestEnv(t)
	id := createRelease(t, env, "1.1.0")
	fid := env.createFeature(t, "linked feature")
	if err := env.Engine.LinkReleaseFeature(env.Ctx, id, fid, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.LinkReleaseFeature(env.Ctx, id, fid, "tester"); err != nil {
		t.Fatalf("relink should be idempotent: %v", err)
	}
	rel, _ := env.Engine.Repo.GetRelease(env.Ctx, id)
	if len(rel.FeatureIDs) != 1 {
		t.Fatalf("expected one link, got %d", len(rel.FeatureIDs))
	}
	if err := env.Engine.UnlinkReleaseFeature(env.Ctx, id, fid, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.UnlinkReleaseFeature(env.Ctx, id, fid, "tester"); err != nil {
		t.Fatalf("unlink of absent link should be a no-op: %v", err)
	}
}

func TestDeleteProductionReleaseForbidden(t *testing.T) {
	env := newTestEnv(t)
	id := createRelease(t, env, "4.0.0")
	promoteToProduction(t, env, id)
	err := env.Engine.DeleteRelease(env.Ctx, id, "tester")
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
}

func TestSprintSingleOwnerMembership(t *testing.T) {
	env := newTestEnv(t)
	s1, _ := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{ProductID: env.ProductID, Name: "s1", ActorID: "tester"})
	s2, _ := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{ProductID: env.ProductID, Name: "s2", ActorID: "tester"})
	fid := env.createFeature(t, "nomad")
	if err := env.Engine.AssignToSprint(env.Ctx, s1.ID, "feature", fid, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.AssignToSprint(env.Ctx, s2.ID, "feature", fid, "tester"); err != nil {
		t.Fatalf("reassign should overwrite: %v", err)
	}
	f, _ := env.Engine.Repo.GetFeature(env.Ctx, fid)
	if f.SprintID == nil || *f.SprintID != s2.ID {
		t.Fatalf("expected membership in s2 only")
	}
	items, err := env.Engine.ListSprintItems(env.Ctx, s1.ID)
	if err != nil || len(items.Features) != 0 {
		t.Fatalf("s1 should be empty after reassignment")
	}
}

func TestTaskSubtasksAndDependenciesGateCompletion(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, workflow.TaskCreateOptions{ProductID: env.ProductID, Title: "main", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	dep, err := env.Engine.CreateTask(env.Ctx, workflow.TaskCreateOptions{ProductID: env.ProductID, Title: "dep", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.AddTaskDependency(env.Ctx, task.ID, dep.ID, "blocks", "tester"); err != nil {
		t.Fatal(err)
	}
	st, err := env.Engine.AddSubtask(env.Ctx, task.ID, "write docs", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "in_progress", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SetTaskStatus(env.Ctx, task.ID, "done", "tester")
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected blocked completion, got %v", err)
	}
	if err := env.Engine.CompleteSubtask(env.Ctx, task.ID, st.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.SetTaskStatus(env.Ctx, dep.ID, "in_progress", "tester")
	if _, err := env.Engine.SetTaskStatus(env.Ctx, dep.ID, "done", "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "done", "tester")
	if err != nil || got.CompletedAt == nil {
		t.Fatalf("expected done with completed_at: %v", err)
	}
}

func TestStaleSaveSurfacesVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "contended")
	stale, err := env.Engine.Repo.GetFeature(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	// another writer bumps the version
	if _, err := env.Engine.VoteFeature(env.Ctx, id, "user-a"); err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.UpdateFeature(env.Ctx, tx, stale)
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestEventsAppendedWithStateChanges(t *testing.T) {
	env := newTestEnv(t)
	id := env.createFeature(t, "audited")
	_, _ = env.Engine.AdvanceFeatureStage(env.Ctx, id, "review", "tester")
	_, _ = env.Engine.VoteFeature(env.Ctx, id, "user-a")
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, id)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected created+advanced+voted events, got %d", count)
	}
}

func TestWontfixStampsResolvedAt(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBug(env.Ctx, workflow.BugCreateOptions{ProductID: env.ProductID, Title: "cosmetic", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	b, err = env.Engine.SetBugStatus(env.Ctx, b.ID, "wontfix", "tester")
	if err != nil {
		t.Fatalf("open -> wontfix: %v", err)
	}
	if b.ResolvedAt == nil {
		t.Fatal("entering wontfix must set resolved_at")
	}
	stamp := *b.ResolvedAt
	// re-entering a terminal status is a no-op and keeps the stamp
	again, err := env.Engine.SetBugStatus(env.Ctx, b.ID, "wontfix", "tester")
	if err != nil {
		t.Fatalf("wontfix -> wontfix should be a no-op: %v", err)
	}
	if again.ResolvedAt == nil || *again.ResolvedAt != stamp {
		t.Fatalf("resolved_at changed on repeat, got %v", again.ResolvedAt)
	}
}

func TestCompleteSprintTwiceKeepsFrozenVelocity(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Policies.Approval.RequireForDevelopment = false
	s, err := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{ProductID: env.ProductID, Name: "repeat", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	done := env.createFeature(t, "carried")
	if err := env.Engine.AssignToSprint(env.Ctx, s.ID, "feature", done, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	for _, stage := range []string{"review", "approved", "development", "testing", "release", "live"} {
		if _, err := env.Engine.AdvanceFeatureStage(env.Ctx, done, stage, "tester"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	s, err = env.Engine.CompleteSprint(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.Velocity != 5 {
		t.Fatalf("expected velocity 5, got %d", s.Velocity)
	}
	s, err = env.Engine.CompleteSprint(env.Ctx, s.ID, "tester")
	if err != nil {
		t.Fatalf("completing a completed sprint should be a no-op: %v", err)
	}
	if s.Status != "completed" || s.Velocity != 5 {
		t.Fatalf("repeat completion must leave the sprint alone, got %s velocity=%d", s.Status, s.Velocity)
	}
}

func TestSameStatusRejectedOutsideTerminal(t *testing.T) {
	env := newTestEnv(t)
	var te *workflow.TransitionError

	b, err := env.Engine.CreateBug(env.Ctx, workflow.BugCreateOptions{ProductID: env.ProductID, Title: "loop", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetBugStatus(env.Ctx, b.ID, "open", "tester"); !errors.As(err, &te) {
		t.Fatalf("open -> open must be rejected, got %v", err)
	}

	task, err := env.Engine.CreateTask(env.Ctx, workflow.TaskCreateOptions{ProductID: env.ProductID, Title: "loop", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "todo", "tester"); !errors.As(err, &te) {
		t.Fatalf("todo -> todo must be rejected, got %v", err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "canceled", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, "canceled", "tester"); err != nil {
		t.Fatalf("canceled -> canceled should be a no-op: %v", err)
	}

	rel := createRelease(t, env, "0.9.0")
	if _, err := env.Engine.SetReleaseStatus(env.Ctx, rel, "planning", "tester"); !errors.As(err, &te) {
		t.Fatalf("planning -> planning must be rejected, got %v", err)
	}
}

func TestBurndownRequiresActiveOrCompletedSprint(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSprint(env.Ctx, workflow.SprintCreateOptions{ProductID: env.ProductID, Name: "aborted", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SprintBurndown(env.Ctx, s.ID); err != nil {
		t.Fatalf("burndown of active sprint: %v", err)
	}
	if _, err := env.Engine.CancelSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SprintBurndown(env.Ctx, s.ID)
	var pe *workflow.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("cancelled sprint must not yield a burndown, got %v", err)
	}
}
