package repo

import (
	"context"
	"database/sql"
	"strings"

	"shiptrack/internal/domain"
)

const bugColumns = `id,workspace_id,product_id,title,description,steps_to_reproduce,expected,actual,severity,status,points,
assignee_id,sprint_id,feature_id,resolved_at,version,created_at,updated_at`

func (r Repo) InsertBug(ctx context.Context, tx *sql.Tx, b domain.Bug) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bugs(`+bugColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.WorkspaceID, b.ProductID, b.Title, nullable(b.Description), nullable(b.StepsToReproduce),
		nullable(b.Expected), nullable(b.Actual), b.Severity, b.Status, b.Points,
		nullableStringPtr(b.AssigneeID), nullableStringPtr(b.SprintID), nullableStringPtr(b.FeatureID),
		nullableStringPtr(b.ResolvedAt), b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

// UpdateBug never touches severity: importance is fixed at triage.
func (r Repo) UpdateBug(ctx context.Context, tx *sql.Tx, b domain.Bug) error {
	res, err := tx.ExecContext(ctx, `UPDATE bugs SET title=?, description=?, steps_to_reproduce=?, expected=?, actual=?,
status=?, points=?, assignee_id=?, sprint_id=?, feature_id=?, resolved_at=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		b.Title, nullable(b.Description), nullable(b.StepsToReproduce), nullable(b.Expected), nullable(b.Actual),
		b.Status, b.Points, nullableStringPtr(b.AssigneeID), nullableStringPtr(b.SprintID), nullableStringPtr(b.FeatureID),
		nullableStringPtr(b.ResolvedAt), b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return err
	}
	return checkVersionedUpdate(ctx, tx, res, "bugs", b.ID)
}

func scanBug(scan func(...any) error) (domain.Bug, error) {
	var b domain.Bug
	var desc, steps, expected, actual, assignee, sprint, feature, resolvedAt sql.NullString
	err := scan(&b.ID, &b.WorkspaceID, &b.ProductID, &b.Title, &desc, &steps, &expected, &actual,
		&b.Severity, &b.Status, &b.Points, &assignee, &sprint, &feature, &resolvedAt,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	if desc.Valid {
		b.Description = desc.String
	}
	if steps.Valid {
		b.StepsToReproduce = steps.String
	}
	if expected.Valid {
		b.Expected = expected.String
	}
	if actual.Valid {
		b.Actual = actual.String
	}
	if assignee.Valid {
		b.AssigneeID = &assignee.String
	}
	if sprint.Valid {
		b.SprintID = &sprint.String
	}
	if feature.Valid {
		b.FeatureID = &feature.String
	}
	if resolvedAt.Valid {
		b.ResolvedAt = &resolvedAt.String
	}
	return b, nil
}

func (r Repo) GetBug(ctx context.Context, id string) (domain.Bug, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id=?`, id)
	b, err := scanBug(row.Scan)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	retests, err := r.ListRetests(ctx, id)
	if err != nil {
		return b, err
	}
	b.Retests = retests
	return b, nil
}

type BugFilters struct {
	WorkspaceID     string
	ProductID       string
	Status          string
	Severity        string
	SprintID        string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListBugs(ctx context.Context, f BugFilters) ([]domain.Bug, error) {
	var clauses []string
	var args []any
	if f.WorkspaceID != "" {
		clauses = append(clauses, "workspace_id=?")
		args = append(args, f.WorkspaceID)
	}
	if f.ProductID != "" {
		clauses = append(clauses, "product_id=?")
		args = append(args, f.ProductID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.SprintID != "" {
		clauses = append(clauses, "sprint_id=?")
		args = append(args, f.SprintID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + bugColumns + ` FROM bugs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bug
	for rows.Next() {
		b, err := scanBug(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) ListBugsBySprint(ctx context.Context, sprintID string) ([]domain.Bug, error) {
	return r.ListBugs(ctx, BugFilters{SprintID: sprintID})
}

func (r Repo) DeleteBug(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM bugs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertRetest appends a retest record. Existing rows are never updated.
func (r Repo) InsertRetest(ctx context.Context, tx *sql.Tx, rt domain.Retest) error {
	passed := 0
	if rt.Passed {
		passed = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO bug_retests(id,bug_id,passed,tester_id,notes,created_at) VALUES (?,?,?,?,?,?)`,
		rt.ID, rt.BugID, passed, rt.TesterID, nullable(rt.Notes), rt.CreatedAt)
	return err
}

func (r Repo) ListRetests(ctx context.Context, bugID string) ([]domain.Retest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,bug_id,passed,tester_id,COALESCE(notes,''),created_at FROM bug_retests WHERE bug_id=? ORDER BY created_at, id`, bugID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Retest
	for rows.Next() {
		var rt domain.Retest
		var passed int
		if err := rows.Scan(&rt.ID, &rt.BugID, &passed, &rt.TesterID, &rt.Notes, &rt.CreatedAt); err != nil {
			return nil, err
		}
		rt.Passed = passed != 0
		res = append(res, rt)
	}
	return res, rows.Err()
}
