package repo

import (
	"context"
	"database/sql"
	"strings"

	"shiptrack/internal/domain"
)

const releaseColumns = `id,workspace_id,product_id,semver,description,status,released_at,version,created_at,updated_at`

func (r Repo) InsertRelease(ctx context.Context, tx *sql.Tx, rel domain.Release) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO releases(`+releaseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rel.ID, rel.WorkspaceID, rel.ProductID, rel.Version, nullable(rel.Description), rel.Status,
		nullableStringPtr(rel.ReleasedAt), rel.RowVersion, rel.CreatedAt, rel.UpdatedAt)
	return err
}

func (r Repo) UpdateRelease(ctx context.Context, tx *sql.Tx, rel domain.Release) error {
	res, err := tx.ExecContext(ctx, `UPDATE releases SET semver=?, description=?, status=?, released_at=?,
version=version+1, updated_at=? WHERE id=? AND version=?`,
		rel.Version, nullable(rel.Description), rel.Status, nullableStringPtr(rel.ReleasedAt),
		rel.UpdatedAt, rel.ID, rel.RowVersion)
	if err != nil {
		return err
	}
	return checkVersionedUpdate(ctx, tx, res, "releases", rel.ID)
}

func scanRelease(scan func(...any) error) (domain.Release, error) {
	var rel domain.Release
	var desc, releasedAt sql.NullString
	err := scan(&rel.ID, &rel.WorkspaceID, &rel.ProductID, &rel.Version, &desc, &rel.Status,
		&releasedAt, &rel.RowVersion, &rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		return rel, err
	}
	if desc.Valid {
		rel.Description = desc.String
	}
	if releasedAt.Valid {
		rel.ReleasedAt = &releasedAt.String
	}
	return rel, nil
}

// GetRelease loads the release row together with its pipeline stages,
// approval roster, rollback ledger and link sets.
func (r Repo) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE id=?`, id)
	rel, err := scanRelease(row.Scan)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	if err != nil {
		return rel, err
	}
	if rel.Stages, err = r.ListReleaseStages(ctx, id); err != nil {
		return rel, err
	}
	if rel.Approvals, err = r.ListApprovals(ctx, id); err != nil {
		return rel, err
	}
	if rel.Rollbacks, err = r.ListRollbacks(ctx, id); err != nil {
		return rel, err
	}
	if rel.FeatureIDs, err = r.ListReleaseFeatureIDs(ctx, id); err != nil {
		return rel, err
	}
	if rel.BugfixIDs, err = r.ListReleaseBugfixIDs(ctx, id); err != nil {
		return rel, err
	}
	return rel, nil
}

type ReleaseFilters struct {
	WorkspaceID string
	ProductID   string
	Status      string
	Limit       int
}

func (r Repo) ListReleases(ctx context.Context, f ReleaseFilters) ([]domain.Release, error) {
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
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + releaseColumns + ` FROM releases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Release
	for rows.Next() {
		rel, err := scanRelease(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRelease(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM releases WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedReleaseStages creates the fixed pipeline rows for a new release,
// all pending.
func (r Repo) SeedReleaseStages(ctx context.Context, tx *sql.Tx, releaseID string, names []string) error {
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO release_stages(release_id,name,state) VALUES (?,?,'pending')`, releaseID, name); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetReleaseStage(ctx context.Context, releaseID, name string) (domain.PipelineStage, error) {
	var st domain.PipelineStage
	var startedAt, completedAt, notes sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT release_id,name,state,started_at,completed_at,notes FROM release_stages WHERE release_id=? AND name=?`,
		releaseID, name).Scan(&st.ReleaseID, &st.Name, &st.State, &startedAt, &completedAt, &notes)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	if err != nil {
		return st, err
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.String
	}
	if notes.Valid {
		st.Notes = notes.String
	}
	return st, nil
}

func (r Repo) UpdateReleaseStage(ctx context.Context, tx *sql.Tx, st domain.PipelineStage) error {
	res, err := tx.ExecContext(ctx, `UPDATE release_stages SET state=?, started_at=?, completed_at=?, notes=? WHERE release_id=? AND name=?`,
		st.State, nullableStringPtr(st.StartedAt), nullableStringPtr(st.CompletedAt), nullable(st.Notes), st.ReleaseID, st.Name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListReleaseStages(ctx context.Context, releaseID string) ([]domain.PipelineStage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT release_id,name,state,started_at,completed_at,COALESCE(notes,'')
FROM release_stages WHERE release_id=?
ORDER BY CASE name WHEN 'build' THEN 0 WHEN 'test' THEN 1 WHEN 'staging' THEN 2 WHEN 'production' THEN 3 ELSE 4 END`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PipelineStage
	for rows.Next() {
		var st domain.PipelineStage
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&st.ReleaseID, &st.Name, &st.State, &startedAt, &completedAt, &st.Notes); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			st.StartedAt = &startedAt.String
		}
		if completedAt.Valid {
			st.CompletedAt = &completedAt.String
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// InsertRollback appends to the rollback ledger. Entries are never
// updated or removed.
func (r Repo) InsertRollback(ctx context.Context, tx *sql.Tx, rb domain.RollbackEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO release_rollbacks(id,release_id,from_version,to_version,reason,actor_id,created_at)
VALUES (?,?,?,?,?,?,?)`,
		rb.ID, rb.ReleaseID, rb.FromVersion, rb.ToVersion, rb.Reason, rb.ActorID, rb.CreatedAt)
	return err
}

func (r Repo) ListRollbacks(ctx context.Context, releaseID string) ([]domain.RollbackEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,release_id,from_version,to_version,reason,actor_id,created_at
FROM release_rollbacks WHERE release_id=? ORDER BY created_at, id`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RollbackEntry
	for rows.Next() {
		var rb domain.RollbackEntry
		if err := rows.Scan(&rb.ID, &rb.ReleaseID, &rb.FromVersion, &rb.ToVersion, &rb.Reason, &rb.ActorID, &rb.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rb)
	}
	return res, rows.Err()
}

// ReplaceApprovals resets the roster to the given approvers, all pending.
func (r Repo) ReplaceApprovals(ctx context.Context, tx *sql.Tx, releaseID string, approverIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM release_approvals WHERE release_id=?`, releaseID); err != nil {
		return err
	}
	for _, id := range approverIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO release_approvals(release_id,approver_id,state) VALUES (?,?,'pending')`, releaseID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetApproval(ctx context.Context, releaseID, approverID string) (domain.Approval, error) {
	var a domain.Approval
	var comment, decidedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT release_id,approver_id,state,comment,decided_at FROM release_approvals WHERE release_id=? AND approver_id=?`,
		releaseID, approverID).Scan(&a.ReleaseID, &a.ApproverID, &a.State, &comment, &decidedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if comment.Valid {
		a.Comment = comment.String
	}
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.String
	}
	return a, nil
}

func (r Repo) UpdateApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	res, err := tx.ExecContext(ctx, `UPDATE release_approvals SET state=?, comment=?, decided_at=? WHERE release_id=? AND approver_id=?`,
		a.State, nullable(a.Comment), nullableStringPtr(a.DecidedAt), a.ReleaseID, a.ApproverID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListApprovals(ctx context.Context, releaseID string) ([]domain.Approval, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT release_id,approver_id,state,COALESCE(comment,''),decided_at
FROM release_approvals WHERE release_id=? ORDER BY approver_id`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var decidedAt sql.NullString
		if err := rows.Scan(&a.ReleaseID, &a.ApproverID, &a.State, &a.Comment, &decidedAt); err != nil {
			return nil, err
		}
		if decidedAt.Valid {
			a.DecidedAt = &decidedAt.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Link inserts are idempotent; linking twice leaves a single row.

func (r Repo) LinkReleaseFeature(ctx context.Context, tx *sql.Tx, releaseID, featureID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO release_features(release_id,feature_id) VALUES (?,?)`, releaseID, featureID)
	return err
}

func (r Repo) UnlinkReleaseFeature(ctx context.Context, tx *sql.Tx, releaseID, featureID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM release_features WHERE release_id=? AND feature_id=?`, releaseID, featureID)
	return err
}

func (r Repo) LinkReleaseBugfix(ctx context.Context, tx *sql.Tx, releaseID, bugID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO release_bugfixes(release_id,bug_id) VALUES (?,?)`, releaseID, bugID)
	return err
}

func (r Repo) UnlinkReleaseBugfix(ctx context.Context, tx *sql.Tx, releaseID, bugID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM release_bugfixes WHERE release_id=? AND bug_id=?`, releaseID, bugID)
	return err
}

func (r Repo) ListReleaseFeatureIDs(ctx context.Context, releaseID string) ([]string, error) {
	return r.listLinkIDs(ctx, `SELECT feature_id FROM release_features WHERE release_id=? ORDER BY feature_id`, releaseID)
}

func (r Repo) ListReleaseBugfixIDs(ctx context.Context, releaseID string) ([]string, error) {
	return r.listLinkIDs(ctx, `SELECT bug_id FROM release_bugfixes WHERE release_id=? ORDER BY bug_id`, releaseID)
}

func (r Repo) listLinkIDs(ctx context.Context, query, releaseID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
