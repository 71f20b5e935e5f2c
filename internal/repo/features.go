package repo

import (
	"context"
	"database/sql"
	"strings"

	"shiptrack/internal/domain"
)

const featureColumns = `id,workspace_id,product_id,title,description,stage,priority,points,votes,assignee_id,sprint_id,
approved_by,approved_at,approval_comment,rejected_by,rejected_at,rejection_reason,completed_at,version,created_at,updated_at`

func (r Repo) InsertFeature(ctx context.Context, tx *sql.Tx, f domain.Feature) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO features(`+featureColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.WorkspaceID, f.ProductID, f.Title, nullable(f.Description), f.Stage, f.Priority, f.Points, f.Votes,
		nullableStringPtr(f.AssigneeID), nullableStringPtr(f.SprintID),
		nullableStringPtr(f.ApprovedBy), nullableStringPtr(f.ApprovedAt), nullable(f.ApprovalComment),
		nullableStringPtr(f.RejectedBy), nullableStringPtr(f.RejectedAt), nullable(f.RejectionReason),
		nullableStringPtr(f.CompletedAt), f.Version, f.CreatedAt, f.UpdatedAt)
	return err
}

// UpdateFeature persists all mutable fields, asserting the version stamp
// the feature was loaded with and bumping it by one.
func (r Repo) UpdateFeature(ctx context.Context, tx *sql.Tx, f domain.Feature) error {
	res, err := tx.ExecContext(ctx, `UPDATE features SET title=?, description=?, stage=?, priority=?, points=?, votes=?,
assignee_id=?, sprint_id=?, approved_by=?, approved_at=?, approval_comment=?, rejected_by=?, rejected_at=?, rejection_reason=?,
completed_at=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		f.Title, nullable(f.Description), f.Stage, f.Priority, f.Points, f.Votes,
		nullableStringPtr(f.AssigneeID), nullableStringPtr(f.SprintID),
		nullableStringPtr(f.ApprovedBy), nullableStringPtr(f.ApprovedAt), nullable(f.ApprovalComment),
		nullableStringPtr(f.RejectedBy), nullableStringPtr(f.RejectedAt), nullable(f.RejectionReason),
		nullableStringPtr(f.CompletedAt), f.UpdatedAt, f.ID, f.Version)
	if err != nil {
		return err
	}
	return checkVersionedUpdate(ctx, tx, res, "features", f.ID)
}

func scanFeature(scan func(...any) error) (domain.Feature, error) {
	var f domain.Feature
	var desc, assignee, sprint, approvedBy, approvedAt, approvalComment, rejectedBy, rejectedAt, rejectionReason, completedAt sql.NullString
	err := scan(&f.ID, &f.WorkspaceID, &f.ProductID, &f.Title, &desc, &f.Stage, &f.Priority, &f.Points, &f.Votes,
		&assignee, &sprint, &approvedBy, &approvedAt, &approvalComment, &rejectedBy, &rejectedAt, &rejectionReason,
		&completedAt, &f.Version, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return f, err
	}
	if desc.Valid {
		f.Description = desc.String
	}
	if assignee.Valid {
		f.AssigneeID = &assignee.String
	}
	if sprint.Valid {
		f.SprintID = &sprint.String
	}
	if approvedBy.Valid {
		f.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		f.ApprovedAt = &approvedAt.String
	}
	if approvalComment.Valid {
		f.ApprovalComment = approvalComment.String
	}
	if rejectedBy.Valid {
		f.RejectedBy = &rejectedBy.String
	}
	if rejectedAt.Valid {
		f.RejectedAt = &rejectedAt.String
	}
	if rejectionReason.Valid {
		f.RejectionReason = rejectionReason.String
	}
	if completedAt.Valid {
		f.CompletedAt = &completedAt.String
	}
	return f, nil
}

func (r Repo) GetFeature(ctx context.Context, id string) (domain.Feature, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+featureColumns+` FROM features WHERE id=?`, id)
	f, err := scanFeature(row.Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	voters, err := r.ListVoters(ctx, id)
	if err != nil {
		return f, err
	}
	f.Voters = voters
	return f, nil
}

type FeatureFilters struct {
	WorkspaceID     string
	ProductID       string
	Stage           string
	Priority        string
	SprintID        string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListFeatures(ctx context.Context, f FeatureFilters) ([]domain.Feature, error) {
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
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
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
	query := `SELECT ` + featureColumns + ` FROM features ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feature
	for rows.Next() {
		feat, err := scanFeature(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, feat)
	}
	return res, rows.Err()
}

// ListBySprint returns features linked to a sprint.
func (r Repo) ListFeaturesBySprint(ctx context.Context, sprintID string) ([]domain.Feature, error) {
	return r.ListFeatures(ctx, FeatureFilters{SprintID: sprintID})
}

func (r Repo) DeleteFeature(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM features WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListVoters(ctx context.Context, featureID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT voter_id FROM feature_votes WHERE feature_id=? ORDER BY created_at, voter_id`, featureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var voters []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		voters = append(voters, v)
	}
	return voters, rows.Err()
}

func (r Repo) HasVote(ctx context.Context, tx *sql.Tx, featureID, voterID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM feature_votes WHERE feature_id=? AND voter_id=?`, featureID, voterID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertVote(ctx context.Context, tx *sql.Tx, featureID, voterID, createdAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO feature_votes(feature_id,voter_id,created_at) VALUES (?,?,?)`, featureID, voterID, createdAt)
	return err
}

func (r Repo) DeleteVote(ctx context.Context, tx *sql.Tx, featureID, voterID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM feature_votes WHERE feature_id=? AND voter_id=?`, featureID, voterID)
	return err
}
