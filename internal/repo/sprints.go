package repo

import (
	"context"
	"database/sql"
	"strings"

	"shiptrack/internal/domain"
)

const sprintColumns = `id,workspace_id,product_id,name,goal,status,duration_weeks,start_date,end_date,velocity,version,created_at,updated_at`

func (r Repo) InsertSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sprints(`+sprintColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.WorkspaceID, s.ProductID, s.Name, nullable(s.Goal), s.Status, s.DurationWeeks,
		nullableStringPtr(s.StartDate), nullableStringPtr(s.EndDate), s.Velocity, s.Version, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	res, err := tx.ExecContext(ctx, `UPDATE sprints SET name=?, goal=?, status=?, duration_weeks=?, start_date=?, end_date=?,
velocity=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		s.Name, nullable(s.Goal), s.Status, s.DurationWeeks, nullableStringPtr(s.StartDate),
		nullableStringPtr(s.EndDate), s.Velocity, s.UpdatedAt, s.ID, s.Version)
	if err != nil {
		return err
	}
	return checkVersionedUpdate(ctx, tx, res, "sprints", s.ID)
}

func scanSprint(scan func(...any) error) (domain.Sprint, error) {
	var s domain.Sprint
	var goal, start, end sql.NullString
	err := scan(&s.ID, &s.WorkspaceID, &s.ProductID, &s.Name, &goal, &s.Status, &s.DurationWeeks,
		&start, &end, &s.Velocity, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	if goal.Valid {
		s.Goal = goal.String
	}
	if start.Valid {
		s.StartDate = &start.String
	}
	if end.Valid {
		s.EndDate = &end.String
	}
	return s, nil
}

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id=?`, id)
	s, err := scanSprint(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

type SprintFilters struct {
	WorkspaceID string
	ProductID   string
	Status      string
	Limit       int
}

func (r Repo) ListSprints(ctx context.Context, f SprintFilters) ([]domain.Sprint, error) {
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
	query := `SELECT ` + sprintColumns + ` FROM sprints ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		s, err := scanSprint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSprint(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sprints WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
