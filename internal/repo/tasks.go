package repo

import (
	"context"
	"database/sql"
	"strings"

	"shiptrack/internal/domain"
)

const taskColumns = `id,workspace_id,product_id,title,description,status,points,assignee_id,sprint_id,completed_at,version,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkspaceID, t.ProductID, t.Title, nullable(t.Description), t.Status, t.Points,
		nullableStringPtr(t.AssigneeID), nullableStringPtr(t.SprintID), nullableStringPtr(t.CompletedAt),
		t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, points=?, assignee_id=?, sprint_id=?,
completed_at=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), t.Status, t.Points, nullableStringPtr(t.AssigneeID),
		nullableStringPtr(t.SprintID), nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return err
	}
	return checkVersionedUpdate(ctx, tx, res, "tasks", t.ID)
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, assignee, sprint, completedAt sql.NullString
	err := scan(&t.ID, &t.WorkspaceID, &t.ProductID, &t.Title, &desc, &t.Status, &t.Points,
		&assignee, &sprint, &completedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	if sprint.Valid {
		t.SprintID = &sprint.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.Subtasks, err = r.ListSubtasks(ctx, id); err != nil {
		return t, err
	}
	if t.DependsOn, err = r.ListTaskDependencies(ctx, id); err != nil {
		return t, err
	}
	return t, nil
}

type TaskFilters struct {
	WorkspaceID     string
	ProductID       string
	Status          string
	SprintID        string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
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
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListTasksBySprint(ctx context.Context, sprintID string) ([]domain.Task, error) {
	return r.ListTasks(ctx, TaskFilters{SprintID: sprintID})
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertSubtask(ctx context.Context, tx *sql.Tx, st domain.Subtask) error {
	completed := 0
	if st.Completed {
		completed = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO subtasks(id,task_id,title,completed,created_at) VALUES (?,?,?,?,?)`,
		st.ID, st.TaskID, st.Title, completed, st.CreatedAt)
	return err
}

func (r Repo) SetSubtaskCompleted(ctx context.Context, tx *sql.Tx, id string, completed bool) error {
	v := 0
	if completed {
		v = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE subtasks SET completed=? WHERE id=?`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSubtasks(ctx context.Context, taskID string) ([]domain.Subtask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,title,completed,created_at FROM subtasks WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		var st domain.Subtask
		var completed int
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &completed, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Completed = completed != 0
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) AddTaskDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id,depends_on_id,kind) VALUES (?,?,?)`,
		d.TaskID, d.DependsOnID, d.Kind)
	return err
}

func (r Repo) RemoveTaskDependency(ctx context.Context, tx *sql.Tx, taskID, dependsOnID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=? AND depends_on_id=?`, taskID, dependsOnID)
	return err
}

func (r Repo) ListTaskDependencies(ctx context.Context, taskID string) ([]domain.Dependency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,depends_on_id,kind FROM task_deps WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnID, &d.Kind); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
