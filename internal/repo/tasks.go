package repo

import (
	"context"
	"database/sql"
	"strings"

	"gigline/internal/domain"
)

const taskColumns = `id,title,description,project_id,developer_id,hourly_rate,status,time_spent,solution_path,created_at,updated_at,submitted_at`

type TaskFilters struct {
	ProjectID   int64
	DeveloperID int64
	BuyerID     int64
	Status      domain.TaskStatus
}

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var solution, submitted sql.NullString
	err := scan(&t.ID, &t.Title, &t.Description, &t.ProjectID, &t.DeveloperID, &t.HourlyRate,
		&t.Status, &t.TimeSpent, &solution, &t.CreatedAt, &t.UpdatedAt, &submitted)
	if err != nil {
		return t, err
	}
	if solution.Valid {
		t.SolutionPath = &solution.String
	}
	if submitted.Valid {
		t.SubmittedAt = &submitted.String
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,description,project_id,developer_id,hourly_rate,status,time_spent,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.Title, t.Description, t.ProjectID, t.DeveloperID, t.HourlyRate, t.Status, t.TimeSpent, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != 0 {
		clauses = append(clauses, "t.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.DeveloperID != 0 {
		clauses = append(clauses, "t.developer_id=?")
		args = append(args, f.DeveloperID)
	}
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	query := `SELECT t.id,t.title,t.description,t.project_id,t.developer_id,t.hourly_rate,t.status,t.time_spent,t.solution_path,t.created_at,t.updated_at,t.submitted_at FROM tasks t`
	if f.BuyerID != 0 {
		query += ` JOIN projects pr ON pr.id=t.project_id`
		clauses = append(clauses, "pr.buyer_id=?")
		args = append(args, f.BuyerID)
	}
	query += ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	return r.updateTask(ctx, r.DB.ExecContext, t)
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return r.updateTask(ctx, tx.ExecContext, t)
}

func (r Repo) updateTask(ctx context.Context, exec func(context.Context, string, ...any) (sql.Result, error), t domain.Task) error {
	var solution, submitted any
	if t.SolutionPath != nil {
		solution = *t.SolutionPath
	}
	if t.SubmittedAt != nil {
		submitted = *t.SubmittedAt
	}
	res, err := exec(ctx, `UPDATE tasks SET title=?,description=?,status=?,time_spent=?,solution_path=?,updated_at=?,submitted_at=? WHERE id=?`,
		t.Title, t.Description, t.Status, t.TimeSpent, solution, t.UpdatedAt, submitted, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTaskPaidTx flips a submitted task to paid; the status guard makes the
// losing side of a concurrent pay a no-op.
func (r Repo) MarkTaskPaidTx(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.TaskPaid, now, id, domain.TaskSubmitted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.TaskStatus]int{}
	for rows.Next() {
		var status domain.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) SumTimeSpent(ctx context.Context) (float64, error) {
	var total float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(time_spent),0) FROM tasks`).Scan(&total)
	return total, err
}
