package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gigline/internal/domain"
)

const projectColumns = `id,title,description,buyer_id,expected_hourly_rate,expected_duration_hours,tags_json,is_open,created_at,updated_at`

// ProjectFilters narrows ListProjects; zero values mean "no filter".
type ProjectFilters struct {
	BuyerID     int64
	OpenOnly    bool
	Search      string
	Tags        []string
	MinRate     *float64
	MaxRate     *float64
	MinDuration *float64
	MaxDuration *float64
	Skip        int
	Limit       int
}

func scanProjectRow(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var tagsJSON string
	var open int
	err := scan(&p.ID, &p.Title, &p.Description, &p.BuyerID, &p.ExpectedHourlyRate,
		&p.ExpectedDurationHours, &tagsJSON, &open, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.IsOpen = open != 0
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO projects(title,description,buyer_id,expected_hourly_rate,expected_duration_hours,tags_json,is_open,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.Title, p.Description, p.BuyerID, p.ExpectedHourlyRate, p.ExpectedDurationHours, string(tags), boolInt(p.IsOpen), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	p, err := scanProjectRow(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// GetProjectTx re-reads the project inside a transaction so accept decisions
// see the row the transaction will mutate.
func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	p, err := scanProjectRow(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.BuyerID != 0 {
		clauses = append(clauses, "buyer_id=?")
		args = append(args, f.BuyerID)
	}
	if f.OpenOnly {
		clauses = append(clauses, "is_open=1")
	}
	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if len(f.Tags) > 0 {
		// any-match against the stored JSON array
		var tagClauses []string
		for _, tag := range f.Tags {
			tagClauses = append(tagClauses, "tags_json LIKE ?")
			args = append(args, `%"`+tag+`"%`)
		}
		clauses = append(clauses, "("+strings.Join(tagClauses, " OR ")+")")
	}
	if f.MinRate != nil {
		clauses = append(clauses, "expected_hourly_rate>=?")
		args = append(args, *f.MinRate)
	}
	if f.MaxRate != nil {
		clauses = append(clauses, "expected_hourly_rate<=?")
		args = append(args, *f.MaxRate)
	}
	if f.MinDuration != nil {
		clauses = append(clauses, "expected_duration_hours>=?")
		args = append(args, *f.MinDuration)
	}
	if f.MaxDuration != nil {
		clauses = append(clauses, "expected_duration_hours<=?")
		args = append(args, *f.MaxDuration)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Skip > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Skip)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, p domain.Project) error {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET title=?,description=?,expected_hourly_rate=?,expected_duration_hours=?,tags_json=?,is_open=?,updated_at=? WHERE id=?`,
		p.Title, p.Description, p.ExpectedHourlyRate, p.ExpectedDurationHours, string(tags), boolInt(p.IsOpen), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseProjectTx flips is_open off as part of an accept transaction.
func (r Repo) CloseProjectTx(ctx context.Context, tx *sql.Tx, id int64, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET is_open=0, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountProjects(ctx context.Context) (total, open int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(is_open),0) FROM projects`).Scan(&total, &open)
	if err != nil {
		return 0, 0, fmt.Errorf("count projects: %w", err)
	}
	return total, open, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
