package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

const proposalColumns = `id,project_id,developer_id,cover_letter,proposed_hourly_rate,estimated_hours,status,created_at,updated_at,accepted_at`

// ProposalWithDeveloper augments a proposal with the submitting developer's
// identity for buyer-facing listings.
type ProposalWithDeveloper struct {
	domain.Proposal
	DeveloperName  string `json:"developer_name"`
	DeveloperEmail string `json:"developer_email"`
}

func scanProposalRow(scan func(dest ...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	var estimated sql.NullFloat64
	var acceptedAt sql.NullString
	err := scan(&p.ID, &p.ProjectID, &p.DeveloperID, &p.CoverLetter, &p.ProposedHourlyRate,
		&estimated, &p.Status, &p.CreatedAt, &p.UpdatedAt, &acceptedAt)
	if err != nil {
		return p, err
	}
	if estimated.Valid {
		p.EstimatedHours = &estimated.Float64
	}
	if acceptedAt.Valid {
		p.AcceptedAt = &acceptedAt.String
	}
	return p, nil
}

func (r Repo) InsertProposalTx(ctx context.Context, tx *sql.Tx, p domain.Proposal) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO proposals(project_id,developer_id,cover_letter,proposed_hourly_rate,estimated_hours,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ProjectID, p.DeveloperID, p.CoverLetter, p.ProposedHourlyRate, nullableFloat(p.EstimatedHours), p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProposal(ctx context.Context, id int64) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	p, err := scanProposalRow(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// GetProposalTx re-reads the proposal inside a transaction so accept/reject
// decide against the row the transaction will actually mutate.
func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Proposal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id)
	p, err := scanProposalRow(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) HasProposal(ctx context.Context, projectID, developerID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM proposals WHERE project_id=? AND developer_id=? LIMIT 1`, projectID, developerID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListProposalsByDeveloper(ctx context.Context, developerID int64) ([]domain.Proposal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE developer_id=? ORDER BY created_at DESC, id DESC`, developerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposalRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListProposalsByProject(ctx context.Context, projectID int64) ([]ProposalWithDeveloper, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT p.id,p.project_id,p.developer_id,p.cover_letter,p.proposed_hourly_rate,p.estimated_hours,p.status,p.created_at,p.updated_at,p.accepted_at,
       COALESCE(u.full_name,'') AS developer_name, u.email AS developer_email
FROM proposals p
JOIN users u ON u.id = p.developer_id
WHERE p.project_id=?
ORDER BY p.created_at DESC, p.id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ProposalWithDeveloper
	for rows.Next() {
		var p ProposalWithDeveloper
		var estimated sql.NullFloat64
		var acceptedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.DeveloperID, &p.CoverLetter, &p.ProposedHourlyRate,
			&estimated, &p.Status, &p.CreatedAt, &p.UpdatedAt, &acceptedAt,
			&p.DeveloperName, &p.DeveloperEmail); err != nil {
			return nil, err
		}
		if estimated.Valid {
			p.EstimatedHours = &estimated.Float64
		}
		if acceptedAt.Valid {
			p.AcceptedAt = &acceptedAt.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AcceptProposalTx flips the proposal to accepted only if it is still pending;
// the WHERE guard makes the losing side of a concurrent accept a no-op.
func (r Repo) AcceptProposalTx(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, accepted_at=?, updated_at=? WHERE id=? AND status=?`,
		domain.ProposalAccepted, now, now, id, domain.ProposalPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) RejectProposalTx(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.ProposalRejected, now, id, domain.ProposalPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RejectPendingSiblingsTx rejects every other pending proposal on the project.
func (r Repo) RejectPendingSiblingsTx(ctx context.Context, tx *sql.Tx, projectID, acceptedID int64, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, updated_at=? WHERE project_id=? AND id<>? AND status=?`,
		domain.ProposalRejected, now, projectID, acceptedID, domain.ProposalPending)
	return err
}

func (r Repo) CountProposals(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&n)
	return n, err
}
