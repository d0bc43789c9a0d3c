package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"gigline/internal/domain"
)

const paymentColumns = `id,task_id,buyer_id,amount,created_at`

func scanPaymentRow(scan func(dest ...any) error) (domain.Payment, error) {
	var p domain.Payment
	var amount string
	err := scan(&p.ID, &p.TaskID, &p.BuyerID, &amount, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return p, fmt.Errorf("payment %d amount: %w", p.ID, err)
	}
	return p, nil
}

func (r Repo) InsertPaymentTx(ctx context.Context, tx *sql.Tx, p domain.Payment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO payments(task_id,buyer_id,amount,created_at) VALUES (?,?,?,?)`,
		p.TaskID, p.BuyerID, p.Amount.String(), p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetPayment(ctx context.Context, id int64) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id)
	p, err := scanPaymentRow(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPaymentByTask(ctx context.Context, taskID int64) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE task_id=?`, taskID)
	p, err := scanPaymentRow(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) HasPaymentTx(ctx context.Context, tx *sql.Tx, taskID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM payments WHERE task_id=? LIMIT 1`, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListPaymentsByBuyer(ctx context.Context, buyerID int64) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE buyer_id=? ORDER BY created_at DESC, id DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPayments(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments`).Scan(&n)
	return n, err
}

// SumPayments totals payment amounts with decimal arithmetic; amounts are
// stored as strings so SQLite float summation never touches them.
func (r Repo) SumPayments(ctx context.Context) (decimal.Decimal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT amount FROM payments`)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}
