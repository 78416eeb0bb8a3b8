package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/store"
)

const accountCols = `id, identifier, secret, notes, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (model.Account, error) {
	var row struct {
		id         string
		identifier string
		secret     string
		notes      string
		status     string
		createdAt  int64
		updatedAt  int64
	}
	if err := sc.Scan(&row.id, &row.identifier, &row.secret, &row.notes, &row.status, &row.createdAt, &row.updatedAt); err != nil {
		return model.Account{}, err
	}
	return model.Account{
		ID:         row.id,
		Identifier: row.identifier,
		Secret:     row.secret,
		Notes:      row.notes,
		Status:     model.AccountStatus(row.status),
		CreatedAt:  time.UnixMilli(row.createdAt),
		UpdatedAt:  time.UnixMilli(row.updatedAt),
	}, nil
}

func (s *Store) CreateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	if acc.Identifier == "" {
		return model.Account{}, errors.New("identifier is required")
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Status == "" {
		acc.Status = model.AccountIdle
	}
	now := time.Now()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, acc.ID, acc.Identifier, acc.Secret, acc.Notes, string(acc.Status), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return model.Account{}, err
	}
	return s.GetAccount(ctx, acc.ID)
}

func (s *Store) UpdateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	now := time.Now().UnixMilli()
	var (
		res sql.Result
		err error
	)
	if acc.Secret != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE accounts SET identifier = ?, notes = ?, secret = ?, updated_at = ? WHERE id = ?
		`, acc.Identifier, acc.Notes, acc.Secret, now, acc.ID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE accounts SET identifier = ?, notes = ?, updated_at = ? WHERE id = ?
		`, acc.Identifier, acc.Notes, now, acc.ID)
	}
	if err != nil {
		return model.Account{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Account{}, fmt.Errorf("account %s: %w", acc.ID, errs.ErrNotFound)
	}
	return s.GetAccount(ctx, acc.ID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, "account "+id)
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context, status model.AccountStatus) ([]model.Account, error) {
	q := `SELECT ` + accountCols + ` FROM accounts`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) ClaimIdleAccounts(ctx context.Context, n int, sampler store.Sampler) ([]model.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE status = ? ORDER BY created_at ASC`, string(model.AccountIdle))
	if err != nil {
		return nil, err
	}
	var idle []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		idle = append(idle, acc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(idle) < n {
		return nil, fmt.Errorf("%w: want %d, have %d", errs.ErrInsufficientAccounts, n, len(idle))
	}

	now := time.Now()
	picked := make([]model.Account, 0, n)
	for _, i := range sampler.Sample(len(idle), n) {
		acc := idle[i]
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(model.AccountBusy), now.UnixMilli(), acc.ID, string(model.AccountIdle))
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("%w: account %s changed during claim", errs.ErrInsufficientAccounts, acc.ID)
		}
		acc.Status = model.AccountBusy
		acc.UpdatedAt = now
		picked = append(picked, acc)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return picked, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, id string, status model.AccountStatus) error {
	if !status.Valid() {
		return errs.Validation("unknown account status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) CountAccounts(ctx context.Context) (int, map[model.AccountStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM accounts GROUP BY status`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	total := 0
	by := make(map[model.AccountStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return 0, nil, err
		}
		by[model.AccountStatus(status)] = n
		total += n
	}
	return total, by, rows.Err()
}
