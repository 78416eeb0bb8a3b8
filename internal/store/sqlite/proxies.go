package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
)

const proxyCols = `id, address, username, password, type, status, last_test, last_used, use_count, created_at`

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func scanProxy(sc scanner) (model.Proxy, error) {
	var row struct {
		id        string
		address   string
		username  string
		password  string
		typ       string
		status    string
		lastTest  int64
		lastUsed  int64
		useCount  int64
		createdAt int64
	}
	if err := sc.Scan(&row.id, &row.address, &row.username, &row.password, &row.typ, &row.status, &row.lastTest, &row.lastUsed, &row.useCount, &row.createdAt); err != nil {
		return model.Proxy{}, err
	}
	return model.Proxy{
		ID:        row.id,
		Address:   row.address,
		Username:  row.username,
		Password:  row.password,
		Type:      row.typ,
		Status:    model.ProxyStatus(row.status),
		LastTest:  msToTime(row.lastTest),
		LastUsed:  msToTime(row.lastUsed),
		UseCount:  row.useCount,
		CreatedAt: time.UnixMilli(row.createdAt),
	}, nil
}

func (s *Store) InsertProxy(ctx context.Context, p model.Proxy) (model.Proxy, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Type == "" {
		p.Type = "http"
	}
	if p.Status == "" {
		p.Status = model.ProxyUntested
	}
	p.CreatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO proxies (`+proxyCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, p.ID, p.Address, p.Username, p.Password, p.Type, string(p.Status), timeToMs(p.LastTest), timeToMs(p.LastUsed), p.UseCount, p.CreatedAt.UnixMilli())
	if err != nil {
		return model.Proxy{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Proxy{}, fmt.Errorf("%w: %s", errs.ErrDuplicateProxy, p.Address)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+proxyCols+` FROM proxies WHERE id = ?`, p.ID)
	out, err := scanProxy(row)
	if err != nil {
		return model.Proxy{}, notFound(err, "proxy "+p.ID)
	}
	return out, nil
}

func (s *Store) ListProxies(ctx context.Context) ([]model.Proxy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+proxyCols+` FROM proxies ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ProxyExists(ctx context.Context, address string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proxies WHERE address = ?`, address).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UpdateProxyStatus(ctx context.Context, id string, status model.ProxyStatus, testedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE proxies SET status = ?, last_test = ? WHERE id = ?`,
		string(status), timeToMs(testedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proxy %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkProxyUsed(ctx context.Context, id string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE proxies SET use_count = use_count + 1, last_used = ? WHERE id = ?`,
		timeToMs(usedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proxy %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteProxy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("proxy %s: %w", id, errs.ErrNotFound)
	}
	return nil
}
