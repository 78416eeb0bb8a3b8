package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"airdrop_manager/internal/model"
	"airdrop_manager/internal/store"
)

func buildWhere(q store.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, q.AccountID)
	}
	if q.ProjectURL != "" {
		conds = append(conds, "project_url = ?")
		args = append(args, q.ProjectURL)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	order := " ORDER BY ts ASC"
	if q.Desc {
		order = " ORDER BY ts DESC"
	}
	limit := ""
	if q.Limit > 0 {
		limit = " LIMIT ?"
		args = append(args, q.Limit)
	}
	return where + order + limit, args
}

func encodeDetails(d map[string]any) string {
	if len(d) == 0 {
		return "{}"
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeDetails(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func (s *Store) InsertPoints(ctx context.Context, e model.PointEntry) (model.PointEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO points (id, account_id, project_url, points, details_json, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.ProjectURL, e.Points, encodeDetails(e.Details), e.Timestamp.UnixMilli())
	if err != nil {
		return model.PointEntry{}, err
	}
	return e, nil
}

func (s *Store) FindPoints(ctx context.Context, q store.Query) ([]model.PointEntry, error) {
	tail, args := buildWhere(q)
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, project_url, points, details_json, ts FROM points`+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PointEntry
	for rows.Next() {
		var (
			e       model.PointEntry
			details string
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.ProjectURL, &e.Points, &details, &ts); err != nil {
			return nil, err
		}
		e.Details = decodeDetails(details)
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) InsertActivity(ctx context.Context, a model.ActivityLog) (model.ActivityLog, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, account_id, project_url, activity, status, details_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.AccountID, a.ProjectURL, a.Activity, a.Status, encodeDetails(a.Details), a.Timestamp.UnixMilli())
	if err != nil {
		return model.ActivityLog{}, err
	}
	return a, nil
}

func (s *Store) FindActivity(ctx context.Context, q store.Query) ([]model.ActivityLog, error) {
	tail, args := buildWhere(q)
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, project_url, activity, status, details_json, ts FROM activity_logs`+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActivityLog
	for rows.Next() {
		var (
			a       model.ActivityLog
			details string
			ts      int64
		)
		if err := rows.Scan(&a.ID, &a.AccountID, &a.ProjectURL, &a.Activity, &a.Status, &details, &ts); err != nil {
			return nil, err
		}
		a.Details = decodeDetails(details)
		a.Timestamp = time.UnixMilli(ts)
		out = append(out, a)
	}
	return out, rows.Err()
}
