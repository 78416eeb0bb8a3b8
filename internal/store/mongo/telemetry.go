package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"airdrop_manager/internal/model"
	"airdrop_manager/internal/store"
)

type pointDoc struct {
	ID         string         `bson:"_id"`
	AccountID  string         `bson:"accountId"`
	ProjectURL string         `bson:"projectUrl"`
	Points     float64        `bson:"points"`
	Details    map[string]any `bson:"details,omitempty"`
	Timestamp  time.Time      `bson:"timestamp"`
}

type activityDoc struct {
	ID         string         `bson:"_id"`
	AccountID  string         `bson:"accountId"`
	ProjectURL string         `bson:"projectUrl"`
	Activity   string         `bson:"activity"`
	Status     string         `bson:"status"`
	Details    map[string]any `bson:"details,omitempty"`
	Timestamp  time.Time      `bson:"timestamp"`
}

func (s *Store) InsertPoints(ctx context.Context, e model.PointEntry) (model.PointEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.points.InsertOne(ctx, pointDoc{
		ID:         e.ID,
		AccountID:  e.AccountID,
		ProjectURL: e.ProjectURL,
		Points:     e.Points,
		Details:    e.Details,
		Timestamp:  e.Timestamp.UTC(),
	})
	if err != nil {
		return model.PointEntry{}, err
	}
	return e, nil
}

func (s *Store) FindPoints(ctx context.Context, q store.Query) ([]model.PointEntry, error) {
	cur, err := s.points.Find(ctx, queryFilter(q), queryOptions(q))
	if err != nil {
		return nil, err
	}
	var docs []pointDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.PointEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.PointEntry{
			ID:         d.ID,
			AccountID:  d.AccountID,
			ProjectURL: d.ProjectURL,
			Points:     d.Points,
			Details:    d.Details,
			Timestamp:  d.Timestamp,
		})
	}
	return out, nil
}

func (s *Store) InsertActivity(ctx context.Context, a model.ActivityLog) (model.ActivityLog, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := s.activity.InsertOne(ctx, activityDoc{
		ID:         a.ID,
		AccountID:  a.AccountID,
		ProjectURL: a.ProjectURL,
		Activity:   a.Activity,
		Status:     a.Status,
		Details:    a.Details,
		Timestamp:  a.Timestamp.UTC(),
	})
	if err != nil {
		return model.ActivityLog{}, err
	}
	return a, nil
}

func (s *Store) FindActivity(ctx context.Context, q store.Query) ([]model.ActivityLog, error) {
	cur, err := s.activity.Find(ctx, queryFilter(q), queryOptions(q))
	if err != nil {
		return nil, err
	}
	var docs []activityDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.ActivityLog, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.ActivityLog{
			ID:         d.ID,
			AccountID:  d.AccountID,
			ProjectURL: d.ProjectURL,
			Activity:   d.Activity,
			Status:     d.Status,
			Details:    d.Details,
			Timestamp:  d.Timestamp,
		})
	}
	return out, nil
}
