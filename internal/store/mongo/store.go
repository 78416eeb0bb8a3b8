// Package mongo is the document-store backend. Account claims use
// per-document compare-and-swap on status with compensation when the batch
// cannot be completed.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/store"
)

var _ store.Store = (*Store)(nil)

const (
	collAccounts = "accounts"
	collProxies  = "proxies"
	collPoints   = "points"
	collActivity = "activity_logs"
)

type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	accounts *mongo.Collection
	proxies  *mongo.Collection
	points   *mongo.Collection
	activity *mongo.Collection
}

func Open(ctx context.Context, uri, database string, timeout time.Duration) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetTimeout(timeout))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		db:       db,
		accounts: db.Collection(collAccounts),
		proxies:  db.Collection(collProxies),
		points:   db.Collection(collPoints),
		activity: db.Collection(collActivity),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	idx := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.accounts, mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}}}},
		{s.proxies, mongo.IndexModel{Keys: bson.D{{Key: "address", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.points, mongo.IndexModel{Keys: bson.D{{Key: "projectUrl", Value: 1}, {Key: "timestamp", Value: -1}}}},
		{s.points, mongo.IndexModel{Keys: bson.D{{Key: "accountId", Value: 1}}}},
		{s.activity, mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}},
	}
	for _, i := range idx {
		if _, err := i.coll.Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("mongo index %s: %w", i.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes every collection. Used by integration tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, errs.ErrNotFound)
	}
	return err
}

func queryFilter(q store.Query) bson.M {
	f := bson.M{}
	if q.AccountID != "" {
		f["accountId"] = q.AccountID
	}
	if q.ProjectURL != "" {
		f["projectUrl"] = q.ProjectURL
	}
	if !q.Since.IsZero() {
		f["timestamp"] = bson.M{"$gte": q.Since}
	}
	return f
}

func queryOptions(q store.Query) *options.FindOptionsBuilder {
	dir := 1
	if q.Desc {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}
