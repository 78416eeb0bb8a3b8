package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
)

type proxyDoc struct {
	ID        string    `bson:"_id"`
	Address   string    `bson:"address"`
	Username  string    `bson:"username,omitempty"`
	Password  string    `bson:"password,omitempty"`
	Type      string    `bson:"type"`
	Status    string    `bson:"status"`
	LastTest  time.Time `bson:"lastTest,omitempty"`
	LastUsed  time.Time `bson:"lastUsed,omitempty"`
	UseCount  int64     `bson:"useCount"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d proxyDoc) model() model.Proxy {
	return model.Proxy{
		ID:        d.ID,
		Address:   d.Address,
		Username:  d.Username,
		Password:  d.Password,
		Type:      d.Type,
		Status:    model.ProxyStatus(d.Status),
		LastTest:  d.LastTest,
		LastUsed:  d.LastUsed,
		UseCount:  d.UseCount,
		CreatedAt: d.CreatedAt,
	}
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
	doc := proxyDoc{
		ID:        p.ID,
		Address:   p.Address,
		Username:  p.Username,
		Password:  p.Password,
		Type:      p.Type,
		Status:    string(p.Status),
		LastTest:  p.LastTest.UTC(),
		UseCount:  p.UseCount,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.proxies.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.Proxy{}, fmt.Errorf("%w: %s", errs.ErrDuplicateProxy, p.Address)
		}
		return model.Proxy{}, err
	}
	return doc.model(), nil
}

func (s *Store) ListProxies(ctx context.Context) ([]model.Proxy, error) {
	cur, err := s.proxies.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []proxyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Proxy, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) ProxyExists(ctx context.Context, address string) (bool, error) {
	n, err := s.proxies.CountDocuments(ctx, bson.M{"address": address})
	return n > 0, err
}

func (s *Store) UpdateProxyStatus(ctx context.Context, id string, status model.ProxyStatus, testedAt time.Time) error {
	return s.updateProxy(ctx, id, bson.M{"$set": bson.M{"status": string(status), "lastTest": testedAt.UTC()}})
}

func (s *Store) MarkProxyUsed(ctx context.Context, id string, usedAt time.Time) error {
	return s.updateProxy(ctx, id, bson.M{
		"$set": bson.M{"lastUsed": usedAt.UTC()},
		"$inc": bson.M{"useCount": 1},
	})
}

func (s *Store) updateProxy(ctx context.Context, id string, update bson.M) error {
	res, err := s.proxies.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("proxy %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteProxy(ctx context.Context, id string) error {
	res, err := s.proxies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("proxy %s: %w", id, errs.ErrNotFound)
	}
	return nil
}
