package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/store"
)

type accountDoc struct {
	ID         string    `bson:"_id"`
	Identifier string    `bson:"identifier"`
	Secret     string    `bson:"secret"`
	Notes      string    `bson:"notes"`
	Status     string    `bson:"status"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d accountDoc) model() model.Account {
	return model.Account{
		ID:         d.ID,
		Identifier: d.Identifier,
		Secret:     d.Secret,
		Notes:      d.Notes,
		Status:     model.AccountStatus(d.Status),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
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
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := accountDoc{
		ID:         acc.ID,
		Identifier: acc.Identifier,
		Secret:     acc.Secret,
		Notes:      acc.Notes,
		Status:     string(acc.Status),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		return model.Account{}, err
	}
	return doc.model(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	set := bson.M{
		"identifier": acc.Identifier,
		"notes":      acc.Notes,
		"updatedAt":  time.Now().UTC(),
	}
	if acc.Secret != "" {
		set["secret"] = acc.Secret
	}
	var doc accountDoc
	err := s.accounts.FindOneAndUpdate(ctx,
		bson.M{"_id": acc.ID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return model.Account{}, notFound(err, "account "+acc.ID)
	}
	return doc.model(), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.Account{}, notFound(err, "account "+id)
	}
	return doc.model(), nil
}

func (s *Store) ListAccounts(ctx context.Context, status model.AccountStatus) ([]model.Account, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	cur, err := s.accounts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.accounts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ClaimIdleAccounts walks a uniform permutation of the idle set and flips
// each candidate with a status-guarded update until n are held. Losing a
// race just moves on to the next candidate. If the idle set runs out, every
// account already flipped is put back to idle.
func (s *Store) ClaimIdleAccounts(ctx context.Context, n int, sampler store.Sampler) ([]model.Account, error) {
	idle, err := s.ListAccounts(ctx, model.AccountIdle)
	if err != nil {
		return nil, err
	}
	if len(idle) < n {
		return nil, fmt.Errorf("%w: want %d, have %d", errs.ErrInsufficientAccounts, n, len(idle))
	}

	now := time.Now().UTC()
	picked := make([]model.Account, 0, n)
	for _, i := range sampler.Sample(len(idle), len(idle)) {
		if len(picked) == n {
			break
		}
		var doc accountDoc
		err := s.accounts.FindOneAndUpdate(ctx,
			bson.M{"_id": idle[i].ID, "status": string(model.AccountIdle)},
			bson.M{"$set": bson.M{"status": string(model.AccountBusy), "updatedAt": now}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, errors.Join(err, rollbackClaim(s.accounts, picked))
		}
		picked = append(picked, doc.model())
	}
	if len(picked) < n {
		err := fmt.Errorf("%w: want %d, lost race for %d", errs.ErrInsufficientAccounts, n, n-len(picked))
		return nil, errors.Join(err, rollbackClaim(s.accounts, picked))
	}
	return picked, nil
}

type accountUpdater interface {
	UpdateMany(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateManyOptions]) (*mongo.UpdateResult, error)
}

// rollbackClaim puts a partial claim back to idle. A failure leaves busy
// accounts with no owner, so it is reported with the ids.
func rollbackClaim(coll accountUpdater, picked []model.Account) error {
	if len(picked) == 0 {
		return nil
	}
	ids := make([]string, 0, len(picked))
	for _, a := range picked {
		ids = append(ids, a.ID)
	}
	// detached from the caller so a cancelled request still rolls back
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": string(model.AccountBusy)},
		bson.M{"$set": bson.M{"status": string(model.AccountIdle), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("roll back claim of %v: %w", ids, err)
	}
	return nil
}

func (s *Store) SetAccountStatus(ctx context.Context, id string, status model.AccountStatus) error {
	if !status.Valid() {
		return errs.Validation("unknown account status %q", status)
	}
	res, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *Store) CountAccounts(ctx context.Context) (int, map[model.AccountStatus]int, error) {
	cur, err := s.accounts.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return 0, nil, err
	}
	var rows []struct {
		Status string `bson:"_id"`
		N      int    `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, nil, err
	}
	total := 0
	by := make(map[model.AccountStatus]int, len(rows))
	for _, r := range rows {
		by[model.AccountStatus(r.Status)] = r.N
		total += r.N
	}
	return total, by, nil
}
