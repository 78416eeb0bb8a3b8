package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"airdrop_manager/internal/model"
)

type recordingUpdater struct {
	filter any
	err    error
	calls  int
}

func (u *recordingUpdater) UpdateMany(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateManyOptions]) (*mongo.UpdateResult, error) {
	u.calls++
	u.filter = filter
	if u.err != nil {
		return nil, u.err
	}
	return &mongo.UpdateResult{MatchedCount: 2, ModifiedCount: 2}, nil
}

func TestRollbackClaimReportsFailure(t *testing.T) {
	u := &recordingUpdater{err: errors.New("connection reset")}
	picked := []model.Account{{ID: "a1"}, {ID: "a2"}}

	err := rollbackClaim(u, picked)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	assert.ErrorContains(t, err, "a1")
	assert.ErrorContains(t, err, "a2")
}

func TestRollbackClaimOnlyTouchesBusyPicks(t *testing.T) {
	u := &recordingUpdater{}
	require.NoError(t, rollbackClaim(u, []model.Account{{ID: "a1"}, {ID: "a2"}}))
	require.Equal(t, 1, u.calls)

	f, ok := u.filter.(bson.M)
	require.True(t, ok)
	assert.Equal(t, bson.M{"$in": []string{"a1", "a2"}}, f["_id"])
	assert.Equal(t, string(model.AccountBusy), f["status"])
}

func TestRollbackClaimNothingPicked(t *testing.T) {
	u := &recordingUpdater{err: errors.New("unreachable")}
	assert.NoError(t, rollbackClaim(u, nil))
	assert.Zero(t, u.calls)
}
