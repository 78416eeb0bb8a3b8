package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/randx"
	"airdrop_manager/internal/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAccounts(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.CreateAccount(context.Background(), model.Account{
			Identifier: fmt.Sprintf("user%02d@example.xyz", i),
			Secret:     "iv:cipher",
		})
		require.NoError(t, err)
	}
}

func TestClaimInsufficientLeavesAccountsUntouched(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	seedAccounts(t, s, 2)

	_, err := s.ClaimIdleAccounts(ctx, 3, randx.New(1))
	require.ErrorIs(t, err, errs.ErrInsufficientAccounts)

	idle, err := s.ListAccounts(ctx, model.AccountIdle)
	require.NoError(t, err)
	assert.Len(t, idle, 2)
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	seedAccounts(t, s, 10)
	sampler := randx.New(99)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ClaimIdleAccounts(ctx, 2, sampler)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			for _, a := range got {
				seen[a.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, "account %s claimed twice", id)
	}

	_, err := s.ClaimIdleAccounts(ctx, 1, sampler)
	assert.ErrorIs(t, err, errs.ErrInsufficientAccounts)

	_, by, err := s.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, by[model.AccountBusy])
}

func TestUpdateAccountKeepsSecretWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	acc, err := s.CreateAccount(ctx, model.Account{Identifier: "a", Secret: "old"})
	require.NoError(t, err)

	acc.Notes = "renamed"
	acc.Secret = ""
	got, err := s.UpdateAccount(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Secret)
	assert.Equal(t, "renamed", got.Notes)

	_, err = s.UpdateAccount(ctx, model.Account{ID: "missing", Identifier: "x"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestProxyUniqueAddressAndUsage(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	p, err := s.InsertProxy(ctx, model.Proxy{Address: "203.0.113.5:8080", Status: model.ProxyActive})
	require.NoError(t, err)
	assert.Equal(t, "http", p.Type)

	_, err = s.InsertProxy(ctx, model.Proxy{Address: "203.0.113.5:8080"})
	assert.ErrorIs(t, err, errs.ErrDuplicateProxy)

	now := time.Now()
	require.NoError(t, s.MarkProxyUsed(ctx, p.ID, now))
	require.NoError(t, s.MarkProxyUsed(ctx, p.ID, now))
	require.NoError(t, s.UpdateProxyStatus(ctx, p.ID, model.ProxyError, now))

	list, err := s.ListProxies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].UseCount)
	assert.Equal(t, model.ProxyError, list[0].Status)
	assert.Equal(t, now.UnixMilli(), list[0].LastUsed.UnixMilli())

	require.NoError(t, s.DeleteProxy(ctx, p.ID))
	assert.ErrorIs(t, s.DeleteProxy(ctx, p.ID), errs.ErrNotFound)
}

func TestFindPointsSortAndLimit(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := s.InsertPoints(ctx, model.PointEntry{
			AccountID:  "acc1",
			ProjectURL: "https://example.xyz",
			Points:     float64(i),
			Details:    map[string]any{"step": i},
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := s.FindPoints(ctx, store.Query{ProjectURL: "https://example.xyz", Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 4.0, got[0].Points)
	assert.Equal(t, 3.0, got[1].Points)
	assert.EqualValues(t, 4, got[0].Details["step"])
}

func TestClaimRollsBackWhenUpdateFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "identifier", "secret", "notes", "status", "created_at", "updated_at"}
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM accounts WHERE status = ?").
		WithArgs("idle").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a1", "one", "", "", "idle", 1, 1).
			AddRow("a2", "two", "", "", "idle", 2, 2))
	mock.ExpectExec("UPDATE accounts SET status").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = New(db).ClaimIdleAccounts(context.Background(), 2, randx.New(3))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
