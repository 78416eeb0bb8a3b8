package mongo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/randx"
)

// Set AIRDROP_TEST_MONGO_URI to run against a live server.
func openLive(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("AIRDROP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AIRDROP_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, uri, "airdrop_test_"+uuid.NewString()[:8], 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestClaimIsExclusive(t *testing.T) {
	s := openLive(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := s.CreateAccount(ctx, model.Account{Identifier: fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
	}

	sampler := randx.New(5)
	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
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
	assert.Len(t, seen, 6)

	_, err := s.ClaimIdleAccounts(ctx, 1, sampler)
	assert.ErrorIs(t, err, errs.ErrInsufficientAccounts)
}

func TestDuplicateProxyAddress(t *testing.T) {
	s := openLive(t)
	ctx := context.Background()

	_, err := s.InsertProxy(ctx, model.Proxy{Address: "203.0.113.5:8080"})
	require.NoError(t, err)
	_, err = s.InsertProxy(ctx, model.Proxy{Address: "203.0.113.5:8080"})
	assert.ErrorIs(t, err, errs.ErrDuplicateProxy)
}
