// Package store defines the persistence boundary over the accounts, proxies,
// points and activity_logs collections. Backends live in subpackages.
package store

import (
	"context"
	"time"

	"airdrop_manager/internal/model"
)

// Sampler picks k distinct indexes out of n.
type Sampler interface {
	Sample(n, k int) []int
}

type Accounts interface {
	CreateAccount(ctx context.Context, acc model.Account) (model.Account, error)
	// UpdateAccount rewrites identifier and notes, and the secret only when
	// acc.Secret is non-empty.
	UpdateAccount(ctx context.Context, acc model.Account) (model.Account, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	ListAccounts(ctx context.Context, status model.AccountStatus) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	// ClaimIdleAccounts flips n idle accounts to busy in one atomic step. It
	// returns errs.ErrInsufficientAccounts and changes nothing when fewer than
	// n are idle.
	ClaimIdleAccounts(ctx context.Context, n int, s Sampler) ([]model.Account, error)
	SetAccountStatus(ctx context.Context, id string, status model.AccountStatus) error
	CountAccounts(ctx context.Context) (total int, byStatus map[model.AccountStatus]int, err error)
}

type Proxies interface {
	// InsertProxy returns errs.ErrDuplicateProxy when the address exists.
	InsertProxy(ctx context.Context, p model.Proxy) (model.Proxy, error)
	ListProxies(ctx context.Context) ([]model.Proxy, error)
	ProxyExists(ctx context.Context, address string) (bool, error)
	UpdateProxyStatus(ctx context.Context, id string, status model.ProxyStatus, testedAt time.Time) error
	// MarkProxyUsed bumps the use counter and last-used time.
	MarkProxyUsed(ctx context.Context, id string, usedAt time.Time) error
	DeleteProxy(ctx context.Context, id string) error
}

// Query is the filter plus sort/limit accepted by the telemetry finders.
// Empty fields do not filter. Limit <= 0 means no limit.
type Query struct {
	AccountID  string
	ProjectURL string
	Since      time.Time
	Desc       bool
	Limit      int
}

type Telemetry interface {
	InsertPoints(ctx context.Context, e model.PointEntry) (model.PointEntry, error)
	FindPoints(ctx context.Context, q Query) ([]model.PointEntry, error)
	InsertActivity(ctx context.Context, a model.ActivityLog) (model.ActivityLog, error)
	FindActivity(ctx context.Context, q Query) ([]model.ActivityLog, error)
}

type Store interface {
	Accounts
	Proxies
	Telemetry
	Close() error
}
