// Package vault is the account boundary: it owns credential encryption and
// the atomic idle->busy claim used by the scheduler.
package vault

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/randx"
	"airdrop_manager/internal/secret"
	"airdrop_manager/internal/store"
)

type Vault struct {
	accounts store.Accounts
	cipher   *secret.Cipher
	sampler  *randx.Sampler
	logger   *zap.Logger
}

func New(accounts store.Accounts, cipher *secret.Cipher, sampler *randx.Sampler, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		accounts: accounts,
		cipher:   cipher,
		sampler:  sampler,
		logger:   logger.With(zap.String("component", "vault")),
	}
}

// Save creates the account when in.ID is empty and updates it otherwise.
// Creation requires a secret; an update re-encrypts only when one is given.
func (v *Vault) Save(ctx context.Context, in model.AccountInput) (model.Account, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	if in.Identifier == "" {
		return model.Account{}, errs.Validation("identifier is required")
	}

	var enc string
	if in.Secret != "" {
		var err error
		if enc, err = v.cipher.Encrypt(in.Secret); err != nil {
			return model.Account{}, fmt.Errorf("encrypt secret: %w", err)
		}
	}

	if in.ID == "" {
		if enc == "" {
			return model.Account{}, errs.Validation("secret is required for a new account")
		}
		acc, err := v.accounts.CreateAccount(ctx, model.Account{
			Identifier: in.Identifier,
			Secret:     enc,
			Notes:      in.Notes,
			Status:     model.AccountIdle,
		})
		if err != nil {
			return model.Account{}, err
		}
		v.logger.Info("account created", zap.String("account", acc.ID))
		return acc, nil
	}

	acc, err := v.accounts.UpdateAccount(ctx, model.Account{
		ID:         in.ID,
		Identifier: in.Identifier,
		Secret:     enc,
		Notes:      in.Notes,
	})
	if err != nil {
		return model.Account{}, err
	}
	v.logger.Info("account updated", zap.String("account", acc.ID), zap.Bool("secretChanged", enc != ""))
	return acc, nil
}

// Delete refuses to remove an account a task currently holds.
func (v *Vault) Delete(ctx context.Context, id string) error {
	acc, err := v.accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if acc.Status == model.AccountBusy {
		return errs.Validation("account %s is claimed by a running task", id)
	}
	return v.accounts.DeleteAccount(ctx, id)
}

func (v *Vault) List(ctx context.Context, status model.AccountStatus) ([]model.Account, error) {
	return v.accounts.ListAccounts(ctx, status)
}

func (v *Vault) Get(ctx context.Context, id string) (model.Account, error) {
	return v.accounts.GetAccount(ctx, id)
}

// Claim atomically reserves n idle accounts chosen uniformly at random.
func (v *Vault) Claim(ctx context.Context, n int) ([]model.Account, error) {
	if n < 1 {
		return nil, errs.Validation("account count must be at least 1, got %d", n)
	}
	got, err := v.accounts.ClaimIdleAccounts(ctx, n, v.sampler)
	if err != nil {
		v.logger.Warn("claim failed", zap.Int("count", n), zap.Error(err))
		return nil, err
	}
	return got, nil
}

// Release returns a claimed account with its final status.
func (v *Vault) Release(ctx context.Context, id string, status model.AccountStatus) error {
	if status == model.AccountBusy {
		return errs.Validation("cannot release account %s as busy", id)
	}
	if err := v.accounts.SetAccountStatus(ctx, id, status); err != nil {
		v.logger.Warn("release account failed", zap.String("account", id), zap.Error(err))
		return err
	}
	return nil
}

// Reveal decrypts the account secret for a single use.
func (v *Vault) Reveal(ctx context.Context, id string) (string, error) {
	acc, err := v.accounts.GetAccount(ctx, id)
	if err != nil {
		return "", err
	}
	if acc.Secret == "" {
		return "", nil
	}
	return v.cipher.Decrypt(acc.Secret)
}

func (v *Vault) Counts(ctx context.Context) (int, map[model.AccountStatus]int, error) {
	return v.accounts.CountAccounts(ctx)
}
