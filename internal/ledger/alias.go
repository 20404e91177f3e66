package ledger

import (
	"context"
	"fmt"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// AliasTable resolves addresses to the effective user their activity rolls up to
type AliasTable struct{}

// NewAliasTable creates the alias table
func NewAliasTable() *AliasTable {
	return &AliasTable{}
}

// EffectiveUser returns the alias target of address, or address itself
func (a *AliasTable) EffectiveUser(ctx context.Context, repo store.Repository, address string) (string, error) {
	address = domain.NormalizeAddress(address)

	alias, err := store.Get[schema.UserAlias](ctx, repo, address)
	if err != nil {
		return "", err
	}
	if alias == nil {
		return address, nil
	}
	return alias.EffectiveUser, nil
}

// SetAlias makes effective the effective user of address. An existing User row of address
// is repointed.
func (a *AliasTable) SetAlias(ctx context.Context, repo store.Repository, address, effective string) error {
	address = domain.NormalizeAddress(address)
	effective = domain.NormalizeAddress(effective)

	if err := repo.Save(ctx, &schema.UserAlias{ID: address, EffectiveUser: effective}); err != nil {
		return err
	}

	user, err := store.Get[schema.User](ctx, repo, address)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	user.EffectiveUser = effective
	return repo.Save(ctx, user)
}

// LoadOrCreateUser returns the user of address, creating it with its effective user
func (a *AliasTable) LoadOrCreateUser(ctx context.Context, repo store.Repository, address string) (*schema.User, error) {
	address = domain.NormalizeAddress(address)

	user, err := store.Get[schema.User](ctx, repo, address)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	effective, err := a.EffectiveUser(ctx, repo, address)
	if err != nil {
		return nil, err
	}

	user = &schema.User{ID: address, EffectiveUser: effective}
	if err := repo.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", address, err)
	}

	return user, nil
}

// UpdateUser applies fn to the user of address and, when different, to its effective user.
// Both rows are saved.
func (a *AliasTable) UpdateUser(ctx context.Context, repo store.Repository, address string, fn func(user *schema.User)) error {
	user, err := a.LoadOrCreateUser(ctx, repo, address)
	if err != nil {
		return err
	}

	fn(user)
	if err := repo.Save(ctx, user); err != nil {
		return err
	}

	if user.EffectiveUser == user.ID {
		return nil
	}

	effective, err := a.LoadOrCreateUser(ctx, repo, user.EffectiveUser)
	if err != nil {
		return err
	}

	fn(effective)
	return repo.Save(ctx, effective)
}
