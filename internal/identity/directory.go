package identity

import (
	"context"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

// Directory is the read side of the identity provider.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

type userStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// StoreDirectory serves profiles mirrored into the entity store's users
// collection.
type StoreDirectory struct {
	store userStore
}

func NewStoreDirectory(store userStore) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (d *StoreDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return d.store.GetUser(ctx, userID)
}

func (d *StoreDirectory) ListUsers(ctx context.Context) ([]domain.User, error) {
	return d.store.ListUsers(ctx)
}
