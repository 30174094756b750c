package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

// ErrDuplicate is returned when an insert violates the username or email
// uniqueness constraint.
var ErrDuplicate = errors.New("datastore: duplicate user")

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("datastore: user not found")

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for the user table.
// Implementations include the default SQLite store and an in-memory store
// for tests.
type DataStore interface {
	UserReadProvider
	UserWriteProvider
}

// Compile-time checks.
var _ DataProviderFactory = (*ProviderFactory)(nil)
var _ DataProviderFactory = (*MemoryStore)(nil)

type UserReadProvider interface {
	// GetUser returns (nil, nil) when no user has that username.
	GetUser(ctx context.Context, username string) (*model.User, error)
	// GetUserByEmail returns (nil, nil) when no user has that email.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type UserWriteProvider interface {
	CreateUser(ctx context.Context, user *model.User) error
	SetActive(ctx context.Context, username string, active bool) error
	SetPasswordHash(ctx context.Context, username, hash string) error
}
