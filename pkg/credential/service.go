// Package credential binds password hashing, validation codes and the
// persistent user table into the operations the chat server needs.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

var (
	// ErrInvalidCode is returned when a validation code is missing or wrong.
	ErrInvalidCode = errors.New("credential: invalid validation code")
	// ErrUserNotFound is returned when no user has the requested username.
	ErrUserNotFound = errors.New("credential: user not found")
)

// NewUser carries the signup fields. Password is plaintext and is hashed
// before it reaches the store.
type NewUser struct {
	Username    string
	Name        string
	Email       string
	PhoneNumber string
	Password    string
}

// Login is what the login handler needs to know about a stored user.
type Login struct {
	Username     string
	Name         string
	PasswordHash string
	Active       bool
}

// PasswordMatches reports whether password hashes to the stored hash.
// A malformed stored hash never matches.
func (l *Login) PasswordMatches(password string) bool {
	ok, err := crypto.VerifyPassword(l.PasswordHash, password)
	return err == nil && ok
}

// Service is the credential and validation store.
type Service struct {
	store datastore.DataProviderFactory
	codes *CodeStore
}

// NewService creates a Service backed by st with an empty code store.
func NewService(st datastore.DataProviderFactory) *Service {
	return &Service{store: st, codes: NewCodeStore()}
}

// Digest is the deterministic quick-check digest handed to clients.
func (s *Service) Digest(secret string) string {
	return crypto.Digest(secret)
}

// IssueCode creates a validation code for username, overwriting any pending one.
func (s *Service) IssueCode(username string) (string, error) {
	code, err := s.codes.Issue(username)
	if err != nil {
		return "", fmt.Errorf("credential: issue code: %w", err)
	}
	return code, nil
}

// ConsumeCode checks and removes the pending code for username.
func (s *Service) ConsumeCode(username, code string) error {
	return s.codes.Consume(username, code)
}

// RestoreCode returns a consumed code to username when the change it
// guarded could not be stored.
func (s *Service) RestoreCode(username, code string) bool {
	return s.codes.Restore(username, code)
}

// CodePending reports whether username has an unconsumed code.
func (s *Service) CodePending(username string) bool {
	return s.codes.Pending(username)
}

func (s *Service) UserExists(ctx context.Context, username string) (bool, error) {
	u, err := s.store.NonTx().GetUser(ctx, username)
	if err != nil {
		return false, fmt.Errorf("credential: user exists: %w", err)
	}
	return u != nil, nil
}

func (s *Service) EmailInUse(ctx context.Context, email string) (bool, error) {
	u, err := s.store.NonTx().GetUserByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("credential: email in use: %w", err)
	}
	return u != nil, nil
}

// CreateUser persists an inactive user with a hashed password. The
// uniqueness checks and the insert share one transaction; a taken username
// or email yields datastore.ErrDuplicate.
func (s *Service) CreateUser(ctx context.Context, nu NewUser) error {
	hash, err := crypto.HashPassword(nu.Password)
	if err != nil {
		return fmt.Errorf("credential: create user: %w", err)
	}

	tx, err := s.store.Tx(ctx)
	if err != nil {
		return fmt.Errorf("credential: create user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if u, err := tx.GetUser(ctx, nu.Username); err != nil {
		return fmt.Errorf("credential: create user: %w", err)
	} else if u != nil {
		return fmt.Errorf("credential: username %q: %w", nu.Username, datastore.ErrDuplicate)
	}
	if u, err := tx.GetUserByEmail(ctx, nu.Email); err != nil {
		return fmt.Errorf("credential: create user: %w", err)
	} else if u != nil {
		return fmt.Errorf("credential: email %q: %w", nu.Email, datastore.ErrDuplicate)
	}

	err = tx.CreateUser(ctx, &model.User{
		Username:     nu.Username,
		Name:         nu.Name,
		Email:        nu.Email,
		PhoneNumber:  nu.PhoneNumber,
		PasswordHash: hash,
	})
	if err != nil {
		return fmt.Errorf("credential: create user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credential: create user: commit: %w", err)
	}
	return nil
}

// SetActive marks username as activated.
func (s *Service) SetActive(ctx context.Context, username string) error {
	if err := s.store.NonTx().SetActive(ctx, username, true); err != nil {
		return mapNotFound("set active", err)
	}
	return nil
}

// SetPassword hashes password and stores it for username.
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("credential: set password: %w", err)
	}
	if err := s.store.NonTx().SetPasswordHash(ctx, username, hash); err != nil {
		return mapNotFound("set password", err)
	}
	return nil
}

// LookupLogin returns the login view of username or ErrUserNotFound.
func (s *Service) LookupLogin(ctx context.Context, username string) (*Login, error) {
	u, err := s.store.NonTx().GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("credential: lookup login: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return &Login{
		Username:     u.Username,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Active:       u.Active,
	}, nil
}

// Contact returns the display name and email address used for mailing.
func (s *Service) Contact(ctx context.Context, username string) (name, email string, err error) {
	u, err := s.store.NonTx().GetUser(ctx, username)
	if err != nil {
		return "", "", fmt.Errorf("credential: contact: %w", err)
	}
	if u == nil {
		return "", "", ErrUserNotFound
	}
	return u.Name, u.Email, nil
}

func mapNotFound(op string, err error) error {
	if errors.Is(err, datastore.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("credential: %s: %w", op, err)
}
