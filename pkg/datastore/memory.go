package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

// MemoryStore provides an in-memory DataProviderFactory for tests.
// It mirrors SQLite behavior for validation and uniqueness errors.
// A transaction holds the store's write lock until Commit or Rollback.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	usersByUsername map[string]*model.User
	usernameByEmail map[string]string
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		usersByUsername: make(map[string]*model.User),
		usernameByEmail: make(map[string]string),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// NonTx returns a view that locks per call.
func (s *MemoryStore) NonTx() DataStore {
	return &memoryView{store: s}
}

// Tx locks the store exclusively until the transaction ends.
func (s *MemoryStore) Tx(_ context.Context) (DataStoreTx, error) {
	s.mu.Lock()
	backup := make(map[string]model.User, len(s.usersByUsername))
	for k, u := range s.usersByUsername {
		backup[k] = *u
	}
	return &memoryTx{store: s, backup: backup}, nil
}

// ---- lock-free helpers, caller holds s.mu ----

func (s *MemoryStore) getUser(username string) *model.User {
	u, ok := s.usersByUsername[username]
	if !ok {
		return nil
	}
	copyUser := *u
	return &copyUser
}

func (s *MemoryStore) getUserByEmail(email string) *model.User {
	username, ok := s.usernameByEmail[email]
	if !ok {
		return nil
	}
	return s.getUser(username)
}

func (s *MemoryStore) listUsers() []model.User {
	users := make([]model.User, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (s *MemoryStore) createUser(user *model.User) error {
	if err := model.ValidateUsername(user.Username); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("datastore: create user: %w", model.ErrEmailEmpty)
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("datastore: create user %q: %w", user.Username, ErrDuplicate)
	}
	if _, exists := s.usernameByEmail[user.Email]; exists {
		return fmt.Errorf("datastore: create user %q: %w", user.Username, ErrDuplicate)
	}
	user.CreatedAt = s.now().UTC()
	stored := *user
	s.usersByUsername[user.Username] = &stored
	s.usernameByEmail[user.Email] = user.Username
	return nil
}

func (s *MemoryStore) update(username string, fn func(u *model.User)) error {
	u, ok := s.usersByUsername[username]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (s *MemoryStore) restore(backup map[string]model.User) {
	s.usersByUsername = make(map[string]*model.User, len(backup))
	s.usernameByEmail = make(map[string]string, len(backup))
	for k, u := range backup {
		copyUser := u
		s.usersByUsername[k] = &copyUser
		s.usernameByEmail[u.Email] = k
	}
}

// memoryView is the non-transactional DataStore.
type memoryView struct {
	store *MemoryStore
}

func (v *memoryView) GetUser(_ context.Context, username string) (*model.User, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.store.getUser(username), nil
}

func (v *memoryView) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.store.getUserByEmail(email), nil
}

func (v *memoryView) ListUsers(_ context.Context) ([]model.User, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return v.store.listUsers(), nil
}

func (v *memoryView) CreateUser(_ context.Context, user *model.User) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return v.store.createUser(user)
}

func (v *memoryView) SetActive(_ context.Context, username string, active bool) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if err := v.store.update(username, func(u *model.User) { u.Active = active }); err != nil {
		return fmt.Errorf("datastore: set active: %w", err)
	}
	return nil
}

func (v *memoryView) SetPasswordHash(_ context.Context, username, hash string) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if err := v.store.update(username, func(u *model.User) { u.PasswordHash = hash }); err != nil {
		return fmt.Errorf("datastore: set password: %w", err)
	}
	return nil
}

// memoryTx runs against the store while holding its write lock.
type memoryTx struct {
	store  *MemoryStore
	backup map[string]model.User
	done   bool
}

func (t *memoryTx) GetUser(_ context.Context, username string) (*model.User, error) {
	return t.store.getUser(username), nil
}

func (t *memoryTx) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return t.store.getUserByEmail(email), nil
}

func (t *memoryTx) ListUsers(_ context.Context) ([]model.User, error) {
	return t.store.listUsers(), nil
}

func (t *memoryTx) CreateUser(_ context.Context, user *model.User) error {
	return t.store.createUser(user)
}

func (t *memoryTx) SetActive(_ context.Context, username string, active bool) error {
	if err := t.store.update(username, func(u *model.User) { u.Active = active }); err != nil {
		return fmt.Errorf("datastore: set active: %w", err)
	}
	return nil
}

func (t *memoryTx) SetPasswordHash(_ context.Context, username, hash string) error {
	if err := t.store.update(username, func(u *model.User) { u.PasswordHash = hash }); err != nil {
		return fmt.Errorf("datastore: set password: %w", err)
	}
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("datastore: transaction already finished")
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.restore(t.backup)
	t.store.mu.Unlock()
	return nil
}
