package credential

import (
	"crypto/subtle"
	"sync"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
)

// CodeStore holds at most one pending validation code per username.
// Codes live until consumed or replaced by a newer Issue.
type CodeStore struct {
	mu       sync.Mutex
	pending  map[string]string
	generate func() (string, error)
}

// NewCodeStore creates an empty code store drawing codes from crypto/rand.
func NewCodeStore() *CodeStore {
	return &CodeStore{
		pending:  make(map[string]string),
		generate: crypto.GenerateCode,
	}
}

// Issue generates a fresh code for username, replacing any pending one.
func (c *CodeStore) Issue(username string) (string, error) {
	code, err := c.generate()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.pending[username] = code
	c.mu.Unlock()
	return code, nil
}

// Consume removes the pending code for username if it equals code.
// It returns ErrInvalidCode when nothing is pending or the code differs;
// a mismatch leaves the pending code in place.
func (c *CodeStore) Consume(username, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	want, ok := c.pending[username]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		return ErrInvalidCode
	}
	delete(c.pending, username)
	return nil
}

// Restore puts a consumed code back for username unless a newer one has
// been issued since. It reports whether the code is pending again.
func (c *CodeStore) Restore(username, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[username]; ok {
		return false
	}
	c.pending[username] = code
	return true
}

// Pending reports whether username has an unconsumed code.
func (c *CodeStore) Pending(username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[username]
	return ok
}
