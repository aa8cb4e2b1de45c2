// Package userstore is a file-backed account store usable as a password
// policy for the command console. Accounts live in a JSON file with
// bcrypt password hashes; writes go through a temp-file rename.
package userstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sshexecd/internal/auth"
)

// MinPasswordLength is the shortest password Add and SetPassword accept.
const MinPasswordLength = 4

// Account is one stored user record.
type Account struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"password_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	Enabled      bool       `json:"enabled"`
}

// Store manages accounts with thread-safe operations. It implements
// auth.PasswordPolicy, so it plugs directly into the dispatcher.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	path     string
}

// Open loads the store at path, starting empty when the file does not
// exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		accounts: make(map[string]*Account),
		path:     path,
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("userstore: %s: %w", path, err)
	}
	return s, nil
}

// Add creates an account. The password is stored as a bcrypt hash, never
// in clear.
func (s *Store) Add(username, password string) error {
	if username == "" {
		return fmt.Errorf("userstore: username cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("userstore: password must be at least %d characters", MinPasswordLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return fmt.Errorf("userstore: user %q already exists", username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("userstore: failed to hash password: %w", err)
	}
	s.accounts[username] = &Account{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
		Enabled:      true,
	}
	if err := s.save(); err != nil {
		delete(s.accounts, username)
		return err
	}
	return nil
}

// Remove deletes an account.
func (s *Store) Remove(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; !exists {
		return fmt.Errorf("userstore: user %q does not exist", username)
	}
	delete(s.accounts, username)
	return s.save()
}

// SetPassword replaces an account's password.
func (s *Store) SetPassword(username, password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("userstore: password must be at least %d characters", MinPasswordLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[username]
	if !exists {
		return fmt.Errorf("userstore: user %q does not exist", username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("userstore: failed to hash password: %w", err)
	}
	account.PasswordHash = string(hash)
	return s.save()
}

// SetEnabled enables or disables an account. Disabled accounts fail
// authentication without a bcrypt comparison.
func (s *Store) SetEnabled(username string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[username]
	if !exists {
		return fmt.Errorf("userstore: user %q does not exist", username)
	}
	account.Enabled = enabled
	return s.save()
}

// List returns all usernames in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authenticate verifies a username/password pair against the stored hash
// and records the login time on success.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[username]
	if !exists || !account.Enabled {
		return false
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return false
	}
	now := time.Now()
	account.LastLogin = &now
	// Best effort: a failed save must not fail the login.
	_ = s.save()
	return true
}

// Authorize implements auth.PasswordPolicy.
func (s *Store) Authorize(cred auth.PasswordCredential, d *auth.Decision) {
	d.Resolve(s.Authenticate(cred.Username, cred.Password))
}

// save writes the store to disk. Callers hold the write lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.accounts)
}
