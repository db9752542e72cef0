// Package directory implements the credential directory shared by the IMAP
// and SMTP engines: an in-memory map from normalized email address to a
// bcrypt password hash and derived mailbox name.
package directory

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// User is an immutable directory entry. Mailbox is the local part of the
// address and doubles as the user's inbox name when filtering stored mail.
type User struct {
	Email        string
	PasswordHash string
	Mailbox      string
}

// Directory maps lowercased email addresses to users. Writes happen at
// provisioning time only; lookups are safe for concurrent use by sessions.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		users: make(map[string]*User),
	}
}

// Add provisions a user. The password is stored as a bcrypt hash and the
// mailbox name is derived from the local part of the address.
func (d *Directory) Add(address, password string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || !strings.Contains(address, "@") {
		return fmt.Errorf("invalid email address %q", address)
	}
	if password == "" {
		return fmt.Errorf("empty password for %s", address)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[address] = &User{
		Email:        address,
		PasswordHash: string(hash),
		Mailbox:      strings.SplitN(address, "@", 2)[0],
	}
	return nil
}

// Authenticate verifies credentials and returns the matching user, or nil
// on any mismatch. Unknown user and wrong password are not distinguished.
func (d *Directory) Authenticate(address, password string) *User {
	d.mu.RLock()
	user := d.users[strings.ToLower(strings.TrimSpace(address))]
	d.mu.RUnlock()

	if user == nil {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil
	}
	return user
}

// Len returns the number of provisioned users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
