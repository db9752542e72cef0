// Package smtp implements the SMTP submission server: a per-connection
// session state machine with AUTH, the MAIL/RCPT/DATA lifecycle, and
// relay-backed delivery.
package smtp

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shineum/mail-bridge/internal/directory"
)

// Authenticator verifies SMTP AUTH exchanges against the credential directory.
type Authenticator struct {
	directory *directory.Directory
}

// NewAuthenticator creates an Authenticator backed by the given directory.
func NewAuthenticator(d *directory.Directory) *Authenticator {
	return &Authenticator{directory: d}
}

// VerifyPlain decodes and verifies an AUTH PLAIN response.
// AUTH PLAIN format: base64(authzid\x00authcid\x00password).
// Returns the authenticated user, or an error on any mismatch; unknown
// user and wrong password are not distinguished.
func (a *Authenticator) VerifyPlain(encoded string) (*directory.User, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding")
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid AUTH PLAIN format")
	}

	// parts[0] is the authorization identity (ignored)
	user := a.directory.Authenticate(parts[1], parts[2])
	if user == nil {
		return nil, fmt.Errorf("authentication failed")
	}
	return user, nil
}

// VerifyLogin verifies AUTH LOGIN credentials after the two-step
// challenge-response flow. Both values are base64-encoded.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) (*directory.User, error) {
	userBytes, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 username")
	}

	passBytes, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 password")
	}

	user := a.directory.Authenticate(string(userBytes), string(passBytes))
	if user == nil {
		return nil, fmt.Errorf("authentication failed")
	}
	return user, nil
}
