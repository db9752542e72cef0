// Package storerelay implements a Relay that writes accepted messages back
// into the message store under the inbound prefix. It closes the loop for
// single-domain deployments where submitted mail is addressed to local
// mailboxes, mirroring what the provider-side receipt rule does for
// externally received mail.
package storerelay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shineum/mail-bridge/internal/email"
	"github.com/shineum/mail-bridge/internal/store"
)

// Relay composes an RFC 822 rendition of each message and stores it.
type Relay struct {
	store  store.Store
	prefix string
	domain string
}

// New creates a Relay writing under prefix in the given store. The domain
// is used for generated Message-ID values.
func New(s store.Store, prefix, domain string) *Relay {
	return &Relay{store: s, prefix: prefix, domain: domain}
}

// Send renders the message and writes it under a fresh opaque key.
func (r *Relay) Send(ctx context.Context, msg *email.Email) error {
	id, err := newMessageID()
	if err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}

	messageID := msg.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("<%s@%s>", id, r.domain)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)

	body := msg.TextBody
	contentType := "text/plain; charset=UTF-8"
	if msg.HtmlBody != "" {
		body = msg.HtmlBody
		contentType = "text/html; charset=UTF-8"
	}
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(body)

	key := r.prefix + id
	if err := r.store.Put(ctx, key, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// Name returns the backend name.
func (r *Relay) Name() string {
	return "store"
}

// newMessageID returns a random opaque identifier.
func newMessageID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
