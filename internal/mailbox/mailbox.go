// Package mailbox builds the per-session message projection the IMAP
// engine serves: a scan over the stored raw messages, filtered by
// recipient, with session-local UIDs assigned in listing order.
package mailbox

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/mail-bridge/internal/directory"
	"github.com/shineum/mail-bridge/internal/store"
)

// setupNotificationMarker identifies the provider's setup artifact stored
// alongside real mail; it is never part of a mailbox.
const setupNotificationMarker = "AMAZON_SES_SETUP_NOTIFICATION"

// recentFlag is the initial flag set for every projected message.
const recentFlag = `\Recent`

// Message is one projected message. UIDs are 1-based, assigned in listing
// order, and local to the session that loaded them: a later login may
// renumber. Sequence number and UID therefore coincide.
type Message struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Size         int64
	Key          string
	Headers      Headers
}

// HasFlag reports whether the message carries the given flag.
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Load scans all objects under prefix and returns the messages addressed
// to the given user, in listing order with UIDs starting at 1.
//
// A message is retained when its To header contains the user's address or
// mailbox name as a substring. Objects that cannot be read are skipped;
// a listing failure yields an empty mailbox rather than an error so that
// a degraded store never takes the session down.
func Load(ctx context.Context, s store.Store, prefix string, user *directory.User) []Message {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		slog.Error("failed to list mailbox objects",
			"prefix", prefix,
			"user", user.Email,
			"error", err,
		)
		return nil
	}

	var messages []Message
	uid := uint32(1)

	for _, obj := range objects {
		if strings.Contains(obj.Key, setupNotificationMarker) {
			continue
		}

		raw, err := s.Get(ctx, obj.Key)
		if err != nil {
			slog.Debug("skipping unreadable object", "key", obj.Key, "error", err)
			continue
		}

		headers := ParseHeaders(string(raw))
		if !addressedTo(headers.To, user) {
			continue
		}

		messages = append(messages, Message{
			UID:          uid,
			Flags:        []string{recentFlag},
			InternalDate: obj.LastModified,
			Size:         obj.Size,
			Key:          obj.Key,
			Headers:      headers,
		})
		uid++
	}

	slog.Debug("loaded mailbox projection",
		"user", user.Email,
		"messages", len(messages),
	)
	return messages
}

// addressedTo reports whether the To header names the user. The match is
// a substring check against the full address and the mailbox local part.
func addressedTo(toHeader string, user *directory.User) bool {
	to := strings.ToLower(toHeader)
	return strings.Contains(to, user.Email) || strings.Contains(to, user.Mailbox)
}
