// Package stdout implements a Relay that prints messages to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mail-bridge/internal/email"
)

// Relay prints composed messages to stdout in a human-readable format.
// It is intended for development and debugging.
type Relay struct {
	writer io.Writer
}

// New creates a Relay that writes to os.Stdout.
func New() *Relay {
	return &Relay{writer: os.Stdout}
}

// NewWithWriter creates a Relay that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Relay {
	return &Relay{writer: w}
}

// Send prints the message and always reports success.
func (r *Relay) Send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))

	body := msg.TextBody
	kind := "text"
	if msg.HtmlBody != "" {
		body = msg.HtmlBody
		kind = "html"
	}
	b.WriteString(fmt.Sprintf("Body (%s):\n%s\n", kind, body))
	b.WriteString("========================================\n")

	fmt.Fprint(r.writer, b.String())
	return nil
}

// Name returns the backend name.
func (r *Relay) Name() string {
	return "stdout"
}
