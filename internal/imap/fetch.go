package imap

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shineum/mail-bridge/internal/mailbox"
)

// internalDateLayout renders INTERNALDATE in the fixed-offset UTC form.
const internalDateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// seqSetPattern accepts the recognized sequence-set forms: a single
// number, an open range "n:*", or "*". Arbitrary ranges and lists are
// not parsed.
var seqSetPattern = regexp.MustCompile(`^(\d+|\d+:\*|\*)$`)

// handleFetch processes FETCH and UID FETCH. Items are matched by keyword
// and rendered cumulatively; one untagged FETCH line is emitted per
// message the session holds.
func (s *Session) handleFetch(ctx context.Context, tag, args string, useUID bool) {
	seqSet, items := splitWord(args)
	items = strings.TrimSpace(items)
	if strings.HasPrefix(items, "(") && strings.HasSuffix(items, ")") {
		items = items[1 : len(items)-1]
	}
	if !seqSetPattern.MatchString(seqSet) || items == "" {
		s.writeLine("%s BAD Invalid FETCH arguments", tag)
		return
	}

	fetchItems := strings.ToUpper(items)

	var b strings.Builder
	for i := range s.messages {
		msg := &s.messages[i]
		b.WriteString(fmt.Sprintf("* %d FETCH (", msg.UID))
		b.WriteString(strings.Join(s.renderItems(ctx, msg, fetchItems, useUID), " "))
		b.WriteString(")\r\n")
	}
	b.WriteString(fmt.Sprintf("%s OK FETCH completed\r\n", tag))
	s.writeRaw(b.String())
}

// renderItems renders the requested FETCH items for one message. The UID
// variant always carries a UID item, whether or not the client asked for it.
func (s *Session) renderItems(ctx context.Context, msg *mailbox.Message, fetchItems string, useUID bool) []string {
	var parts []string

	if useUID || strings.Contains(fetchItems, "UID") {
		parts = append(parts, fmt.Sprintf("UID %d", msg.UID))
	}

	if strings.Contains(fetchItems, "FLAGS") {
		parts = append(parts, fmt.Sprintf("FLAGS (%s)", strings.Join(msg.Flags, " ")))
	}

	if strings.Contains(fetchItems, "INTERNALDATE") {
		date := msg.InternalDate.UTC().Format(internalDateLayout)
		parts = append(parts, fmt.Sprintf("INTERNALDATE %q", date))
	}

	if strings.Contains(fetchItems, "RFC822.SIZE") ||
		strings.Contains(fetchItems, "BODY") ||
		strings.Contains(fetchItems, "ENVELOPE") {
		parts = append(parts, fmt.Sprintf("RFC822.SIZE %d", msg.Size))
	}

	if strings.Contains(fetchItems, "ENVELOPE") {
		parts = append(parts, "ENVELOPE ("+envelope(msg)+")")
	}

	if strings.Contains(fetchItems, "BODY[]") || strings.Contains(fetchItems, "RFC822") {
		parts = append(parts, s.literalItem(ctx, msg, "BODY[]", func(raw string) string {
			return raw
		}))
	}

	if strings.Contains(fetchItems, "BODY[HEADER]") || strings.Contains(fetchItems, "BODY.PEEK[HEADER]") {
		parts = append(parts, s.literalItem(ctx, msg, "BODY[HEADER]", mailbox.HeaderSection))
	}

	if strings.Contains(fetchItems, "BODYSTRUCTURE") {
		lines := (msg.Size + 79) / 80
		parts = append(parts, fmt.Sprintf(
			`BODYSTRUCTURE ("TEXT" "PLAIN" ("CHARSET" "UTF-8") NIL NIL "7BIT" %d %d NIL NIL NIL NIL)`,
			msg.Size, lines,
		))
	}

	return parts
}

// literalItem fetches the raw object and renders one literal-valued item,
// applying extract to select the returned bytes. A store read failure
// degrades to an empty literal instead of failing the FETCH.
func (s *Session) literalItem(ctx context.Context, msg *mailbox.Message, name string, extract func(string) string) string {
	raw, err := s.store.Get(ctx, msg.Key)
	if err != nil {
		slog.Warn("failed to read message for FETCH",
			"key", msg.Key,
			"error", err,
		)
		return name + " {0}\r\n"
	}
	content := extract(string(raw))
	return fmt.Sprintf("%s {%d}\r\n%s", name, len(content), content)
}

// envelope renders the ENVELOPE structure from the parsed headers.
// Missing fields render as empty quoted strings rather than NIL, matching
// the wire behavior clients of this server already rely on.
func envelope(msg *mailbox.Message) string {
	fromLocal, fromDomain := splitAddress(msg.Headers.From)
	toLocal, toDomain := splitAddress(msg.Headers.To)

	from := fmt.Sprintf("((NIL NIL %q %q))", fromLocal, fromDomain)
	to := fmt.Sprintf("((NIL NIL %q %q))", toLocal, toDomain)

	fields := []string{
		fmt.Sprintf("%q", msg.Headers.Date),
		fmt.Sprintf("%q", msg.Headers.Subject),
		from, // from
		from, // sender
		from, // reply-to
		to,
		"NIL", // cc
		"NIL", // bcc
		"NIL", // in-reply-to
		fmt.Sprintf("%q", msg.Headers.MessageID),
	}
	return strings.Join(fields, " ")
}

// splitAddress splits an address on its first "@". Either part may be
// empty when the header is missing or malformed.
func splitAddress(addr string) (local, domain string) {
	idx := strings.Index(addr, "@")
	if idx < 0 {
		return addr, ""
	}
	return addr[:idx], addr[idx+1:]
}
