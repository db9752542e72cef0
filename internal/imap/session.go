// Package imap implements an IMAP4rev1 subset over the message store:
// tagged commands, LOGIN and AUTHENTICATE PLAIN against the credential
// directory, a single INBOX mailbox, and FETCH/SEARCH over the per-session
// message projection loaded at login.
package imap

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mail-bridge/internal/directory"
	"github.com/shineum/mail-bridge/internal/mailbox"
	"github.com/shineum/mail-bridge/internal/store"
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// maxLineLength bounds a single command line.
const maxLineLength = 64 * 1024

// Session represents a single IMAP client connection. The message slice is
// the session's private projection of the store, loaded on login; UIDs are
// assigned per session and are not stable across logins.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	directory *directory.Directory
	store     store.Store
	prefix    string
	domain    string

	authenticated bool
	user          *directory.User
	selected      string
	messages      []mailbox.Message

	// pendingAuthTag is set while an AUTHENTICATE PLAIN continuation is
	// outstanding; the next line is the credential blob, not a command.
	pendingAuthTag string
}

// NewSession creates a new IMAP session for the given connection.
func NewSession(conn net.Conn, dir *directory.Directory, st store.Store, prefix, domain string) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, maxLineLength),
		writer:    bufio.NewWriter(conn),
		directory: dir,
		store:     st,
		prefix:    prefix,
		domain:    domain,
	}
}

// Handle runs the IMAP session, processing commands until the client
// logs out or disconnects.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("* OK IMAP4rev1 %s mail-bridge ready", s.domain)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("* BYE Service shutting down")
			return
		default:
		}

		line, ok := s.readLine()
		if !ok {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if s.pendingAuthTag != "" {
			s.finishAuthenticate(ctx, line)
			continue
		}

		tag, cmd, args := parseCommand(line)
		if tag == "" {
			continue
		}
		if done := s.handleCommand(ctx, tag, cmd, args); done {
			return
		}
	}
}

// readLine reads one CRLF-terminated line, enforcing the idle deadline.
// The reader's buffer caps the line length, so an overlong line is
// rejected without buffering more than maxLineLength bytes.
func (s *Session) readLine() (string, bool) {
	if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
		slog.Error("failed to set connection deadline", "error", err)
		return "", false
	}

	line, isPrefix, err := s.reader.ReadLine()
	if err != nil {
		if err != io.EOF {
			slog.Debug("connection read error", "error", err)
		}
		return "", false
	}
	if isPrefix {
		s.writeLine("* BAD Line too long")
		return "", false
	}

	return string(line), true
}

// handleCommand dispatches one tagged command and returns true if the
// session should end.
func (s *Session) handleCommand(ctx context.Context, tag, cmd, args string) bool {
	switch cmd {
	case "CAPABILITY":
		s.writeLine("* CAPABILITY IMAP4rev1 AUTH=PLAIN AUTH=LOGIN")
		s.writeLine("%s OK CAPABILITY completed", tag)

	case "NOOP":
		s.writeLine("%s OK NOOP completed", tag)

	case "LOGOUT":
		s.writeLine("* BYE IMAP4rev1 Server logging out")
		s.writeLine("%s OK LOGOUT completed", tag)
		return true

	case "LOGIN":
		s.handleLogin(ctx, tag, args)

	case "AUTHENTICATE":
		s.handleAuthenticate(tag, args)

	case "LIST":
		if !s.authenticated {
			s.writeLine("%s NO Not authenticated", tag)
			return false
		}
		s.writeLine(`* LIST (\HasNoChildren) "/" "INBOX"`)
		s.writeLine("%s OK LIST completed", tag)

	case "LSUB":
		if !s.authenticated {
			s.writeLine("%s NO Not authenticated", tag)
			return false
		}
		s.writeLine(`* LSUB (\HasNoChildren) "/" "INBOX"`)
		s.writeLine("%s OK LSUB completed", tag)

	case "SELECT", "EXAMINE":
		s.handleSelect(tag)

	case "STATUS":
		if !s.authenticated {
			s.writeLine("%s NO Not authenticated", tag)
			return false
		}
		n := len(s.messages)
		s.writeLine(`* STATUS "INBOX" (MESSAGES %d RECENT 0 UNSEEN %d)`, n, n)
		s.writeLine("%s OK STATUS completed", tag)

	case "FETCH":
		if !s.authenticated || s.selected == "" {
			s.writeLine("%s NO Not authenticated or no mailbox selected", tag)
			return false
		}
		s.handleFetch(ctx, tag, args, false)

	case "UID":
		s.handleUID(ctx, tag, args)

	case "CLOSE":
		s.selected = ""
		s.writeLine("%s OK CLOSE completed", tag)

	case "EXPUNGE":
		s.writeLine("%s OK EXPUNGE completed", tag)

	case "SEARCH":
		if !s.authenticated {
			s.writeLine("%s NO Not authenticated", tag)
			return false
		}
		s.writeSearchResult(tag)

	default:
		s.writeLine("%s BAD Unknown command", tag)
	}
	return false
}

// handleLogin processes LOGIN <user> <pass>, accepting quoted or bare
// arguments. A successful login loads the user's message projection from
// the store before the tagged OK is sent.
func (s *Session) handleLogin(ctx context.Context, tag, args string) {
	email, password, ok := splitLoginArgs(args)
	if ok {
		if user := s.directory.Authenticate(email, password); user != nil {
			s.login(ctx, user)
			s.writeLine("%s OK LOGIN completed", tag)
			return
		}
	}
	s.writeLine("%s NO LOGIN failed", tag)
}

// handleAuthenticate starts an AUTHENTICATE exchange. Only PLAIN is
// completed; other mechanisms are rejected.
func (s *Session) handleAuthenticate(tag, args string) {
	if strings.ToUpper(strings.TrimSpace(args)) != "PLAIN" {
		s.writeLine("%s NO Unsupported authentication mechanism", tag)
		return
	}
	s.pendingAuthTag = tag
	s.writeLine("+ ")
}

// finishAuthenticate consumes the credential continuation line of a
// pending AUTHENTICATE PLAIN exchange.
func (s *Session) finishAuthenticate(ctx context.Context, line string) {
	tag := s.pendingAuthTag
	s.pendingAuthTag = ""

	if line == "*" {
		s.writeLine("%s BAD Authentication cancelled", tag)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		s.writeLine("%s NO AUTHENTICATE failed", tag)
		return
	}
	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		s.writeLine("%s NO AUTHENTICATE failed", tag)
		return
	}

	user := s.directory.Authenticate(parts[1], parts[2])
	if user == nil {
		s.writeLine("%s NO AUTHENTICATE failed", tag)
		return
	}

	s.login(ctx, user)
	s.writeLine("%s OK AUTHENTICATE completed", tag)
}

// login records the authenticated user and builds the session's message
// projection. Login blocks until the full store scan finishes.
func (s *Session) login(ctx context.Context, user *directory.User) {
	s.authenticated = true
	s.user = user
	s.messages = mailbox.Load(ctx, s.store, s.prefix, user)
	slog.Info("IMAP login",
		"user", user.Email,
		"messages", len(s.messages),
	)
}

// handleSelect processes SELECT and EXAMINE. INBOX is the only mailbox.
func (s *Session) handleSelect(tag string) {
	if !s.authenticated {
		s.writeLine("%s NO Not authenticated", tag)
		return
	}

	s.selected = "INBOX"
	count := len(s.messages)
	recent := 0
	for _, m := range s.messages {
		if m.HasFlag(`\Recent`) {
			recent++
		}
	}

	s.writeLine("* %d EXISTS", count)
	s.writeLine("* %d RECENT", recent)
	s.writeLine("* OK [UIDVALIDITY 1] UIDs valid")
	s.writeLine("* OK [UIDNEXT %d] Predicted next UID", count+1)
	s.writeLine(`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
	s.writeLine(`* OK [PERMANENTFLAGS (\Answered \Flagged \Deleted \Seen \Draft \*)] Limited`)
	s.writeLine("%s OK [READ-WRITE] SELECT completed", tag)
}

// handleUID dispatches the UID-prefixed variants of FETCH and SEARCH.
func (s *Session) handleUID(ctx context.Context, tag, args string) {
	if !s.authenticated {
		s.writeLine("%s NO Not authenticated", tag)
		return
	}

	sub, rest := splitWord(args)
	switch strings.ToUpper(sub) {
	case "FETCH":
		s.handleFetch(ctx, tag, rest, true)
	case "SEARCH":
		s.writeSearchResult(tag)
	default:
		s.writeLine("%s NO UID command not supported", tag)
	}
}

// writeSearchResult emits all session UIDs. Search criteria are not
// evaluated; every message matches.
func (s *Session) writeSearchResult(tag string) {
	uids := make([]string, len(s.messages))
	for i, m := range s.messages {
		uids[i] = strconv.FormatUint(uint64(m.UID), 10)
	}
	s.writeLine("* SEARCH %s", strings.Join(uids, " "))
	s.writeLine("%s OK SEARCH completed", tag)
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	_, err := s.writer.WriteString(line + "\r\n")
	if err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// writeRaw writes a pre-formatted response that may span multiple lines
// and embed literals.
func (s *Session) writeRaw(data string) {
	if _, err := s.writer.WriteString(data); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits "TAG COMMAND [args]" into its parts. The command is
// uppercased; an empty tag means the line was unparseable.
func parseCommand(line string) (tag, cmd, args string) {
	tag, rest := splitWord(line)
	if tag == "" {
		return "", "", ""
	}
	cmd, args = splitWord(rest)
	return tag, strings.ToUpper(cmd), args
}

// splitWord splits off the first space-delimited word.
func splitWord(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeft(s[idx+1:], " ")
}

// splitLoginArgs parses the LOGIN arguments, tolerating optional quotes
// around either argument. A quoted password may contain spaces.
func splitLoginArgs(args string) (email, password string, ok bool) {
	first, rest := splitWord(args)
	if first == "" || rest == "" {
		return "", "", false
	}
	if rest[0] == '"' {
		end := strings.IndexByte(rest[1:], '"')
		if end < 0 {
			return "", "", false
		}
		return unquote(first), rest[1 : 1+end], true
	}
	return unquote(first), rest, true
}

// unquote strips one layer of surrounding double quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
