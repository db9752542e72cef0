package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shineum/mail-bridge/internal/directory"
	"github.com/shineum/mail-bridge/internal/relay"
)

// Session states. The session is in stateAuth while an AUTH
// challenge-response exchange is pending, and in stateData between the
// 354 response and the end-of-data marker.
const (
	stateCommand = iota
	stateAuth
	stateData
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// maxLineLength bounds a single command or data line to keep a broken or
// malicious client from growing the read buffer without limit.
const maxLineLength = 64 * 1024

// maxMessageSize is the size limit advertised in the EHLO response (10 MB).
const maxMessageSize = 10 * 1024 * 1024

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	auth   *Authenticator
	relay  relay.Relay
	domain string

	// TLS support
	tlsConfig *tls.Config
	tlsActive bool

	// Authentication state
	authenticated bool
	user          *directory.User
	pendingMech   string
	pendingUser   string

	// awaitingPassword marks the second step of an AUTH LOGIN exchange,
	// after the username line has been consumed.
	awaitingPassword bool

	// Current transaction
	mailFrom   string
	rcptTo     []string
	dataBuffer strings.Builder
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, auth *Authenticator, rly relay.Relay, domain string, tlsConfig *tls.Config) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, maxLineLength),
		writer:    bufio.NewWriter(conn),
		state:     stateCommand,
		auth:      auth,
		relay:     rly,
		domain:    domain,
		tlsConfig: tlsConfig,
	}
}

// Handle runs the SMTP session, processing lines until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP mail-bridge", s.domain)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		line, ok := s.readLine()
		if !ok {
			return
		}

		switch s.state {
		case stateData:
			s.handleDataLine(ctx, line)
		case stateAuth:
			s.handleAuthLine(line)
		default:
			if line == "" {
				continue
			}
			cmd, arg := parseCommand(line)
			if done := s.handleCommand(cmd, arg); done {
				return
			}
		}
	}
}

// readLine reads one CRLF-terminated line, enforcing the idle deadline and
// the line-length bound. The reader's buffer caps the line length, so an
// overlong line is rejected without buffering more than maxLineLength bytes.
// It returns false when the session should end.
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
		s.writeLine("500 Line too long")
		return "", false
	}

	return string(line), true
}

// handleCommand processes a single SMTP command and returns true if the
// session should end.
func (s *Session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO":
		s.handleEHLO(arg)
	case "HELO":
		s.writeLine("250 %s Hello", s.domain)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 %s Bye", s.domain)
		return true
	default:
		s.writeLine("502 Command not implemented")
	}
	return false
}

// handleEHLO advertises the server's capabilities. Greeting always succeeds.
func (s *Session) handleEHLO(arg string) {
	if arg != "" {
		s.writeLine("250-%s Hello %s", s.domain, arg)
	} else {
		s.writeLine("250-%s Hello", s.domain)
	}
	s.writeLine("250-SIZE %d", maxMessageSize)
	s.writeLine("250-AUTH PLAIN LOGIN")
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection to TLS.
func (s *Session) handleSTARTTLS() {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReaderSize(tlsConn, maxLineLength)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
}

// handleAUTH starts an AUTH PLAIN or AUTH LOGIN exchange. PLAIN may carry
// the credentials inline; otherwise the session enters the auth state and
// consumes the continuation line(s).
func (s *Session) handleAUTH(arg string) {
	parts := strings.SplitN(arg, " ", 2)
	mechanism := strings.ToUpper(parts[0])

	switch mechanism {
	case "PLAIN":
		if len(parts) > 1 && parts[1] != "" {
			s.finishAuthPlain(parts[1])
			return
		}
		s.state = stateAuth
		s.pendingMech = "PLAIN"
		s.writeLine("334 ")
	case "LOGIN":
		s.state = stateAuth
		s.pendingMech = "LOGIN"
		s.pendingUser = ""
		s.awaitingPassword = false
		// Base64 "Username:"
		s.writeLine("334 VXNlcm5hbWU6")
	default:
		s.writeLine("504 Unrecognized authentication type")
	}
}

// handleAuthLine consumes one continuation line of a pending AUTH exchange.
func (s *Session) handleAuthLine(line string) {
	if line == "*" {
		s.state = stateCommand
		s.pendingMech = ""
		s.pendingUser = ""
		s.awaitingPassword = false
		s.writeLine("501 Authentication cancelled")
		return
	}

	switch s.pendingMech {
	case "PLAIN":
		s.state = stateCommand
		s.finishAuthPlain(line)
	case "LOGIN":
		if !s.awaitingPassword {
			s.pendingUser = line
			s.awaitingPassword = true
			// Base64 "Password:"
			s.writeLine("334 UGFzc3dvcmQ6")
			return
		}
		s.state = stateCommand
		user, err := s.auth.VerifyLogin(s.pendingUser, line)
		s.pendingUser = ""
		s.awaitingPassword = false
		s.finishAuth(user, err)
	default:
		s.state = stateCommand
		s.writeLine("535 Authentication failed")
	}
}

// finishAuthPlain verifies an AUTH PLAIN credential blob.
func (s *Session) finishAuthPlain(encoded string) {
	user, err := s.auth.VerifyPlain(encoded)
	s.finishAuth(user, err)
}

// finishAuth records the outcome of an AUTH exchange.
func (s *Session) finishAuth(user *directory.User, err error) {
	s.pendingMech = ""
	if err != nil {
		slog.Debug("SMTP authentication failed", "error", err)
		s.writeLine("535 Authentication failed")
		return
	}
	s.authenticated = true
	s.user = user
	slog.Info("SMTP authentication successful", "user", user.Email)
	s.writeLine("235 Authentication successful")
}

// handleMAIL processes the MAIL FROM command.
func (s *Session) handleMAIL(arg string) {
	if !s.authenticated {
		s.writeLine("530 Authentication required")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr := extractAddress(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.dataBuffer.Reset()
	s.writeLine("250 Sender OK")
}

// handleRCPT processes the RCPT TO command.
func (s *Session) handleRCPT(arg string) {
	if s.mailFrom == "" {
		s.writeLine("503 Need MAIL command first")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.writeLine("250 Recipient OK")
}

// handleDATA enters the data state.
func (s *Session) handleDATA() {
	if len(s.rcptTo) == 0 {
		s.writeLine("503 Need RCPT command first")
		return
	}

	s.state = stateData
	s.dataBuffer.Reset()
	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")
}

// handleDataLine accumulates one body line or, on the lone-dot terminator,
// composes the message and hands it to the relay. The transaction is
// cleared regardless of the relay outcome.
func (s *Session) handleDataLine(ctx context.Context, line string) {
	if line == "." {
		s.state = stateCommand
		msg := compose(s.mailFrom, s.rcptTo, s.dataBuffer.String())
		err := s.relay.Send(ctx, msg)
		s.resetTransaction()

		if err != nil {
			slog.Error("relay send failed",
				"relay", s.relay.Name(),
				"error", err,
			)
			s.writeLine("550 Failed to send message")
			return
		}
		s.writeLine("250 OK Message queued")
		return
	}

	// Dot-stuffing: strip one leading dot from ".."-prefixed lines.
	if strings.HasPrefix(line, "..") {
		line = line[1:]
	}
	s.dataBuffer.WriteString(line)
	s.dataBuffer.WriteString("\r\n")
}

// resetTransaction clears the current mail transaction without affecting
// the authenticated state.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	s.dataBuffer.Reset()
	s.state = stateCommand
	s.pendingMech = ""
	s.pendingUser = ""
	s.awaitingPassword = false
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

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// accepting both "<user@host>" and bare "user@host" forms.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 1 {
			return ""
		}
		return s[1:end]
	}
	return s
}
