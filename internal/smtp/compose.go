package smtp

import (
	"strings"

	"github.com/shineum/mail-bridge/internal/email"
)

// compose builds an outbound message from a completed mail transaction.
// The subject and content type come from the submitted headers; everything
// after the first blank line is the body. A text/html content type selects
// the HTML body slot, anything else the plain-text slot.
func compose(from string, to []string, data string) *email.Email {
	msg := &email.Email{
		From: from,
		To:   append([]string(nil), to...),
	}

	headers, body := splitMessage(data)

	html := false
	for _, line := range headers {
		name, value, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch name {
		case "subject":
			msg.Subject = value
		case "content-type":
			if strings.Contains(strings.ToLower(value), "text/html") {
				html = true
			}
		case "message-id":
			msg.MessageID = value
		}
	}

	if html {
		msg.HtmlBody = body
	} else {
		msg.TextBody = body
	}
	return msg
}

// splitMessage separates the header lines from the body at the first blank line.
func splitMessage(data string) ([]string, string) {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, "\r") == "" {
			headers := lines[:i]
			body := strings.Join(lines[i+1:], "\n")
			return headers, strings.TrimRight(body, "\r\n")
		}
	}
	// No blank line: the whole payload is headers and the body is empty.
	return lines, ""
}

// splitHeader splits "Name: value" into a lowercase name and trimmed value.
func splitHeader(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx < 1 {
		return "", "", false
	}
	name := strings.ToLower(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(strings.TrimRight(line[idx+1:], "\r"))
	return name, value, true
}
