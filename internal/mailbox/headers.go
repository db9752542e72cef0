package mailbox

import "strings"

// maxHeaderLines bounds the header scan on malformed messages that never
// reach a blank line.
const maxHeaderLines = 100

// maxHeaderBytes is the fallback size of the header section when a message
// contains no blank line.
const maxHeaderBytes = 1000

// Headers holds the few message headers the bridge cares about. Absent
// headers stay empty strings.
type Headers struct {
	From      string
	To        string
	Subject   string
	Date      string
	MessageID string
}

// ParseHeaders scans the first lines of a raw message for the recognized
// headers, stopping at the first blank line. Matching is a case-insensitive
// prefix check; folded continuation lines are not joined.
func ParseHeaders(raw string) Headers {
	var h Headers

	lines := strings.Split(raw, "\n")
	if len(lines) > maxHeaderLines {
		lines = lines[:maxHeaderLines]
	}

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			break
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "from:"):
			h.From = strings.TrimSpace(line[5:])
		case strings.HasPrefix(lower, "to:"):
			h.To = strings.TrimSpace(line[3:])
		case strings.HasPrefix(lower, "subject:"):
			h.Subject = strings.TrimSpace(line[8:])
		case strings.HasPrefix(lower, "date:"):
			h.Date = strings.TrimSpace(line[5:])
		case strings.HasPrefix(lower, "message-id:"):
			h.MessageID = strings.TrimSpace(line[11:])
		}
	}

	return h
}

// HeaderSection returns the raw bytes up to and including the first blank
// line, or the first 1000 bytes when the message has no blank line.
func HeaderSection(raw string) string {
	if idx := strings.Index(raw, "\r\n\r\n"); idx >= 0 {
		return raw[:idx+4]
	}
	if len(raw) > maxHeaderBytes {
		return raw[:maxHeaderBytes]
	}
	return raw
}
