// Package email defines the composed-message data model handed to relay backends.
package email

// Email represents a composed outbound message as assembled by the SMTP
// engine at the end of a DATA transaction. Exactly one of TextBody or
// HtmlBody is set, depending on the submission's Content-Type header.
type Email struct {
	From      string
	To        []string
	Subject   string
	TextBody  string
	HtmlBody  string
	MessageID string
}
