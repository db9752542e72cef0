package ses

import (
	"context"
	"errors"
	"testing"
	"time"

	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/mail-bridge/internal/email"
)

// mockSESClient implements SendEmailAPI, recording inputs and failing a
// configurable number of times before succeeding.
type mockSESClient struct {
	calls     int
	failFirst int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.calls++
	m.lastInput = params
	if m.calls <= m.failFirst {
		return nil, errors.New("throttled")
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSendSimpleText(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	r := NewWithClient(mock)

	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"rcpt@example.com"},
		Subject:  "Hi",
		TextBody: "plain body",
	}
	if err := r.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	input := mock.lastInput
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("from: got %q", got)
	}
	if input.Content.Simple.Body.Text == nil {
		t.Fatal("expected text body")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "plain body" {
		t.Errorf("text body: got %q", got)
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("html body should not be set for a text submission")
	}
}

func TestSendHTMLSwitchesBody(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	r := NewWithClient(mock)

	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"rcpt@example.com"},
		Subject:  "Hi",
		HtmlBody: "<p>hello</p>",
	}
	if err := r.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if mock.lastInput.Content.Simple.Body.Html == nil {
		t.Fatal("expected html body")
	}
}

func TestSendEmptySubjectPlaceholder(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	r := NewWithClient(mock)

	msg := &email.Email{From: "a@b.c", To: []string{"d@e.f"}, TextBody: "x"}
	if err := r.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := *mock.lastInput.Content.Simple.Subject.Data; got != "(No Subject)" {
		t.Errorf("subject placeholder: got %q", got)
	}
}

func TestSendRetriesExhausted(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{failFirst: maxRetries + 1}
	r := NewWithClient(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	msg := &email.Email{From: "a@b.c", To: []string{"d@e.f"}, TextBody: "x"}
	if err := r.Send(ctx, msg); err == nil {
		t.Error("expected error after exhausted retries")
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	t.Parallel()

	if backoffDelay(0) != baseRetryDelay {
		t.Errorf("attempt 0: got %v", backoffDelay(0))
	}
	if backoffDelay(1) != 2*baseRetryDelay {
		t.Errorf("attempt 1: got %v", backoffDelay(1))
	}
	if backoffDelay(2) != 4*baseRetryDelay {
		t.Errorf("attempt 2: got %v", backoffDelay(2))
	}
}
