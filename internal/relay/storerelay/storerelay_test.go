package storerelay

import (
	"context"
	"strings"
	"testing"

	"github.com/shineum/mail-bridge/internal/email"
	"github.com/shineum/mail-bridge/internal/store"
)

func TestSendStoresUnderPrefix(t *testing.T) {
	t.Parallel()

	mem := store.NewMem()
	r := New(mem, "incoming/", "example.com")
	ctx := context.Background()

	msg := &email.Email{
		From:     "bob@example.com",
		To:       []string{"alice@example.com"},
		Subject:  "Lunch",
		TextBody: "noon?",
	}
	if err := r.Send(ctx, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	objects, err := mem.List(ctx, "incoming/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("got %d objects, want 1", len(objects))
	}

	raw, err := mem.Get(ctx, objects[0].Key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	content := string(raw)

	for _, want := range []string{
		"From: bob@example.com",
		"To: alice@example.com",
		"Subject: Lunch",
		"Message-ID: <",
		"@example.com>",
		"Content-Type: text/plain",
		"\r\n\r\nnoon?",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("stored message missing %q:\n%s", want, content)
		}
	}
}

func TestSendHTMLContentType(t *testing.T) {
	t.Parallel()

	mem := store.NewMem()
	r := New(mem, "incoming/", "example.com")
	ctx := context.Background()

	msg := &email.Email{
		From:     "bob@example.com",
		To:       []string{"alice@example.com"},
		HtmlBody: "<p>hi</p>",
	}
	if err := r.Send(ctx, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	objects, _ := mem.List(ctx, "incoming/")
	raw, _ := mem.Get(ctx, objects[0].Key)
	if !strings.Contains(string(raw), "Content-Type: text/html") {
		t.Errorf("expected html content type:\n%s", raw)
	}
}

func TestSendDistinctKeys(t *testing.T) {
	t.Parallel()

	mem := store.NewMem()
	r := New(mem, "incoming/", "example.com")
	ctx := context.Background()

	msg := &email.Email{From: "a@b.c", To: []string{"d@e.f"}, TextBody: "x"}
	for i := 0; i < 3; i++ {
		if err := r.Send(ctx, msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if mem.Len() != 3 {
		t.Errorf("got %d objects, want 3 distinct keys", mem.Len())
	}
}
