package store

import (
	"strings"
	"testing"
	"time"
)

func TestUpsertChat(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	c := &Chat{ChatID: "123@s.whatsapp.net", Channel: "whatsapp", Name: "Alice", LastMessageAt: &at}
	if err := s.UpsertChat(c); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}

	// Second upsert with a new name must update, not duplicate.
	c.Name = "Alice B"
	if err := s.UpsertChat(c); err != nil {
		t.Fatalf("UpsertChat again: %v", err)
	}

	var count int
	var name string
	if err := s.db.QueryRow(`SELECT COUNT(*), MAX(name) FROM chats`).Scan(&count, &name); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 || name != "Alice B" {
		t.Errorf("count=%d name=%q", count, name)
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.UpsertChat(&Chat{ChatID: "c1", Channel: "local"}); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := &Message{
			ChatID:    "c1",
			Sender:    "user",
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.RecentMessages("c1", 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Window is the newest three, returned oldest first.
	if msgs[0].Content != "c" || msgs[1].Content != "d" || msgs[2].Content != "e" {
		t.Errorf("window = %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestFormatContext(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	msgs := []*Message{
		{Sender: "123", SenderName: "Alice", Content: "ship it <now>", CreatedAt: at},
		{Sender: "123", Content: "no name here", CreatedAt: at.Add(time.Minute)},
		{Sender: "bot", SenderName: "Bot", Content: "done", Outbound: true, CreatedAt: at.Add(2 * time.Minute)},
	}

	out, err := FormatContext("c1", msgs)
	if err != nil {
		t.Fatalf("FormatContext: %v", err)
	}
	for _, want := range []string{
		`<messages chat="c1">`,
		`sender="Alice"`,
		`sender="123"`,
		`sender="agent"`,
		"ship it &lt;now&gt;",
		`time="2026-04-01T09:00:00.000Z"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAppendMessageRequiresChat(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.AppendMessage(&Message{ChatID: "ghost", Sender: "u", Content: "x"})
	if err == nil {
		t.Error("expected foreign key error for unknown chat")
	}
}
