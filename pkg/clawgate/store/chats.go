// Package store – chats.go implements chat/message persistence and the XML
// rendering of recent conversation history used as agent prompt context.
package store

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Chat is one known conversation on some channel.
type Chat struct {
	ChatID        string
	Channel       string
	Name          string
	LastMessageAt *time.Time
}

// Message is one stored chat message.
type Message struct {
	ID         int64
	ChatID     string
	Sender     string
	SenderName string
	Content    string
	Outbound   bool
	CreatedAt  time.Time
}

// UpsertChat records a chat, updating its name and last-message time.
func (s *Store) UpsertChat(c *Chat) error {
	_, err := s.db.Exec(`
		INSERT INTO chats (chat_id, channel, name, last_message_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			name = excluded.name,
			last_message_at = excluded.last_message_at`,
		c.ChatID, c.Channel, c.Name, nullableTime(c.LastMessageAt))
	if err != nil {
		return fmt.Errorf("upsert chat %q: %w", c.ChatID, err)
	}
	return nil
}

// EnsureChat inserts a chat row if absent, leaving existing rows untouched.
func (s *Store) EnsureChat(chatID, channel string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO chats (chat_id, channel, name) VALUES (?, ?, '')`,
		chatID, channel)
	if err != nil {
		return fmt.Errorf("ensure chat %q: %w", chatID, err)
	}
	return nil
}

// AppendMessage stores one message. The chat row must exist.
func (s *Store) AppendMessage(m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO messages (chat_id, sender, sender_name, content, is_outbound, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.Sender, m.SenderName, m.Content, boolToInt(m.Outbound), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message to %q: %w", m.ChatID, err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// RecentMessages returns the latest messages for a chat in chronological
// order (oldest of the window first).
func (s *Store) RecentMessages(chatID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, sender, sender_name, content, is_outbound, created_at
		FROM (
			SELECT id, chat_id, sender, sender_name, content, is_outbound, created_at
			FROM messages WHERE chat_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages for %q: %w", chatID, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			m        Message
			outbound int
			created  string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.SenderName, &m.Content, &outbound, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Outbound = outbound != 0
		m.CreatedAt, _ = parseTime(created)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// xmlMessage is the context rendering of one message.
type xmlMessage struct {
	XMLName xml.Name `xml:"message"`
	Sender  string   `xml:"sender,attr"`
	Time    string   `xml:"time,attr"`
	Content string   `xml:",chardata"`
}

// xmlMessages is the context rendering of one chat window.
type xmlMessages struct {
	XMLName  xml.Name     `xml:"messages"`
	ChatID   string       `xml:"chat,attr"`
	Messages []xmlMessage `xml:"message"`
}

// FormatContext renders messages as the XML conversation context embedded in
// agent prompts. Sender names fall back to the raw sender address; outbound
// messages are attributed to the agent.
func FormatContext(chatID string, msgs []*Message) (string, error) {
	doc := xmlMessages{ChatID: chatID}
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = m.Sender
		}
		if m.Outbound {
			sender = "agent"
		}
		doc.Messages = append(doc.Messages, xmlMessage{
			Sender:  sender,
			Time:    formatTime(m.CreatedAt),
			Content: m.Content,
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering context: %w", err)
	}
	return string(out), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
