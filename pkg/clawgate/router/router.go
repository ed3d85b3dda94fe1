// Package router delivers agent output to chats. It chunks long text to fit
// platform limits, dispatches through the channel manager, and records
// outbound messages in the store.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pmendler/clawgate/pkg/clawgate/store"
)

// maxChunkRunes is the longest message sent in one piece. WhatsApp and
// Telegram both accept 4096; stay under it with room for markers.
const maxChunkRunes = 4000

// Sender dispatches text to the channel owning an address.
type Sender interface {
	Send(ctx context.Context, address, text string) error
	OwnerOf(address string) string
}

// Router implements result delivery for the scheduler and chat replies.
type Router struct {
	sender Sender
	store  *store.Store
	logger *slog.Logger
}

// New creates a Router. store may be nil to skip outbound persistence.
func New(sender Sender, st *store.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sender: sender,
		store:  st,
		logger: logger.With("component", "router"),
	}
}

// Deliver sends text to a chat, splitting it into chunks as needed, and
// persists the outbound message. A persistence failure is logged, not
// returned; the message already reached the user.
func (r *Router) Deliver(chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx := context.Background()
	for i, chunk := range chunkText(text, maxChunkRunes) {
		if err := r.sender.Send(ctx, chatID, chunk); err != nil {
			return fmt.Errorf("delivering chunk %d to %q: %w", i+1, chatID, err)
		}
	}

	if r.store != nil {
		if err := r.store.EnsureChat(chatID, r.sender.OwnerOf(chatID)); err != nil {
			r.logger.Warn("outbound chat record failed", "chat_id", chatID, "error", err)
		} else if err := r.store.AppendMessage(&store.Message{
			ChatID:   chatID,
			Sender:   "agent",
			Content:  text,
			Outbound: true,
		}); err != nil {
			r.logger.Warn("outbound message record failed", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

// chunkText splits text into pieces of at most max runes, preferring to
// break on line boundaries, then on spaces.
func chunkText(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, string(runes))
			break
		}

		cut := max
		window := runes[:max]
		if i := lastIndexRune(window, '\n'); i > 0 {
			cut = i + 1
		} else if i := lastIndexRune(window, ' '); i > 0 {
			cut = i + 1
		}

		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
