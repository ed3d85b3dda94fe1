// Package channels defines the interface and types for clawgate communication
// channels. Each channel (WhatsApp, Telegram, the local loopback) implements
// the Channel interface to receive and send text messages in a unified way.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp", "telegram").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the specified address.
	Send(ctx context.Context, to, text string) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// OwnsAddress reports whether an address belongs to this channel's
	// address space (e.g. WhatsApp JIDs, numeric Telegram chat IDs).
	OwnsAddress(address string) bool
}

// IncomingMessage represents a text message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrNoChannel           = errors.New("no channel owns this address")
)
