// Package local implements the loopback channel for the host-local main
// chat. Messages are injected programmatically (CLI, tests) and outgoing
// text is written to standard output.
package local

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/channels"
)

// MainChatID is the fixed address of the local main chat.
const MainChatID = "main"

// Config configures the local channel.
type Config struct {
	// Enabled turns the local channel on.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default local channel configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Channel is the loopback implementation of channels.Channel.
type Channel struct {
	out      io.Writer
	incoming chan *channels.IncomingMessage
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
}

// New creates a local channel writing outgoing text to stdout.
func New(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		out:      os.Stdout,
		incoming: make(chan *channels.IncomingMessage, 16),
		logger:   logger.With("channel", "local"),
	}
}

func (c *Channel) Name() string { return "local" }

func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	close(c.incoming)
	return nil
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) OwnsAddress(address string) bool {
	return address == MainChatID
}

// Send writes the text to the local output.
func (c *Channel) Send(ctx context.Context, to, text string) error {
	if !c.IsConnected() {
		return channels.ErrChannelDisconnected
	}
	if to != MainChatID {
		return fmt.Errorf("local channel cannot reach %q", to)
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *Channel) Receive() <-chan *channels.IncomingMessage {
	return c.incoming
}

// Inject queues a message as if the local user had sent it to the main chat.
func (c *Channel) Inject(sender, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return channels.ErrChannelDisconnected
	}
	c.incoming <- &channels.IncomingMessage{
		Channel:   "local",
		From:      sender,
		FromName:  sender,
		ChatID:    MainChatID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	return nil
}
