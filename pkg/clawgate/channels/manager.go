// Package channels – manager.go implements the channel registry that fans in
// incoming messages and dispatches outgoing ones by address ownership.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager holds the registered channels and routes messages between them and
// the rest of the system.
type Manager struct {
	channels []Channel
	incoming chan *IncomingMessage
	logger   *slog.Logger

	mu      sync.Mutex
	fanWg   sync.WaitGroup
	started bool
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		incoming: make(chan *IncomingMessage, 64),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Start connects every registered channel and begins fanning in received
// messages. A channel that fails to connect is logged and skipped; the
// remaining channels still come up.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("channel manager already started")
	}
	m.started = true

	connected := 0
	for _, ch := range m.channels {
		if err := ch.Connect(ctx); err != nil {
			m.logger.Error("channel connect failed", "channel", ch.Name(), "error", err)
			continue
		}
		connected++
		m.logger.Info("channel connected", "channel", ch.Name())

		m.fanWg.Add(1)
		go func(ch Channel) {
			defer m.fanWg.Done()
			for msg := range ch.Receive() {
				select {
				case m.incoming <- msg:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}

	if connected == 0 && len(m.channels) > 0 {
		return fmt.Errorf("no channel could connect")
	}
	return nil
}

// Stop disconnects all channels and closes the incoming stream.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Warn("channel disconnect failed", "channel", ch.Name(), "error", err)
		}
	}
	m.fanWg.Wait()
	close(m.incoming)
}

// Incoming returns the fan-in stream of messages from all channels.
func (m *Manager) Incoming() <-chan *IncomingMessage {
	return m.incoming
}

// Send delivers text to the channel that owns the address. Returns
// ErrNoChannel when no registered channel claims it and
// ErrChannelDisconnected when the owner is offline.
func (m *Manager) Send(ctx context.Context, address, text string) error {
	m.mu.Lock()
	chs := make([]Channel, len(m.channels))
	copy(chs, m.channels)
	m.mu.Unlock()

	for _, ch := range chs {
		if !ch.OwnsAddress(address) {
			continue
		}
		if !ch.IsConnected() {
			return fmt.Errorf("sending to %q via %s: %w", address, ch.Name(), ErrChannelDisconnected)
		}
		return ch.Send(ctx, address, text)
	}
	return fmt.Errorf("sending to %q: %w", address, ErrNoChannel)
}

// OwnerOf returns the name of the channel that owns the address, or "".
func (m *Manager) OwnerOf(address string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch.OwnsAddress(address) {
			return ch.Name()
		}
	}
	return ""
}

// ByName returns the registered channel with the given name, or nil.
func (m *Manager) ByName(name string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch.Name() == name {
			return ch
		}
	}
	return nil
}
