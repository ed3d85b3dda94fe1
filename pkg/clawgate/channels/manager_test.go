package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeChannel is a scripted Channel for manager tests.
type fakeChannel struct {
	name       string
	prefix     string // owns addresses starting with this prefix
	connectErr error

	mu        sync.Mutex
	connected bool
	sent      []string
	incoming  chan *IncomingMessage
}

func newFakeChannel(name, prefix string) *fakeChannel {
	return &fakeChannel{
		name:     name,
		prefix:   prefix,
		incoming: make(chan *IncomingMessage, 8),
	}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.incoming)
	}
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+text)
	return nil
}

func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.incoming }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) OwnsAddress(address string) bool {
	return strings.HasPrefix(address, f.prefix)
}

func TestManagerSendRoutesByOwnership(t *testing.T) {
	t.Parallel()
	wa := newFakeChannel("wa", "wa-")
	tg := newFakeChannel("tg", "tg-")
	m := NewManager(nil)
	m.Register(wa)
	m.Register(tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.Send(ctx, "tg-42", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(wa.sent) != 0 || len(tg.sent) != 1 || tg.sent[0] != "tg-42:hello" {
		t.Errorf("wa.sent=%v tg.sent=%v", wa.sent, tg.sent)
	}
}

func TestManagerSendNoOwner(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.Register(newFakeChannel("wa", "wa-"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	err := m.Send(ctx, "unknown-1", "x")
	if !errors.Is(err, ErrNoChannel) {
		t.Errorf("err = %v, want ErrNoChannel", err)
	}
}

func TestManagerSendDisconnectedOwner(t *testing.T) {
	t.Parallel()
	wa := newFakeChannel("wa", "wa-")
	m := NewManager(nil)
	m.Register(wa)

	// Not started, so the channel never connected.
	err := m.Send(context.Background(), "wa-1", "x")
	if !errors.Is(err, ErrChannelDisconnected) {
		t.Errorf("err = %v, want ErrChannelDisconnected", err)
	}
}

func TestManagerFanIn(t *testing.T) {
	t.Parallel()
	wa := newFakeChannel("wa", "wa-")
	tg := newFakeChannel("tg", "tg-")
	m := NewManager(nil)
	m.Register(wa)
	m.Register(tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wa.incoming <- &IncomingMessage{Channel: "wa", Content: "from wa"}
	tg.incoming <- &IncomingMessage{Channel: "tg", Content: "from tg"}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-m.Incoming():
			got[msg.Channel] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fan-in message")
		}
	}
	if !got["wa"] || !got["tg"] {
		t.Errorf("received = %v", got)
	}
	m.Stop()
}

func TestManagerStartSkipsFailedChannel(t *testing.T) {
	t.Parallel()
	bad := newFakeChannel("bad", "bad-")
	bad.connectErr = errors.New("no network")
	good := newFakeChannel("good", "good-")
	m := NewManager(nil)
	m.Register(bad)
	m.Register(good)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if !good.IsConnected() {
		t.Error("good channel did not come up")
	}
	if err := m.Send(ctx, "good-1", "x"); err != nil {
		t.Errorf("Send via surviving channel: %v", err)
	}
}

func TestManagerStartAllFailed(t *testing.T) {
	t.Parallel()
	bad := newFakeChannel("bad", "bad-")
	bad.connectErr = errors.New("no network")
	m := NewManager(nil)
	m.Register(bad)

	if err := m.Start(context.Background()); err == nil {
		t.Error("expected error when every channel fails to connect")
	}
}
