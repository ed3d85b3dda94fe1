// Package whatsapp implements the WhatsApp channel for clawgate on top of
// whatsmeow. Session state lives in a dedicated SQLite database; first login
// surfaces a QR code, later starts reuse the stored device.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.

	"github.com/pmendler/clawgate/pkg/clawgate/channels"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// Enabled turns the WhatsApp channel on.
	Enabled bool `yaml:"enabled"`

	// SessionDir is the directory for session persistence (SQLite).
	SessionDir string `yaml:"session_dir"`

	// AllowedJIDs restricts which sender JIDs the bot listens to.
	// Empty means listen to all chats.
	AllowedJIDs []string `yaml:"allowed_jids"`

	// RespondToGroups enables receiving from group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// RespondToDMs enables receiving from direct messages.
	RespondToDMs bool `yaml:"respond_to_dms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:      "./sessions/whatsapp",
		RespondToGroups: true,
		RespondToDMs:    true,
	}
}

// WhatsApp implements channels.Channel.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// messages is the channel for incoming messages.
	messages chan *channels.IncomingMessage

	connected atomic.Bool

	// messagesClosed guards against emitting on a closed channel.
	messagesClosed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection via whatsmeow. With no
// stored session the QR login runs in the background so startup is not
// blocked; the code is printed to the log for scanning.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := os.MkdirAll(w.cfg.SessionDir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	dbPath := filepath.Join(w.cfg.SessionDir, "whatsapp.db")
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	// Device name shown in the WhatsApp linked devices list.
	wastore.SetOSInfo("Clawgate", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.logger.Info("whatsapp: no existing session, QR scan required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR login pending", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)", "jid", w.client.Store.ID.String())
	return nil
}

// Disconnect gracefully closes the WhatsApp connection.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Send sends a text message to the specified JID.
func (w *WhatsApp) Send(ctx context.Context, to, text string) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}
	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// OwnsAddress reports whether the address is a WhatsApp JID
// (user@s.whatsapp.net or group@g.us) or a bare phone number.
func (w *WhatsApp) OwnsAddress(address string) bool {
	if strings.HasSuffix(address, "@s.whatsapp.net") || strings.HasSuffix(address, "@g.us") {
		return true
	}
	if strings.Contains(address, "@") {
		return false
	}
	_, err := parseJID(address)
	return err == nil
}

// ---------- Internal ----------

// getDevice reuses the first stored device or creates a fresh one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*wastore.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR runs the QR pairing flow, logging each code for scanning.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp: scan QR code to link device", "code", evt.Code)
			case "success":
				w.connected.Store(true)
				w.logger.Info("whatsapp: login successful")
				return nil
			case "timeout":
				w.logger.Warn("whatsapp: QR code expired")
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %v", evt.Error)
				}
			}
		}
	}
}

// handleEvent dispatches whatsmeow events.
func (w *WhatsApp) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessageEvt(e)
	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("whatsapp: connection established")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out remotely, session invalid")
	}
}

// handleMessageEvt converts an incoming WhatsApp message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	isGroup := evt.Info.IsGroup
	if isGroup && !w.cfg.RespondToGroups {
		return
	}
	if !isGroup && !w.cfg.RespondToDMs {
		return
	}

	sender := evt.Info.Sender.String()
	if len(w.cfg.AllowedJIDs) > 0 {
		allowed := false
		for _, jid := range w.cfg.AllowedJIDs {
			if jid == sender {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
	}

	content := extractText(evt.Message)
	if content == "" {
		return
	}

	w.emitMessage(&channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      sender,
		FromName:  evt.Info.PushName,
		ChatID:    evt.Info.Chat.String(),
		IsGroup:   isGroup,
		Content:   content,
		Timestamp: evt.Info.Timestamp,
	})
}

// extractText pulls the text content from a WhatsApp message.
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if waMsg.Conversation != nil {
		return waMsg.GetConversation()
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// emitMessage sends a message to the incoming messages channel.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	if w.messagesClosed.Load() {
		return
	}
	select {
	case w.messages <- msg:
	case <-w.ctx.Done():
	default:
		w.logger.Warn("whatsapp: message buffer full, dropping message", "from", msg.From)
	}
}

// parseJID converts a string to types.JID. Accepts full JIDs
// ("5511999999999@s.whatsapp.net", "123-456@g.us") and bare phone numbers.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// Compile-time interface verification.
var _ channels.Channel = (*WhatsApp)(nil)
