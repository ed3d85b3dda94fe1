// Package commands – serve.go wires and runs the clawgate daemon.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmendler/clawgate/pkg/clawgate/agent"
	"github.com/pmendler/clawgate/pkg/clawgate/channels"
	"github.com/pmendler/clawgate/pkg/clawgate/channels/local"
	"github.com/pmendler/clawgate/pkg/clawgate/channels/telegram"
	"github.com/pmendler/clawgate/pkg/clawgate/channels/whatsapp"
	"github.com/pmendler/clawgate/pkg/clawgate/router"
	"github.com/pmendler/clawgate/pkg/clawgate/scheduler"
	"github.com/pmendler/clawgate/pkg/clawgate/store"
)

// newServeCmd creates the `clawgate serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with channels, agent runtime, and scheduler",
		Long: `Start clawgate as a daemon: connects the enabled channels, opens the
task store, and runs the scheduler until interrupted.

Examples:
  clawgate serve
  clawgate serve --config ./clawgate.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	runner, err := agent.NewRunner(cfg.Agent, cfg.GroupsDir, logger)
	if err != nil {
		return fmt.Errorf("creating agent runner: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := channels.NewManager(logger)
	if cfg.Channels.Local.Enabled {
		manager.Register(local.New(logger))
	}
	if cfg.Channels.WhatsApp.Enabled {
		manager.Register(whatsapp.New(cfg.Channels.WhatsApp, logger))
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		manager.Register(telegram.New(cfg.Channels.Telegram, logger))
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	rt := router.New(manager, st, logger)

	sched := scheduler.New(st, runner, rt, cfg.Scheduler.PollInterval, logger)
	sched.Start(ctx)

	gw := &gateway{
		store:           st,
		runner:          runner,
		router:          rt,
		logger:          logger.With("component", "gateway"),
		contextMessages: cfg.Scheduler.ContextMessages,
		sessions:        make(map[string]string),
		inFlight:        make(map[string]bool),
	}
	go gw.consume(ctx, manager.Incoming())

	logger.Info("clawgate running, press Ctrl+C to stop",
		"database", cfg.Database.Path,
		"groups_dir", cfg.GroupsDir,
		"agent_image", cfg.Agent.Image,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		manager.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}
	return nil
}

// gateway bridges inbound chat messages to direct agent invocations.
type gateway struct {
	store           *store.Store
	runner          *agent.Runner
	router          *router.Router
	logger          *slog.Logger
	contextMessages int

	mu sync.Mutex
	// sessions maps chat IDs to the agent session from the last reply.
	sessions map[string]string
	// inFlight guards against concurrent invocations for the same chat.
	inFlight map[string]bool
}

// consume processes the fan-in stream until the context ends or the stream
// closes.
func (g *gateway) consume(ctx context.Context, incoming <-chan *channels.IncomingMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			g.handle(ctx, msg)
		}
	}
}

// handle persists an inbound message and dispatches an agent invocation for
// its chat. A chat with an invocation still running queues nothing; the
// message stays in history and reaches the agent as context next time.
func (g *gateway) handle(ctx context.Context, msg *channels.IncomingMessage) {
	if err := g.store.UpsertChat(&store.Chat{
		ChatID:        msg.ChatID,
		Channel:       msg.Channel,
		Name:          msg.FromName,
		LastMessageAt: &msg.Timestamp,
	}); err != nil {
		g.logger.Error("chat upsert failed", "chat_id", msg.ChatID, "error", err)
		return
	}
	if err := g.store.AppendMessage(&store.Message{
		ChatID:     msg.ChatID,
		Sender:     msg.From,
		SenderName: msg.FromName,
		Content:    msg.Content,
		CreatedAt:  msg.Timestamp,
	}); err != nil {
		g.logger.Error("message append failed", "chat_id", msg.ChatID, "error", err)
	}

	g.mu.Lock()
	if g.inFlight[msg.ChatID] {
		g.mu.Unlock()
		g.logger.Debug("agent busy for chat, message stored as context", "chat_id", msg.ChatID)
		return
	}
	g.inFlight[msg.ChatID] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.inFlight, msg.ChatID)
			g.mu.Unlock()
		}()
		g.invoke(ctx, msg)
	}()
}

// invoke runs the agent for one inbound message and delivers the reply.
func (g *gateway) invoke(ctx context.Context, msg *channels.IncomingMessage) {
	logger := g.logger.With("chat_id", msg.ChatID)

	prompt := msg.Content
	if history, err := g.store.RecentMessages(msg.ChatID, g.contextMessages); err != nil {
		logger.Warn("context load failed, running without history", "error", err)
	} else {
		prompt = buildPrompt(msg.ChatID, history, msg)
	}

	isMain := msg.ChatID == local.MainChatID
	g.mu.Lock()
	sessionID := g.sessions[msg.ChatID]
	g.mu.Unlock()

	outcome := g.runner.Run(ctx, groupForChat(msg), agent.Invocation{
		Prompt:    prompt,
		ChatID:    msg.ChatID,
		IsMain:    isMain,
		SessionID: sessionID,
	}, nil, func(fragment string) error {
		logger.Debug("agent output", "fragment", fragment)
		return nil
	})

	if !outcome.IsSuccess() {
		logger.Error("agent invocation failed", "error", outcome.ErrorMessage)
		return
	}

	if outcome.NewSessionID != "" {
		g.mu.Lock()
		g.sessions[msg.ChatID] = outcome.NewSessionID
		g.mu.Unlock()
	}

	if outcome.Result == "" {
		return
	}
	if err := g.router.Deliver(msg.ChatID, outcome.Result); err != nil {
		logger.Error("reply delivery failed", "error", err)
	}
}

// buildPrompt renders recent chat history ahead of the triggering message.
// The trigger is already persisted and sits at the tail of the window, so it
// is dropped from the rendered block to reach the agent exactly once.
func buildPrompt(chatID string, history []*store.Message, msg *channels.IncomingMessage) string {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Sender == msg.From && last.Content == msg.Content {
			history = history[:n-1]
		}
	}
	if len(history) == 0 {
		return msg.Content
	}
	rendered, err := store.FormatContext(chatID, history)
	if err != nil {
		return msg.Content
	}
	return rendered + "\n\n" + msg.Content
}

// groupForChat maps a chat to its agent workspace group. The local main chat
// runs in the main group; remote chats each get their own workspace.
func groupForChat(msg *channels.IncomingMessage) string {
	if msg.ChatID == local.MainChatID {
		return "main"
	}
	return msg.Channel + "-" + sanitizeGroup(msg.ChatID)
}

// sanitizeGroup keeps workspace directory names filesystem-safe.
func sanitizeGroup(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
