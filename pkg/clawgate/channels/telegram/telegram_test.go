package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestAPI serves a minimal Bot API: getMe succeeds and every getUpdates
// call returns one fresh message, so the poller is mid-delivery whenever a
// shutdown lands.
func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	var updateID atomic.Int64

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":42,"username":"clawgate_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			id := updateID.Add(1)
			resp := map[string]any{
				"ok": true,
				"result": []tgUpdate{{
					UpdateID: id,
					Message: &tgMessage{
						MessageID: int(id),
						From:      &tgUser{ID: 7, FirstName: "Ada"},
						Chat:      tgChat{ID: 1001, Type: "private"},
						Date:      int(time.Now().Unix()),
						Text:      fmt.Sprintf("hello %d", id),
					},
				}},
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestChannel(t *testing.T, srv *httptest.Server) *Telegram {
	t.Helper()
	tg := New(Config{Token: "test-token", RespondToDMs: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tg.baseURL = srv.URL
	return tg
}

func TestReceiveAndCleanShutdown(t *testing.T) {
	t.Parallel()
	srv := newTestAPI(t)
	defer srv.Close()

	tg := newTestChannel(t, srv)
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case msg := <-tg.Receive():
		if msg.Channel != "telegram" || msg.ChatID != "1001" || msg.From != "7" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	// Disconnect while the poller is still producing updates. The messages
	// channel must end up closed with no send hitting it afterwards.
	disconnected := make(chan error, 1)
	go func() { disconnected <- tg.Disconnect() }()
	select {
	case err := <-disconnected:
		if err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect did not return")
	}

	drained := make(chan struct{})
	go func() {
		for range tg.Receive() {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("messages channel was not closed after disconnect")
	}

	if tg.IsConnected() {
		t.Error("still reports connected after disconnect")
	}
}

func TestDisconnectWithoutConnect(t *testing.T) {
	t.Parallel()
	tg := New(Config{Token: "test-token"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := tg.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}
