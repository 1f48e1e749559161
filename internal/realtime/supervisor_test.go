package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/couchcryptid/storm-watch-client/internal/observability"
	"github.com/couchcryptid/storm-watch-client/internal/realtime"
	"github.com/couchcryptid/storm-watch-client/internal/stomp"
)

func TestSupervisor_ReconnectsAfterDrop(t *testing.T) {
	var accepts atomic.Int64

	// A server that drops the first two connections right after the
	// handshake and keeps the third alive.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := accepts.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := context.Background()

		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		frame, err := stomp.Decode(data)
		if err != nil || frame.Command != stomp.CommandConnect {
			return
		}
		_ = ws.Write(ctx, websocket.MessageText,
			stomp.Encode(stomp.NewFrame(stomp.CommandConnected, map[string]string{"version": "1.2"}, "")))

		if n <= 2 {
			ws.Close(websocket.StatusGoingAway, "dropping")
			return
		}
		// Hold the third connection open until the client goes away.
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	metrics := observability.NewMetricsForTesting()
	client := realtime.NewClient(wsURL, staticTokens(""), realtime.Handlers{}, nil, testLogger(), metrics)
	sup := realtime.NewSupervisor(client, 10*time.Millisecond, 50*time.Millisecond, testLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return accepts.Load() >= 3 && client.State() == realtime.Connected
	}, 5*time.Second, 20*time.Millisecond, "supervisor never re-established the connection")

	// An explicit disconnect ends supervision cleanly.
	client.Disconnect()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after explicit disconnect")
	}
}

func TestSupervisor_StopsOnContextCancel(t *testing.T) {
	// Nothing is listening: every attempt fails and gets rescheduled.
	metrics := observability.NewMetricsForTesting()
	client := realtime.NewClient("ws://127.0.0.1:1", staticTokens(""), realtime.Handlers{}, nil, testLogger(), metrics)
	sup := realtime.NewSupervisor(client, 10*time.Millisecond, 50*time.Millisecond, testLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on context cancellation")
	}
}
