// Command mockbroker runs a local STOMP-over-WebSocket broker that emits
// synthetic station readings and threshold alerts. It exists so the watch
// client can be exercised without the production feed.
//
// Usage:
//
//	go run ./cmd/mockbroker -addr :8080 -interval 2s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"github.com/couchcryptid/storm-watch-client/internal/domain"
	"github.com/couchcryptid/storm-watch-client/internal/observability"
	"github.com/couchcryptid/storm-watch-client/internal/stomp"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	interval := flag.Duration("interval", 2*time.Second, "delay between synthetic readings")
	stations := flag.Int("stations", 5, "number of synthetic stations")
	flag.Parse()

	logger := observability.NewLogger("debug", "text")

	b := &broker{
		interval: *interval,
		stations: *stations,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)

	srv := &http.Server{
		Addr:        *addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("mock broker listening", "addr", *addr, "interval", *interval)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("mock broker failed", "error", err)
		os.Exit(1)
	}
}

type broker struct {
	interval time.Duration
	stations int
	logger   *slog.Logger
}

// conn tracks one client's subscription set keyed by destination.
type conn struct {
	ws *websocket.Conn

	mu   sync.Mutex
	subs map[string]string // destination -> subscription id
}

func (b *broker) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &conn{ws: ws, subs: make(map[string]string)}
	b.logger.Info("client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go b.emitLoop(ctx, c)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			b.logger.Info("client disconnected", "remote", r.RemoteAddr)
			ws.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		b.handleFrame(ctx, c, data)
	}
}

func (b *broker) handleFrame(ctx context.Context, c *conn, data []byte) {
	frame, err := stomp.Decode(data)
	if err != nil {
		b.logger.Warn("undecodable frame", "error", err)
		return
	}

	switch frame.Command {
	case stomp.CommandConnect:
		reply := stomp.NewFrame(stomp.CommandConnected, map[string]string{"version": "1.2"}, "")
		b.send(ctx, c, reply)

	case stomp.CommandSubscribe:
		dest := frame.Headers["destination"]
		id := frame.Headers["id"]
		if dest == "" || id == "" {
			b.sendError(ctx, c, "SUBSCRIBE requires destination and id headers")
			return
		}
		c.mu.Lock()
		c.subs[dest] = id
		c.mu.Unlock()
		b.logger.Info("subscribed", "destination", dest, "id", id)

	case stomp.CommandUnsubscribe:
		id := frame.Headers["id"]
		c.mu.Lock()
		for dest, subID := range c.subs {
			if subID == id {
				delete(c.subs, dest)
			}
		}
		c.mu.Unlock()
		b.logger.Info("unsubscribed", "id", id)

	default:
		b.sendError(ctx, c, "unsupported command "+frame.Command)
	}
}

// emitLoop publishes a synthetic reading each tick to every subscribed
// station topic, and raises an alert roughly one tick in ten.
func (b *broker) emitLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // synthetic data only

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		targets := make(map[string]string, len(c.subs))
		for dest, id := range c.subs {
			targets[dest] = id
		}
		c.mu.Unlock()

		for dest, id := range targets {
			switch {
			case domain.IsStationTopic(dest):
				b.send(ctx, c, messageFrame(dest, id, syntheticReading(rng, stationID(dest, b.stations))))
			case domain.IsAlertTopic(dest) && rng.Intn(10) == 0:
				b.send(ctx, c, messageFrame(dest, id, syntheticAlert(rng, int64(rng.Intn(b.stations)+1))))
			}
		}
	}
}

func messageFrame(dest, subID string, payload any) stomp.Frame {
	body, _ := json.Marshal(payload) //nolint:errcheck // payload types always marshal
	return stomp.NewFrame(stomp.CommandMessage, map[string]string{
		"destination":  dest,
		"subscription": subID,
		"content-type": "application/json",
	}, string(body))
}

func syntheticReading(rng *rand.Rand, id int64) domain.StationReading {
	return domain.StationReading{
		StationID:    id,
		TemperatureC: 15 + rng.Float64()*20,
		HumidityPct:  30 + rng.Float64()*60,
		WindSpeedMS:  rng.Float64() * 35,
		PressureHpa:  990 + rng.Float64()*40,
		PrecipMm:     rng.Float64() * 10,
		RecordedAt:   time.Now().UTC(),
	}
}

func syntheticAlert(rng *rand.Rand, id int64) domain.ThresholdAlert {
	observed := 25 + rng.Float64()*15
	return domain.ThresholdAlert{
		ID:        fmt.Sprintf("alert-%d", rng.Int63()),
		StationID: id,
		Metric:    "wind_speed_ms",
		Threshold: 25,
		Observed:  observed,
		RaisedAt:  time.Now().UTC(),
	}
}

// stationID pulls the numeric id off a station topic, falling back to a
// stable default when the suffix is not numeric.
func stationID(dest string, max int) int64 {
	for i := len(dest) - 1; i >= 0; i-- {
		if dest[i] == '/' {
			if id, err := strconv.ParseInt(dest[i+1:], 10, 64); err == nil && id > 0 {
				return id
			}
			break
		}
	}
	return int64(max)
}

func (b *broker) send(ctx context.Context, c *conn, frame stomp.Frame) {
	if err := c.ws.Write(ctx, websocket.MessageText, stomp.Encode(frame)); err != nil {
		b.logger.Warn("write failed", "error", err)
	}
}

func (b *broker) sendError(ctx context.Context, c *conn, msg string) {
	b.send(ctx, c, stomp.NewFrame(stomp.CommandError, map[string]string{"message": msg}, msg))
}
