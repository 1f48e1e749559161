package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/storm-watch-client/internal/adapter/http"
	"github.com/couchcryptid/storm-watch-client/internal/adapter/stationapi"
	"github.com/couchcryptid/storm-watch-client/internal/config"
	"github.com/couchcryptid/storm-watch-client/internal/dispatch"
	"github.com/couchcryptid/storm-watch-client/internal/domain"
	"github.com/couchcryptid/storm-watch-client/internal/observability"
	"github.com/couchcryptid/storm-watch-client/internal/realtime"
	"github.com/couchcryptid/storm-watch-client/internal/session"
)

var (
	emailFlag    string
	passwordFlag string
)

var rootCmd = &cobra.Command{
	Use:           "stormwatch",
	Short:         "Storm Watch client for live station readings and threshold alerts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream readings and alerts for the configured watchlist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWatch(cmd.Context())
	},
}

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List the station directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStations(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&emailFlag, "email", os.Getenv("STORM_EMAIL"), "account email")
	rootCmd.PersistentFlags().StringVar(&passwordFlag, "password", os.Getenv("STORM_PASSWORD"), "account password")
	rootCmd.AddCommand(watchCmd, stationsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runWatch(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	store := session.NewCredentialStore()
	api := session.NewClient(cfg.APIBaseURL, store, cfg.HTTPTimeout, logger, metrics)

	if err := api.Login(ctx, emailFlag, passwordFlag); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		if err := api.Logout(context.Background()); err != nil {
			logger.Warn("logout failed", "error", err)
		}
	}()

	loop := dispatch.NewLoop(cfg.DispatchBuffer, logger)

	var feed *realtime.Client
	handlers := realtime.Handlers{
		OnReading: func(r domain.StationReading) {
			logger.Info("reading",
				"station_id", r.StationID,
				"temperature_c", r.TemperatureC,
				"wind_speed_ms", r.WindSpeedMS,
				"recorded_at", r.RecordedAt,
			)
		},
		OnAlert: func(a domain.ThresholdAlert) {
			logger.Warn("alert",
				"station_id", a.StationID,
				"metric", a.Metric,
				"severity", a.Severity,
				"threshold", a.Threshold,
				"observed", a.Observed,
			)
		},
		OnConnectionChange: func(connected bool) {
			if !connected {
				logger.Info("feed disconnected")
				return
			}
			logger.Info("feed connected")
			if watchlist.Alerts {
				feed.Subscribe(domain.AlertsTopic)
			}
			for _, id := range watchlist.Stations {
				feed.Subscribe(domain.StationTopic(id))
			}
		},
		OnProtocolError: func(msg string) {
			logger.Warn("broker error", "message", msg)
		},
	}
	feed = realtime.NewClient(cfg.WSURL, store, handlers, loop.Post, logger, metrics)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	api.OnSessionExpired(func() {
		logger.Error("session expired, sign in again")
		cancel()
	})

	go loop.Run(watchCtx)

	var srv *httpadapter.Server
	if cfg.DebugAddr != "" {
		srv = httpadapter.NewServer(cfg.DebugAddr, feed, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server error", "error", err)
			}
		}()
	}

	supervisor := realtime.NewSupervisor(feed, cfg.ReconnectInitialDelay, cfg.ReconnectMaxDelay, logger, metrics)
	runErr := supervisor.Run(watchCtx)

	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	feed.Disconnect()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("debug server shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func runStations(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	store := session.NewCredentialStore()
	api := session.NewClient(cfg.APIBaseURL, store, cfg.HTTPTimeout, logger, metrics)

	if err := api.Login(ctx, emailFlag, passwordFlag); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer api.Logout(context.Background()) //nolint:errcheck // best-effort

	directory := stationapi.NewCachedDirectory(stationapi.NewClient(api, logger), cfg.StationCacheSize)

	stations, err := directory.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}

	for _, s := range stations {
		status := "inactive"
		if s.Active {
			status = "active"
		}
		fmt.Printf("%6d  %-30s  %9.4f %9.4f  %s\n", s.ID, s.Name, s.Geo.Lat, s.Geo.Lon, status)
	}
	return nil
}
