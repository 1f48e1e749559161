// Package stationapi is the request/response client for weather-station
// metadata. Every call goes through the session client, so expired access
// tokens are refreshed transparently.
package stationapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/storm-watch-client/internal/domain"
	"github.com/couchcryptid/storm-watch-client/internal/session"
)

// Directory is the station lookup contract the presentation layer consumes.
type Directory interface {
	// ListStations returns all stations visible to the current user.
	ListStations(ctx context.Context) ([]domain.Station, error)

	// GetStation returns one station's details.
	GetStation(ctx context.Context, id int64) (domain.Station, error)
}

// Client implements Directory against the Storm Watch API.
type Client struct {
	api    *session.Client
	logger *slog.Logger
}

// NewClient creates a station directory client.
func NewClient(api *session.Client, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// ListStations fetches the station list.
func (c *Client) ListStations(ctx context.Context) ([]domain.Station, error) {
	resp, err := c.api.Do(ctx, session.Request{Method: http.MethodGet, Path: "/stations"})
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	var payload struct {
		Stations []domain.Station `json:"stations"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode station list: %w", err)
	}
	return payload.Stations, nil
}

// GetStation fetches one station by id.
func (c *Client) GetStation(ctx context.Context, id int64) (domain.Station, error) {
	resp, err := c.api.Do(ctx, session.Request{Method: http.MethodGet, Path: fmt.Sprintf("/stations/%d", id)})
	if err != nil {
		return domain.Station{}, fmt.Errorf("get station %d: %w", id, err)
	}

	var station domain.Station
	if err := json.Unmarshal(resp.Body, &station); err != nil {
		return domain.Station{}, fmt.Errorf("decode station %d: %w", id, err)
	}
	return station, nil
}
