package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Watchlist names the stations a client subscribes to on connect.
type Watchlist struct {
	Stations []int64 `yaml:"stations"`
	Alerts   bool    `yaml:"alerts"`
}

// DefaultWatchlist subscribes to the shared alert feed only.
func DefaultWatchlist() Watchlist {
	return Watchlist{Alerts: true}
}

// LoadWatchlist reads a YAML watchlist from path. An empty path yields
// the default watchlist.
func LoadWatchlist(path string) (Watchlist, error) {
	if path == "" {
		return DefaultWatchlist(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, fmt.Errorf("read watchlist: %w", err)
	}

	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return Watchlist{}, fmt.Errorf("parse watchlist: %w", err)
	}

	seen := make(map[int64]struct{}, len(wl.Stations))
	deduped := wl.Stations[:0]
	for _, id := range wl.Stations {
		if id <= 0 {
			return Watchlist{}, fmt.Errorf("invalid station id %d in watchlist", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	wl.Stations = deduped

	return wl, nil
}
