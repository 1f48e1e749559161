package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-watch-client/internal/observability"
	"github.com/couchcryptid/storm-watch-client/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string) (*session.Client, *session.CredentialStore) {
	store := session.NewCredentialStore()
	c := session.NewClient(baseURL, store, 5*time.Second, testLogger(), observability.NewMetricsForTesting())
	return c, store
}

func writeCredentials(t *testing.T, w http.ResponseWriter, access, refresh string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(session.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
	}))
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"})

	resp, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestDo_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"})

	resp, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})

	var statusErr *session.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, `{"error":"boom"}`, string(resp.Body))
	assert.Equal(t, int64(1), calls.Load())
}

func TestDo_RefreshAndRetry(t *testing.T) {
	var refreshCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-old", body["refresh_token"])

		writeCredentials(t, w, "access-new", "refresh-new")
	})
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-old", RefreshToken: "refresh-old"})

	resp, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), refreshCalls.Load())

	// Both tokens were replaced atomically.
	assert.Equal(t, session.Credentials{AccessToken: "access-new", RefreshToken: "refresh-new"}, store.Get())
}

func TestDo_SingleFlightRefresh(t *testing.T) {
	const callers = 8
	var refreshCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(100 * time.Millisecond) // let competitors pile up
		writeCredentials(t, w, "access-new", "refresh-new")
	})
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-old", RefreshToken: "refresh-old"})

	var wg sync.WaitGroup
	errs := make([]error, callers)
	codes := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})
			errs[i] = err
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), refreshCalls.Load(), "exactly one refresh for %d concurrent 401s", callers)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, http.StatusOK, codes[i], "caller %d", i)
	}
}

func TestDo_RetriedAtMostOnce(t *testing.T) {
	var dataCalls, refreshCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		writeCredentials(t, w, "access-new", "refresh-new")
	})
	mux.HandleFunc("/stations", func(w http.ResponseWriter, _ *http.Request) {
		// A server that rejects even fresh tokens must not cause a refresh loop.
		dataCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-old", RefreshToken: "refresh-old"})

	_, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})

	assert.True(t, session.IsUnauthorized(err), "want authorization failure, got %v", err)
	assert.Equal(t, int64(2), dataCalls.Load(), "original + one retry")
	assert.Equal(t, int64(1), refreshCalls.Load())
}

func TestDo_BlankRefreshTokenExpiresImmediately(t *testing.T) {
	var refreshCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stations", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-old", RefreshToken: "  "})

	var expiries atomic.Int64
	c.OnSessionExpired(func() { expiries.Add(1) })

	_, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})

	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Equal(t, int64(0), refreshCalls.Load(), "refresh endpoint must not be contacted")
	assert.Equal(t, int64(1), expiries.Load())
	assert.False(t, store.Get().Present(), "store cleared on expiry")
}

func TestDo_RejectedRefreshExpiresSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/stations", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-old", RefreshToken: "refresh-old"})

	_, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})

	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, store.Get().Present())
}

func TestSessionExpiry_Debounced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-old"}) // no refresh token

	clock := clockwork.NewFakeClock()
	c.SetClock(clock)

	var expiries atomic.Int64
	c.OnSessionExpired(func() { expiries.Add(1) })

	// A burst of failing background calls produces one notification.
	for i := 0; i < 5; i++ {
		_, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})
		assert.ErrorIs(t, err, session.ErrSessionExpired)
	}
	assert.Equal(t, int64(1), expiries.Load())

	// Once the debounce window passes, the next expiry notifies again.
	clock.Advance(31 * time.Second)
	_, err := c.Do(context.Background(), session.Request{Method: http.MethodGet, Path: "/stations"})
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Equal(t, int64(2), expiries.Load())
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeCredentials(t, w, "access-1", "refresh-1")
	}))
	defer srv.Close()

	c, store := newTestClient(srv.URL)

	err := c.Login(context.Background(), "ada@example.com", "wrong")
	var statusErr *session.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.False(t, store.Get().Present())

	require.NoError(t, c.Login(context.Background(), "ada@example.com", "hunter2"))
	assert.Equal(t, session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}, store.Get())
}

func TestLogout_ClearsStoreEvenWhenServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close() // force a transport error

	c, store := newTestClient(srv.URL)
	store.Set(session.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"})

	err := c.Logout(context.Background())
	assert.Error(t, err)
	assert.False(t, store.Get().Present())
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, session.IsUnauthorized(&session.StatusError{Code: 401}))
	assert.False(t, session.IsUnauthorized(&session.StatusError{Code: 500}))
	assert.False(t, session.IsUnauthorized(errors.New("other")))
	assert.False(t, session.IsUnauthorized(nil))
}
