package gameserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(base string) *Client {
	c := New(base, "ops@example.com", "secret", slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	c.Backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return c
}

func TestSendCommandPostsConsoleLine(t *testing.T) {
	var gotPath, gotLine, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotLine = r.PostForm.Get("line")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendCommand(context.Background(), "srv-1", RestoreRoundCommand(7))
	require.NoError(t, err)
	assert.Equal(t, "/game-servers/srv-1/console", gotPath)
	assert.Equal(t, "css_restore 7", gotLine)
	assert.Equal(t, "ops@example.com", gotUser)
}

func TestSendCommandRetriesThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendCommand(context.Background(), "srv-1", EndMatchCommand())
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
}

func TestSendCommandRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendCommand(context.Background(), "srv-1", PauseCommand())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendCommandDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendCommand(context.Background(), "missing", UnpauseCommand())
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoadMatchCommandQuotesURL(t *testing.T) {
	assert.Equal(t, `matchzy_loadmatch_url "https://engine.example.com/api/matches/5/config"`,
		LoadMatchCommand("https://engine.example.com/api/matches/5/config"))
}
