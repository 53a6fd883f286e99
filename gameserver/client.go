package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dosada05/tournament-engine/metrics"
)

// ErrCommandFailed is returned once every retry of a console command failed.
var ErrCommandFailed = errors.New("game server command failed")

// DefaultBackoff is the pause before each retry.
var DefaultBackoff = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}

// Commander sends console commands to the game server hosting a match.
type Commander interface {
	SendCommand(ctx context.Context, serverID, command string) error
}

// Console commands understood by the match plugin.
func EndMatchCommand() string { return "css_endmatch" }

func LoadMatchCommand(configURL string) string {
	return fmt.Sprintf("matchzy_loadmatch_url %q", configURL)
}

func RestoreRoundCommand(round int) string { return fmt.Sprintf("css_restore %d", round) }

func PauseCommand() string { return "css_pause" }

func UnpauseCommand() string { return "css_unpause" }

type Client struct {
	Base     string
	User     string
	Password string
	HTTP     *http.Client
	Backoff  []time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(base, user, password string, logger *slog.Logger, m *metrics.Metrics) *Client {
	if base == "" {
		base = "https://dathost.net/api/0.1"
	}
	return &Client{
		Base:     strings.TrimRight(base, "/"),
		User:     user,
		Password: password,
		HTTP:     &http.Client{Timeout: 6 * time.Second},
		Backoff:  DefaultBackoff,
		logger:   logger,
		metrics:  m,
	}
}

// SendCommand posts one console line. Transport errors and 5xx responses
// are retried with the backoff schedule; 4xx responses are not.
func (c *Client) SendCommand(ctx context.Context, serverID, command string) error {
	err := c.send(ctx, serverID, command)
	for i := 0; err != nil && isRetryable(err) && i < len(c.Backoff); i++ {
		c.logger.Warn("game server command failed, retrying",
			slog.String("server_id", serverID),
			slog.String("command", commandName(command)),
			slog.Duration("backoff", c.Backoff[i]),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCommandFailed, ctx.Err())
		case <-time.After(c.Backoff[i]):
		}
		err = c.send(ctx, serverID, command)
	}
	c.metrics.CommandSent(commandName(command), err)
	if err != nil {
		c.logger.Error("game server command gave up",
			slog.String("server_id", serverID),
			slog.String("command", commandName(command)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("console returned %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) send(ctx context.Context, serverID, command string) error {
	endpoint := fmt.Sprintf("%s/game-servers/%s/console", c.Base, url.PathEscape(serverID))
	form := url.Values{"line": {command}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// commandName strips arguments so metrics labels stay bounded.
func commandName(command string) string {
	name, _, _ := strings.Cut(command, " ")
	return name
}
