package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects for match lifecycle notifications.
const (
	SubjectMatchStarted   = "tournament.match.started"
	SubjectMatchFinished  = "tournament.match.finished"
	SubjectMatchCancelled = "tournament.match.cancelled"
	SubjectBracketUpdated = "tournament.bracket.updated"
)

// MatchEvent is the body of every lifecycle notification.
type MatchEvent struct {
	MatchID      int       `json:"match_id"`
	TournamentID int       `json:"tournament_id"`
	Round        string    `json:"round"`
	Phase        string    `json:"phase"`
	Team1Score   int       `json:"team1_score,omitempty"`
	Team2Score   int       `json:"team2_score,omitempty"`
	WinnerID     *int      `json:"winner_id,omitempty"`
	ChampionID   *int      `json:"champion_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers lifecycle notifications. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, subject string, event MatchEvent) error
	Close()
}

type natsPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to NATS. Reconnects are handled by the client.
func NewNATSPublisher(url string, logger *slog.Logger) (Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("tournament-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &natsPublisher{conn: conn, logger: logger}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, event MatchEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *natsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", slog.Any("error", err))
		p.conn.Close()
	}
}

// NoopPublisher is used when NATS_URL is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, MatchEvent) error { return nil }

func (NoopPublisher) Close() {}
