package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/storage"
)

// Основное время карты CS2 (MR12).
const (
	halftimeRound   = 12
	regulationRound = 24
)

// IngestResult подтверждает принятое событие. Устаревшие события записаны
// и попали в ленту, но счётчики не сдвигали.
type IngestResult struct {
	MatchID  int              `json:"match_id"`
	Kind     models.EventKind `json:"event"`
	Stale    bool             `json:"stale"`
	FeedID   string           `json:"feed_id"`
	Finished bool             `json:"finished,omitempty"`
	Finish   *FinishResult    `json:"finish,omitempty"`
}

type IngestService interface {
	// Ingest применяет одно событие вебхука. pathMatchID равен 0, если id
	// матча берётся только из тела события.
	Ingest(ctx context.Context, pathMatchID int, raw []byte) (*IngestResult, error)
}

type ingestService struct {
	matches   repositories.MatchRepository
	lifecycle MatchService
	live      LiveUpdater
	audit     *storage.AuditLog
	metrics   *metrics.Metrics
	locker    *Locker
	progress  *ProgressTracker
	logger    *slog.Logger
	now       func() time.Time
}

func NewIngestService(
	matches repositories.MatchRepository,
	lifecycle MatchService,
	liveUpdater LiveUpdater,
	audit *storage.AuditLog,
	m *metrics.Metrics,
	locker *Locker,
	progress *ProgressTracker,
	logger *slog.Logger,
) IngestService {
	return &ingestService{
		matches:   matches,
		lifecycle: lifecycle,
		live:      liveUpdater,
		audit:     audit,
		metrics:   m,
		locker:    locker,
		progress:  progress,
		logger:    logger,
		now:       time.Now,
	}
}

// decodedEvent - провалидированное событие с полезной нагрузкой своего типа.
type decodedEvent struct {
	models.LiveEvent
	round   int
	payload interface{}
}

func (s *ingestService) reject(reason string, err error) error {
	s.metrics.EventRejected(reason)
	return err
}

func (s *ingestService) Ingest(ctx context.Context, pathMatchID int, raw []byte) (*IngestResult, error) {
	ev, err := decodeEvent(raw)
	if err != nil {
		return nil, s.reject("invalid", err)
	}

	matchID, err := resolveMatchID(pathMatchID, ev.MatchID)
	if err != nil {
		return nil, s.reject("match_id", err)
	}

	unlock := s.locker.Lock(matchID)
	defer unlock()

	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		err = handleRepositoryError(err, fmt.Sprintf("get match %d", matchID))
		if errors.Is(err, ErrMatchNotFound) {
			return nil, s.reject("not_found", err)
		}
		return nil, err
	}
	if m.Phase != models.PhaseScheduled && m.Phase != models.PhaseLive {
		return nil, s.reject("inactive", fmt.Errorf("%w: match %d is %s", ErrMatchNotActive, matchID, m.Phase))
	}

	if m.Phase == models.PhaseScheduled {
		if m, err = s.lifecycle.BeginFromEvent(ctx, m); err != nil {
			return nil, err
		}
	}
	s.live.Seed(m.ID, live.StateFromMatch(m))

	progress := s.progress.get(m.ID)
	stale := progress.stale(ev.Kind, ev.MapNumber, ev.round)

	now := s.now()
	result := &IngestResult{MatchID: m.ID, Kind: ev.Kind, Stale: stale, FeedID: uuid.NewString()}
	if s.audit != nil {
		s.audit.Append(storage.AuditEntry{
			ID:         result.FeedID,
			MatchID:    m.ID,
			Kind:       string(ev.Kind),
			Stale:      stale,
			ReceivedAt: now,
			Raw:        json.RawMessage(raw),
		})
	}

	feed := live.FeedEntry{
		ID:        result.FeedID,
		Kind:      string(ev.Kind),
		Round:     ev.round,
		Text:      feedText(ev),
		Stale:     stale,
		Timestamp: now,
	}
	s.metrics.EventIngested(string(ev.Kind), stale)

	if stale {
		s.logger.DebugContext(ctx, "stale live event",
			slog.Int("match_id", m.ID),
			slog.String("event", string(ev.Kind)),
			slog.Int("round", ev.round),
		)
		s.live.AppendFeed(m.ID, feed)
		return result, nil
	}

	delta, phase, err := s.advance(progress, m, ev)
	if err != nil {
		return nil, err
	}
	delta.Feed = &feed
	s.live.Apply(m.ID, delta)

	if phase != "" {
		if _, err := s.lifecycle.ApplyLivePhase(ctx, m, phase); err != nil {
			// событие уже учтено в ленте, фазу не меняем
			s.logger.WarnContext(ctx, "live phase not applied",
				slog.Int("match_id", m.ID),
				slog.String("event", string(ev.Kind)),
				slog.String("phase", string(phase)),
				slog.Any("error", err),
			)
		}
	}

	if ev.Kind == models.EventSeriesEnd {
		payload := ev.payload.(models.SeriesEndPayload)
		team1, team2 := progress.finalScore(m.BestOf, payload)
		finish, err := s.lifecycle.FinishFromSeries(ctx, m, team1, team2)
		if err != nil {
			return nil, err
		}
		result.Finished = true
		result.Finish = finish
	}
	return result, nil
}

// advance сдвигает отметку прогресса и собирает обновление счётчиков для
// свежего события. Также возвращает подфазу, которую событие подразумевает.
func (s *ingestService) advance(p *matchProgress, m *models.Match, ev decodedEvent) (live.Delta, models.LivePhase, error) {
	var d live.Delta
	var phase models.LivePhase

	if p.enterMap(ev.MapNumber) {
		zero, mapNumber := 0, p.mapNumber
		d.MapNumber = &mapNumber
		d.Round = &zero
		d.Team1Score, d.Team2Score = &zero, &zero
	}

	switch payload := ev.payload.(type) {
	case nil:
		if ev.Kind == models.EventKnifeStart {
			phase = models.LiveKnife
		}

	case models.GoingLivePayload:
		phase = models.LivePlaying
		if payload.MapName != "" {
			d.MapName = &payload.MapName
		}
		mapNumber := payload.MapNumber
		d.MapNumber = &mapNumber
		rp := live.RoundFreeze
		d.RoundPhase = &rp

	case models.RoundStartPayload:
		p.roundStarted(payload.RoundNumber)
		round := payload.RoundNumber
		d.Round = &round
		rp := live.RoundFreeze
		d.RoundPhase = &rp
		switch current := m.CurrentLivePhase(); {
		case round > regulationRound:
			phase = models.LiveOvertime
		case current == models.LiveHalftime || current == models.LiveWarmup:
			phase = models.LivePlaying
		}

	case models.RoundEndPayload:
		current := p.roundEnded(payload.RoundNumber, payload.Team1.Score, payload.Team2.Score)
		round, t1, t2 := payload.RoundNumber, payload.Team1.Score, payload.Team2.Score
		d.Team1Score, d.Team2Score = &t1, &t2
		d.Players = playersFromTeams(payload.Team1, payload.Team2)
		if !current {
			// запоздавший round_end: следующий раунд уже идёт
			break
		}
		d.Round = &round
		rp := live.RoundOver
		d.RoundPhase = &rp
		if round == halftimeRound {
			phase = models.LiveHalftime
		}

	case models.BombPayload:
		p.roundStarted(payload.RoundNumber)
		rp := live.RoundBombPlanted
		if ev.Kind == models.EventBombDefused {
			rp = live.RoundDefuse
		}
		d.RoundPhase = &rp

	case models.MapResultPayload:
		slot := winnerSlot(payload.Winner, payload.Team1.Score, payload.Team2.Score)
		p.mapFinished(payload.MapNumber, slot, payload.Team1.Score, payload.Team2.Score)
		t1, t2 := p.mapsWon()
		if payload.Team1.SeriesScore > 0 || payload.Team2.SeriesScore > 0 {
			t1, t2 = payload.Team1.SeriesScore, payload.Team2.SeriesScore
		}
		d.Team1Maps, d.Team2Maps = &t1, &t2
		s1, s2 := payload.Team1.Score, payload.Team2.Score
		d.Team1Score, d.Team2Score = &s1, &s2
		if m.BestOf > 1 && t1*2 <= m.BestOf && t2*2 <= m.BestOf {
			phase = models.LiveWarmup
		}

	case models.PlayerDeathPayload:
		p.roundStarted(payload.RoundNumber)
	case models.PlayerHurtPayload:
		p.roundStarted(payload.RoundNumber)
	case models.SeriesEndPayload:
	default:
		return d, "", fmt.Errorf("%w: unsupported payload %T", ErrInvalidEvent, payload)
	}
	return d, phase, nil
}

func winnerSlot(w models.EventWinner, team1Score, team2Score int) int {
	switch w.Team {
	case "team1":
		return 1
	case "team2":
		return 2
	}
	if team1Score > team2Score {
		return 1
	}
	if team2Score > team1Score {
		return 2
	}
	return 0
}

func playersFromTeams(team1, team2 models.EventTeam) []live.PlayerState {
	players := make([]live.PlayerState, 0, len(team1.Players)+len(team2.Players))
	add := func(side string, list []models.EventStatsPlayer) {
		for _, p := range list {
			players = append(players, live.PlayerState{
				SteamID: p.SteamID,
				Name:    p.Name,
				Side:    side,
				Kills:   p.Stats.Kills,
				Deaths:  p.Stats.Deaths,
				Assists: p.Stats.Assists,
				Damage:  p.Stats.Damage,
			})
		}
	}
	add("team1", team1.Players)
	add("team2", team2.Players)
	if len(players) == 0 {
		return nil
	}
	return players
}

// resolveMatchID сверяет id из пути запроса с id в теле события.
func resolveMatchID(pathMatchID int, bodyID models.FlexibleID) (int, error) {
	var bodyMatchID int
	if s := strings.TrimSpace(string(bodyID)); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: matchid %q", ErrInvalidEvent, s)
		}
		bodyMatchID = id
	}
	switch {
	case pathMatchID > 0 && bodyMatchID > 0 && pathMatchID != bodyMatchID:
		return 0, fmt.Errorf("%w: path %d, body %d", ErrMatchIDMismatch, pathMatchID, bodyMatchID)
	case pathMatchID > 0:
		return pathMatchID, nil
	case bodyMatchID > 0:
		return bodyMatchID, nil
	default:
		return 0, fmt.Errorf("%w: matchid is required", ErrInvalidEvent)
	}
}

// decodeEvent проверяет конверт события и схему его типа.
func decodeEvent(raw []byte) (decodedEvent, error) {
	var ev decodedEvent
	if err := json.Unmarshal(raw, &ev.LiveEvent); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ev.Raw = raw
	if ev.Kind == "" {
		return ev, fmt.Errorf("%w: event is required", ErrInvalidEvent)
	}
	if !ev.Kind.Known() {
		return ev, fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
	if ev.Kind.HasRoundNumber() {
		if ev.RoundNumber == nil || *ev.RoundNumber < 0 {
			return ev, fmt.Errorf("%w: %s requires round_number", ErrInvalidEvent, ev.Kind)
		}
		ev.round = *ev.RoundNumber
	}
	if ev.MapNumber != nil && *ev.MapNumber < 0 {
		return ev, fmt.Errorf("%w: map_number must not be negative", ErrInvalidEvent)
	}

	var err error
	switch ev.Kind {
	case models.EventSeriesStart, models.EventKnifeStart:
		// без полезной нагрузки
	case models.EventGoingLive:
		var p models.GoingLivePayload
		if err = json.Unmarshal(raw, &p); err == nil && ev.MapNumber == nil {
			err = errors.New("going_live requires map_number")
		}
		ev.payload = p
	case models.EventRoundStart:
		var p models.RoundStartPayload
		err = json.Unmarshal(raw, &p)
		ev.payload = p
	case models.EventRoundEnd:
		var p models.RoundEndPayload
		if err = json.Unmarshal(raw, &p); err == nil && (p.Team1.Score < 0 || p.Team2.Score < 0) {
			err = errors.New("round_end scores must not be negative")
		}
		ev.payload = p
	case models.EventBombPlanted, models.EventBombDefused:
		var p models.BombPayload
		err = json.Unmarshal(raw, &p)
		ev.payload = p
	case models.EventMapResult:
		var p models.MapResultPayload
		if err = json.Unmarshal(raw, &p); err == nil {
			switch {
			case ev.MapNumber == nil:
				err = errors.New("map_result requires map_number")
			case winnerSlot(p.Winner, p.Team1.Score, p.Team2.Score) == 0:
				err = errors.New("map_result requires a winner")
			}
		}
		ev.payload = p
	case models.EventSeriesEnd:
		var p models.SeriesEndPayload
		err = json.Unmarshal(raw, &p)
		ev.payload = p
	case models.EventPlayerDeath:
		var p models.PlayerDeathPayload
		if err = json.Unmarshal(raw, &p); err == nil && p.Player.SteamID == "" {
			err = errors.New("player_death requires player.steamid")
		}
		ev.payload = p
	case models.EventPlayerHurt:
		var p models.PlayerHurtPayload
		if err = json.Unmarshal(raw, &p); err == nil && p.Player.SteamID == "" {
			err = errors.New("player_hurt requires player.steamid")
		}
		ev.payload = p
	}
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return ev, nil
}

func feedText(ev decodedEvent) string {
	switch p := ev.payload.(type) {
	case models.GoingLivePayload:
		if p.MapName != "" {
			return fmt.Sprintf("Map %d (%s) is live", p.MapNumber+1, p.MapName)
		}
		return fmt.Sprintf("Map %d is live", p.MapNumber+1)
	case models.RoundStartPayload:
		return fmt.Sprintf("Round %d started", p.RoundNumber)
	case models.RoundEndPayload:
		return fmt.Sprintf("Round %d won by %s (%d:%d)", p.RoundNumber, sideName(p.Winner.Team), p.Team1.Score, p.Team2.Score)
	case models.BombPayload:
		if ev.Kind == models.EventBombDefused {
			return fmt.Sprintf("%s defused the bomb", p.Player.Name)
		}
		if p.Site != "" {
			return fmt.Sprintf("%s planted the bomb at %s", p.Player.Name, p.Site)
		}
		return fmt.Sprintf("%s planted the bomb", p.Player.Name)
	case models.MapResultPayload:
		return fmt.Sprintf("Map %d won by %s (%d:%d)", p.MapNumber+1,
			sideName(p.Winner.Team), p.Team1.Score, p.Team2.Score)
	case models.SeriesEndPayload:
		return "Series finished"
	case models.PlayerDeathPayload:
		if p.Attacker == nil {
			return fmt.Sprintf("%s died", p.Player.Name)
		}
		text := fmt.Sprintf("%s killed %s with %s", p.Attacker.Name, p.Player.Name, p.Weapon.Name)
		if p.Headshot {
			text += " (headshot)"
		}
		return text
	case models.PlayerHurtPayload:
		if p.Attacker == nil {
			return fmt.Sprintf("%s took %d damage", p.Player.Name, p.Damage)
		}
		return fmt.Sprintf("%s hit %s for %d", p.Attacker.Name, p.Player.Name, p.Damage)
	}
	switch ev.Kind {
	case models.EventSeriesStart:
		return "Series started"
	case models.EventKnifeStart:
		return "Knife round"
	}
	return string(ev.Kind)
}

func sideName(team string) string {
	if team == "" {
		return "unknown"
	}
	return team
}
