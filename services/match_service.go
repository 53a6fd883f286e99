package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/gameserver"
	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/messaging"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/storage"
)

const (
	DefaultDelayThreshold = 5 * time.Minute
	DefaultMinDelayShift  = 10 * time.Minute
	backgroundTimeout     = 30 * time.Second
)

// Источник перехода жизненного цикла (для логов и метрик).
const (
	SourceAdmin = "admin"
	SourceEvent = "event"
)

// BracketResolver вызывается ровно один раз на завершённый матч.
type BracketResolver interface {
	Resolve(ctx context.Context, matchID int) (*brackets.Resolution, error)
}

// LiveUpdater получает каждое изменение наблюдаемого состояния матча.
type LiveUpdater interface {
	Seed(matchID int, state live.State)
	Apply(matchID int, d live.Delta)
	AppendFeed(matchID int, entry live.FeedEntry)
	Finish(matchID int, d live.Delta)
}

type FinishMatchInput struct {
	Team1Score int `json:"team1_score"`
	Team2Score int `json:"team2_score"`
}

type FinishResult struct {
	Match      *models.Match        `json:"match"`
	Resolution *brackets.Resolution `json:"resolution,omitempty"`
	// AdvancePending: матч завершён, но продвижение по сетке не удалось и
	// будет повторено фоновым восстановлением.
	AdvancePending bool `json:"advance_pending,omitempty"`
}

// MatchConfig - описание матча, которое игровой сервер загружает при старте.
type MatchConfig struct {
	MatchID        string            `json:"matchid"`
	NumMaps        int               `json:"num_maps"`
	MapList        []string          `json:"maplist"`
	ClinchSeries   bool              `json:"clinch_series"`
	PlayersPerTeam int               `json:"players_per_team"`
	Team1          MatchConfigTeam   `json:"team1"`
	Team2          MatchConfigTeam   `json:"team2"`
	Veto           []models.VetoStep `json:"veto,omitempty"`
}

type MatchConfigTeam struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

type MatchService interface {
	StartMatch(ctx context.Context, matchID int) (*models.Match, error)
	FinishMatch(ctx context.Context, matchID int, input FinishMatchInput) (*FinishResult, error)
	CancelMatch(ctx context.Context, matchID int) (*models.Match, error)
	PauseMatch(ctx context.Context, matchID int) (*models.Match, error)
	ResumeMatch(ctx context.Context, matchID int) (*models.Match, error)
	RestoreRound(ctx context.Context, matchID int, round int) (*models.Match, error)
	SetVeto(ctx context.Context, matchID int, steps []models.VetoStep) (*models.Match, error)
	GetMatch(ctx context.Context, matchID int) (*models.Match, error)
	ListTournamentMatches(ctx context.Context, tournamentID int) ([]*models.Match, error)
	MatchConfig(ctx context.Context, matchID int) (*MatchConfig, error)
	ResumeUnadvanced(ctx context.Context) (int, error)

	// Методы ниже вызываются ингестором, который уже держит блокировку матча.
	BeginFromEvent(ctx context.Context, match *models.Match) (*models.Match, error)
	ApplyLivePhase(ctx context.Context, match *models.Match, phase models.LivePhase) (bool, error)
	FinishFromSeries(ctx context.Context, match *models.Match, team1Score, team2Score int) (*FinishResult, error)
}

type MatchServiceConfig struct {
	// DelayThreshold: старт позже расписания на большее время сдвигает
	// остальные матчи турнира.
	DelayThreshold time.Duration
	MinDelayShift  time.Duration
	// PublicBaseURL: откуда игровой сервер забирает конфиг матча.
	PublicBaseURL string
}

type MatchServiceDeps struct {
	Matches     repositories.MatchRepository
	Teams       repositories.TeamRepository
	Tournaments repositories.TournamentRepository
	Resolver    BracketResolver
	Live        LiveUpdater
	Publisher   messaging.Publisher
	Commander   gameserver.Commander
	Audit       *storage.AuditLog
	Metrics     *metrics.Metrics
	Locker      *Locker
	Progress    *ProgressTracker
	Logger      *slog.Logger
	Now         func() time.Time
}

type matchService struct {
	MatchServiceDeps
	cfg MatchServiceConfig
	// background запускает побочные действия после коммита, без гарантий.
	background func(name string, fn func(ctx context.Context))
}

func NewMatchService(deps MatchServiceDeps, cfg MatchServiceConfig) MatchService {
	if cfg.DelayThreshold <= 0 {
		cfg.DelayThreshold = DefaultDelayThreshold
	}
	if cfg.MinDelayShift <= 0 {
		cfg.MinDelayShift = DefaultMinDelayShift
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NoopPublisher{}
	}
	if deps.Locker == nil {
		deps.Locker = NewLocker()
	}
	if deps.Progress == nil {
		deps.Progress = NewProgressTracker()
	}
	s := &matchService{MatchServiceDeps: deps, cfg: cfg}
	s.background = func(name string, fn func(ctx context.Context)) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			defer cancel()
			fn(ctx)
		}()
	}
	return s
}

// load возвращает матч или ErrMatchNotFound.
func (s *matchService) load(ctx context.Context, matchID int) (*models.Match, error) {
	m, err := s.Matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("get match %d", matchID))
	}
	return m, nil
}

// phaseConflict объясняет, в какой неожиданной фазе условное обновление
// застало матч.
func phaseConflict(m *models.Match, want models.MatchPhase) error {
	switch m.Phase {
	case models.PhaseFinished:
		return ErrMatchAlreadyFinished
	case models.PhaseCancelled:
		return ErrMatchCancelled
	case models.PhasePending:
		return ErrMatchNotReady
	case models.PhaseLive:
		if want == models.PhaseScheduled {
			return ErrMatchAlreadyLive
		}
	case models.PhaseScheduled:
		if want == models.PhaseLive {
			return ErrMatchNotLive
		}
	}
	return fmt.Errorf("%w: match %d is %s", ErrConflict, m.ID, m.Phase)
}

func (s *matchService) GetMatch(ctx context.Context, matchID int) (*models.Match, error) {
	return s.load(ctx, matchID)
}

func (s *matchService) ListTournamentMatches(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	if _, err := s.Tournaments.GetByID(ctx, tournamentID); err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("get tournament %d", tournamentID))
	}
	matches, err := s.Matches.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
	}
	if matches == nil {
		return []*models.Match{}, nil
	}
	return matches, nil
}

// --- scheduled -> live ---

func (s *matchService) StartMatch(ctx context.Context, matchID int) (*models.Match, error) {
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	started, err := s.start(ctx, m, SourceAdmin)
	if err != nil {
		return nil, err
	}
	if started.ServerID != nil && s.cfg.PublicBaseURL != "" {
		serverID := *started.ServerID
		cmd := gameserver.LoadMatchCommand(s.configURL(started.ID))
		s.background("load match config", func(ctx context.Context) {
			s.sendCommand(ctx, started.ID, serverID, cmd)
		})
	}
	return started, nil
}

func (s *matchService) BeginFromEvent(ctx context.Context, m *models.Match) (*models.Match, error) {
	return s.start(ctx, m, SourceEvent)
}

func (s *matchService) start(ctx context.Context, m *models.Match, source string) (*models.Match, error) {
	if m.Phase != models.PhaseScheduled {
		return nil, phaseConflict(m, models.PhaseScheduled)
	}

	now := s.Now()
	ok, err := s.Matches.Start(ctx, m.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to start match %d: %w", m.ID, err)
	}
	if !ok {
		current, err := s.load(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		return nil, phaseConflict(current, models.PhaseScheduled)
	}

	if delay := now.Sub(m.ScheduledAt); delay > s.cfg.DelayThreshold {
		s.propagateDelay(ctx, m, delay)
	}

	started, err := s.load(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	s.Metrics.MatchTransition(string(models.PhaseLive), source)
	s.Logger.InfoContext(ctx, "match started",
		slog.Int("match_id", m.ID),
		slog.String("round", m.Round.String()),
		slog.String("source", source),
	)

	s.Live.Seed(m.ID, live.StateFromMatch(started))
	phase, livePhase := models.PhaseLive, models.LiveWarmup
	s.Live.Apply(m.ID, live.Delta{Phase: &phase, LivePhase: &livePhase})
	s.publish(ctx, messaging.SubjectMatchStarted, started, nil)
	return started, nil
}

// propagateDelay сдвигает остальные не начатые матчи турнира на ту же
// величину, сохраняя их порядок.
func (s *matchService) propagateDelay(ctx context.Context, m *models.Match, delay time.Duration) {
	shift := delay
	if rem := shift % time.Minute; rem != 0 {
		shift += time.Minute - rem
	}
	if shift < s.cfg.MinDelayShift {
		shift = s.cfg.MinDelayShift
	}

	n, err := s.Matches.ShiftSchedule(ctx, m.TournamentID, m.ID, shift)
	if err != nil {
		// старт уже зафиксирован, сдвиг расписания не критичен
		s.Logger.ErrorContext(ctx, "failed to shift tournament schedule",
			slog.Int("match_id", m.ID),
			slog.Int("tournament_id", m.TournamentID),
			slog.Duration("shift", shift),
			slog.Any("error", err),
		)
		return
	}
	s.Metrics.ScheduleShifted(shift)
	s.Logger.InfoContext(ctx, "match started late, schedule shifted",
		slog.Int("match_id", m.ID),
		slog.Int("tournament_id", m.TournamentID),
		slog.Duration("delay", delay),
		slog.Duration("shift", shift),
		slog.Int("matches_shifted", n),
	)
}

// --- live sub-phases ---

var livePhaseTransitions = map[models.LivePhase][]models.LivePhase{
	models.LiveWarmup:   {models.LiveKnife, models.LivePlaying, models.LivePaused},
	models.LiveKnife:    {models.LivePlaying, models.LivePaused},
	models.LivePlaying:  {models.LivePlaying, models.LiveHalftime, models.LiveOvertime, models.LiveWarmup, models.LivePaused},
	models.LiveHalftime: {models.LivePlaying, models.LiveOvertime, models.LivePaused},
	models.LiveOvertime: {models.LiveOvertime, models.LiveHalftime, models.LivePlaying, models.LiveWarmup, models.LivePaused},
	models.LivePaused:   {models.LiveWarmup, models.LiveKnife, models.LivePlaying, models.LiveHalftime, models.LiveOvertime},
}

func livePhaseAllowed(from, to models.LivePhase) bool {
	for _, next := range livePhaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ApplyLivePhase переводит идущий матч в подфазу, которую подразумевает
// событие. Возвращает false, если подфаза уже текущая. Пока матч на паузе
// у админа, события паузу не снимают.
func (s *matchService) ApplyLivePhase(ctx context.Context, m *models.Match, phase models.LivePhase) (bool, error) {
	if m.Phase != models.PhaseLive {
		return false, ErrMatchNotLive
	}
	current := m.CurrentLivePhase()
	if current == phase || current == models.LivePaused {
		return false, nil
	}
	if !livePhaseAllowed(current, phase) {
		return false, fmt.Errorf("%w: %s -> %s", ErrLivePhaseTransition, current, phase)
	}
	if err := s.setLivePhase(ctx, m, phase, SourceEvent); err != nil {
		return false, err
	}
	return true, nil
}

func (s *matchService) setLivePhase(ctx context.Context, m *models.Match, phase models.LivePhase, source string) error {
	ok, err := s.Matches.SetLivePhase(ctx, m.ID, phase)
	if err != nil {
		return fmt.Errorf("failed to set live phase of match %d: %w", m.ID, err)
	}
	if !ok {
		current, err := s.load(ctx, m.ID)
		if err != nil {
			return err
		}
		return phaseConflict(current, models.PhaseLive)
	}
	m.LivePhase = &phase
	s.Metrics.MatchTransition(string(phase), source)
	s.Live.Apply(m.ID, live.Delta{LivePhase: &phase})
	return nil
}

func (s *matchService) PauseMatch(ctx context.Context, matchID int) (*models.Match, error) {
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Phase != models.PhaseLive {
		return nil, phaseConflict(m, models.PhaseLive)
	}
	if m.CurrentLivePhase() != models.LivePaused {
		if err := s.setLivePhase(ctx, m, models.LivePaused, SourceAdmin); err != nil {
			return nil, err
		}
	}
	if err := s.command(ctx, m, gameserver.PauseCommand(), false); err != nil {
		return m, err
	}
	return m, nil
}

func (s *matchService) ResumeMatch(ctx context.Context, matchID int) (*models.Match, error) {
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Phase != models.PhaseLive {
		return nil, phaseConflict(m, models.PhaseLive)
	}
	if m.CurrentLivePhase() != models.LivePaused {
		return nil, ErrMatchNotPaused
	}
	if err := s.setLivePhase(ctx, m, models.LivePlaying, SourceAdmin); err != nil {
		return nil, err
	}
	if err := s.command(ctx, m, gameserver.UnpauseCommand(), false); err != nil {
		return m, err
	}
	return m, nil
}

// RestoreRound ставит матч на паузу и просит игровой сервер загрузить бэкап
// раунда n. Отметка прогресса откатывается к n, чтобы переигранные раунды
// не считались устаревшими.
func (s *matchService) RestoreRound(ctx context.Context, matchID int, round int) (*models.Match, error) {
	if round < 0 {
		return nil, ErrInvalidRestoreRound
	}
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Phase != models.PhaseLive {
		return nil, phaseConflict(m, models.PhaseLive)
	}
	if m.ServerID == nil {
		return nil, ErrNoServerAssigned
	}
	if m.CurrentLivePhase() != models.LivePaused {
		if err := s.setLivePhase(ctx, m, models.LivePaused, SourceAdmin); err != nil {
			return nil, err
		}
	}
	s.Progress.Rewind(m.ID, round)
	s.Live.Apply(m.ID, live.Delta{Round: &round})
	if err := s.command(ctx, m, gameserver.RestoreRoundCommand(round), true); err != nil {
		return m, err
	}
	s.Logger.InfoContext(ctx, "round restore requested", slog.Int("match_id", m.ID), slog.Int("round", round))
	return m, nil
}

// --- live -> finished ---

func (s *matchService) FinishMatch(ctx context.Context, matchID int, input FinishMatchInput) (*FinishResult, error) {
	if err := validateScores(input.Team1Score, input.Team2Score); err != nil {
		return nil, err
	}
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	res, err := s.finish(ctx, m, input.Team1Score, input.Team2Score, SourceAdmin)
	if err != nil {
		return nil, err
	}
	if m.ServerID != nil {
		serverID := *m.ServerID
		s.background("end match", func(ctx context.Context) {
			s.sendCommand(ctx, m.ID, serverID, gameserver.EndMatchCommand())
		})
	}
	return res, nil
}

func (s *matchService) FinishFromSeries(ctx context.Context, m *models.Match, team1Score, team2Score int) (*FinishResult, error) {
	if err := validateScores(team1Score, team2Score); err != nil {
		return nil, err
	}
	return s.finish(ctx, m, team1Score, team2Score, SourceEvent)
}

func validateScores(team1, team2 int) error {
	if team1 < 0 || team2 < 0 {
		return ErrInvalidScore
	}
	if team1 == team2 {
		return fmt.Errorf("%w: %d-%d", ErrTieNotAllowed, team1, team2)
	}
	return nil
}

func (s *matchService) finish(ctx context.Context, m *models.Match, team1Score, team2Score int, source string) (*FinishResult, error) {
	if m.Phase != models.PhaseLive {
		return nil, phaseConflict(m, models.PhaseLive)
	}
	if !m.BothTeams() {
		return nil, ErrMatchNotReady
	}
	winnerID := *m.Team1.TeamID
	if team2Score > team1Score {
		winnerID = *m.Team2.TeamID
	}

	now := s.Now()
	ok, err := s.Matches.Finish(ctx, m.ID, team1Score, team2Score, winnerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to finish match %d: %w", m.ID, err)
	}
	if !ok {
		// проигравший конкурентный вызов видит уже завершённый матч
		current, err := s.load(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		return nil, phaseConflict(current, models.PhaseLive)
	}
	s.Metrics.MatchTransition(string(models.PhaseFinished), source)

	result := &FinishResult{}
	started := s.Now()
	resolution, resolveErr := s.Resolver.Resolve(ctx, m.ID)
	s.Metrics.ObserveResolve(s.Now().Sub(started), resolveErr)
	switch {
	case resolveErr == nil:
		result.Resolution = resolution
	case errors.Is(resolveErr, brackets.ErrBracketConsistency):
		s.Logger.ErrorContext(ctx, "bracket consistency fault after finish",
			slog.Int("match_id", m.ID), slog.Any("error", resolveErr))
		return nil, fmt.Errorf("%w: match %d: %v", ErrBracketFault, m.ID, resolveErr)
	default:
		s.Logger.ErrorContext(ctx, "bracket advance failed, will be retried",
			slog.Int("match_id", m.ID), slog.Any("error", resolveErr))
		result.AdvancePending = true
	}

	finished, err := s.load(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	result.Match = finished

	s.Logger.InfoContext(ctx, "match finished",
		slog.Int("match_id", m.ID),
		slog.String("round", m.Round.String()),
		slog.Int("team1_score", team1Score),
		slog.Int("team2_score", team2Score),
		slog.Int("winner_id", winnerID),
		slog.String("source", source),
	)

	phase := models.PhaseFinished
	delta := live.Delta{Phase: &phase}
	if m.BestOf > 1 {
		delta.Team1Maps, delta.Team2Maps = &team1Score, &team2Score
	} else {
		delta.Team1Score, delta.Team2Score = &team1Score, &team2Score
	}
	s.Live.Finish(m.ID, delta)
	s.Progress.Forget(m.ID)

	s.publish(ctx, messaging.SubjectMatchFinished, finished, nil)
	if result.Resolution != nil && result.Resolution.TournamentComplete {
		s.publish(ctx, messaging.SubjectBracketUpdated, finished, result.Resolution.ChampionID)
	}
	s.archive(m.ID, now)
	return result, nil
}

// ResumeUnadvanced дозавершает продвижение по сетке для матчей, которые
// завершились, но не продвинулись (сбой между финишем и резолвером).
// Каждый матч обрабатывается под своей блокировкой, как и FinishMatch.
func (s *matchService) ResumeUnadvanced(ctx context.Context) (int, error) {
	pending, err := s.Matches.ListFinishedUnadvanced(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unadvanced matches: %w", err)
	}

	resumed := 0
	var errs []error
	for _, p := range pending {
		ok, err := s.resumeOne(ctx, p.ID)
		if err != nil {
			s.Logger.ErrorContext(ctx, "resume advancement failed", slog.Int("match_id", p.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("match %d: %w", p.ID, err))
			continue
		}
		if ok {
			resumed++
		}
	}
	return resumed, errors.Join(errs...)
}

func (s *matchService) resumeOne(ctx context.Context, matchID int) (bool, error) {
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	// список мог устареть, пока ждали блокировку
	m, err := s.load(ctx, matchID)
	if err != nil {
		return false, err
	}
	if m.Advanced || m.Phase != models.PhaseFinished {
		return false, nil
	}

	started := s.Now()
	resolution, err := s.Resolver.Resolve(ctx, m.ID)
	s.Metrics.ObserveResolve(s.Now().Sub(started), err)
	if errors.Is(err, brackets.ErrAlreadyAdvanced) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.Logger.InfoContext(ctx, "bracket advancement resumed", slog.Int("match_id", m.ID))
	if resolution.TournamentComplete {
		s.publish(ctx, messaging.SubjectBracketUpdated, m, resolution.ChampionID)
	}
	return true, nil
}

// --- cancellation ---

func (s *matchService) CancelMatch(ctx context.Context, matchID int) (*models.Match, error) {
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Phase.Terminal() {
		return nil, phaseConflict(m, models.PhaseLive)
	}
	ok, err := s.Matches.Cancel(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel match %d: %w", m.ID, err)
	}
	if !ok {
		current, err := s.load(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		return nil, phaseConflict(current, models.PhaseLive)
	}

	cancelled, err := s.load(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	s.Metrics.MatchTransition(string(models.PhaseCancelled), SourceAdmin)
	s.Logger.InfoContext(ctx, "match cancelled", slog.Int("match_id", m.ID), slog.String("previous_phase", string(m.Phase)))

	phase := models.PhaseCancelled
	s.Live.Finish(m.ID, live.Delta{Phase: &phase})
	s.Progress.Forget(m.ID)
	s.publish(ctx, messaging.SubjectMatchCancelled, cancelled, nil)
	s.archive(m.ID, s.Now())
	return cancelled, nil
}

// --- veto and config ---

func validateVeto(steps []models.VetoStep, bestOf int) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidVeto)
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		name := strings.TrimSpace(step.Map)
		if name == "" {
			return fmt.Errorf("%w: step %d has no map", ErrInvalidVeto, i+1)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: map %s appears twice", ErrInvalidVeto, name)
		}
		seen[name] = struct{}{}

		switch step.Action {
		case models.VetoBan, models.VetoPick:
			if step.Side != models.SideTeam1 && step.Side != models.SideTeam2 {
				return fmt.Errorf("%w: step %d needs side team1 or team2", ErrInvalidVeto, i+1)
			}
		case models.VetoLeftover:
			if step.Side != "" {
				return fmt.Errorf("%w: leftover step %d has no side", ErrInvalidVeto, i+1)
			}
		default:
			return fmt.Errorf("%w: step %d has unknown action %q", ErrInvalidVeto, i+1, step.Action)
		}
	}
	if played := len(models.VetoMaps(steps)); played != bestOf {
		return fmt.Errorf("%w: %d maps selected for a best of %d", ErrInvalidVeto, played, bestOf)
	}
	return nil
}

func (s *matchService) SetVeto(ctx context.Context, matchID int, steps []models.VetoStep) (*models.Match, error) {
	unlock := s.Locker.Lock(matchID)
	defer unlock()

	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.Phase.NotStarted() {
		return nil, ErrVetoLocked
	}
	if err := validateVeto(steps, m.BestOf); err != nil {
		return nil, err
	}
	ok, err := s.Matches.SetVeto(ctx, m.ID, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to save veto of match %d: %w", m.ID, err)
	}
	if !ok {
		return nil, ErrVetoLocked
	}
	return s.load(ctx, m.ID)
}

func (s *matchService) MatchConfig(ctx context.Context, matchID int) (*MatchConfig, error) {
	m, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.BothTeams() {
		return nil, ErrMatchNotReady
	}
	maps := models.VetoMaps(m.Veto)
	if len(maps) != m.BestOf {
		return nil, ErrVetoIncomplete
	}
	teams, err := s.Teams.GetByIDs(ctx, matchTeamIDs(m))
	if err != nil {
		return nil, fmt.Errorf("failed to load teams of match %d: %w", m.ID, err)
	}
	t1, ok1 := teams[*m.Team1.TeamID]
	t2, ok2 := teams[*m.Team2.TeamID]
	if !ok1 || !ok2 {
		return nil, ErrTeamNotFound
	}
	return &MatchConfig{
		MatchID:        strconv.Itoa(m.ID),
		NumMaps:        m.BestOf,
		MapList:        maps,
		ClinchSeries:   true,
		PlayersPerTeam: 5,
		Team1:          MatchConfigTeam{ID: t1.ID, Name: t1.Name, Tag: t1.Tag},
		Team2:          MatchConfigTeam{ID: t2.ID, Name: t2.Name, Tag: t2.Tag},
		Veto:           m.Veto,
	}, nil
}

func (s *matchService) configURL(matchID int) string {
	return fmt.Sprintf("%s/api/matches/%d/config", strings.TrimRight(s.cfg.PublicBaseURL, "/"), matchID)
}

// --- side channels ---

// command синхронно отправляет консольную команду. Без назначенного сервера
// команда пропускается, если она не обязательна.
func (s *matchService) command(ctx context.Context, m *models.Match, cmd string, required bool) error {
	if m.ServerID == nil || s.Commander == nil {
		if required {
			return ErrNoServerAssigned
		}
		s.Logger.DebugContext(ctx, "no game server, command skipped", slog.Int("match_id", m.ID), slog.String("command", cmd))
		return nil
	}
	if err := s.Commander.SendCommand(ctx, *m.ServerID, cmd); err != nil {
		return fmt.Errorf("%w: match %d: %v", ErrGameServerCommand, m.ID, err)
	}
	return nil
}

func (s *matchService) sendCommand(ctx context.Context, matchID int, serverID, cmd string) {
	if s.Commander == nil {
		return
	}
	if err := s.Commander.SendCommand(ctx, serverID, cmd); err != nil {
		s.Logger.ErrorContext(ctx, "game server command failed",
			slog.Int("match_id", matchID),
			slog.String("server_id", serverID),
			slog.Any("error", err),
		)
	}
}

func (s *matchService) publish(ctx context.Context, subject string, m *models.Match, championID *int) {
	event := messaging.MatchEvent{
		MatchID:      m.ID,
		TournamentID: m.TournamentID,
		Round:        m.Round.String(),
		Phase:        string(m.Phase),
		Team1Score:   m.Team1Score,
		Team2Score:   m.Team2Score,
		WinnerID:     m.WinnerID,
		ChampionID:   championID,
		OccurredAt:   s.Now(),
	}
	if err := s.Publisher.Publish(ctx, subject, event); err != nil {
		s.Logger.WarnContext(ctx, "failed to publish match event",
			slog.String("subject", subject),
			slog.Int("match_id", m.ID),
			slog.Any("error", err),
		)
	}
}

func (s *matchService) archive(matchID int, at time.Time) {
	if s.Audit == nil {
		return
	}
	s.background("archive events", func(ctx context.Context) {
		key, err := s.Audit.Flush(ctx, matchID, at)
		if err != nil {
			s.Logger.ErrorContext(ctx, "failed to archive match events", slog.Int("match_id", matchID), slog.Any("error", err))
			return
		}
		if key != "" {
			s.Logger.InfoContext(ctx, "match events archived", slog.Int("match_id", matchID), slog.String("key", key))
		}
	})
}
