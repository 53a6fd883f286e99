package brackets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

var (
	ErrBracketConsistency = errors.New("bracket consistency fault")
	ErrAlreadyAdvanced    = errors.New("match has already been advanced")
	ErrMatchNotFinished   = errors.New("match is not finished")
)

const (
	DefaultResetDelay = 15 * time.Minute
	maxByeDepth       = 16
)

// MatchStore - часть репозитория матчей, через которую пишет резолвер.
type MatchStore interface {
	GetByID(ctx context.Context, id int) (*models.Match, error)
	GetByRound(ctx context.Context, tournamentID int, round models.Round) (*models.Match, error)
	Create(ctx context.Context, match *models.Match) error
	PlaceInSlot(ctx context.Context, matchID int, slot int, occupant models.Slot) error
	PromoteToScheduled(ctx context.Context, matchID int) (bool, error)
	FinishBye(ctx context.Context, matchID int, winnerID *int, finishedAt time.Time) (bool, error)
	MarkAdvanced(ctx context.Context, matchID int) (bool, error)
}

type StandingStore interface {
	MarkEliminated(ctx context.Context, tournamentID, teamID int) error
	MarkChampion(ctx context.Context, tournamentID, teamID int) error
}

type TournamentStore interface {
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	Complete(ctx context.Context, id int, championID int) error
}

// Advance фиксирует один слот, записанный при продвижении.
type Advance struct {
	MatchID  int          `json:"match_id"`
	Round    models.Round `json:"round"`
	Slot     int          `json:"slot"`
	Occupant models.Slot  `json:"occupant"`
}

// Resolution - всё, что завершённый матч изменил в сетке, включая матчи
// с пропуском, решённые по пути.
type Resolution struct {
	MatchID            int       `json:"match_id"`
	Advances           []Advance `json:"advances"`
	Eliminated         []int     `json:"eliminated,omitempty"`
	Scheduled          []int     `json:"scheduled,omitempty"`
	ByeMatches         []int     `json:"bye_matches,omitempty"`
	TournamentComplete bool      `json:"tournament_complete"`
	ChampionID         *int      `json:"champion_id,omitempty"`
}

type ResolverOption func(*Resolver)

func WithResetDelay(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.resetDelay = d }
}

// WithRetry задаёт число попыток и паузу для транзиентных ошибок хранилища.
func WithRetry(attempts int, delay time.Duration) ResolverOption {
	return func(r *Resolver) {
		if attempts > 0 {
			r.retryAttempts = attempts
		}
		r.retryDelay = delay
	}
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// Resolver продвигает команды по сетке после завершения матча.
type Resolver struct {
	matches     MatchStore
	standings   StandingStore
	tournaments TournamentStore
	logger      *slog.Logger

	resetDelay    time.Duration
	retryAttempts int
	retryDelay    time.Duration
	now           func() time.Time
}

func NewResolver(matches MatchStore, standings StandingStore, tournaments TournamentStore, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		matches:       matches,
		standings:     standings,
		tournaments:   tournaments,
		logger:        logger,
		resetDelay:    DefaultResetDelay,
		retryAttempts: 3,
		retryDelay:    200 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve продвигает победителя и проигравшего завершённого матча. Повторный
// вызов для продвинутого матча возвращает ErrAlreadyAdvanced и ничего не
// меняет. Частично продвинутый матч дозавершается без повторных записей.
func (r *Resolver) Resolve(ctx context.Context, matchID int) (*Resolution, error) {
	res := &Resolution{MatchID: matchID}
	if err := r.resolve(ctx, matchID, res, 0); err != nil {
		return res, err
	}
	return res, nil
}

// SettleMatch досчитывает матч с двумя решёнными слотами: две команды
// делают его запланированным, пропуск завершает его и продвигает соперника.
// Вызывается после посева первого раунда.
func (r *Resolver) SettleMatch(ctx context.Context, matchID int) (*Resolution, error) {
	res := &Resolution{MatchID: matchID}
	if err := r.settle(ctx, matchID, res, 0); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, matchID int, res *Resolution, depth int) error {
	if depth > maxByeDepth {
		return fmt.Errorf("%w: bye chain deeper than %d at match %d", ErrBracketConsistency, maxByeDepth, matchID)
	}

	m, err := r.getMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Advanced {
		return fmt.Errorf("match %d: %w", m.ID, ErrAlreadyAdvanced)
	}
	if m.Phase != models.PhaseFinished {
		return fmt.Errorf("match %d is %s: %w", m.ID, m.Phase, ErrMatchNotFinished)
	}

	t, err := r.tournaments.GetByID(ctx, m.TournamentID)
	if err != nil {
		return fmt.Errorf("load tournament %d: %w", m.TournamentID, err)
	}
	topo, err := NewTopology(t.BracketSize)
	if err != nil {
		return err
	}

	winSlot := m.WinnerSlot()
	if winSlot == 0 {
		return r.fault(m, "finished match has no winner in its slots")
	}
	loseSlot := 3 - winSlot

	winDest, err := topo.NextOnWin(m.Round, winSlot)
	if err != nil {
		return err
	}
	loseDest, err := topo.NextOnLoss(m.Round, loseSlot)
	if err != nil {
		return err
	}

	touched := make([]int, 0, 2)
	for _, step := range []struct {
		dest     Destination
		occupant models.Slot
	}{
		{winDest, m.SlotAt(winSlot)},
		{loseDest, m.SlotAt(loseSlot)},
	} {
		dstID, err := r.apply(ctx, t, m, step.dest, step.occupant, res)
		if err != nil {
			return err
		}
		if dstID != 0 {
			touched = append(touched, dstID)
		}
	}

	for _, dstID := range touched {
		if err := r.settle(ctx, dstID, res, depth); err != nil {
			return err
		}
	}

	if err := r.retry(ctx, func() error {
		_, err := r.matches.MarkAdvanced(ctx, m.ID)
		return err
	}); err != nil {
		return fmt.Errorf("mark match %d advanced: %w", m.ID, err)
	}

	r.logger.Info("match advanced",
		slog.Int("match_id", m.ID),
		slog.String("round", m.Round.String()),
		slog.String("winner_to", winDest.String()),
		slog.String("loser_to", loseDest.String()),
	)
	return nil
}

// apply отправляет участника по назначению и возвращает id матча
// назначения или 0, если назначение не матч.
func (r *Resolver) apply(ctx context.Context, t *models.Tournament, from *models.Match, dest Destination, occupant models.Slot, res *Resolution) (int, error) {
	switch dest.Kind {
	case ToEliminated:
		if !occupant.HasTeam() {
			return 0, nil
		}
		teamID := *occupant.TeamID
		if err := r.retry(ctx, func() error {
			return r.standings.MarkEliminated(ctx, t.ID, teamID)
		}); err != nil {
			return 0, fmt.Errorf("eliminate team %d: %w", teamID, err)
		}
		res.Eliminated = append(res.Eliminated, teamID)
		return 0, nil

	case ToChampion:
		if !occupant.HasTeam() {
			return 0, r.fault(from, "champion slot holds no team")
		}
		teamID := *occupant.TeamID
		if err := r.retry(ctx, func() error {
			return r.tournaments.Complete(ctx, t.ID, teamID)
		}); err != nil {
			return 0, fmt.Errorf("complete tournament %d: %w", t.ID, err)
		}
		if err := r.retry(ctx, func() error {
			return r.standings.MarkChampion(ctx, t.ID, teamID)
		}); err != nil {
			return 0, fmt.Errorf("mark champion %d: %w", teamID, err)
		}
		res.TournamentComplete = true
		res.ChampionID = &teamID
		return 0, nil

	case ToMatch:
		dst, err := r.destinationMatch(ctx, t, from, dest.Round)
		if err != nil {
			return 0, err
		}
		if dst.Phase == models.PhaseCancelled {
			r.logger.Warn("destination match is cancelled, occupant not placed",
				slog.Int("match_id", from.ID), slog.Int("destination_id", dst.ID))
			return 0, nil
		}
		if err := r.place(ctx, dst, dest.Slot, occupant); err != nil {
			return 0, err
		}
		res.Advances = append(res.Advances, Advance{
			MatchID:  dst.ID,
			Round:    dest.Round,
			Slot:     dest.Slot,
			Occupant: occupant,
		})
		return dst.ID, nil
	}
	return 0, fmt.Errorf("unknown destination kind %d", dest.Kind)
}

func (r *Resolver) destinationMatch(ctx context.Context, t *models.Tournament, from *models.Match, round models.Round) (*models.Match, error) {
	dst, err := r.matches.GetByRound(ctx, t.ID, round)
	if err == nil {
		return dst, nil
	}
	if !errors.Is(err, repositories.ErrMatchNotFound) {
		return nil, fmt.Errorf("load %s: %w", round, err)
	}

	// Reset создаётся только если слот 2 выиграл финал.
	scheduledAt := from.ScheduledAt.Add(t.MatchInterval)
	if round.Kind == models.RoundGrandFinalReset {
		finishedAt := r.now()
		if from.FinishedAt != nil {
			finishedAt = *from.FinishedAt
		}
		scheduledAt = finishedAt.Add(r.resetDelay)
	}
	dst = &models.Match{
		TournamentID: t.ID,
		Round:        round,
		ScheduledAt:  scheduledAt,
		Phase:        models.PhasePending,
		BestOf:       t.BestOf,
	}
	err = r.matches.Create(ctx, dst)
	if errors.Is(err, repositories.ErrMatchConflict) {
		return r.getMatchByRound(ctx, t.ID, round)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", round, err)
	}
	return dst, nil
}

func (r *Resolver) place(ctx context.Context, dst *models.Match, slot int, occupant models.Slot) error {
	err := r.retry(ctx, func() error {
		return r.matches.PlaceInSlot(ctx, dst.ID, slot, occupant)
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrSlotOccupied) {
		return fmt.Errorf("place into match %d slot %d: %w", dst.ID, slot, err)
	}

	current, err := r.getMatch(ctx, dst.ID)
	if err != nil {
		return err
	}
	if current.SlotAt(slot).Equal(occupant) {
		return nil // повторная обработка того же результата
	}
	return r.fault(current, fmt.Sprintf("slot %d already holds a different occupant", slot))
}

// settle доводит до конца то, что стало решаемым в матче назначения.
func (r *Resolver) settle(ctx context.Context, matchID int, res *Resolution, depth int) error {
	m, err := r.getMatch(ctx, matchID)
	if err != nil {
		return err
	}

	switch {
	case m.Phase == models.PhasePending && m.BothTeams():
		var promoted bool
		if err := r.retry(ctx, func() error {
			var err error
			promoted, err = r.matches.PromoteToScheduled(ctx, m.ID)
			return err
		}); err != nil {
			return fmt.Errorf("schedule match %d: %w", m.ID, err)
		}
		if promoted {
			res.Scheduled = append(res.Scheduled, m.ID)
		}
		return nil

	case m.Phase == models.PhasePending && m.Decided() && m.HasBye():
		var winnerID *int
		switch {
		case m.Team1.HasTeam():
			winnerID = m.Team1.TeamID
		case m.Team2.HasTeam():
			winnerID = m.Team2.TeamID
		}
		if err := r.retry(ctx, func() error {
			_, err := r.matches.FinishBye(ctx, m.ID, winnerID, r.now())
			return err
		}); err != nil {
			return fmt.Errorf("finish bye match %d: %w", m.ID, err)
		}
		return r.resolveBye(ctx, m.ID, res, depth)

	case m.Phase == models.PhaseFinished && m.HasBye() && !m.Advanced:
		return r.resolveBye(ctx, m.ID, res, depth)
	}
	return nil
}

func (r *Resolver) resolveBye(ctx context.Context, matchID int, res *Resolution, depth int) error {
	err := r.resolve(ctx, matchID, res, depth+1)
	if errors.Is(err, ErrAlreadyAdvanced) {
		return nil
	}
	if err != nil {
		return err
	}
	res.ByeMatches = append(res.ByeMatches, matchID)
	return nil
}

func (r *Resolver) fault(m *models.Match, reason string) error {
	r.logger.Error("bracket consistency fault",
		slog.Int("match_id", m.ID),
		slog.Int("tournament_id", m.TournamentID),
		slog.String("round", m.Round.String()),
		slog.String("reason", reason),
	)
	return fmt.Errorf("%w: match %d (%s): %s", ErrBracketConsistency, m.ID, m.Round, reason)
}

func (r *Resolver) getMatch(ctx context.Context, id int) (*models.Match, error) {
	var m *models.Match
	err := r.retry(ctx, func() error {
		var err error
		m, err = r.matches.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load match %d: %w", id, err)
	}
	return m, nil
}

func (r *Resolver) getMatchByRound(ctx context.Context, tournamentID int, round models.Round) (*models.Match, error) {
	var m *models.Match
	err := r.retry(ctx, func() error {
		var err error
		m, err = r.matches.GetByRound(ctx, tournamentID, round)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", round, err)
	}
	return m, nil
}

var permanentStoreErrors = []error{
	repositories.ErrMatchNotFound,
	repositories.ErrMatchConflict,
	repositories.ErrSlotOccupied,
	repositories.ErrTournamentNotFound,
	repositories.ErrTournamentCompleted,
	repositories.ErrTournamentStandingNotFound,
	ErrBracketConsistency,
	context.Canceled,
	context.DeadlineExceeded,
}

func isPermanent(err error) bool {
	for _, target := range permanentStoreErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// retry повторяет одну запись в хранилище при транзиентной ошибке.
func (r *Resolver) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= r.retryAttempts; attempt++ {
		if err = op(); err == nil || isPermanent(err) {
			return err
		}
		if attempt == r.retryAttempts {
			break
		}
		r.logger.Warn("store call failed, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}
	return err
}
