package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

const (
	defaultMatchInterval = 60 * time.Minute
	maxNameLength        = 100
	maxTagLength         = 10
)

// BracketSeeder досчитывает матчи первого раунда сразу после посева.
type BracketSeeder interface {
	SettleMatch(ctx context.Context, matchID int) (*brackets.Resolution, error)
}

type CreateTeamInput struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

type CreateTournamentInput struct {
	Name string `json:"name"`
	// TeamIDs in seed order: первый элемент получает посев 1.
	TeamIDs              []int     `json:"team_ids"`
	StartAt              time.Time `json:"start_at"`
	MatchIntervalMinutes int       `json:"match_interval_minutes"`
	BestOf               int       `json:"best_of"`
}

type ListTournamentsFilter struct {
	Status *models.TournamentStatus
	Limit  int
	Offset int
}

// BracketView - полное публичное состояние сетки турнира.
type BracketView struct {
	Tournament *models.Tournament           `json:"tournament"`
	Matches    []*models.Match              `json:"matches"`
	Standings  []*models.TournamentStanding `json:"standings"`
}

type TournamentService interface {
	CreateTeam(ctx context.Context, input CreateTeamInput) (*models.Team, error)
	CreateTournament(ctx context.Context, input CreateTournamentInput) (*BracketView, error)
	ListTournaments(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
	GetBracket(ctx context.Context, tournamentID int) (*BracketView, error)
	DeleteTournament(ctx context.Context, tournamentID int) error
	AssignServer(ctx context.Context, matchID int, serverID string) (*models.Match, error)
}

type tournamentService struct {
	tournamentRepo repositories.TournamentRepository
	teamRepo       repositories.TeamRepository
	standingRepo   repositories.TournamentStandingRepository
	matchRepo      repositories.MatchRepository
	generator      brackets.BracketGenerator
	seeder         BracketSeeder
	locker         *Locker
	logger         *slog.Logger
}

func NewTournamentService(
	tournamentRepo repositories.TournamentRepository,
	teamRepo repositories.TeamRepository,
	standingRepo repositories.TournamentStandingRepository,
	matchRepo repositories.MatchRepository,
	generator brackets.BracketGenerator,
	seeder BracketSeeder,
	locker *Locker,
	logger *slog.Logger,
) TournamentService {
	return &tournamentService{
		tournamentRepo: tournamentRepo,
		teamRepo:       teamRepo,
		standingRepo:   standingRepo,
		matchRepo:      matchRepo,
		generator:      generator,
		seeder:         seeder,
		locker:         locker,
		logger:         logger,
	}
}

func (s *tournamentService) CreateTeam(ctx context.Context, input CreateTeamInput) (*models.Team, error) {
	name := strings.TrimSpace(input.Name)
	tag := strings.TrimSpace(input.Tag)
	if name == "" {
		return nil, ErrTeamNameRequired
	}
	if len(name) > maxNameLength || len(tag) > maxTagLength {
		return nil, fmt.Errorf("%w: team name or tag too long", ErrValidationFailed)
	}

	team := &models.Team{Name: name, Tag: tag}
	if err := s.teamRepo.Create(ctx, team); err != nil {
		return nil, handleRepositoryError(err, "create team")
	}
	return team, nil
}

func validateTournamentInput(input CreateTournamentInput) error {
	name := strings.TrimSpace(input.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrTournamentInvalid)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: name is too long", ErrTournamentInvalid)
	case input.StartAt.IsZero():
		return fmt.Errorf("%w: start_at is required", ErrTournamentInvalid)
	case input.MatchIntervalMinutes < 0:
		return fmt.Errorf("%w: match interval must be positive", ErrTournamentInvalid)
	}
	switch input.BestOf {
	case 1, 3, 5:
	default:
		return fmt.Errorf("%w: best_of must be 1, 3 or 5", ErrTournamentInvalid)
	}
	if _, err := brackets.BracketSizeFor(len(input.TeamIDs)); err != nil {
		return fmt.Errorf("%w: got %d", ErrInvalidTeamCount, len(input.TeamIDs))
	}
	seen := make(map[int]struct{}, len(input.TeamIDs))
	for _, id := range input.TeamIDs {
		if id <= 0 {
			return fmt.Errorf("%w: invalid team id %d", ErrTournamentInvalid, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: team %d listed twice", ErrTournamentInvalid, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// CreateTournament регистрирует посеянные команды и создаёт все матчи сетки.
// Матчи первого раунда с пустым слотом продвигаются сразу. При любой ошибке
// частично созданный турнир удаляется.
func (s *tournamentService) CreateTournament(ctx context.Context, input CreateTournamentInput) (*BracketView, error) {
	if input.BestOf == 0 {
		input.BestOf = 1
	}
	if err := validateTournamentInput(input); err != nil {
		return nil, err
	}

	teams, err := s.teamRepo.GetByIDs(ctx, input.TeamIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load teams: %w", err)
	}
	for _, id := range input.TeamIDs {
		if _, ok := teams[id]; !ok {
			return nil, fmt.Errorf("%w: team %d", ErrTeamNotFound, id)
		}
	}

	size, _ := brackets.BracketSizeFor(len(input.TeamIDs))
	interval := defaultMatchInterval
	if input.MatchIntervalMinutes > 0 {
		interval = time.Duration(input.MatchIntervalMinutes) * time.Minute
	}
	tournament := &models.Tournament{
		Name:          strings.TrimSpace(input.Name),
		BracketSize:   size,
		Status:        models.StatusActive,
		StartDate:     input.StartAt.UTC(),
		MatchInterval: interval,
		BestOf:        input.BestOf,
	}
	if err := s.tournamentRepo.Create(ctx, tournament); err != nil {
		return nil, handleRepositoryError(err, "create tournament")
	}

	if err := s.seedBracket(ctx, tournament, input.TeamIDs); err != nil {
		if delErr := s.tournamentRepo.Delete(context.WithoutCancel(ctx), tournament.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to clean up tournament after seeding error",
				slog.Int("tournament_id", tournament.ID), slog.Any("error", delErr))
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "tournament created",
		slog.Int("tournament_id", tournament.ID),
		slog.Int("bracket_size", size),
		slog.Int("teams", len(input.TeamIDs)),
	)
	return s.GetBracket(ctx, tournament.ID)
}

func (s *tournamentService) seedBracket(ctx context.Context, t *models.Tournament, teamIDs []int) error {
	standings := make([]*models.TournamentStanding, len(teamIDs))
	for i, id := range teamIDs {
		standings[i] = &models.TournamentStanding{TournamentID: t.ID, TeamID: id, Seed: i + 1, Status: models.StandingActive}
	}
	if err := s.standingRepo.BatchCreate(ctx, standings); err != nil {
		return fmt.Errorf("failed to register standings: %w", err)
	}

	skeleton, err := s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{Tournament: t, Standings: standings})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTournamentInvalid, err)
	}

	decided := make([]int, 0, t.BracketSize/2)
	for _, bm := range skeleton {
		m := &models.Match{
			TournamentID: t.ID,
			Round:        bm.Round,
			Team1:        bm.Team1,
			Team2:        bm.Team2,
			ScheduledAt:  bm.ScheduledAt,
			Phase:        models.PhasePending,
			BestOf:       t.BestOf,
		}
		if err := s.matchRepo.Create(ctx, m); err != nil {
			return fmt.Errorf("failed to create match %s: %w", bm.Round, err)
		}
		if m.Decided() {
			decided = append(decided, m.ID)
		}
	}

	for _, id := range decided {
		if _, err := s.seeder.SettleMatch(ctx, id); err != nil {
			return fmt.Errorf("failed to settle seeded match %d: %w", id, err)
		}
	}
	return nil
}

func (s *tournamentService) ListTournaments(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	list, err := s.tournamentRepo.List(ctx, repositories.ListTournamentsFilter{
		Status: filter.Status,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	if list == nil {
		return []models.Tournament{}, nil
	}
	return list, nil
}

// GetBracket параллельно загружает турнир, его матчи и положение команд.
func (s *tournamentService) GetBracket(ctx context.Context, tournamentID int) (*BracketView, error) {
	view := &BracketView{}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := s.tournamentRepo.GetByID(gCtx, tournamentID)
		if err != nil {
			return handleRepositoryError(err, fmt.Sprintf("get tournament %d", tournamentID))
		}
		view.Tournament = t
		return nil
	})

	g.Go(func() error {
		matches, err := s.matchRepo.ListByTournament(gCtx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
		}
		if matches == nil {
			matches = []*models.Match{}
		}
		view.Matches = matches
		return nil
	})

	g.Go(func() error {
		standings, err := s.standingRepo.ListByTournament(gCtx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to list standings of tournament %d: %w", tournamentID, err)
		}
		if standings == nil {
			standings = []*models.TournamentStanding{}
		}
		view.Standings = standings
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteTournament удаляет турнир вместе с матчами и положением команд.
// Только так заполненный слот сетки может исчезнуть.
func (s *tournamentService) DeleteTournament(ctx context.Context, tournamentID int) error {
	if err := s.tournamentRepo.Delete(ctx, tournamentID); err != nil {
		return handleRepositoryError(err, fmt.Sprintf("delete tournament %d", tournamentID))
	}
	s.logger.InfoContext(ctx, "tournament deleted", slog.Int("tournament_id", tournamentID))
	return nil
}

// AssignServer назначает или снимает (пустой id) игровой сервер матча,
// который ещё не завершён.
func (s *tournamentService) AssignServer(ctx context.Context, matchID int, serverID string) (*models.Match, error) {
	serverID = strings.TrimSpace(serverID)
	if len(serverID) > 64 || strings.ContainsAny(serverID, "/ ") {
		return nil, ErrInvalidServerID
	}

	unlock := s.locker.Lock(matchID)
	defer unlock()

	m, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("get match %d", matchID))
	}
	if m.Phase.Terminal() {
		return nil, phaseConflict(m, models.PhaseLive)
	}

	var sid *string
	if serverID != "" {
		sid = &serverID
	}
	if err := s.matchRepo.SetServer(ctx, matchID, sid); err != nil {
		return nil, handleRepositoryError(err, fmt.Sprintf("assign server to match %d", matchID))
	}
	m.ServerID = sid
	s.logger.InfoContext(ctx, "game server assigned",
		slog.Int("match_id", matchID),
		slog.String("server_id", derefString(sid)),
	)
	return m, nil
}
