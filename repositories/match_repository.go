package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrMatchNotFound          = errors.New("match not found")
	ErrMatchConflict          = errors.New("match already exists for this round")
	ErrSlotOccupied           = errors.New("match slot is already occupied")
	ErrMatchTournamentInvalid = errors.New("match tournament reference is invalid")
	ErrMatchTeamInvalid       = errors.New("match team reference is invalid")
)

// MatchRepository хранит матчи сетки. Все методы, возвращающие bool,
// выполняют условное обновление одной строки: false означает, что матч
// не находился в ожидаемом состоянии.
type MatchRepository interface {
	Create(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	GetByRound(ctx context.Context, tournamentID int, round models.Round) (*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error)
	ListFinishedUnadvanced(ctx context.Context) ([]*models.Match, error)

	PlaceInSlot(ctx context.Context, matchID int, slot int, occupant models.Slot) error
	PromoteToScheduled(ctx context.Context, matchID int) (bool, error)
	FinishBye(ctx context.Context, matchID int, winnerID *int, finishedAt time.Time) (bool, error)
	MarkAdvanced(ctx context.Context, matchID int) (bool, error)

	Start(ctx context.Context, matchID int, startedAt time.Time) (bool, error)
	SetLivePhase(ctx context.Context, matchID int, phase models.LivePhase) (bool, error)
	Finish(ctx context.Context, matchID int, team1Score, team2Score int, winnerID int, finishedAt time.Time) (bool, error)
	Cancel(ctx context.Context, matchID int) (bool, error)
	ShiftSchedule(ctx context.Context, tournamentID int, excludeMatchID int, shift time.Duration) (int, error)
	SetVeto(ctx context.Context, matchID int, veto []models.VetoStep) (bool, error)
	SetServer(ctx context.Context, matchID int, serverID *string) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `
	id, tournament_id, round, team1_id, team1_bye, team2_id, team2_bye,
	scheduled_at, phase, live_phase, team1_score, team2_score, winner_id,
	started_at, finished_at, advanced, server_id, best_of, veto, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	m := &models.Match{}
	var veto []byte
	err := row.Scan(
		&m.ID,
		&m.TournamentID,
		&m.Round,
		&m.Team1.TeamID,
		&m.Team1.Bye,
		&m.Team2.TeamID,
		&m.Team2.Bye,
		&m.ScheduledAt,
		&m.Phase,
		&m.LivePhase,
		&m.Team1Score,
		&m.Team2Score,
		&m.WinnerID,
		&m.StartedAt,
		&m.FinishedAt,
		&m.Advanced,
		&m.ServerID,
		&m.BestOf,
		&veto,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(veto) > 0 {
		if err := json.Unmarshal(veto, &m.Veto); err != nil {
			return nil, fmt.Errorf("decode veto of match %d: %w", m.ID, err)
		}
	}
	return m, nil
}

func encodeVeto(veto []models.VetoStep) ([]byte, error) {
	if len(veto) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(veto)
}

func (r *postgresMatchRepository) Create(ctx context.Context, match *models.Match) error {
	veto, err := encodeVeto(match.Veto)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO matches
			(tournament_id, round, team1_id, team1_bye, team2_id, team2_bye,
			 scheduled_at, phase, best_of, veto)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		match.TournamentID,
		match.Round,
		match.Team1.TeamID,
		match.Team1.Bye,
		match.Team2.TeamID,
		match.Team2.Bye,
		match.ScheduledAt,
		match.Phase,
		match.BestOf,
		veto,
	).Scan(&match.ID, &match.CreatedAt)

	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) GetByRound(ctx context.Context, tournamentID int, round models.Round) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1 AND round = $2`
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, tournamentID, round))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresMatchRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1 ORDER BY scheduled_at ASC, id ASC`
	return r.list(ctx, query, tournamentID)
}

func (r *postgresMatchRepository) ListFinishedUnadvanced(ctx context.Context) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE phase = 'finished' AND NOT advanced ORDER BY finished_at ASC, id ASC`
	return r.list(ctx, query)
}

func (r *postgresMatchRepository) PlaceInSlot(ctx context.Context, matchID int, slot int, occupant models.Slot) error {
	var query string
	switch slot {
	case 1:
		query = `UPDATE matches SET team1_id = $2, team1_bye = $3
			WHERE id = $1 AND team1_id IS NULL AND NOT team1_bye AND phase = 'pending'`
	case 2:
		query = `UPDATE matches SET team2_id = $2, team2_bye = $3
			WHERE id = $1 AND team2_id IS NULL AND NOT team2_bye AND phase = 'pending'`
	default:
		return fmt.Errorf("invalid slot %d", slot)
	}

	placed, err := conditionalUpdate(ctx, r.db, query, matchID, occupant.TeamID, occupant.Bye)
	if err != nil {
		return r.handleMatchError(err)
	}
	if placed {
		return nil
	}
	if _, err := r.GetByID(ctx, matchID); err != nil {
		return err
	}
	return ErrSlotOccupied
}

func (r *postgresMatchRepository) PromoteToScheduled(ctx context.Context, matchID int) (bool, error) {
	query := `
		UPDATE matches SET phase = 'scheduled'
		WHERE id = $1 AND phase = 'pending' AND team1_id IS NOT NULL AND team2_id IS NOT NULL`
	return conditionalUpdate(ctx, r.db, query, matchID)
}

func (r *postgresMatchRepository) FinishBye(ctx context.Context, matchID int, winnerID *int, finishedAt time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET phase = 'finished', winner_id = $2, finished_at = $3, team1_score = 0, team2_score = 0
		WHERE id = $1 AND phase = 'pending' AND (team1_bye OR team2_bye)
			AND (team1_id IS NOT NULL OR team1_bye) AND (team2_id IS NOT NULL OR team2_bye)`
	return conditionalUpdate(ctx, r.db, query, matchID, winnerID, finishedAt)
}

func (r *postgresMatchRepository) MarkAdvanced(ctx context.Context, matchID int) (bool, error) {
	query := `UPDATE matches SET advanced = TRUE WHERE id = $1 AND phase = 'finished' AND NOT advanced`
	return conditionalUpdate(ctx, r.db, query, matchID)
}

func (r *postgresMatchRepository) Start(ctx context.Context, matchID int, startedAt time.Time) (bool, error) {
	query := `
		UPDATE matches SET phase = 'live', live_phase = 'warmup', started_at = $2
		WHERE id = $1 AND phase = 'scheduled'`
	return conditionalUpdate(ctx, r.db, query, matchID, startedAt)
}

func (r *postgresMatchRepository) SetLivePhase(ctx context.Context, matchID int, phase models.LivePhase) (bool, error) {
	query := `UPDATE matches SET live_phase = $2 WHERE id = $1 AND phase = 'live'`
	return conditionalUpdate(ctx, r.db, query, matchID, phase)
}

func (r *postgresMatchRepository) Finish(ctx context.Context, matchID int, team1Score, team2Score int, winnerID int, finishedAt time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET phase = 'finished', live_phase = NULL, team1_score = $2, team2_score = $3,
			winner_id = $4, finished_at = $5
		WHERE id = $1 AND phase = 'live'`
	ok, err := conditionalUpdate(ctx, r.db, query, matchID, team1Score, team2Score, winnerID, finishedAt)
	return ok, r.handleMatchError(err)
}

func (r *postgresMatchRepository) Cancel(ctx context.Context, matchID int) (bool, error) {
	query := `
		UPDATE matches SET phase = 'cancelled', live_phase = NULL
		WHERE id = $1 AND phase IN ('pending', 'scheduled', 'live')`
	return conditionalUpdate(ctx, r.db, query, matchID)
}

func (r *postgresMatchRepository) ShiftSchedule(ctx context.Context, tournamentID int, excludeMatchID int, shift time.Duration) (int, error) {
	query := `
		UPDATE matches SET scheduled_at = scheduled_at + $3 * INTERVAL '1 second'
		WHERE tournament_id = $1 AND id <> $2 AND phase IN ('pending', 'scheduled')`
	result, err := r.db.ExecContext(ctx, query, tournamentID, excludeMatchID, shift.Seconds())
	if err != nil {
		return 0, err
	}
	n, err := checkRowsAffected(result)
	return int(n), err
}

func (r *postgresMatchRepository) SetVeto(ctx context.Context, matchID int, veto []models.VetoStep) (bool, error) {
	encoded, err := encodeVeto(veto)
	if err != nil {
		return false, err
	}
	query := `UPDATE matches SET veto = $2 WHERE id = $1 AND phase IN ('pending', 'scheduled')`
	return conditionalUpdate(ctx, r.db, query, matchID, encoded)
}

func (r *postgresMatchRepository) SetServer(ctx context.Context, matchID int, serverID *string) error {
	query := `UPDATE matches SET server_id = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, matchID, serverID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	code, constraint, ok := pqErrorCode(err)
	if !ok {
		return err
	}
	switch code {
	case pqUniqueViolation:
		if constraint == "matches_tournament_id_round_key" {
			return ErrMatchConflict
		}
	case pqForeignKeyViolation:
		switch constraint {
		case "matches_tournament_id_fkey":
			return ErrMatchTournamentInvalid
		case "matches_team1_id_fkey", "matches_team2_id_fkey", "matches_winner_id_fkey":
			return ErrMatchTeamInvalid
		}
	}
	return err
}
