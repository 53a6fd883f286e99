package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrTournamentStandingNotFound = errors.New("tournament standing not found")
	ErrStandingTeamInvalid        = errors.New("standing team conflict or invalid")
)

type TournamentStandingRepository interface {
	BatchCreate(ctx context.Context, standings []*models.TournamentStanding) error
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.TournamentStanding, error)
	MarkEliminated(ctx context.Context, tournamentID, teamID int) error
	MarkChampion(ctx context.Context, tournamentID, teamID int) error
}

type postgresTournamentStandingRepository struct {
	db *sql.DB
}

func NewPostgresTournamentStandingRepository(db *sql.DB) TournamentStandingRepository {
	return &postgresTournamentStandingRepository{db: db}
}

func (r *postgresTournamentStandingRepository) BatchCreate(ctx context.Context, standings []*models.TournamentStanding) (err error) {
	if len(standings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BatchCreate failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tournament_standings (tournament_id, team_id, seed, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("BatchCreate failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, standing := range standings {
		if standing.UpdatedAt.IsZero() {
			standing.UpdatedAt = time.Now()
		}
		if standing.Status == "" {
			standing.Status = models.StandingActive
		}
		_, err = stmt.ExecContext(ctx,
			standing.TournamentID, standing.TeamID, standing.Seed, standing.Status, standing.UpdatedAt,
		)
		if err != nil {
			if code, _, ok := pqErrorCode(err); ok && (code == pqForeignKeyViolation || code == pqUniqueViolation) {
				return fmt.Errorf("team %d: %w", standing.TeamID, ErrStandingTeamInvalid)
			}
			return fmt.Errorf("BatchCreate failed for team %d: %w", standing.TeamID, err)
		}
	}
	return nil
}

func (r *postgresTournamentStandingRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.TournamentStanding, error) {
	query := `
		SELECT s.tournament_id, s.team_id, s.seed, s.status, s.updated_at,
		       t.id, t.name, t.tag, t.created_at
		FROM tournament_standings s
		JOIN teams t ON t.id = s.team_id
		WHERE s.tournament_id = $1
		ORDER BY s.seed ASC`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	standings := make([]*models.TournamentStanding, 0)
	for rows.Next() {
		s := &models.TournamentStanding{Team: &models.Team{}}
		if err := rows.Scan(
			&s.TournamentID, &s.TeamID, &s.Seed, &s.Status, &s.UpdatedAt,
			&s.Team.ID, &s.Team.Name, &s.Team.Tag, &s.Team.CreatedAt,
		); err != nil {
			return nil, err
		}
		standings = append(standings, s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return standings, nil
}

// MarkEliminated идемпотентен: повторный вызов для выбывшей команды ничего не меняет.
func (r *postgresTournamentStandingRepository) MarkEliminated(ctx context.Context, tournamentID, teamID int) error {
	return r.setStatus(ctx, tournamentID, teamID, models.StandingEliminated)
}

func (r *postgresTournamentStandingRepository) MarkChampion(ctx context.Context, tournamentID, teamID int) error {
	return r.setStatus(ctx, tournamentID, teamID, models.StandingChampion)
}

func (r *postgresTournamentStandingRepository) setStatus(ctx context.Context, tournamentID, teamID int, status models.StandingStatus) error {
	query := `
		UPDATE tournament_standings SET status = $3, updated_at = NOW()
		WHERE tournament_id = $1 AND team_id = $2`
	result, err := r.db.ExecContext(ctx, query, tournamentID, teamID, status)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrTournamentStandingNotFound)
}
