package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/lib/pq"
)

var (
	ErrTeamNotFound     = errors.New("team not found")
	ErrTeamNameConflict = errors.New("team name already exists")
)

type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	GetByID(ctx context.Context, id int) (*models.Team, error)
	GetByIDs(ctx context.Context, ids []int) (map[int]*models.Team, error)
}

type postgresTeamRepository struct {
	db *sql.DB
}

func NewPostgresTeamRepository(db *sql.DB) TeamRepository {
	return &postgresTeamRepository{db: db}
}

func (r *postgresTeamRepository) Create(ctx context.Context, team *models.Team) error {
	query := `INSERT INTO teams (name, tag) VALUES ($1, $2) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, team.Name, team.Tag).Scan(&team.ID, &team.CreatedAt)
	if code, _, ok := pqErrorCode(err); ok && code == pqUniqueViolation {
		return ErrTeamNameConflict
	}
	return err
}

func (r *postgresTeamRepository) GetByID(ctx context.Context, id int) (*models.Team, error) {
	query := `SELECT id, name, tag, created_at FROM teams WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var team models.Team
	if err := row.Scan(&team.ID, &team.Name, &team.Tag, &team.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (r *postgresTeamRepository) GetByIDs(ctx context.Context, ids []int) (map[int]*models.Team, error) {
	teams := make(map[int]*models.Team, len(ids))
	if len(ids) == 0 {
		return teams, nil
	}

	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, tag, created_at FROM teams WHERE id = ANY($1)`, arr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var team models.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Tag, &team.CreatedAt); err != nil {
			return nil, err
		}
		teams[team.ID] = &team
	}
	return teams, rows.Err()
}
