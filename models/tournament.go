package models

import "time"

// TournamentStatus представляет статусы турнира, соответствующие ENUM в БД.
type TournamentStatus string

const (
	StatusActive    TournamentStatus = "active"
	StatusCompleted TournamentStatus = "completed"
)

// Tournament представляет турнир с сеткой double elimination.
type Tournament struct {
	ID            int              `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	BracketSize   int              `json:"bracket_size" db:"bracket_size"`
	Status        TournamentStatus `json:"status" db:"status"`
	ChampionID    *int             `json:"champion_id,omitempty" db:"champion_id"`
	StartDate     time.Time        `json:"start_date" db:"start_date"`
	MatchInterval time.Duration    `json:"match_interval" db:"match_interval_seconds"`
	BestOf        int              `json:"best_of" db:"best_of"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`

	// Опциональные связанные сущности (не мапятся напрямую)
	Matches   []Match              `json:"matches,omitempty" db:"-"`
	Standings []TournamentStanding `json:"standings,omitempty" db:"-"`
}
