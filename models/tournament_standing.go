package models

import "time"

type StandingStatus string

const (
	StandingActive     StandingStatus = "active"
	StandingEliminated StandingStatus = "eliminated"
	StandingChampion   StandingStatus = "champion"
)

// TournamentStanding is a team's registration and bracket status in a tournament.
type TournamentStanding struct {
	TournamentID int            `json:"tournament_id" db:"tournament_id"`
	TeamID       int            `json:"team_id" db:"team_id"`
	Seed         int            `json:"seed" db:"seed"`
	Status       StandingStatus `json:"status" db:"status"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`

	Team *Team `json:"team,omitempty" db:"-"`
}
