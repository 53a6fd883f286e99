package models

import "time"

// MatchPhase: жизненный цикл матча, соответствует ENUM в БД.
type MatchPhase string

const (
	PhasePending   MatchPhase = "pending"
	PhaseScheduled MatchPhase = "scheduled"
	PhaseLive      MatchPhase = "live"
	PhaseFinished  MatchPhase = "finished"
	PhaseCancelled MatchPhase = "cancelled"
)

// NotStarted reports whether a match in this phase can still be rescheduled.
func (p MatchPhase) NotStarted() bool {
	return p == PhasePending || p == PhaseScheduled
}

// Terminal reports whether no further transitions are possible.
func (p MatchPhase) Terminal() bool {
	return p == PhaseFinished || p == PhaseCancelled
}

// LivePhase is the sub-phase of a match while it is live.
type LivePhase string

const (
	LiveWarmup   LivePhase = "warmup"
	LiveKnife    LivePhase = "knife"
	LivePlaying  LivePhase = "live"
	LiveHalftime LivePhase = "halftime"
	LiveOvertime LivePhase = "overtime"
	LivePaused   LivePhase = "paused"
)

// Slot is one side of a match: empty, a team, or a bye.
type Slot struct {
	TeamID *int `json:"team_id,omitempty"`
	Bye    bool `json:"bye,omitempty"`
}

func TeamSlot(teamID int) Slot {
	id := teamID
	return Slot{TeamID: &id}
}

func ByeSlot() Slot {
	return Slot{Bye: true}
}

// Empty reports whether nothing has been placed in the slot yet.
func (s Slot) Empty() bool {
	return s.TeamID == nil && !s.Bye
}

func (s Slot) HasTeam() bool {
	return s.TeamID != nil
}

func (s Slot) Equal(o Slot) bool {
	if s.Bye != o.Bye {
		return false
	}
	if s.TeamID == nil || o.TeamID == nil {
		return s.TeamID == nil && o.TeamID == nil
	}
	return *s.TeamID == *o.TeamID
}

// Match is the persisted, authoritative match record.
type Match struct {
	ID           int        `json:"id" db:"id"`
	TournamentID int        `json:"tournament_id" db:"tournament_id"`
	Round        Round      `json:"round" db:"round"`
	Team1        Slot       `json:"team1" db:"-"`
	Team2        Slot       `json:"team2" db:"-"`
	ScheduledAt  time.Time  `json:"scheduled_at" db:"scheduled_at"`
	Phase        MatchPhase `json:"phase" db:"phase"`
	LivePhase    *LivePhase `json:"live_phase,omitempty" db:"live_phase"`
	Team1Score   int        `json:"team1_score" db:"team1_score"`
	Team2Score   int        `json:"team2_score" db:"team2_score"`
	WinnerID     *int       `json:"winner_id,omitempty" db:"winner_id"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Advanced     bool       `json:"advanced" db:"advanced"`
	ServerID     *string    `json:"server_id,omitempty" db:"server_id"`
	BestOf       int        `json:"best_of" db:"best_of"`
	Veto         []VetoStep `json:"veto,omitempty" db:"veto"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// SlotAt returns slot 1 or 2.
func (m *Match) SlotAt(n int) Slot {
	if n == 1 {
		return m.Team1
	}
	return m.Team2
}

// SlotOfTeam returns 1 or 2 for a team occupying the match, 0 otherwise.
func (m *Match) SlotOfTeam(teamID int) int {
	if m.Team1.TeamID != nil && *m.Team1.TeamID == teamID {
		return 1
	}
	if m.Team2.TeamID != nil && *m.Team2.TeamID == teamID {
		return 2
	}
	return 0
}

// BothTeams reports whether both slots hold real teams.
func (m *Match) BothTeams() bool {
	return m.Team1.HasTeam() && m.Team2.HasTeam()
}

// Decided reports whether both slots hold either a team or a bye.
func (m *Match) Decided() bool {
	return !m.Team1.Empty() && !m.Team2.Empty()
}

// HasBye reports whether at least one side is a bye.
func (m *Match) HasBye() bool {
	return m.Team1.Bye || m.Team2.Bye
}

// WinnerSlot returns the slot number of the winner, 0 if unknown.
// Для bye-матча без команд победителем считается слот 1.
func (m *Match) WinnerSlot() int {
	if m.WinnerID != nil {
		return m.SlotOfTeam(*m.WinnerID)
	}
	if m.Phase == PhaseFinished && m.Team1.Bye && m.Team2.Bye {
		return 1
	}
	return 0
}

func (m *Match) CurrentLivePhase() LivePhase {
	if m.LivePhase == nil {
		return ""
	}
	return *m.LivePhase
}
