package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the "event" field of a game server webhook message.
type EventKind string

const (
	EventSeriesStart EventKind = "series_start"
	EventKnifeStart  EventKind = "knife_start"
	EventGoingLive   EventKind = "going_live"
	EventRoundStart  EventKind = "round_start"
	EventRoundEnd    EventKind = "round_end"
	EventBombPlanted EventKind = "bomb_planted"
	EventBombDefused EventKind = "bomb_defused"
	EventMapResult   EventKind = "map_result"
	EventSeriesEnd   EventKind = "series_end"
	EventPlayerDeath EventKind = "player_death"
	EventPlayerHurt  EventKind = "player_hurt"
)

var knownEventKinds = map[EventKind]struct{}{
	EventSeriesStart: {},
	EventKnifeStart:  {},
	EventGoingLive:   {},
	EventRoundStart:  {},
	EventRoundEnd:    {},
	EventBombPlanted: {},
	EventBombDefused: {},
	EventMapResult:   {},
	EventSeriesEnd:   {},
	EventPlayerDeath: {},
	EventPlayerHurt:  {},
}

func (k EventKind) Known() bool {
	_, ok := knownEventKinds[k]
	return ok
}

// HasRoundNumber reports whether the payload must carry round_number.
func (k EventKind) HasRoundNumber() bool {
	switch k {
	case EventRoundStart, EventRoundEnd, EventBombPlanted, EventBombDefused, EventPlayerDeath, EventPlayerHurt:
		return true
	}
	return false
}

// FlexibleID accepts the match id either as a JSON string or a number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}
	return fmt.Errorf("matchid must be string or number, got: %s", string(data))
}

// LiveEvent is the common envelope of every webhook message. Kind-specific
// fields are decoded from Raw.
type LiveEvent struct {
	Kind        EventKind       `json:"event"`
	MatchID     FlexibleID      `json:"matchid"`
	MapNumber   *int            `json:"map_number,omitempty"`
	RoundNumber *int            `json:"round_number,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

type EventPlayer struct {
	SteamID string `json:"steamid"`
	Name    string `json:"name"`
	Side    string `json:"side"`
}

type EventPlayerStats struct {
	Kills   int `json:"kills"`
	Deaths  int `json:"deaths"`
	Assists int `json:"assists"`
	Damage  int `json:"damage"`
	Mvp     int `json:"mvp"`
}

type EventStatsPlayer struct {
	SteamID string           `json:"steamid"`
	Name    string           `json:"name"`
	Stats   EventPlayerStats `json:"stats"`
}

type EventTeam struct {
	Name        string             `json:"name"`
	Score       int                `json:"score"`
	SeriesScore int                `json:"series_score"`
	Players     []EventStatsPlayer `json:"players"`
}

// EventWinner: кто выиграл раунд/карту: "team1" или "team2".
type EventWinner struct {
	Side string `json:"side"`
	Team string `json:"team"`
}

type GoingLivePayload struct {
	MapNumber int    `json:"map_number"`
	MapName   string `json:"map_name"`
}

type RoundStartPayload struct {
	RoundNumber int `json:"round_number"`
}

type RoundEndPayload struct {
	RoundNumber int         `json:"round_number"`
	Reason      int         `json:"reason"`
	Winner      EventWinner `json:"winner"`
	Team1       EventTeam   `json:"team1"`
	Team2       EventTeam   `json:"team2"`
}

type BombPayload struct {
	RoundNumber int         `json:"round_number"`
	Player      EventPlayer `json:"player"`
	Site        string      `json:"site"`
}

type MapResultPayload struct {
	MapNumber int         `json:"map_number"`
	Winner    EventWinner `json:"winner"`
	Team1     EventTeam   `json:"team1"`
	Team2     EventTeam   `json:"team2"`
}

type SeriesEndPayload struct {
	Winner           EventWinner `json:"winner"`
	Team1SeriesScore *int        `json:"team1_series_score"`
	Team2SeriesScore *int        `json:"team2_series_score"`
}

type PlayerDeathPayload struct {
	RoundNumber int          `json:"round_number"`
	Attacker    *EventPlayer `json:"attacker"`
	Player      EventPlayer  `json:"player"`
	Weapon      struct {
		Name string `json:"name"`
	} `json:"weapon"`
	Headshot bool `json:"headshot"`
}

type PlayerHurtPayload struct {
	RoundNumber int          `json:"round_number"`
	Attacker    *EventPlayer `json:"attacker"`
	Player      EventPlayer  `json:"player"`
	Damage      int          `json:"damage"`
}
