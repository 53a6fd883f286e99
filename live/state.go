package live

import (
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

// FeedSize: сколько записей ленты хранит матч, новые первыми.
const FeedSize = 50

// RoundPhase - подфаза текущего раунда.
type RoundPhase string

const (
	RoundFreeze      RoundPhase = "freeze"
	RoundLive        RoundPhase = "live"
	RoundOver        RoundPhase = "over"
	RoundBombPlanted RoundPhase = "bomb_planted"
	RoundDefuse      RoundPhase = "defuse"
)

type PlayerState struct {
	SteamID string `json:"steamid"`
	Name    string `json:"name"`
	Side    string `json:"side,omitempty"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
	Assists int    `json:"assists"`
	Damage  int    `json:"damage"`
}

// FeedEntry - одна строка ленты матча для людей.
type FeedEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Round     int       `json:"round,omitempty"`
	Text      string    `json:"text"`
	Stale     bool      `json:"stale,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State - наблюдаемое живое состояние матча. Оно не является источником
// истины: при расхождении прав сохранённый матч.
type State struct {
	MatchID    int               `json:"match_id"`
	Phase      models.MatchPhase `json:"phase"`
	LivePhase  models.LivePhase  `json:"live_phase,omitempty"`
	MapName    string            `json:"map_name,omitempty"`
	MapNumber  int               `json:"map_number"`
	Team1Score int               `json:"team1_score"`
	Team2Score int               `json:"team2_score"`
	Team1Maps  int               `json:"team1_maps"`
	Team2Maps  int               `json:"team2_maps"`
	Round      int               `json:"round"`
	RoundPhase RoundPhase        `json:"round_phase,omitempty"`
	Players    []PlayerState     `json:"players"`
	Feed       []FeedEntry       `json:"feed"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Delta - частичное обновление, nil-поля не меняются.
type Delta struct {
	Phase      *models.MatchPhase `json:"phase,omitempty"`
	LivePhase  *models.LivePhase  `json:"live_phase,omitempty"`
	MapName    *string            `json:"map_name,omitempty"`
	MapNumber  *int               `json:"map_number,omitempty"`
	Team1Score *int               `json:"team1_score,omitempty"`
	Team2Score *int               `json:"team2_score,omitempty"`
	Team1Maps  *int               `json:"team1_maps,omitempty"`
	Team2Maps  *int               `json:"team2_maps,omitempty"`
	Round      *int               `json:"round,omitempty"`
	RoundPhase *RoundPhase        `json:"round_phase,omitempty"`
	Players    []PlayerState      `json:"players,omitempty"`
	Feed       *FeedEntry         `json:"feed,omitempty"`
}

// StateFromMatch строит начальное состояние комнаты из сохранённого матча.
func StateFromMatch(m *models.Match) State {
	return State{
		MatchID:    m.ID,
		Phase:      m.Phase,
		LivePhase:  m.CurrentLivePhase(),
		Team1Score: m.Team1Score,
		Team2Score: m.Team2Score,
		Players:    []PlayerState{},
		Feed:       []FeedEntry{},
	}
}

func (s *State) apply(d Delta, now time.Time) {
	if d.Phase != nil {
		s.Phase = *d.Phase
		if s.Phase != models.PhaseLive {
			s.LivePhase = ""
		}
	}
	if d.LivePhase != nil {
		s.LivePhase = *d.LivePhase
	}
	if d.MapName != nil {
		s.MapName = *d.MapName
	}
	if d.MapNumber != nil {
		s.MapNumber = *d.MapNumber
	}
	if d.Team1Score != nil {
		s.Team1Score = *d.Team1Score
	}
	if d.Team2Score != nil {
		s.Team2Score = *d.Team2Score
	}
	if d.Team1Maps != nil {
		s.Team1Maps = *d.Team1Maps
	}
	if d.Team2Maps != nil {
		s.Team2Maps = *d.Team2Maps
	}
	if d.Round != nil {
		s.Round = *d.Round
	}
	if d.RoundPhase != nil {
		s.RoundPhase = *d.RoundPhase
	}
	for _, p := range d.Players {
		s.upsertPlayer(p)
	}
	if d.Feed != nil {
		s.Feed = append([]FeedEntry{*d.Feed}, s.Feed...)
		if len(s.Feed) > FeedSize {
			s.Feed = s.Feed[:FeedSize]
		}
	}
	s.UpdatedAt = now
}

func (s *State) upsertPlayer(p PlayerState) {
	for i := range s.Players {
		if s.Players[i].SteamID == p.SteamID {
			s.Players[i] = p
			return
		}
	}
	s.Players = append(s.Players, p)
}

func (s State) clone() State {
	c := s
	c.Players = append(make([]PlayerState, 0, len(s.Players)), s.Players...)
	c.Feed = append(make([]FeedEntry, 0, len(s.Feed)), s.Feed...)
	return c
}
