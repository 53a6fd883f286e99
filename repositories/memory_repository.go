package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

// MemoryStore: хранилище в памяти с той же семантикой условных
// обновлений, что и у Postgres. Используется при DATABASE_URL=memory://
// и в тестах.
type MemoryStore struct {
	Matches     MatchRepository
	Tournaments TournamentRepository
	Standings   TournamentStandingRepository
	Teams       TeamRepository
}

type memoryDB struct {
	mu sync.Mutex

	nextMatchID      int
	nextTournamentID int
	nextTeamID       int

	matches     map[int]*models.Match
	tournaments map[int]*models.Tournament
	teams       map[int]*models.Team
	standings   map[int][]*models.TournamentStanding

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	db := &memoryDB{
		matches:     make(map[int]*models.Match),
		tournaments: make(map[int]*models.Tournament),
		teams:       make(map[int]*models.Team),
		standings:   make(map[int][]*models.TournamentStanding),
		now:         time.Now,
	}
	return &MemoryStore{
		Matches:     &memoryMatchRepository{db: db},
		Tournaments: &memoryTournamentRepository{db: db},
		Standings:   &memoryStandingRepository{db: db},
		Teams:       &memoryTeamRepository{db: db},
	}
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copySlot(s models.Slot) models.Slot {
	return models.Slot{TeamID: copyIntPtr(s.TeamID), Bye: s.Bye}
}

func copyMatch(m *models.Match) *models.Match {
	c := *m
	c.Team1 = copySlot(m.Team1)
	c.Team2 = copySlot(m.Team2)
	c.WinnerID = copyIntPtr(m.WinnerID)
	c.StartedAt = copyTimePtr(m.StartedAt)
	c.FinishedAt = copyTimePtr(m.FinishedAt)
	if m.LivePhase != nil {
		lp := *m.LivePhase
		c.LivePhase = &lp
	}
	if m.ServerID != nil {
		sid := *m.ServerID
		c.ServerID = &sid
	}
	if m.Veto != nil {
		c.Veto = append([]models.VetoStep(nil), m.Veto...)
	}
	return &c
}

type memoryMatchRepository struct {
	db *memoryDB
}

func (r *memoryMatchRepository) Create(_ context.Context, match *models.Match) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.tournaments[match.TournamentID]; !ok {
		return ErrMatchTournamentInvalid
	}
	for _, m := range r.db.matches {
		if m.TournamentID == match.TournamentID && m.Round == match.Round {
			return ErrMatchConflict
		}
	}
	r.db.nextMatchID++
	match.ID = r.db.nextMatchID
	match.CreatedAt = r.db.now()
	if match.Phase == "" {
		match.Phase = models.PhasePending
	}
	r.db.matches[match.ID] = copyMatch(match)
	return nil
}

func (r *memoryMatchRepository) GetByID(_ context.Context, id int) (*models.Match, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m, ok := r.db.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return copyMatch(m), nil
}

func (r *memoryMatchRepository) GetByRound(_ context.Context, tournamentID int, round models.Round) (*models.Match, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, m := range r.db.matches {
		if m.TournamentID == tournamentID && m.Round == round {
			return copyMatch(m), nil
		}
	}
	return nil, ErrMatchNotFound
}

func (r *memoryMatchRepository) collect(keep func(*models.Match) bool, less func(a, b *models.Match) bool) []*models.Match {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	matches := make([]*models.Match, 0)
	for _, m := range r.db.matches {
		if keep(m) {
			matches = append(matches, copyMatch(m))
		}
	}
	sort.Slice(matches, func(i, j int) bool { return less(matches[i], matches[j]) })
	return matches
}

func (r *memoryMatchRepository) ListByTournament(_ context.Context, tournamentID int) ([]*models.Match, error) {
	return r.collect(
		func(m *models.Match) bool { return m.TournamentID == tournamentID },
		func(a, b *models.Match) bool {
			if !a.ScheduledAt.Equal(b.ScheduledAt) {
				return a.ScheduledAt.Before(b.ScheduledAt)
			}
			return a.ID < b.ID
		},
	), nil
}

func (r *memoryMatchRepository) ListFinishedUnadvanced(_ context.Context) ([]*models.Match, error) {
	return r.collect(
		func(m *models.Match) bool { return m.Phase == models.PhaseFinished && !m.Advanced },
		func(a, b *models.Match) bool { return a.ID < b.ID },
	), nil
}

// update applies fn to the stored match under the lock; fn reports whether
// the match was in the expected state.
func (r *memoryMatchRepository) update(matchID int, fn func(m *models.Match) bool) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m, ok := r.db.matches[matchID]
	if !ok {
		return false, nil
	}
	return fn(m), nil
}

func (r *memoryMatchRepository) PlaceInSlot(_ context.Context, matchID int, slot int, occupant models.Slot) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m, ok := r.db.matches[matchID]
	if !ok {
		return ErrMatchNotFound
	}
	target := &m.Team1
	if slot == 2 {
		target = &m.Team2
	}
	if !target.Empty() || m.Phase != models.PhasePending {
		return ErrSlotOccupied
	}
	*target = copySlot(occupant)
	return nil
}

func (r *memoryMatchRepository) PromoteToScheduled(_ context.Context, matchID int) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase != models.PhasePending || !m.BothTeams() {
			return false
		}
		m.Phase = models.PhaseScheduled
		return true
	})
}

func (r *memoryMatchRepository) FinishBye(_ context.Context, matchID int, winnerID *int, finishedAt time.Time) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase != models.PhasePending || !m.Decided() || !m.HasBye() {
			return false
		}
		m.Phase = models.PhaseFinished
		m.WinnerID = copyIntPtr(winnerID)
		m.Team1Score, m.Team2Score = 0, 0
		m.FinishedAt = &finishedAt
		return true
	})
}

func (r *memoryMatchRepository) MarkAdvanced(_ context.Context, matchID int) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase != models.PhaseFinished || m.Advanced {
			return false
		}
		m.Advanced = true
		return true
	})
}

func (r *memoryMatchRepository) Start(_ context.Context, matchID int, startedAt time.Time) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase != models.PhaseScheduled {
			return false
		}
		lp := models.LiveWarmup
		m.Phase = models.PhaseLive
		m.LivePhase = &lp
		m.StartedAt = &startedAt
		return true
	})
}

func (r *memoryMatchRepository) SetLivePhase(_ context.Context, matchID int, phase models.LivePhase) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase != models.PhaseLive {
			return false
		}
		lp := phase
		m.LivePhase = &lp
		return true
	})
}

func (r *memoryMatchRepository) Finish(_ context.Context, matchID int, team1Score, team2Score int, winnerID int, finishedAt time.Time) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase != models.PhaseLive {
			return false
		}
		m.Phase = models.PhaseFinished
		m.LivePhase = nil
		m.Team1Score, m.Team2Score = team1Score, team2Score
		m.WinnerID = copyIntPtr(&winnerID)
		m.FinishedAt = &finishedAt
		return true
	})
}

func (r *memoryMatchRepository) Cancel(_ context.Context, matchID int) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if m.Phase.Terminal() {
			return false
		}
		m.Phase = models.PhaseCancelled
		m.LivePhase = nil
		return true
	})
}

func (r *memoryMatchRepository) ShiftSchedule(_ context.Context, tournamentID int, excludeMatchID int, shift time.Duration) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	shifted := 0
	for _, m := range r.db.matches {
		if m.TournamentID != tournamentID || m.ID == excludeMatchID || !m.Phase.NotStarted() {
			continue
		}
		m.ScheduledAt = m.ScheduledAt.Add(shift)
		shifted++
	}
	return shifted, nil
}

func (r *memoryMatchRepository) SetVeto(_ context.Context, matchID int, veto []models.VetoStep) (bool, error) {
	return r.update(matchID, func(m *models.Match) bool {
		if !m.Phase.NotStarted() {
			return false
		}
		m.Veto = append([]models.VetoStep(nil), veto...)
		return true
	})
}

func (r *memoryMatchRepository) SetServer(_ context.Context, matchID int, serverID *string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m, ok := r.db.matches[matchID]
	if !ok {
		return ErrMatchNotFound
	}
	if serverID == nil {
		m.ServerID = nil
		return nil
	}
	sid := *serverID
	m.ServerID = &sid
	return nil
}

type memoryTournamentRepository struct {
	db *memoryDB
}

func (r *memoryTournamentRepository) Create(_ context.Context, t *models.Tournament) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.tournaments {
		if existing.Name == t.Name {
			return ErrTournamentNameConflict
		}
	}
	r.db.nextTournamentID++
	t.ID = r.db.nextTournamentID
	t.CreatedAt = r.db.now()
	if t.Status == "" {
		t.Status = models.StatusActive
	}
	c := *t
	c.Matches, c.Standings = nil, nil
	r.db.tournaments[t.ID] = &c
	return nil
}

func (r *memoryTournamentRepository) GetByID(_ context.Context, id int) (*models.Tournament, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, ok := r.db.tournaments[id]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	c := *t
	c.ChampionID = copyIntPtr(t.ChampionID)
	return &c, nil
}

func (r *memoryTournamentRepository) List(_ context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tournaments := make([]models.Tournament, 0, len(r.db.tournaments))
	for _, t := range r.db.tournaments {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		c := *t
		c.ChampionID = copyIntPtr(t.ChampionID)
		tournaments = append(tournaments, c)
	}
	sort.Slice(tournaments, func(i, j int) bool {
		if !tournaments[i].StartDate.Equal(tournaments[j].StartDate) {
			return tournaments[i].StartDate.After(tournaments[j].StartDate)
		}
		return tournaments[i].ID > tournaments[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(tournaments) {
			return []models.Tournament{}, nil
		}
		tournaments = tournaments[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(tournaments) {
		tournaments = tournaments[:filter.Limit]
	}
	return tournaments, nil
}

func (r *memoryTournamentRepository) Complete(_ context.Context, id int, championID int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, ok := r.db.tournaments[id]
	if !ok {
		return ErrTournamentNotFound
	}
	if t.Status == models.StatusCompleted {
		if t.ChampionID != nil && *t.ChampionID == championID {
			return nil
		}
		return ErrTournamentCompleted
	}
	t.Status = models.StatusCompleted
	t.ChampionID = copyIntPtr(&championID)
	return nil
}

func (r *memoryTournamentRepository) Delete(_ context.Context, id int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.tournaments[id]; !ok {
		return ErrTournamentNotFound
	}
	delete(r.db.tournaments, id)
	delete(r.db.standings, id)
	for matchID, m := range r.db.matches {
		if m.TournamentID == id {
			delete(r.db.matches, matchID)
		}
	}
	return nil
}

type memoryStandingRepository struct {
	db *memoryDB
}

func (r *memoryStandingRepository) BatchCreate(_ context.Context, standings []*models.TournamentStanding) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, s := range standings {
		if _, ok := r.db.teams[s.TeamID]; !ok {
			return ErrStandingTeamInvalid
		}
		for _, existing := range r.db.standings[s.TournamentID] {
			if existing.TeamID == s.TeamID {
				return ErrStandingTeamInvalid
			}
		}
	}
	for _, s := range standings {
		if s.Status == "" {
			s.Status = models.StandingActive
		}
		s.UpdatedAt = r.db.now()
		c := *s
		c.Team = nil
		r.db.standings[s.TournamentID] = append(r.db.standings[s.TournamentID], &c)
	}
	return nil
}

func (r *memoryStandingRepository) ListByTournament(_ context.Context, tournamentID int) ([]*models.TournamentStanding, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	standings := make([]*models.TournamentStanding, 0, len(r.db.standings[tournamentID]))
	for _, s := range r.db.standings[tournamentID] {
		c := *s
		if team, ok := r.db.teams[s.TeamID]; ok {
			t := *team
			c.Team = &t
		}
		standings = append(standings, &c)
	}
	sort.Slice(standings, func(i, j int) bool { return standings[i].Seed < standings[j].Seed })
	return standings, nil
}

func (r *memoryStandingRepository) setStatus(tournamentID, teamID int, status models.StandingStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, s := range r.db.standings[tournamentID] {
		if s.TeamID == teamID {
			s.Status = status
			s.UpdatedAt = r.db.now()
			return nil
		}
	}
	return ErrTournamentStandingNotFound
}

func (r *memoryStandingRepository) MarkEliminated(_ context.Context, tournamentID, teamID int) error {
	return r.setStatus(tournamentID, teamID, models.StandingEliminated)
}

func (r *memoryStandingRepository) MarkChampion(_ context.Context, tournamentID, teamID int) error {
	return r.setStatus(tournamentID, teamID, models.StandingChampion)
}

type memoryTeamRepository struct {
	db *memoryDB
}

func (r *memoryTeamRepository) Create(_ context.Context, team *models.Team) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.teams {
		if existing.Name == team.Name {
			return ErrTeamNameConflict
		}
	}
	r.db.nextTeamID++
	team.ID = r.db.nextTeamID
	team.CreatedAt = r.db.now()
	c := *team
	r.db.teams[team.ID] = &c
	return nil
}

func (r *memoryTeamRepository) GetByID(_ context.Context, id int) (*models.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, ok := r.db.teams[id]
	if !ok {
		return nil, ErrTeamNotFound
	}
	c := *t
	return &c, nil
}

func (r *memoryTeamRepository) GetByIDs(_ context.Context, ids []int) (map[int]*models.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	teams := make(map[int]*models.Team, len(ids))
	for _, id := range ids {
		if t, ok := r.db.teams[id]; ok {
			c := *t
			teams[id] = &c
		}
	}
	return teams, nil
}
