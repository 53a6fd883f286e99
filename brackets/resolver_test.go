package brackets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

type bracketFixture struct {
	store      *repositories.MemoryStore
	resolver   *Resolver
	tournament *models.Tournament
	topo       *Topology
	teams      []int // teams[seed-1]
	now        time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBracketFixture(t *testing.T, teamCount int) *bracketFixture {
	t.Helper()
	ctx := context.Background()

	f := &bracketFixture{
		store: repositories.NewMemoryStore(),
		now:   time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
	}
	f.resolver = NewResolver(f.store.Matches, f.store.Standings, f.store.Tournaments, discardLogger(),
		WithRetry(1, 0),
		WithClock(func() time.Time { return f.now }),
	)

	size, err := BracketSizeFor(teamCount)
	require.NoError(t, err)
	f.topo, err = NewTopology(size)
	require.NoError(t, err)

	f.tournament = &models.Tournament{
		Name:          "Spring Cup",
		BracketSize:   size,
		StartDate:     f.now,
		MatchInterval: time.Hour,
		BestOf:        1,
	}
	require.NoError(t, f.store.Tournaments.Create(ctx, f.tournament))

	standings := make([]*models.TournamentStanding, 0, teamCount)
	for seed := 1; seed <= teamCount; seed++ {
		team := &models.Team{Name: fmt.Sprintf("Team %d", seed), Tag: fmt.Sprintf("T%d", seed)}
		require.NoError(t, f.store.Teams.Create(ctx, team))
		f.teams = append(f.teams, team.ID)
		standings = append(standings, &models.TournamentStanding{
			TournamentID: f.tournament.ID,
			TeamID:       team.ID,
			Seed:         seed,
		})
	}
	require.NoError(t, f.store.Standings.BatchCreate(ctx, standings))

	skeleton, err := NewDoubleEliminationGenerator().GenerateBracket(ctx, GenerateBracketParams{
		Tournament: f.tournament,
		Standings:  standings,
	})
	require.NoError(t, err)

	seeded := make([]int, 0, size/2)
	for _, bm := range skeleton {
		m := &models.Match{
			TournamentID: f.tournament.ID,
			Round:        bm.Round,
			Team1:        bm.Team1,
			Team2:        bm.Team2,
			ScheduledAt:  bm.ScheduledAt,
			Phase:        models.PhasePending,
			BestOf:       f.tournament.BestOf,
		}
		require.NoError(t, f.store.Matches.Create(ctx, m))
		if m.Decided() {
			seeded = append(seeded, m.ID)
		}
	}
	for _, id := range seeded {
		_, err := f.resolver.SettleMatch(ctx, id)
		require.NoError(t, err)
	}
	return f
}

func (f *bracketFixture) seed(n int) int { return f.teams[n-1] }

func (f *bracketFixture) match(t *testing.T, r models.Round) *models.Match {
	t.Helper()
	m, err := f.store.Matches.GetByRound(context.Background(), f.tournament.ID, r)
	require.NoError(t, err, "round %s", r)
	return m
}

// finish plays a scheduled match straight through the store.
func (f *bracketFixture) finish(t *testing.T, r models.Round, winnerSlot int) *models.Match {
	t.Helper()
	ctx := context.Background()

	m := f.match(t, r)
	require.Equal(t, models.PhaseScheduled, m.Phase, "round %s", r)

	ok, err := f.store.Matches.Start(ctx, m.ID, f.now)
	require.NoError(t, err)
	require.True(t, ok)

	winner := *m.SlotAt(winnerSlot).TeamID
	s1, s2 := 13, 8
	if winnerSlot == 2 {
		s1, s2 = s2, s1
	}
	ok, err = f.store.Matches.Finish(ctx, m.ID, s1, s2, winner, f.now)
	require.NoError(t, err)
	require.True(t, ok)
	return m
}

func (f *bracketFixture) play(t *testing.T, r models.Round, winnerSlot int) *Resolution {
	t.Helper()
	m := f.finish(t, r, winnerSlot)
	res, err := f.resolver.Resolve(context.Background(), m.ID)
	require.NoError(t, err, "resolve %s", r)
	return res
}

func (f *bracketFixture) standings(t *testing.T) map[int]models.StandingStatus {
	t.Helper()
	list, err := f.store.Standings.ListByTournament(context.Background(), f.tournament.ID)
	require.NoError(t, err)
	out := make(map[int]models.StandingStatus, len(list))
	for _, s := range list {
		out[s.TeamID] = s.Status
	}
	return out
}

func countStatus(statuses map[int]models.StandingStatus, want models.StandingStatus) int {
	n := 0
	for _, s := range statuses {
		if s == want {
			n++
		}
	}
	return n
}

func TestResolverEightTeamsUpperChampionWins(t *testing.T) {
	f := newBracketFixture(t, 8)

	for _, wave := range f.topo.PlayOrder() {
		for _, r := range wave {
			f.play(t, r, 1)
		}
	}

	gf := f.match(t, models.GrandFinal())
	assert.Equal(t, f.seed(1), *gf.Team1.TeamID)
	assert.Equal(t, f.seed(8), *gf.Team2.TeamID)
	assert.True(t, gf.Advanced)

	_, err := f.store.Matches.GetByRound(context.Background(), f.tournament.ID, models.GrandFinalReset())
	assert.ErrorIs(t, err, repositories.ErrMatchNotFound, "reset must not exist when the upper champion wins")

	tournament, err := f.store.Tournaments.GetByID(context.Background(), f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tournament.Status)
	require.NotNil(t, tournament.ChampionID)
	assert.Equal(t, f.seed(1), *tournament.ChampionID)

	statuses := f.standings(t)
	assert.Equal(t, models.StandingChampion, statuses[f.seed(1)])
	assert.Equal(t, 7, countStatus(statuses, models.StandingEliminated))
}

func TestResolverEightTeamsWithReset(t *testing.T) {
	f := newBracketFixture(t, 8)

	for _, wave := range f.topo.PlayOrder() {
		for _, r := range wave {
			if r.Kind == models.RoundGrandFinal {
				continue
			}
			f.play(t, r, 1)
		}
	}

	res := f.play(t, models.GrandFinal(), 2)
	assert.False(t, res.TournamentComplete)
	assert.Empty(t, res.Eliminated, "nobody is out after the first grand final loss")

	reset := f.match(t, models.GrandFinalReset())
	assert.Equal(t, models.PhaseScheduled, reset.Phase)
	assert.Equal(t, f.seed(1), *reset.Team1.TeamID)
	assert.Equal(t, f.seed(8), *reset.Team2.TeamID)
	assert.Equal(t, f.now.Add(DefaultResetDelay), reset.ScheduledAt)

	res = f.play(t, models.GrandFinalReset(), 2)
	assert.True(t, res.TournamentComplete)
	require.NotNil(t, res.ChampionID)
	assert.Equal(t, f.seed(8), *res.ChampionID)
	assert.Equal(t, []int{f.seed(1)}, res.Eliminated)

	statuses := f.standings(t)
	assert.Equal(t, models.StandingChampion, statuses[f.seed(8)])
	assert.Equal(t, 7, countStatus(statuses, models.StandingEliminated))
}

func TestResolverLowerBracketLoserIsEliminated(t *testing.T) {
	f := newBracketFixture(t, 8)
	for _, r := range f.topo.FirstRound() {
		f.play(t, r, 1)
	}

	lower := f.match(t, models.LowerRound(1, 1))
	require.Equal(t, models.PhaseScheduled, lower.Phase)
	loser := *lower.Team2.TeamID

	res := f.play(t, models.LowerRound(1, 1), 1)
	assert.Equal(t, []int{loser}, res.Eliminated)
	assert.Equal(t, models.StandingEliminated, f.standings(t)[loser])
}

func TestResolverIsIdempotent(t *testing.T) {
	f := newBracketFixture(t, 8)
	ctx := context.Background()
	quarter := models.UpperRound(models.StageQuarter, 1)

	f.play(t, quarter, 1)
	semiBefore := f.match(t, models.UpperRound(models.StageSemi, 1))
	lowerBefore := f.match(t, models.LowerRound(1, 1))

	m := f.match(t, quarter)
	_, err := f.resolver.Resolve(ctx, m.ID)
	assert.ErrorIs(t, err, ErrAlreadyAdvanced)

	assert.Equal(t, semiBefore, f.match(t, models.UpperRound(models.StageSemi, 1)))
	assert.Equal(t, lowerBefore, f.match(t, models.LowerRound(1, 1)))
}

func TestResolverCompletesPartialAdvancement(t *testing.T) {
	f := newBracketFixture(t, 8)
	ctx := context.Background()
	quarter := models.UpperRound(models.StageQuarter, 2)

	m := f.finish(t, quarter, 2)
	winner := *m.Team2.TeamID
	loser := *m.Team1.TeamID

	// winner was already placed before a crash, the loser was not
	semi := f.match(t, models.UpperRound(models.StageSemi, 1))
	require.NoError(t, f.store.Matches.PlaceInSlot(ctx, semi.ID, 2, models.TeamSlot(winner)))

	res, err := f.resolver.Resolve(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, res.Advances, 2)

	semi = f.match(t, models.UpperRound(models.StageSemi, 1))
	assert.Equal(t, winner, *semi.Team2.TeamID)
	lower := f.match(t, models.LowerRound(1, 1))
	assert.Equal(t, loser, *lower.Team2.TeamID)

	m, err = f.store.Matches.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, m.Advanced)
}

func TestResolverSlotCollisionIsConsistencyFault(t *testing.T) {
	f := newBracketFixture(t, 8)
	ctx := context.Background()

	semi := f.match(t, models.UpperRound(models.StageSemi, 1))
	require.NoError(t, f.store.Matches.PlaceInSlot(ctx, semi.ID, 1, models.TeamSlot(f.seed(5))))

	m := f.finish(t, models.UpperRound(models.StageQuarter, 1), 1)
	_, err := f.resolver.Resolve(ctx, m.ID)
	assert.ErrorIs(t, err, ErrBracketConsistency)

	semi = f.match(t, models.UpperRound(models.StageSemi, 1))
	assert.Equal(t, f.seed(5), *semi.Team1.TeamID, "an occupied slot is never overwritten")

	m, err = f.store.Matches.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, m.Advanced)
}

func TestResolverRejectsUnfinishedMatch(t *testing.T) {
	f := newBracketFixture(t, 8)
	m := f.match(t, models.UpperRound(models.StageQuarter, 1))

	_, err := f.resolver.Resolve(context.Background(), m.ID)
	assert.ErrorIs(t, err, ErrMatchNotFinished)
}

func TestResolverByesAdvanceTopSeeds(t *testing.T) {
	f := newBracketFixture(t, 5)

	q1 := f.match(t, models.UpperRound(models.StageQuarter, 1))
	assert.Equal(t, models.PhaseFinished, q1.Phase)
	assert.True(t, q1.Advanced)
	assert.Equal(t, f.seed(1), *q1.WinnerID)
	assert.True(t, q1.Team2.Bye)

	semi2 := f.match(t, models.UpperRound(models.StageSemi, 2))
	assert.Equal(t, models.PhaseScheduled, semi2.Phase)
	assert.Equal(t, f.seed(2), *semi2.Team1.TeamID)
	assert.Equal(t, f.seed(3), *semi2.Team2.TeamID)

	// both losers of the lower half are byes
	l12 := f.match(t, models.LowerRound(1, 2))
	assert.Equal(t, models.PhaseFinished, l12.Phase)
	assert.Nil(t, l12.WinnerID)
	assert.True(t, l12.Advanced)
	assert.True(t, f.match(t, models.LowerRound(2, 2)).Team1.Bye)

	res := f.play(t, models.UpperRound(models.StageQuarter, 2), 1)
	assert.Contains(t, res.ByeMatches, f.match(t, models.LowerRound(1, 1)).ID)

	semi1 := f.match(t, models.UpperRound(models.StageSemi, 1))
	assert.Equal(t, models.PhaseScheduled, semi1.Phase)
	assert.Equal(t, f.seed(4), *semi1.Team2.TeamID)

	l21 := f.match(t, models.LowerRound(2, 1))
	assert.Equal(t, f.seed(5), *l21.Team1.TeamID, "seed 5 walks over the bye in lower round 1")

	assert.Zero(t, countStatus(f.standings(t), models.StandingEliminated))
}

func TestResolverFiveTeamsRunToChampion(t *testing.T) {
	f := newBracketFixture(t, 5)

	for _, wave := range f.topo.PlayOrder() {
		for _, r := range wave {
			m := f.match(t, r)
			if m.Phase == models.PhaseFinished {
				continue
			}
			f.play(t, r, 1)
		}
	}

	tournament, err := f.store.Tournaments.GetByID(context.Background(), f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tournament.Status)
	assert.Equal(t, f.seed(1), *tournament.ChampionID)
	assert.Equal(t, 4, countStatus(f.standings(t), models.StandingEliminated))
}
