package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-engine/models"
)

type memoryFixture struct {
	store      *MemoryStore
	tournament *models.Tournament
	team1      *models.Team
	team2      *models.Team
}

func newMemoryFixture(t *testing.T) *memoryFixture {
	t.Helper()
	ctx := context.Background()
	f := &memoryFixture{store: NewMemoryStore()}

	f.team1 = &models.Team{Name: "Natus Vincere", Tag: "NAVI"}
	f.team2 = &models.Team{Name: "Vitality", Tag: "VIT"}
	require.NoError(t, f.store.Teams.Create(ctx, f.team1))
	require.NoError(t, f.store.Teams.Create(ctx, f.team2))

	f.tournament = &models.Tournament{Name: "Major", BracketSize: 4, StartDate: time.Now(), BestOf: 1}
	require.NoError(t, f.store.Tournaments.Create(ctx, f.tournament))
	return f
}

func (f *memoryFixture) pendingMatch(t *testing.T, r models.Round, at time.Time) *models.Match {
	t.Helper()
	m := &models.Match{TournamentID: f.tournament.ID, Round: r, ScheduledAt: at, BestOf: 1}
	require.NoError(t, f.store.Matches.Create(context.Background(), m))
	return m
}

func TestMemoryMatchRoundIsUniquePerTournament(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	f.pendingMatch(t, models.GrandFinal(), time.Now())

	err := f.store.Matches.Create(ctx, &models.Match{TournamentID: f.tournament.ID, Round: models.GrandFinal()})
	assert.ErrorIs(t, err, ErrMatchConflict)

	err = f.store.Matches.Create(ctx, &models.Match{TournamentID: 999, Round: models.GrandFinal()})
	assert.ErrorIs(t, err, ErrMatchTournamentInvalid)
}

func TestMemoryPlaceInSlotNeverOverwrites(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	m := f.pendingMatch(t, models.UpperRound(models.StageFinal, 1), time.Now())

	require.NoError(t, f.store.Matches.PlaceInSlot(ctx, m.ID, 1, models.TeamSlot(f.team1.ID)))
	err := f.store.Matches.PlaceInSlot(ctx, m.ID, 1, models.TeamSlot(f.team2.ID))
	assert.ErrorIs(t, err, ErrSlotOccupied)

	got, err := f.store.Matches.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, f.team1.ID, *got.Team1.TeamID)
	assert.True(t, got.Team2.Empty())

	assert.ErrorIs(t, f.store.Matches.PlaceInSlot(ctx, 999, 1, models.ByeSlot()), ErrMatchNotFound)
}

func TestMemoryReturnedMatchesAreCopies(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	m := f.pendingMatch(t, models.UpperRound(models.StageSemi, 1), time.Now())
	require.NoError(t, f.store.Matches.PlaceInSlot(ctx, m.ID, 1, models.TeamSlot(f.team1.ID)))

	got, err := f.store.Matches.GetByID(ctx, m.ID)
	require.NoError(t, err)
	*got.Team1.TeamID = 12345

	again, err := f.store.Matches.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, f.team1.ID, *again.Team1.TeamID)
}

func TestMemoryLifecycleUpdatesAreConditional(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	now := time.Now()
	m := f.pendingMatch(t, models.UpperRound(models.StageSemi, 1), now)
	repo := f.store.Matches

	ok, err := repo.Start(ctx, m.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "pending match cannot start")

	ok, err = repo.PromoteToScheduled(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok, "teams are not decided")

	require.NoError(t, repo.PlaceInSlot(ctx, m.ID, 1, models.TeamSlot(f.team1.ID)))
	require.NoError(t, repo.PlaceInSlot(ctx, m.ID, 2, models.TeamSlot(f.team2.ID)))

	ok, err = repo.PromoteToScheduled(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Start(ctx, m.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkAdvanced(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok, "live match cannot be advanced")

	ok, err = repo.Finish(ctx, m.ID, 13, 7, f.team1.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finish(ctx, m.ID, 7, 13, f.team2.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "finished match cannot be finished again")

	unadvanced, err := repo.ListFinishedUnadvanced(ctx)
	require.NoError(t, err)
	require.Len(t, unadvanced, 1)
	assert.Equal(t, m.ID, unadvanced[0].ID)

	ok, err = repo.MarkAdvanced(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkAdvanced(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, got.Phase)
	assert.Nil(t, got.LivePhase)
	assert.Equal(t, f.team1.ID, *got.WinnerID)

	ok, err = repo.Cancel(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok, "terminal match cannot be cancelled")
}

func TestMemoryConcurrentFinishSucceedsOnce(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	now := time.Now()
	m := f.pendingMatch(t, models.UpperRound(models.StageSemi, 1), now)
	repo := f.store.Matches
	require.NoError(t, repo.PlaceInSlot(ctx, m.ID, 1, models.TeamSlot(f.team1.ID)))
	require.NoError(t, repo.PlaceInSlot(ctx, m.ID, 2, models.TeamSlot(f.team2.ID)))
	_, err := repo.PromoteToScheduled(ctx, m.ID)
	require.NoError(t, err)
	_, err = repo.Start(ctx, m.ID, now)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Finish(ctx, m.ID, 2, 1, f.team1.ID, now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestMemoryShiftScheduleSkipsStartedMatches(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 9, 16, 0, 0, 0, time.UTC)
	repo := f.store.Matches

	live := f.pendingMatch(t, models.UpperRound(models.StageSemi, 1), base)
	require.NoError(t, repo.PlaceInSlot(ctx, live.ID, 1, models.TeamSlot(f.team1.ID)))
	require.NoError(t, repo.PlaceInSlot(ctx, live.ID, 2, models.TeamSlot(f.team2.ID)))
	_, err := repo.PromoteToScheduled(ctx, live.ID)
	require.NoError(t, err)
	_, err = repo.Start(ctx, live.ID, base)
	require.NoError(t, err)

	other := f.pendingMatch(t, models.UpperRound(models.StageSemi, 2), base.Add(time.Hour))
	final := f.pendingMatch(t, models.UpperRound(models.StageFinal, 1), base.Add(2*time.Hour))

	n, err := repo.ShiftSchedule(ctx, f.tournament.ID, other.ID, 12*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := repo.GetByID(ctx, final.ID)
	assert.Equal(t, base.Add(2*time.Hour+12*time.Minute), got.ScheduledAt)
	got, _ = repo.GetByID(ctx, other.ID)
	assert.Equal(t, base.Add(time.Hour), got.ScheduledAt, "excluded match keeps its time")
	got, _ = repo.GetByID(ctx, live.ID)
	assert.Equal(t, base, got.ScheduledAt, "live match keeps its time")
}

func TestMemoryTournamentCompleteIsIdempotent(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	repo := f.store.Tournaments

	require.NoError(t, repo.Complete(ctx, f.tournament.ID, f.team1.ID))
	require.NoError(t, repo.Complete(ctx, f.tournament.ID, f.team1.ID))
	assert.ErrorIs(t, repo.Complete(ctx, f.tournament.ID, f.team2.ID), ErrTournamentCompleted)

	got, err := repo.GetByID(ctx, f.tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, f.team1.ID, *got.ChampionID)
}

func TestMemoryDeleteTournamentRemovesBracket(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := context.Background()
	m := f.pendingMatch(t, models.GrandFinal(), time.Now())
	require.NoError(t, f.store.Standings.BatchCreate(ctx, []*models.TournamentStanding{
		{TournamentID: f.tournament.ID, TeamID: f.team1.ID, Seed: 1},
	}))

	require.NoError(t, f.store.Tournaments.Delete(ctx, f.tournament.ID))

	_, err := f.store.Matches.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)
	standings, err := f.store.Standings.ListByTournament(ctx, f.tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, standings)
	assert.ErrorIs(t, f.store.Tournaments.Delete(ctx, f.tournament.ID), ErrTournamentNotFound)
}

func TestMemoryTeamNameConflict(t *testing.T) {
	f := newMemoryFixture(t)
	err := f.store.Teams.Create(context.Background(), &models.Team{Name: "Vitality"})
	assert.ErrorIs(t, err, ErrTeamNameConflict)

	teams, err := f.store.Teams.GetByIDs(context.Background(), []int{f.team1.ID, 999})
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}
