package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/storage"
)

type fakeCommander struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (f *fakeCommander) SendCommand(_ context.Context, serverID, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, serverID+": "+command)
	return f.err
}

func (f *fakeCommander) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type engineFixture struct {
	store       *repositories.MemoryStore
	live        *live.Broadcaster
	commander   *fakeCommander
	uploader    *storage.MemoryUploader
	audit       *storage.AuditLog
	clock       *testClock
	matches     MatchService
	ingest      IngestService
	tournaments TournamentService
	bracket     *BracketView
	teams       []int // teams[seed-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngineFixture(t *testing.T, teamCount, bestOf int) *engineFixture {
	t.Helper()
	ctx := context.Background()
	logger := discardLogger()

	f := &engineFixture{
		store:     repositories.NewMemoryStore(),
		live:      live.NewBroadcaster(logger),
		commander: &fakeCommander{},
		uploader:  storage.NewMemoryUploader(),
		clock:     &testClock{now: time.Date(2026, 5, 9, 16, 0, 0, 0, time.UTC)},
	}
	f.audit = storage.NewAuditLog(f.uploader)

	resolver := brackets.NewResolver(f.store.Matches, f.store.Standings, f.store.Tournaments, logger,
		brackets.WithRetry(1, 0),
		brackets.WithClock(f.clock.Now),
	)
	locker := NewLocker()
	progress := NewProgressTracker()

	f.matches = NewMatchService(MatchServiceDeps{
		Matches:     f.store.Matches,
		Teams:       f.store.Teams,
		Tournaments: f.store.Tournaments,
		Resolver:    resolver,
		Live:        f.live,
		Commander:   f.commander,
		Audit:       f.audit,
		Locker:      locker,
		Progress:    progress,
		Logger:      logger,
		Now:         f.clock.Now,
	}, MatchServiceConfig{PublicBaseURL: "https://cup.example.com"})
	f.ingest = NewIngestService(f.store.Matches, f.matches, f.live, f.audit, nil, locker, progress, logger)
	f.tournaments = NewTournamentService(f.store.Tournaments, f.store.Teams, f.store.Standings, f.store.Matches,
		brackets.NewDoubleEliminationGenerator(), resolver, locker, logger)

	for seed := 1; seed <= teamCount; seed++ {
		team, err := f.tournaments.CreateTeam(ctx, CreateTeamInput{Name: fmt.Sprintf("Team %d", seed), Tag: fmt.Sprintf("T%d", seed)})
		require.NoError(t, err)
		f.teams = append(f.teams, team.ID)
	}

	view, err := f.tournaments.CreateTournament(ctx, CreateTournamentInput{
		Name:                 "Spring Cup",
		TeamIDs:              f.teams,
		StartAt:              f.clock.Now(),
		MatchIntervalMinutes: 60,
		BestOf:               bestOf,
	})
	require.NoError(t, err)
	f.bracket = view
	return f
}

func (f *engineFixture) seed(n int) int { return f.teams[n-1] }

func (f *engineFixture) match(t *testing.T, r models.Round) *models.Match {
	t.Helper()
	m, err := f.store.Matches.GetByRound(context.Background(), f.bracket.Tournament.ID, r)
	require.NoError(t, err, "round %s", r)
	return m
}

func (f *engineFixture) reload(t *testing.T, id int) *models.Match {
	t.Helper()
	m, err := f.store.Matches.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

// startSemi starts the first upper semi final through the admin surface.
func (f *engineFixture) startSemi(t *testing.T) *models.Match {
	t.Helper()
	m := f.match(t, models.UpperRound(models.StageSemi, 1))
	require.Equal(t, models.PhaseScheduled, m.Phase)
	f.clock.Set(m.ScheduledAt)
	started, err := f.matches.StartMatch(context.Background(), m.ID)
	require.NoError(t, err)
	return started
}

func (f *engineFixture) send(t *testing.T, matchID int, format string, args ...interface{}) *IngestResult {
	t.Helper()
	res, err := f.ingest.Ingest(context.Background(), matchID, []byte(fmt.Sprintf(format, args...)))
	require.NoError(t, err)
	return res
}

func itoa(n int) string { return strconv.Itoa(n) }
