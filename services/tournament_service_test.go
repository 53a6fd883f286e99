package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-engine/models"
)

func TestCreateTournamentSeedsBracket(t *testing.T) {
	f := newEngineFixture(t, 8, 1)

	assert.Equal(t, 8, f.bracket.Tournament.BracketSize)
	assert.Equal(t, models.StatusActive, f.bracket.Tournament.Status)
	assert.Len(t, f.bracket.Standings, 8)
	// 7 верхних, 6 нижних и гранд-финал; перегровка создаётся по требованию
	assert.Len(t, f.bracket.Matches, 14)

	scheduled := 0
	for _, m := range f.bracket.Matches {
		if m.Phase == models.PhaseScheduled {
			scheduled++
			assert.Equal(t, models.RoundUpper, m.Round.Kind)
			assert.Equal(t, models.StageQuarter, m.Round.Stage)
		}
	}
	assert.Equal(t, 4, scheduled)
}

func TestCreateTournamentWithByes(t *testing.T) {
	f := newEngineFixture(t, 3, 1)

	assert.Equal(t, 4, f.bracket.Tournament.BracketSize)

	var bye *models.Match
	for _, m := range f.bracket.Matches {
		if m.Round.Kind == models.RoundUpper && m.Round.Stage == models.StageSemi && m.HasBye() {
			bye = m
		}
	}
	require.NotNil(t, bye, "the top seed gets a bye")
	assert.Equal(t, models.PhaseFinished, bye.Phase)
	assert.True(t, bye.Advanced)
	require.NotNil(t, bye.WinnerID)
	assert.Equal(t, f.seed(1), *bye.WinnerID)

	final := f.match(t, models.UpperRound(models.StageFinal, 1))
	assert.NotZero(t, final.SlotOfTeam(f.seed(1)))
}

func TestCreateTournamentValidation(t *testing.T) {
	f := newEngineFixture(t, 4, 1)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   CreateTournamentInput
		wantErr error
	}{
		{"too few teams", CreateTournamentInput{Name: "Cup A", TeamIDs: f.teams[:2], StartAt: start}, ErrInvalidTeamCount},
		{"unknown team", CreateTournamentInput{Name: "Cup B", TeamIDs: []int{f.seed(1), f.seed(2), 9999}, StartAt: start}, ErrTeamNotFound},
		{"duplicate team", CreateTournamentInput{Name: "Cup C", TeamIDs: []int{f.seed(1), f.seed(1), f.seed(2)}, StartAt: start}, ErrTournamentInvalid},
		{"no name", CreateTournamentInput{TeamIDs: f.teams, StartAt: start}, ErrTournamentInvalid},
		{"no start", CreateTournamentInput{Name: "Cup D", TeamIDs: f.teams}, ErrTournamentInvalid},
		{"best of two", CreateTournamentInput{Name: "Cup E", TeamIDs: f.teams, StartAt: start, BestOf: 2}, ErrTournamentInvalid},
		{"name taken", CreateTournamentInput{Name: "Spring Cup", TeamIDs: f.teams, StartAt: start}, ErrTournamentNameConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tournaments.CreateTournament(ctx, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateTeamValidation(t *testing.T) {
	f := newEngineFixture(t, 4, 1)
	ctx := context.Background()

	_, err := f.tournaments.CreateTeam(ctx, CreateTeamInput{Name: "   "})
	assert.ErrorIs(t, err, ErrTeamNameRequired)

	_, err = f.tournaments.CreateTeam(ctx, CreateTeamInput{Name: "Team 1"})
	assert.ErrorIs(t, err, ErrTeamNameConflict)
}

func TestGetBracketAndDelete(t *testing.T) {
	f := newEngineFixture(t, 4, 1)
	ctx := context.Background()
	id := f.bracket.Tournament.ID

	view, err := f.tournaments.GetBracket(ctx, id)
	require.NoError(t, err)
	assert.Len(t, view.Matches, len(f.bracket.Matches))

	list, err := f.tournaments.ListTournaments(ctx, ListTournamentsFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.tournaments.DeleteTournament(ctx, id))

	_, err = f.tournaments.GetBracket(ctx, id)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
	assert.ErrorIs(t, f.tournaments.DeleteTournament(ctx, id), ErrTournamentNotFound)
}

func TestAssignServer(t *testing.T) {
	f := newEngineFixture(t, 4, 1)
	ctx := context.Background()
	m := f.match(t, models.UpperRound(models.StageSemi, 1))

	updated, err := f.tournaments.AssignServer(ctx, m.ID, "srv-3")
	require.NoError(t, err)
	require.NotNil(t, updated.ServerID)
	assert.Equal(t, "srv-3", *f.reload(t, m.ID).ServerID)

	_, err = f.tournaments.AssignServer(ctx, m.ID, "")
	require.NoError(t, err)
	assert.Nil(t, f.reload(t, m.ID).ServerID)

	_, err = f.tournaments.AssignServer(ctx, m.ID, "bad id")
	assert.ErrorIs(t, err, ErrInvalidServerID)

	_, err = f.matches.CancelMatch(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.tournaments.AssignServer(ctx, m.ID, "srv-3")
	assert.ErrorIs(t, err, ErrMatchCancelled)
}

func TestLockerSerializesAndCleansUp(t *testing.T) {
	l := NewLocker()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(7)
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}
