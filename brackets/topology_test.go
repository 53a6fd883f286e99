package brackets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-engine/models"
)

func TestNewTopology(t *testing.T) {
	tests := []struct {
		size    int
		wantErr bool
		upper   int
		lower   int
		matches int
	}{
		{size: 4, upper: 2, lower: 2, matches: 6},
		{size: 8, upper: 3, lower: 4, matches: 14},
		{size: 2, wantErr: true},
		{size: 6, wantErr: true},
		{size: 16, wantErr: true},
	}

	for _, tt := range tests {
		topo, err := NewTopology(tt.size)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedBracketSize, "size %d", tt.size)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.upper, topo.UpperRoundCount())
		assert.Equal(t, tt.lower, topo.LowerRoundCount())
		assert.Len(t, topo.Rounds(), tt.matches, "size %d", tt.size)
	}
}

func TestTopologySeedOrder(t *testing.T) {
	four, err := NewTopology(4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 2, 3}, four.SeedOrder())

	eight, err := NewTopology(8)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 4, 5, 2, 7, 3, 6}, eight.SeedOrder())
}

func TestTopologyEightTeamRoutes(t *testing.T) {
	topo, err := NewTopology(8)
	require.NoError(t, err)

	match := func(r models.Round, slot int) Destination {
		return Destination{Kind: ToMatch, Round: r, Slot: slot}
	}
	champion := Destination{Kind: ToChampion}
	eliminated := Destination{Kind: ToEliminated}

	tests := []struct {
		name     string
		round    models.Round
		fromSlot int
		win      Destination
		loss     Destination
	}{
		{"quarter 1", models.UpperRound(models.StageQuarter, 1), 1,
			match(models.UpperRound(models.StageSemi, 1), 1), match(models.LowerRound(1, 1), 1)},
		{"quarter 2", models.UpperRound(models.StageQuarter, 2), 2,
			match(models.UpperRound(models.StageSemi, 1), 2), match(models.LowerRound(1, 1), 2)},
		{"quarter 3", models.UpperRound(models.StageQuarter, 3), 1,
			match(models.UpperRound(models.StageSemi, 2), 1), match(models.LowerRound(1, 2), 1)},
		{"quarter 4", models.UpperRound(models.StageQuarter, 4), 1,
			match(models.UpperRound(models.StageSemi, 2), 2), match(models.LowerRound(1, 2), 2)},
		{"semi 1 loser crosses over", models.UpperRound(models.StageSemi, 1), 1,
			match(models.UpperRound(models.StageFinal, 1), 1), match(models.LowerRound(2, 2), 2)},
		{"semi 2 loser crosses over", models.UpperRound(models.StageSemi, 2), 2,
			match(models.UpperRound(models.StageFinal, 1), 2), match(models.LowerRound(2, 1), 2)},
		{"upper final", models.UpperRound(models.StageFinal, 1), 1,
			match(models.GrandFinal(), 1), match(models.LowerRound(4, 1), 2)},
		{"lower round 1", models.LowerRound(1, 2), 1,
			match(models.LowerRound(2, 2), 1), eliminated},
		{"lower round 2 match 1", models.LowerRound(2, 1), 2,
			match(models.LowerRound(3, 1), 1), eliminated},
		{"lower round 2 match 2", models.LowerRound(2, 2), 1,
			match(models.LowerRound(3, 1), 2), eliminated},
		{"lower round 3", models.LowerRound(3, 1), 1,
			match(models.LowerRound(4, 1), 1), eliminated},
		{"lower final", models.LowerRound(4, 1), 2,
			match(models.GrandFinal(), 2), eliminated},
		{"grand final, upper champion", models.GrandFinal(), 1,
			champion, match(models.GrandFinalReset(), 1)},
		{"grand final, lower champion", models.GrandFinal(), 2,
			match(models.GrandFinalReset(), 2), eliminated},
		{"reset", models.GrandFinalReset(), 2, champion, eliminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win, err := topo.NextOnWin(tt.round, tt.fromSlot)
			require.NoError(t, err)
			assert.Equal(t, tt.win, win)

			loss, err := topo.NextOnLoss(tt.round, tt.fromSlot)
			require.NoError(t, err)
			assert.Equal(t, tt.loss, loss)
		})
	}
}

func TestTopologyRejectsForeignRounds(t *testing.T) {
	topo, err := NewTopology(4)
	require.NoError(t, err)

	_, err = topo.NextOnWin(models.UpperRound(models.StageQuarter, 1), 1)
	assert.ErrorIs(t, err, ErrRoundNotInBracket)

	_, err = topo.NextOnLoss(models.LowerRound(3, 1), 1)
	assert.ErrorIs(t, err, ErrRoundNotInBracket)

	_, err = topo.NextOnWin(models.UpperRound(models.StageSemi, 1), 3)
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

// Every slot below the first round is fed by exactly one source.
func TestTopologyEverySlotHasOneFeeder(t *testing.T) {
	for _, size := range []int{4, 8} {
		topo, err := NewTopology(size)
		require.NoError(t, err)

		fed := make(map[Destination]int)
		for _, r := range topo.Rounds() {
			for slot := 1; slot <= 2; slot++ {
				win, err := topo.NextOnWin(r, slot)
				require.NoError(t, err)
				loss, err := topo.NextOnLoss(r, 3-slot)
				require.NoError(t, err)
				for _, d := range []Destination{win, loss} {
					if d.Kind == ToMatch {
						fed[d]++
					}
				}
			}
		}

		first := make(map[models.Round]bool)
		for _, r := range topo.FirstRound() {
			first[r] = true
		}
		for _, r := range topo.Rounds() {
			if first[r] {
				continue
			}
			for slot := 1; slot <= 2; slot++ {
				// each source match is counted twice: once per winning slot
				assert.Equal(t, 2, fed[Destination{Kind: ToMatch, Round: r, Slot: slot}],
					"size %d: %s slot %d", size, r, slot)
			}
		}
	}
}

func TestTopologyPlayOrderRespectsDependencies(t *testing.T) {
	for _, size := range []int{4, 8} {
		topo, err := NewTopology(size)
		require.NoError(t, err)

		wave := make(map[models.Round]int)
		for i, rounds := range topo.PlayOrder() {
			for _, r := range rounds {
				wave[r] = i
			}
		}

		for _, r := range topo.Rounds() {
			for slot := 1; slot <= 2; slot++ {
				win, err := topo.NextOnWin(r, slot)
				require.NoError(t, err)
				loss, err := topo.NextOnLoss(r, slot)
				require.NoError(t, err)
				for _, d := range []Destination{win, loss} {
					if d.Kind != ToMatch || d.Round.Kind == models.RoundGrandFinalReset {
						continue
					}
					assert.Greater(t, wave[d.Round], wave[r], "size %d: %s feeds %s", size, r, d.Round)
				}
			}
		}
	}
}
