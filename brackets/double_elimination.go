package brackets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrNotEnoughTeams = errors.New("not enough teams to generate a double elimination bracket (minimum 3)")
	ErrTooManyTeams   = errors.New("too many teams for a double elimination bracket (maximum 8)")
	ErrDuplicateSeed  = errors.New("seeds must be unique and start at 1")
)

// BracketMatch: заготовка матча сетки до сохранения в БД.
type BracketMatch struct {
	Round       models.Round
	Wave        int
	ScheduledAt time.Time

	// Заполнены только в первом раунде верхней сетки.
	Team1 models.Slot
	Team2 models.Slot
}

type DoubleEliminationGenerator struct{}

func NewDoubleEliminationGenerator() BracketGenerator {
	return &DoubleEliminationGenerator{}
}

func (g *DoubleEliminationGenerator) GetName() string {
	return "DoubleElimination"
}

// BracketSizeFor возвращает наименьшую поддерживаемую сетку на n команд.
func BracketSizeFor(n int) (int, error) {
	switch {
	case n < 3:
		return 0, ErrNotEnoughTeams
	case n <= 4:
		return 4, nil
	case n <= 8:
		return 8, nil
	default:
		return 0, ErrTooManyTeams
	}
}

// GenerateBracket создаёт все матчи сетки, кроме переигровки гранд-финала.
// Пустые позиции посева становятся пропусками (bye), и верхние сеяные
// проходят первый раунд, если команд меньше размера сетки.
func (g *DoubleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	n := len(params.Standings)
	size, err := BracketSizeFor(n)
	if err != nil {
		return nil, err
	}
	topo, err := NewTopology(size)
	if err != nil {
		return nil, err
	}

	bySeed := make(map[int]int, n)
	for _, s := range params.Standings {
		if s.Seed < 1 || s.Seed > n {
			return nil, fmt.Errorf("%w: seed %d of team %d", ErrDuplicateSeed, s.Seed, s.TeamID)
		}
		if _, dup := bySeed[s.Seed]; dup {
			return nil, fmt.Errorf("%w: seed %d", ErrDuplicateSeed, s.Seed)
		}
		bySeed[s.Seed] = s.TeamID
	}

	slotForSeed := func(seed int) models.Slot {
		if teamID, ok := bySeed[seed]; ok {
			return models.TeamSlot(teamID)
		}
		return models.ByeSlot()
	}

	order := topo.SeedOrder()
	seeded := make(map[models.Round][2]models.Slot, size/2)
	for i, r := range topo.FirstRound() {
		seeded[r] = [2]models.Slot{slotForSeed(order[2*i]), slotForSeed(order[2*i+1])}
	}

	start := params.Tournament.StartDate
	interval := params.Tournament.MatchInterval

	matches := make([]*BracketMatch, 0, 2*size)
	for wave, rounds := range topo.PlayOrder() {
		for _, r := range rounds {
			bm := &BracketMatch{
				Round:       r,
				Wave:        wave,
				ScheduledAt: start.Add(time.Duration(wave) * interval),
			}
			if slots, ok := seeded[r]; ok {
				bm.Team1, bm.Team2 = slots[0], slots[1]
			}
			matches = append(matches, bm)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Wave < matches[j].Wave
	})
	return matches, nil
}
