package brackets

import (
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrUnsupportedBracketSize = errors.New("unsupported bracket size")
	ErrRoundNotInBracket      = errors.New("round is not part of this bracket")
	ErrInvalidSlot            = errors.New("slot must be 1 or 2")
)

type DestinationKind int

const (
	ToMatch DestinationKind = iota + 1
	ToChampion
	ToEliminated
)

// Destination - куда команда попадает после матча.
type Destination struct {
	Kind  DestinationKind
	Round models.Round
	Slot  int
}

func (d Destination) String() string {
	switch d.Kind {
	case ToMatch:
		return fmt.Sprintf("%s slot %d", d.Round, d.Slot)
	case ToChampion:
		return "champion"
	case ToEliminated:
		return "eliminated"
	default:
		return "unknown"
	}
}

// Topology describes a double elimination bracket with Size entrants.
// Upper rounds are addressed by depth (1 = first round), lower rounds by
// their number. There are log2(Size) upper rounds and 2*(log2(Size)-1)
// lower rounds.
type Topology struct {
	size        int
	upperRounds int
}

func NewTopology(size int) (*Topology, error) {
	switch size {
	case 4:
		return &Topology{size: 4, upperRounds: 2}, nil
	case 8:
		return &Topology{size: 8, upperRounds: 3}, nil
	default:
		return nil, fmt.Errorf("%w: %d (supported: 4, 8)", ErrUnsupportedBracketSize, size)
	}
}

func (t *Topology) Size() int { return t.size }

func (t *Topology) UpperRoundCount() int { return t.upperRounds }

func (t *Topology) LowerRoundCount() int { return 2 * (t.upperRounds - 1) }

func (t *Topology) upperMatches(depth int) int {
	return t.size >> depth
}

func (t *Topology) lowerMatches(round int) int {
	return t.size >> ((round+1)/2 + 1)
}

func (t *Topology) upperStage(depth int) models.UpperStage {
	stage, _ := models.StageForMatchCount(t.upperMatches(depth))
	return stage
}

func (t *Topology) upperDepth(stage models.UpperStage) int {
	for d := 1; d <= t.upperRounds; d++ {
		if t.upperStage(d) == stage {
			return d
		}
	}
	return 0
}

// Contains сообщает, есть ли такой раунд в этой сетке.
func (t *Topology) Contains(r models.Round) bool {
	switch r.Kind {
	case models.RoundUpper:
		d := t.upperDepth(r.Stage)
		return d > 0 && r.Index >= 1 && r.Index <= t.upperMatches(d)
	case models.RoundLower:
		return r.LowerRound >= 1 && r.LowerRound <= t.LowerRoundCount() &&
			r.Index >= 1 && r.Index <= t.lowerMatches(r.LowerRound)
	case models.RoundGrandFinal, models.RoundGrandFinalReset:
		return true
	default:
		return false
	}
}

// Rounds перечисляет все позиции матчей, кроме переигровки гранд-финала,
// в порядке игры.
func (t *Topology) Rounds() []models.Round {
	rounds := make([]models.Round, 0, 2*t.size)
	for _, step := range t.PlayOrder() {
		rounds = append(rounds, step...)
	}
	return rounds
}

// PlayOrder groups the bracket into waves of matches that do not depend on
// each other. Upper depth d runs alongside lower round 2(d-1)-1; lower round
// 2(d-1) waits for the losers of depth d and gets its own wave.
func (t *Topology) PlayOrder() [][]models.Round {
	waves := make([][]models.Round, 0, 2*t.upperRounds)
	for d := 1; d <= t.upperRounds; d++ {
		wave := make([]models.Round, 0, t.upperMatches(d))
		for i := 1; i <= t.upperMatches(d); i++ {
			wave = append(wave, models.UpperRound(t.upperStage(d), i))
		}
		if d > 1 {
			wave = append(wave, t.lowerWave(2*(d-1)-1)...)
		}
		waves = append(waves, wave)
		if d > 1 {
			waves = append(waves, t.lowerWave(2*(d-1)))
		}
	}
	waves = append(waves, []models.Round{models.GrandFinal()})
	return waves
}

func (t *Topology) lowerWave(round int) []models.Round {
	wave := make([]models.Round, 0, t.lowerMatches(round))
	for j := 1; j <= t.lowerMatches(round); j++ {
		wave = append(wave, models.LowerRound(round, j))
	}
	return wave
}

// FirstRound возвращает матчи верхней сетки, куда попадают посеянные команды.
func (t *Topology) FirstRound() []models.Round {
	rounds := make([]models.Round, 0, t.upperMatches(1))
	for i := 1; i <= t.upperMatches(1); i++ {
		rounds = append(rounds, models.UpperRound(t.upperStage(1), i))
	}
	return rounds
}

// SeedOrder returns seed numbers in bracket position order so that seed 1
// and seed 2 can only meet in the final (1v8, 4v5, 2v7, 3v6 for 8 teams).
func (t *Topology) SeedOrder() []int {
	order := []int{1, 2}
	for len(order) < t.size {
		n := len(order) * 2
		next := make([]int, 0, n)
		for _, s := range order {
			next = append(next, s, n+1-s)
		}
		order = next
	}
	return order
}

func slotByParity(i int) int {
	if i%2 == 1 {
		return 1
	}
	return 2
}

func checkSlot(slot int) error {
	if slot != 1 && slot != 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidSlot, slot)
	}
	return nil
}

// NextOnWin возвращает, куда дальше идёт победитель раунда, игравший из fromSlot.
func (t *Topology) NextOnWin(r models.Round, fromSlot int) (Destination, error) {
	if err := checkSlot(fromSlot); err != nil {
		return Destination{}, err
	}
	if !t.Contains(r) {
		return Destination{}, fmt.Errorf("%w: %s", ErrRoundNotInBracket, r)
	}

	switch r.Kind {
	case models.RoundUpper:
		d := t.upperDepth(r.Stage)
		if d == t.upperRounds {
			return Destination{Kind: ToMatch, Round: models.GrandFinal(), Slot: 1}, nil
		}
		return Destination{
			Kind:  ToMatch,
			Round: models.UpperRound(t.upperStage(d+1), (r.Index+1)/2),
			Slot:  slotByParity(r.Index),
		}, nil

	case models.RoundLower:
		if r.LowerRound == t.LowerRoundCount() {
			return Destination{Kind: ToMatch, Round: models.GrandFinal(), Slot: 2}, nil
		}
		if r.LowerRound%2 == 1 {
			// нечётный раунд: победитель ждёт проигравшего из верхней сетки
			return Destination{Kind: ToMatch, Round: models.LowerRound(r.LowerRound+1, r.Index), Slot: 1}, nil
		}
		return Destination{
			Kind:  ToMatch,
			Round: models.LowerRound(r.LowerRound+1, (r.Index+1)/2),
			Slot:  slotByParity(r.Index),
		}, nil

	case models.RoundGrandFinal:
		if fromSlot == 1 {
			return Destination{Kind: ToChampion}, nil
		}
		return Destination{Kind: ToMatch, Round: models.GrandFinalReset(), Slot: 2}, nil

	case models.RoundGrandFinalReset:
		return Destination{Kind: ToChampion}, nil
	}
	return Destination{}, fmt.Errorf("%w: %s", ErrRoundNotInBracket, r)
}

// NextOnLoss возвращает, куда дальше идёт проигравший раунда, игравший из fromSlot.
func (t *Topology) NextOnLoss(r models.Round, fromSlot int) (Destination, error) {
	if err := checkSlot(fromSlot); err != nil {
		return Destination{}, err
	}
	if !t.Contains(r) {
		return Destination{}, fmt.Errorf("%w: %s", ErrRoundNotInBracket, r)
	}

	switch r.Kind {
	case models.RoundUpper:
		d := t.upperDepth(r.Stage)
		if d == 1 {
			return Destination{
				Kind:  ToMatch,
				Round: models.LowerRound(1, (r.Index+1)/2),
				Slot:  slotByParity(r.Index),
			}, nil
		}
		// Проигравшие верхней сетки заходят в нижнюю в обратном порядке.
		m := t.upperMatches(d)
		return Destination{
			Kind:  ToMatch,
			Round: models.LowerRound(2*(d-1), m-r.Index+1),
			Slot:  2,
		}, nil

	case models.RoundLower:
		return Destination{Kind: ToEliminated}, nil

	case models.RoundGrandFinal:
		// Слот 1 у чемпиона верхней сетки, он ещё не проигрывал.
		if fromSlot == 1 {
			return Destination{Kind: ToMatch, Round: models.GrandFinalReset(), Slot: 1}, nil
		}
		return Destination{Kind: ToEliminated}, nil

	case models.RoundGrandFinalReset:
		return Destination{Kind: ToEliminated}, nil
	}
	return Destination{}, fmt.Errorf("%w: %s", ErrRoundNotInBracket, r)
}
