package services

import (
	"sync"

	"github.com/Dosada05/tournament-engine/models"
)

// matchProgress - отметка прогресса одного матча: докуда поток событий уже
// сдвинул отображаемые счётчики.
type matchProgress struct {
	mapNumber      int
	round          int
	lastEndedRound int
	team1Score     int
	team2Score     int

	// mapWinners: номер карты -> слот победителя (1 или 2)
	mapWinners   map[int]int
	lastMapScore [2]int
	hasMapResult bool
}

// ProgressTracker хранит отметки прогресса идущих матчей. Вызывающий держит
// блокировку матча, пока читает или меняет его прогресс.
type ProgressTracker struct {
	mu      sync.Mutex
	byMatch map[int]*matchProgress
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{byMatch: make(map[int]*matchProgress)}
}

func (t *ProgressTracker) get(matchID int) *matchProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byMatch[matchID]
	if !ok {
		p = &matchProgress{mapWinners: make(map[int]int)}
		t.byMatch[matchID] = p
	}
	return p
}

// Rewind откатывает отметку раунда, чтобы восстановленный раунд переигрался начисто.
func (t *ProgressTracker) Rewind(matchID, round int) {
	p := t.get(matchID)
	if p.round > round {
		p.round = round
	}
	if p.lastEndedRound > round {
		p.lastEndedRound = round
	}
}

func (t *ProgressTracker) Forget(matchID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byMatch, matchID)
}

// stale сообщает, отстаёт ли событие от отметки прогресса. Устаревшие
// события идут в аудит и ленту, но счётчики не двигают.
func (p *matchProgress) stale(kind models.EventKind, mapNumber *int, round int) bool {
	if mapNumber != nil && *mapNumber < p.mapNumber {
		return true
	}
	sameMap := mapNumber == nil || *mapNumber == p.mapNumber
	switch kind {
	case models.EventMapResult:
		n := p.mapNumber
		if mapNumber != nil {
			n = *mapNumber
		}
		_, done := p.mapWinners[n]
		return done
	case models.EventRoundEnd:
		if !sameMap {
			return false
		}
		// после map_result счёт карты окончательный
		if _, done := p.mapWinners[p.mapNumber]; done {
			return true
		}
		return round <= p.lastEndedRound
	case models.EventRoundStart, models.EventBombPlanted, models.EventBombDefused,
		models.EventPlayerDeath, models.EventPlayerHurt:
		return sameMap && round < p.round
	default:
		return false
	}
}

// enterMap переносит отметку на следующую карту и обнуляет счётчики карты.
func (p *matchProgress) enterMap(mapNumber *int) bool {
	if mapNumber == nil || *mapNumber <= p.mapNumber {
		return false
	}
	p.mapNumber = *mapNumber
	p.round = 0
	p.lastEndedRound = 0
	p.team1Score, p.team2Score = 0, 0
	return true
}

func (p *matchProgress) roundStarted(round int) {
	if round > p.round {
		p.round = round
	}
}

// roundEnded фиксирует счёт завершённого раунда. Возвращает false, если
// поток уже ушёл в следующий раунд: номер раунда на табло тогда не трогаем.
func (p *matchProgress) roundEnded(round, team1Score, team2Score int) bool {
	current := round >= p.round
	p.roundStarted(round)
	p.lastEndedRound = round
	p.team1Score, p.team2Score = team1Score, team2Score
	return current
}

func (p *matchProgress) mapFinished(mapNumber, winnerSlot, team1Score, team2Score int) {
	p.mapWinners[mapNumber] = winnerSlot
	p.lastMapScore = [2]int{team1Score, team2Score}
	p.hasMapResult = true
}

func (p *matchProgress) mapsWon() (int, int) {
	var t1, t2 int
	for _, slot := range p.mapWinners {
		switch slot {
		case 1:
			t1++
		case 2:
			t2++
		}
	}
	return t1, t2
}

// finalScore выводит итоговый счёт для series_end: счёт раундов последней
// карты в матче из одной карты, иначе число выигранных карт.
func (p *matchProgress) finalScore(bestOf int, payload models.SeriesEndPayload) (int, int) {
	if bestOf <= 1 {
		if p.hasMapResult {
			return p.lastMapScore[0], p.lastMapScore[1]
		}
		return p.team1Score, p.team2Score
	}
	if payload.Team1SeriesScore != nil && payload.Team2SeriesScore != nil {
		return *payload.Team1SeriesScore, *payload.Team2SeriesScore
	}
	return p.mapsWon()
}
