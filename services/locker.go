package services

import "sync"

// Locker сериализует работу по id матча. Разные матчи друг друга не блокируют.
// Запись удаляется, когда её никто не держит и не ждёт.
type Locker struct {
	mu    sync.Mutex
	locks map[int]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[int]*lockEntry)}
}

// Lock ждёт, пока матч освободится, и возвращает функцию разблокировки.
func (l *Locker) Lock(matchID int) func() {
	l.mu.Lock()
	e, ok := l.locks[matchID]
	if !ok {
		e = &lockEntry{}
		l.locks[matchID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, matchID)
		}
		l.mu.Unlock()
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
