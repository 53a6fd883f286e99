package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/tournament-engine/metrics"
)

type EnvelopeType string

const (
	EnvelopeSnapshot     EnvelopeType = "snapshot"
	EnvelopeDelta        EnvelopeType = "delta"
	EnvelopeConnected    EnvelopeType = "connected"
	EnvelopeDisconnected EnvelopeType = "disconnected"
)

// Envelope - любое сообщение, отправляемое наблюдателю.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	MatchID   int          `json:"match_id"`
	Payload   interface{}  `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type ObserversPayload struct {
	Observers int `json:"observers"`
}

const (
	DefaultSendBuffer  = 64
	DefaultFinishGrace = 2 * time.Minute
	DefaultIdleTTL     = 6 * time.Hour
	defaultSweepEvery  = 30 * time.Second
)

// Subscription получает закодированные сообщения одного матча. C
// закрывается, когда бродкастер отключает подписку.
type Subscription struct {
	MatchID int
	C       <-chan []byte

	send   chan []byte
	closed bool
}

type room struct {
	mu           sync.Mutex
	matchID      int
	state        State
	version      int
	subs         map[*Subscription]struct{}
	finishedAt   time.Time
	emptySince   time.Time
	lastActivity time.Time
	retired      bool
}

type Option func(*Broadcaster)

func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

func WithSendBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.sendBuffer = n
		}
	}
}

// WithRetention задаёт, сколько держать комнату после финала без
// наблюдателей и сколько держать комнату без событий.
func WithRetention(finishGrace, idleTTL time.Duration) Option {
	return func(b *Broadcaster) {
		b.finishGrace = finishGrace
		b.idleTTL = idleTTL
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// Broadcaster хранит живое состояние матчей и рассылает обновления
// наблюдателям. Подписчик всегда получает полный снимок раньше любой дельты.
type Broadcaster struct {
	mu    sync.Mutex
	rooms map[int]*room

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	sendBuffer  int
	finishGrace time.Duration
	idleTTL     time.Duration
}

func NewBroadcaster(logger *slog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		rooms:       make(map[int]*room),
		logger:      logger,
		now:         time.Now,
		sendBuffer:  DefaultSendBuffer,
		finishGrace: DefaultFinishGrace,
		idleTTL:     DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// lockRoom возвращает заблокированную комнату матча, создавая её при необходимости.
func (b *Broadcaster) lockRoom(matchID int) *room {
	for {
		b.mu.Lock()
		r, ok := b.rooms[matchID]
		if !ok {
			now := b.now()
			r = &room{
				matchID:      matchID,
				state:        State{MatchID: matchID, Players: []PlayerState{}, Feed: []FeedEntry{}},
				subs:         make(map[*Subscription]struct{}),
				lastActivity: now,
				emptySince:   now,
			}
			b.rooms[matchID] = r
			b.metrics.SetRooms(len(b.rooms))
		}
		b.mu.Unlock()

		r.mu.Lock()
		if !r.retired {
			return r
		}
		// комнату удалил sweep между двумя блокировками
		r.mu.Unlock()
	}
}

// Seed задаёт начальное состояние комнаты, пока в неё не пришло ни одного обновления.
func (b *Broadcaster) Seed(matchID int, state State) {
	r := b.lockRoom(matchID)
	defer r.mu.Unlock()

	if r.version > 0 {
		return
	}
	state.MatchID = matchID
	if state.Players == nil {
		state.Players = []PlayerState{}
	}
	if state.Feed == nil {
		state.Feed = []FeedEntry{}
	}
	r.state = state
	r.version++
	r.lastActivity = b.now()
}

// Apply вливает дельту в состояние матча и рассылает её наблюдателям.
func (b *Broadcaster) Apply(matchID int, d Delta) {
	r := b.lockRoom(matchID)
	defer r.mu.Unlock()

	now := b.now()
	r.state.apply(d, now)
	r.version++
	r.lastActivity = now
	b.fanout(r, Envelope{Type: EnvelopeDelta, MatchID: matchID, Payload: d, Timestamp: now})
}

// AppendFeed добавляет строку ленты, не трогая счётчики.
func (b *Broadcaster) AppendFeed(matchID int, entry FeedEntry) {
	b.Apply(matchID, Delta{Feed: &entry})
}

// Finish применяет итоговую дельту и шлёт наблюдателям финальный снимок.
// Комната живёт, пока у неё есть наблюдатели или не истёк льготный период.
func (b *Broadcaster) Finish(matchID int, d Delta) {
	r := b.lockRoom(matchID)
	defer r.mu.Unlock()

	now := b.now()
	r.state.apply(d, now)
	r.version++
	r.lastActivity = now
	r.finishedAt = now
	b.fanout(r, Envelope{Type: EnvelopeSnapshot, MatchID: matchID, Payload: r.state.clone(), Timestamp: now})
}

// Snapshot возвращает копию текущего состояния.
func (b *Broadcaster) Snapshot(matchID int) (State, bool) {
	b.mu.Lock()
	r, ok := b.rooms[matchID]
	b.mu.Unlock()
	if !ok {
		return State{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return State{}, false
	}
	return r.state.clone(), true
}

// Subscribe регистрирует наблюдателя. Снимок ставится в очередь под
// блокировкой комнаты, поэтому ни одна дельта не придёт раньше него.
func (b *Broadcaster) Subscribe(matchID int) *Subscription {
	r := b.lockRoom(matchID)
	defer r.mu.Unlock()

	now := b.now()
	send := make(chan []byte, b.sendBuffer)
	sub := &Subscription{MatchID: matchID, C: send, send: send}

	snapshot, err := json.Marshal(Envelope{Type: EnvelopeSnapshot, MatchID: matchID, Payload: r.state.clone(), Timestamp: now})
	if err != nil {
		b.logger.Error("encode snapshot", slog.Int("match_id", matchID), slog.Any("error", err))
		close(send)
		sub.closed = true
		return sub
	}
	send <- snapshot

	r.subs[sub] = struct{}{}
	r.lastActivity = now
	b.metrics.ObserverConnected()
	b.fanoutExcept(r, sub, Envelope{
		Type:      EnvelopeConnected,
		MatchID:   matchID,
		Payload:   ObserversPayload{Observers: len(r.subs)},
		Timestamp: now,
	})
	return sub
}

// Unsubscribe удаляет наблюдателя. Повторный вызов безопасен.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	r, ok := b.rooms[sub.MatchID]
	b.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; !ok {
		return
	}
	b.removeLocked(r, sub, false)
	now := b.now()
	b.fanout(r, Envelope{
		Type:      EnvelopeDisconnected,
		MatchID:   sub.MatchID,
		Payload:   ObserversPayload{Observers: len(r.subs)},
		Timestamp: now,
	})
}

// Observers возвращает число наблюдателей матча.
func (b *Broadcaster) Observers(matchID int) int {
	b.mu.Lock()
	r, ok := b.rooms[matchID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (b *Broadcaster) removeLocked(r *room, sub *Subscription, dropped bool) {
	delete(r.subs, sub)
	if !sub.closed {
		close(sub.send)
		sub.closed = true
	}
	if len(r.subs) == 0 {
		r.emptySince = b.now()
	}
	b.metrics.ObserverDisconnected(dropped)
}

func (b *Broadcaster) fanout(r *room, env Envelope) {
	b.fanoutExcept(r, nil, env)
}

// fanoutExcept вызывается под r.mu. Наблюдатели с переполненным буфером
// отключаются.
func (b *Broadcaster) fanoutExcept(r *room, skip *Subscription, env Envelope) {
	if len(r.subs) == 0 {
		return
	}
	msg, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("encode live envelope", slog.Int("match_id", r.matchID), slog.Any("error", err))
		return
	}
	for sub := range r.subs {
		if sub == skip {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			b.logger.Warn("dropping slow live observer", slog.Int("match_id", r.matchID))
			b.removeLocked(r, sub, true)
		}
	}
}

// Run убирает завершённые и простаивающие комнаты, пока ctx не отменён.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.sweep(b.now()); n > 0 {
				b.logger.Info("retired live rooms", slog.Int("count", n))
			}
		}
	}
}

func (b *Broadcaster) sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	retired := 0
	for id, r := range b.rooms {
		r.mu.Lock()
		if b.expired(r, now) {
			for sub := range r.subs {
				b.removeLocked(r, sub, false)
			}
			r.retired = true
			delete(b.rooms, id)
			retired++
		}
		r.mu.Unlock()
	}
	b.metrics.SetRooms(len(b.rooms))
	return retired
}

func (b *Broadcaster) expired(r *room, now time.Time) bool {
	if now.Sub(r.lastActivity) >= b.idleTTL {
		return true
	}
	if r.finishedAt.IsZero() || len(r.subs) > 0 {
		return false
	}
	since := r.finishedAt
	if r.emptySince.After(since) {
		since = r.emptySince
	}
	return now.Sub(since) >= b.finishGrace
}
