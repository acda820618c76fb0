package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultHistorySize is the number of envelopes kept for replay
const DefaultHistorySize = 1000

// Handler receives envelopes. Handlers run synchronously inside Emit and
// should hand slow work off to a goroutine.
type Handler func(Envelope)

// Unsubscribe removes a subscription. Calling it twice is harmless.
type Unsubscribe func()

// Emitter is the publishing side of the bus
type Emitter interface {
	Emit(topic Topic, payload any) Envelope
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous, sequenced publish/subscribe bus. It is created
// once by the application root and closed on shutdown.
type Bus struct {
	logger     zerolog.Logger
	sessionID  string
	maxHistory int
	now        func() time.Time

	mu      sync.RWMutex
	seq     uint64
	nextSub uint64
	history []Envelope
	topics  map[Topic][]subscription
	all     []subscription
}

// Config configures a Bus
type Config struct {
	// HistorySize bounds replay history. Default: 1000
	HistorySize int
	Logger      zerolog.Logger
}

// NewBus creates a bus with a fresh session ID
func NewBus(cfg Config) *Bus {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Bus{
		logger:     cfg.Logger.With().Str("component", "events").Logger(),
		sessionID:  uuid.New().String(),
		maxHistory: cfg.HistorySize,
		now:        time.Now,
		history:    make([]Envelope, 0, cfg.HistorySize),
		topics:     make(map[Topic][]subscription),
	}
}

// SessionID identifies this process's bus. Cursors from another session
// trigger a full replay.
func (b *Bus) SessionID() string {
	return b.sessionID
}

// Sequence returns the last assigned sequence number
func (b *Bus) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Emit assigns the next sequence number, records the envelope in history
// and delivers it to topic subscribers, then to all-topic subscribers, each
// in registration order. A panicking handler is logged and skipped.
func (b *Bus) Emit(topic Topic, payload any) Envelope {
	b.mu.Lock()
	b.seq++
	env := Envelope{
		Seq:       b.seq,
		SessionID: b.sessionID,
		Topic:     topic,
		Timestamp: b.now(),
		Payload:   payload,
	}
	if len(b.history) >= b.maxHistory {
		// shift rather than reslice so the backing array doesn't grow unbounded
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, env)

	handlers := make([]Handler, 0, len(b.topics[topic])+len(b.all))
	for _, s := range b.topics[topic] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.all {
		handlers = append(handlers, s.handler)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, env)
	}
	return env
}

func (b *Bus) dispatch(h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("topic", string(env.Topic)).Uint64("seq", env.Seq).
				Msg("event handler panicked")
		}
	}()
	h(env)
}

// On subscribes to one topic
func (b *Bus) On(topic Topic, h Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
	}
}

// OnAll subscribes to every topic
func (b *Bus) OnAll(h Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.all = append(b.all, subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Once subscribes to the next envelope on topic only
func (b *Bus) Once(topic Topic, h Handler) Unsubscribe {
	var (
		once  sync.Once
		unsub Unsubscribe
		ready = make(chan struct{})
	)
	unsub = b.On(topic, func(env Envelope) {
		<-ready
		fired := false
		once.Do(func() {
			unsub()
			fired = true
		})
		if fired {
			h(env)
		}
	})
	close(ready)
	return func() { once.Do(unsub) }
}

// History returns up to limit envelopes, newest first. An empty topic
// matches everything; limit <= 0 means no limit.
func (b *Bus) History(topic Topic, limit int) []Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Envelope
	for i := len(b.history) - 1; i >= 0; i-- {
		if topic != "" && b.history[i].Topic != topic {
			continue
		}
		out = append(out, b.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// HistorySince returns envelopes with a sequence greater than seq, oldest first
func (b *Bus) HistorySince(seq uint64) []Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Envelope
	for _, env := range b.history {
		if env.Seq > seq {
			out = append(out, env)
		}
	}
	return out
}

// Replay returns what a reconnecting subscriber missed, oldest first. A
// cursor from this session yields the delta; any other cursor (foreign
// session, malformed, empty) yields the full retained history.
func (b *Bus) Replay(cursor string) []Envelope {
	if session, seq, ok := ParseCursor(cursor); ok && session == b.sessionID {
		return b.HistorySince(seq)
	}
	return b.HistorySince(0)
}

// Close drops all subscribers and history
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = make(map[Topic][]subscription)
	b.all = nil
	b.history = nil
}

func remove(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}
