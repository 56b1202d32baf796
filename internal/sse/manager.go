package sse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mediashelf/mediashelf/internal/session"
)

const (
	defaultBacklog   = 64
	subscriberBuffer = 32
)

// Manager fans sync events out to stream subscribers.
//
// Every published event gets the next sequence number and the most recent
// ones are retained for clients reconnecting with Last-Event-ID. A subscriber
// that cannot keep up is closed, never skipped.
type Manager struct {
	logger  *slog.Logger
	backlog int

	mu     sync.Mutex
	seq    uint64
	recent []Event
	subs   map[*Subscription]struct{}
	last   *session.Snapshot
	closed bool
}

// NewManager creates a Manager retaining the default backlog.
func NewManager(logger *slog.Logger) *Manager {
	return NewManagerWithBacklog(logger, defaultBacklog)
}

// NewManagerWithBacklog creates a Manager retaining up to backlog events for
// resumption.
func NewManagerWithBacklog(logger *slog.Logger, backlog int) *Manager {
	if backlog < 1 {
		backlog = 1
	}
	return &Manager{
		logger:  logger,
		backlog: backlog,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscription is one stream client's view of the event sequence.
type Subscription struct {
	m      *Manager
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Events delivers published events in sequence order.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.m.mu.Lock()
	delete(s.m.subs, s)
	s.m.mu.Unlock()
	s.end()
}

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

// Follow publishes every snapshot of sess until ctx is done or the session
// stops publishing.
func (m *Manager) Follow(ctx context.Context, sess *session.Session) {
	snaps, stop := sess.Subscribe()
	defer stop()

	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			m.mu.Lock()
			m.last = &snap
			m.mu.Unlock()
			m.Publish(NewSyncEvent(snap))
		case <-ctx.Done():
			return
		}
	}
}

// Publish stamps evt with the next sequence number, retains it and delivers
// it to every subscriber. Events published after Close are discarded.
func (m *Manager) Publish(evt Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return evt
	}

	m.seq++
	evt.ID = m.seq
	m.recent = append(m.recent, evt)
	if len(m.recent) > m.backlog {
		m.recent = m.recent[len(m.recent)-m.backlog:]
	}

	for sub := range m.subs {
		select {
		case sub.events <- evt:
		default:
			delete(m.subs, sub)
			sub.end()
			m.logger.Warn("closing slow event subscriber",
				slog.Uint64("event_id", evt.ID),
				slog.String("event_type", string(evt.Type)))
		}
	}
	return evt
}

// Subscribe registers a subscriber and returns the events it must be sent
// before anything arriving on the subscription.
//
// With lastID zero, or when events after lastID are no longer retained, the
// replay is the most recent sync event alone so the client starts from the
// current state. Otherwise it is every retained event after lastID.
func (m *Manager) Subscribe(lastID uint64) (*Subscription, []Event) {
	sub := &Subscription{
		m:      m,
		events: make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		sub.end()
		return sub, nil
	}
	m.subs[sub] = struct{}{}

	return sub, m.replayLocked(lastID)
}

func (m *Manager) replayLocked(lastID uint64) []Event {
	if len(m.recent) == 0 {
		return nil
	}
	oldest := m.recent[0].ID
	if lastID > 0 && lastID+1 >= oldest && lastID <= m.seq {
		return append([]Event(nil), m.recent[lastID+1-oldest:]...)
	}
	return []Event{m.recent[len(m.recent)-1]}
}

// Subscribers returns the number of live subscriptions.
func (m *Manager) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// LastSnapshot returns the most recent session snapshot seen by Follow.
func (m *Manager) LastSnapshot() (session.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return session.Snapshot{}, false
	}
	return *m.last, true
}

// Close ends every subscription and stops accepting events.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for sub := range m.subs {
		sub.end()
	}
	clear(m.subs)
	m.logger.Info("event stream closed")
}
