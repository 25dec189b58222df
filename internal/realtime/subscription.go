package realtime

import (
	"sync"

	"chat-sync/internal/models"
)

// Subscription is a live query on one chat. Snapshots are delivered in order
// on Events; the queue behind it is unbounded so a slow reader never causes
// the hub to drop a change. Close is idempotent and closes Events.
type Subscription struct {
	chatID string
	hub    *Hub

	mu     sync.Mutex
	queue  []models.Snapshot
	held   []models.Snapshot
	primed bool
	notify chan struct{}
	done   chan struct{}
	out    chan models.Snapshot
	once   sync.Once
}

func newSubscription(hub *Hub, chatID string) *Subscription {
	s := &Subscription{
		chatID: chatID,
		hub:    hub,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan models.Snapshot),
	}
	go s.pump()
	return s
}

// ChatID returns the chat this subscription watches.
func (s *Subscription) ChatID() string {
	return s.chatID
}

// Events returns the snapshot stream. It is closed after Close.
func (s *Subscription) Events() <-chan models.Snapshot {
	return s.out
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.hub != nil {
			s.hub.remove(s)
		}
		close(s.done)
	})
}

// push queues a change. Until the initial snapshot is in, changes are held
// back so they are delivered after it.
func (s *Subscription) push(snap models.Snapshot) {
	s.mu.Lock()
	if s.primed {
		s.queue = append(s.queue, snap)
	} else {
		s.held = append(s.held, snap)
	}
	s.mu.Unlock()
	s.wake()
}

// prime queues the initial snapshot ahead of anything broadcast while it was
// being read.
func (s *Subscription) prime(initial models.Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, initial)
	s.queue = append(s.queue, s.held...)
	s.held = nil
	s.primed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, snap := range batch {
			select {
			case s.out <- snap:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
