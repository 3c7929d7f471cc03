package queue

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Session is a consumer's view of a backend: a randomly chosen owner id
// plus bookkeeping for outstanding message and topic-lock handles, so
// that a caller can bulk-touch or bulk-nack every message it is
// currently holding without tracking ids itself. Topic locks acquired
// through the session are tracked and pruned once released, but the
// session has no bulk touch or release method for them. Building a
// Session is the only supported way to obtain an owner id in this module.
type Session struct {
	backend Backend
	ownerID uint32

	mu         sync.Mutex
	messages   map[uint64]*Message
	topicLocks map[uint64]*TopicLock
}

// NewSession creates a session bound to backend with a fresh, randomly
// chosen 32-bit owner id. Collisions between sessions are not handled;
// at this width they are astronomically unlikely, which is the same
// tradeoff the reference implementation makes with a PRNG-chosen id.
func NewSession(backend Backend) (*Session, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return &Session{
		backend:    backend,
		ownerID:    binary.BigEndian.Uint32(buf[:]),
		messages:   make(map[uint64]*Message),
		topicLocks: make(map[uint64]*TopicLock),
	}, nil
}

// OwnerID returns the session's randomly chosen owner id.
func (s *Session) OwnerID() uint32 {
	return s.ownerID
}

// BatchGet claims up to n messages from topic and adopts the returned
// handles into the session's tracked set.
func (s *Session) BatchGet(ctx context.Context, topic uint64, n int, visibilityTimeout time.Duration) ([]*Message, error) {
	msgs, err := s.backend.BatchGet(ctx, topic, n, s.ownerID, visibilityTimeout)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, m := range msgs {
		s.messages[m.ID] = m
	}
	s.mu.Unlock()
	return msgs, nil
}

// AcquireTopic claims an exclusive topic lock, if one is available, and
// adopts it into the session's tracked set.
func (s *Session) AcquireTopic(ctx context.Context, leaseDuration time.Duration) (*TopicLock, error) {
	lock, err := s.backend.AcquireTopic(ctx, s.ownerID, leaseDuration)
	if err != nil || lock == nil {
		return lock, err
	}
	s.mu.Lock()
	s.topicLocks[lock.Topic] = lock
	s.mu.Unlock()
	return lock, nil
}

// prune drops handles that have already been released, mirroring the
// facade's behavior of forgetting about messages once they're no longer
// the session's concern.
func (s *Session) prune() {
	for id, m := range s.messages {
		if m.Released() {
			delete(s.messages, id)
		}
	}
	for topic, t := range s.topicLocks {
		if t.Released() {
			delete(s.topicLocks, topic)
		}
	}
}

// TouchAll extends the lease of every outstanding, still-held message.
func (s *Session) TouchAll(ctx context.Context, visibilityTimeout time.Duration) error {
	s.mu.Lock()
	s.prune()
	ids := make([]uint64, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return s.backend.BatchTouch(ctx, ids, s.ownerID, visibilityTimeout)
}

// NackAll releases every outstanding, still-held message for redelivery
// and forgets about them.
func (s *Session) NackAll(ctx context.Context) error {
	s.mu.Lock()
	s.prune()
	ids := make([]uint64, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	for _, id := range ids {
		delete(s.messages, id)
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return s.backend.BatchNack(ctx, ids, s.ownerID)
}
