package queue

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a Message handle.
type Status int

const (
	// Held means the handle's lease is live and Ack/Nack have not yet
	// been called.
	Held Status = iota
	// Acked means Ack has been called; the row is deleted.
	Acked
	// Nacked means Nack has been called; the row was released for
	// redelivery with backoff.
	Nacked
)

func (s Status) String() string {
	switch s {
	case Held:
		return "held"
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	default:
		return "unknown"
	}
}

// Message is the handle a consumer receives from BatchGet. It carries the
// delivered payload and mediates Ack/Nack/Touch back to the owning
// backend. A Message must not be shared between goroutines without
// external synchronization beyond what it does internally to guard its
// own status transition.
type Message struct {
	ID      uint64
	Payload []byte

	mu      sync.Mutex
	status  Status
	backend Backend
	ownerID uint32
}

// NewMessage constructs a held Message handle backed by backend. Backend
// implementations call this from BatchGet; callers outside this package
// have no other way to produce one, by design — a Message only makes
// sense paired with the backend that issued its lease.
func NewMessage(id uint64, payload []byte, backend Backend, ownerID uint32) *Message {
	return &Message{ID: id, Payload: payload, backend: backend, ownerID: ownerID}
}

// Status returns the handle's current lifecycle state.
func (m *Message) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Released reports whether Ack or Nack has already been called.
func (m *Message) Released() bool {
	return m.Status() != Held
}

// Ack acknowledges successful processing, deleting the row and freeing
// its dedup key. Returns ErrAlreadyReleased if the handle is not Held.
func (m *Message) Ack(ctx context.Context) error {
	m.mu.Lock()
	if m.status != Held {
		m.mu.Unlock()
		return ErrAlreadyReleased
	}
	m.status = Acked
	m.mu.Unlock()
	return m.backend.Ack(ctx, m.ID)
}

// Nack releases the lease for redelivery after exponential backoff.
// Returns ErrAlreadyReleased if the handle is not Held.
func (m *Message) Nack(ctx context.Context) error {
	m.mu.Lock()
	if m.status != Held {
		m.mu.Unlock()
		return ErrAlreadyReleased
	}
	m.status = Nacked
	m.mu.Unlock()
	return m.backend.BatchNack(ctx, []uint64{m.ID}, m.ownerID)
}

// Touch extends the lease. Valid only while Held.
func (m *Message) Touch(ctx context.Context, visibilityTimeout time.Duration) error {
	m.mu.Lock()
	if m.status != Held {
		m.mu.Unlock()
		return ErrAlreadyReleased
	}
	m.mu.Unlock()
	return m.backend.BatchTouch(ctx, []uint64{m.ID}, m.ownerID, visibilityTimeout)
}

// Run invokes fn with the message held, then guarantees the scoped-
// acquisition rule from the message lifecycle: if fn returns without the
// message having been acked, Run nacks it on the caller's behalf before
// returning fn's error (or the nack error, if nacking itself failed and
// fn succeeded). Go has no destructors, so Run is the explicit substitute
// for "on any exit path without ack, nack automatically."
func (m *Message) Run(ctx context.Context, fn func(*Message) error) error {
	err := fn(m)
	if m.Released() {
		return err
	}
	if nackErr := m.Nack(ctx); nackErr != nil && err == nil {
		return nackErr
	}
	return err
}
