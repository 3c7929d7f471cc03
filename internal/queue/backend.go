// Package queue defines the backend contract shared by every storage
// implementation of the message broker: the message lifecycle, the
// lease/visibility protocol, topic-level exclusive locks, and a
// rate-limit table. Two implementations satisfy Backend — an in-memory
// reference backend (internal/localqueue) used as a test oracle, and a
// PostgreSQL-backed production backend (internal/sqlqueue) using
// row-level locking with skip-locked reads. Producers and consumers, the
// client-facing facade, connection pooling, and payload serialization are
// not part of this package; they are callers of it.
package queue

import (
	"context"
	"time"
)

// HashSize is the fixed width, in bytes, of the optional dedup hash
// attached to a message. A message with no hash participates in no
// dedup constraint.
const HashSize = 16

// PutRecord is one producer-supplied item to enqueue. Hash is nil when
// the producer wants no deduplication for this payload.
type PutRecord struct {
	Payload []byte
	Topic   uint64
	Hash    []byte
}

// TopicCount pairs a topic with its deliverable message count, as
// returned by ListTopics.
type TopicCount struct {
	Topic uint64
	Count int64
}

// Backend is the set of operations a storage implementation must provide.
// Every method is a single atomic unit of work from the caller's point of
// view: either it is a single transaction (sqlqueue) or it holds the
// backend's single mutex for its duration (localqueue). No method blocks
// waiting on another session's row lock; contention is resolved by
// skipping locked rows, not by waiting for them.
type Backend interface {
	// Create idempotently provisions whatever storage this backend
	// needs (tables, indexes). Calling it more than once is a no-op.
	Create(ctx context.Context) error

	// Destroy idempotently tears down that storage. Behavior of other
	// methods after Destroy is undefined until Create runs again.
	Destroy(ctx context.Context) error

	// MaxPayloadSize returns the largest payload this backend accepts,
	// or 0 for "unbounded".
	MaxPayloadSize() int

	// BatchPut validates and inserts records, all sharing the same
	// priority, delay, failure_base_delay, and visibility_timeout.
	// Records whose (topic, hash) collides with a still-live row are
	// skipped silently; the returned count is the number actually
	// inserted. Validation failures (payload too large, hash the wrong
	// width) return ErrInvalidArgument and insert nothing.
	BatchPut(ctx context.Context, records []PutRecord, priority uint64, delay, failureBaseDelay, visibilityTimeout time.Duration) (int, error)

	// BatchGet atomically claims up to n deliverable messages for topic,
	// ordered by (priority DESC, id ASC), stamps each with ownerID and a
	// lease expiring after visibilityTimeout, and returns handles. It
	// may return fewer than n, including zero, without error.
	BatchGet(ctx context.Context, topic uint64, n int, ownerID uint32, visibilityTimeout time.Duration) ([]*Message, error)

	// Ack deletes the row identified by id iff it is currently leased.
	// Acking a row that is gone or unleased is a silent no-op. Releases
	// the row's dedup key, if any.
	Ack(ctx context.Context, id uint64) error

	// BatchNack releases each currently-leased, owner-matching id back
	// for redelivery after an exponential backoff and increments its
	// failure_count. ids not leased to ownerID are ignored.
	BatchNack(ctx context.Context, ids []uint64, ownerID uint32) error

	// BatchTouch extends the lease of each currently-leased,
	// owner-matching id. ids not leased to ownerID are ignored.
	BatchTouch(ctx context.Context, ids []uint64, ownerID uint32, visibilityTimeout time.Duration) error

	// ReleaseStalledMessages reclaims every row across every topic whose
	// lease has expired, regardless of owner. It does not increment
	// failure_count — an expired lease means "consumer vanished", not
	// "consumer rejected". Returns the number of rows reclaimed.
	ReleaseStalledMessages(ctx context.Context) (int, error)

	// ListTopics counts deliverable (unleased, due) rows grouped by
	// topic.
	ListTopics(ctx context.Context) ([]TopicCount, error)

	// GetTopicSize counts deliverable rows for a single topic.
	GetTopicSize(ctx context.Context, topic uint64) (int64, error)

	// AcquireTopic scans topics with at least one deliverable message,
	// in unspecified order, and returns an exclusive lock on the first
	// one not already locked by anyone else. Returns nil, nil when no
	// topic is both nonempty and free.
	AcquireTopic(ctx context.Context, ownerID uint32, leaseDuration time.Duration) (*TopicLock, error)

	// BatchReleaseTopic releases topic locks held by ownerID.
	BatchReleaseTopic(ctx context.Context, topics []uint64, ownerID uint32) error

	// BatchTouchTopic extends topic locks held by ownerID.
	BatchTouchTopic(ctx context.Context, topics []uint64, ownerID uint32, leaseDuration time.Duration) error

	// ReleaseStalledTopicLocks reclaims every topic lock whose expiry
	// has passed. Returns the number reclaimed.
	ReleaseStalledTopicLocks(ctx context.Context) (int, error)

	// RateLimit applies test-and-set semantics per key: a key with no
	// live entry gets one installed (expiring after interval) and is
	// included in the returned slice; a key with a live entry is
	// omitted. Atomic per batch.
	RateLimit(ctx context.Context, keys [][]byte, interval time.Duration) ([][]byte, error)

	// OverrideRateLimit unconditionally sets (interval > 0) or clears
	// (interval <= 0) the rate-limit entry for each key.
	OverrideRateLimit(ctx context.Context, keys [][]byte, interval time.Duration) error
}
