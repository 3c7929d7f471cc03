// Package localqueue is an in-memory reference implementation of
// queue.Backend. It is deliberately unoptimized — a single mutex guards
// a plain slice of records — so that its behavior is easy to read and
// trust as a test oracle for internal/sqlqueue. It is not meant for
// production use.
package localqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oriys/squeal/internal/queue"
)

type record struct {
	id               uint64
	payload          []byte
	topic            uint64
	hash             []byte // nil means no dedup
	priority         uint64
	ownerID          uint32 // valid only while leased
	leased           bool
	deliveryTime     time.Time
	expireTime       time.Time
	failureBaseDelay time.Duration
	failureCount     uint64
}

type dedupKey struct {
	topic uint64
	hash  string
}

type topicLockEntry struct {
	ownerID   uint32
	expiresAt time.Time
}

type rateLimitEntry struct {
	expiresAt time.Time
}

// Backend is the in-memory reference implementation.
type Backend struct {
	mu sync.Mutex

	created    bool
	nextID     uint64
	records    []*record
	dedup      map[dedupKey]struct{}
	topicLocks map[uint64]topicLockEntry
	rateLimits map[string]rateLimitEntry

	now func() time.Time // overridable for tests
}

// New constructs an uncreated Backend. Call Create before using it.
func New() *Backend {
	return &Backend{
		dedup:      make(map[dedupKey]struct{}),
		topicLocks: make(map[uint64]topicLockEntry),
		rateLimits: make(map[string]rateLimitEntry),
		now:        time.Now,
	}
}

func (b *Backend) clock() time.Time {
	return b.now()
}

func (b *Backend) Create(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = true
	return nil
}

func (b *Backend) Destroy(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = false
	b.records = nil
	b.dedup = make(map[dedupKey]struct{})
	b.topicLocks = make(map[uint64]topicLockEntry)
	b.rateLimits = make(map[string]rateLimitEntry)
	return nil
}

// MaxPayloadSize returns 0: the reference backend imposes no payload
// size limit.
func (b *Backend) MaxPayloadSize() int { return 0 }

func validateHash(h []byte) error {
	if h != nil && len(h) != queue.HashSize {
		return queue.ErrInvalidArgument
	}
	return nil
}

func (b *Backend) BatchPut(ctx context.Context, records []queue.PutRecord, priority uint64, delay, failureBaseDelay, visibilityTimeout time.Duration) (int, error) {
	for _, r := range records {
		if err := validateHash(r.Hash); err != nil {
			return 0, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	inserted := 0
	for _, r := range records {
		if r.Hash != nil {
			k := dedupKey{topic: r.Topic, hash: string(r.Hash)}
			if _, exists := b.dedup[k]; exists {
				continue
			}
			b.dedup[k] = struct{}{}
		}

		rec := &record{
			id:               b.nextID,
			payload:          r.Payload,
			topic:            r.Topic,
			hash:             r.Hash,
			priority:         priority,
			deliveryTime:     now.Add(delay),
			failureBaseDelay: failureBaseDelay,
		}
		b.nextID++
		b.records = append(b.records, rec)
		inserted++
	}
	return inserted, nil
}

// deliverable reports whether rec can be handed to a new acquirer right
// now: unleased (or its lease has expired) and due.
func (rec *record) deliverable(now time.Time) bool {
	if rec.leased && !rec.expireTime.Before(now) {
		return false
	}
	return !rec.deliveryTime.After(now)
}

func (b *Backend) BatchGet(ctx context.Context, topic uint64, n int, ownerID uint32, visibilityTimeout time.Duration) ([]*queue.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	candidates := make([]*record, 0, len(b.records))
	for _, rec := range b.records {
		if rec.topic != topic {
			continue
		}
		if !rec.deliverable(now) {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	out := make([]*queue.Message, 0, len(candidates))
	for _, rec := range candidates {
		rec.leased = true
		rec.ownerID = ownerID
		rec.expireTime = now.Add(visibilityTimeout)
		out = append(out, queue.NewMessage(rec.id, rec.payload, b, ownerID))
	}
	return out, nil
}

func (b *Backend) findIndex(id uint64) int {
	for i, rec := range b.records {
		if rec.id == id {
			return i
		}
	}
	return -1
}

func (b *Backend) Ack(ctx context.Context, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.findIndex(id)
	if idx < 0 {
		return nil
	}
	rec := b.records[idx]
	if !rec.leased {
		return nil
	}
	if rec.hash != nil {
		delete(b.dedup, dedupKey{topic: rec.topic, hash: string(rec.hash)})
	}
	b.records = append(b.records[:idx], b.records[idx+1:]...)
	return nil
}

func (b *Backend) BatchNack(ctx context.Context, ids []uint64, ownerID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	toNack := toSet(ids)
	now := b.clock()
	for _, rec := range b.records {
		if _, ok := toNack[rec.id]; !ok {
			continue
		}
		if !rec.leased || rec.ownerID != ownerID {
			continue
		}
		delay := rec.failureBaseDelay * (1 << rec.failureCount)
		rec.failureCount++
		rec.deliveryTime = now.Add(delay)
		rec.leased = false
	}
	return nil
}

func (b *Backend) BatchTouch(ctx context.Context, ids []uint64, ownerID uint32, visibilityTimeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	toTouch := toSet(ids)
	now := b.clock()
	for _, rec := range b.records {
		if _, ok := toTouch[rec.id]; !ok {
			continue
		}
		if !rec.leased || rec.ownerID != ownerID {
			continue
		}
		rec.expireTime = now.Add(visibilityTimeout)
	}
	return nil
}

func (b *Backend) ReleaseStalledMessages(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	n := 0
	for _, rec := range b.records {
		if !rec.leased {
			continue
		}
		if !rec.expireTime.Before(now) {
			continue
		}
		rec.leased = false
		n++
	}
	return n, nil
}

func (b *Backend) ListTopics(ctx context.Context) ([]queue.TopicCount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	counts := make(map[uint64]int64)
	for _, rec := range b.records {
		if !rec.deliverableUnleased(now) {
			continue
		}
		counts[rec.topic]++
	}
	out := make([]queue.TopicCount, 0, len(counts))
	for topic, count := range counts {
		out = append(out, queue.TopicCount{Topic: topic, Count: count})
	}
	return out, nil
}

// deliverableUnleased mirrors deliverable() but ignores expired leases,
// matching the source's list_topics which only ever checks "acquired"
// (not lease expiry) before counting.
func (rec *record) deliverableUnleased(now time.Time) bool {
	if rec.leased {
		return false
	}
	return !rec.deliveryTime.After(now)
}

func (b *Backend) GetTopicSize(ctx context.Context, topic uint64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	var n int64
	for _, rec := range b.records {
		if rec.topic != topic {
			continue
		}
		if !rec.deliverableUnleased(now) {
			continue
		}
		n++
	}
	return n, nil
}

func (b *Backend) AcquireTopic(ctx context.Context, ownerID uint32, leaseDuration time.Duration) (*queue.TopicLock, error) {
	b.mu.Lock()

	now := b.clock()
	seen := make(map[uint64]bool)
	var nonempty []uint64
	for _, rec := range b.records {
		if seen[rec.topic] {
			continue
		}
		if !rec.deliverableUnleased(now) {
			continue
		}
		seen[rec.topic] = true
		nonempty = append(nonempty, rec.topic)
	}

	for _, topic := range nonempty {
		entry, locked := b.topicLocks[topic]
		if locked && entry.expiresAt.After(now) {
			continue
		}
		b.topicLocks[topic] = topicLockEntry{ownerID: ownerID, expiresAt: now.Add(leaseDuration)}
		b.mu.Unlock()
		return queue.NewTopicLock(topic, b, ownerID), nil
	}
	b.mu.Unlock()
	return nil, nil
}

func (b *Backend) BatchReleaseTopic(ctx context.Context, topics []uint64, ownerID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range topics {
		if entry, ok := b.topicLocks[topic]; ok && entry.ownerID == ownerID {
			delete(b.topicLocks, topic)
		}
	}
	return nil
}

func (b *Backend) BatchTouchTopic(ctx context.Context, topics []uint64, ownerID uint32, leaseDuration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	for _, topic := range topics {
		entry, ok := b.topicLocks[topic]
		if !ok || entry.ownerID != ownerID {
			continue
		}
		entry.expiresAt = now.Add(leaseDuration)
		b.topicLocks[topic] = entry
	}
	return nil
}

func (b *Backend) ReleaseStalledTopicLocks(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	n := 0
	for topic, entry := range b.topicLocks {
		if entry.expiresAt.After(now) {
			continue
		}
		delete(b.topicLocks, topic)
		n++
	}
	return n, nil
}

func (b *Backend) RateLimit(ctx context.Context, keys [][]byte, interval time.Duration) ([][]byte, error) {
	for _, k := range keys {
		if err := validateHash(k); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	var accepted [][]byte
	for _, k := range keys {
		key := string(k)
		if entry, ok := b.rateLimits[key]; ok && entry.expiresAt.After(now) {
			continue
		}
		b.rateLimits[key] = rateLimitEntry{expiresAt: now.Add(interval)}
		accepted = append(accepted, k)
	}
	return accepted, nil
}

func (b *Backend) OverrideRateLimit(ctx context.Context, keys [][]byte, interval time.Duration) error {
	for _, k := range keys {
		if err := validateHash(k); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	for _, k := range keys {
		key := string(k)
		if interval > 0 {
			b.rateLimits[key] = rateLimitEntry{expiresAt: now.Add(interval)}
		} else {
			delete(b.rateLimits, key)
		}
	}
	return nil
}

func toSet(ids []uint64) map[uint64]struct{} {
	s := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

var _ queue.Backend = (*Backend)(nil)
