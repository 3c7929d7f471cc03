package localqueue

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/squeal/internal/queue"
)

func newTestBackend(t *testing.T) (*Backend, *fakeClock) {
	t.Helper()
	b := New()
	if err := b.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	fc := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b.now = fc.Now
	return b, fc
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestBasicPutGet(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	n, err := b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, 1, 100*time.Second)
	if err != nil || n != 1 {
		t.Fatalf("BatchPut: n=%d err=%v", n, err)
	}

	msgs, err := b.BatchGet(ctx, 1, 1, 42, 100*time.Second)
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Payload) != "a" {
		t.Fatalf("BatchGet returned %v", msgs)
	}

	again, err := b.BatchGet(ctx, 1, 1, 42, 100*time.Second)
	if err != nil || len(again) != 0 {
		t.Fatalf("second BatchGet should be empty, got %v, err %v", again, err)
	}
}

func TestVisibilityReclaim(t *testing.T) {
	b, fc := newTestBackend(t)
	ctx := context.Background()

	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, 1, 0)
	msgs, _ := b.BatchGet(ctx, 1, 1, 1, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected to acquire message")
	}

	n, _ := b.ReleaseStalledMessages(ctx)
	if n != 0 {
		t.Fatalf("expected 0 stalled immediately, got %d", n)
	}

	fc.Advance(2 * time.Second)
	n, _ = b.ReleaseStalledMessages(ctx)
	if n != 1 {
		t.Fatalf("expected 1 stalled after advancing clock, got %d", n)
	}

	got, _ := b.BatchGet(ctx, 1, 1, 2, 100*time.Second)
	if len(got) != 1 || string(got[0].Payload) != "a" {
		t.Fatalf("expected reclaimed message, got %v", got)
	}
}

func TestPriorityOrdering(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, 1, 100*time.Second)
	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("b"), Topic: 1}}, 1, 0, 1, 100*time.Second)

	msgs, _ := b.BatchGet(ctx, 1, 1, 1, 100*time.Second)
	if len(msgs) != 1 || string(msgs[0].Payload) != "b" {
		t.Fatalf("expected higher-priority message b first, got %v", msgs)
	}
}

func TestDedup(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	hash := make([]byte, queue.HashSize)
	hash[len(hash)-1] = 1

	n1, _ := b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte{}, Topic: 1, Hash: hash}}, 0, 0, 1, 100*time.Second)
	n2, _ := b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte{}, Topic: 1, Hash: hash}}, 0, 0, 1, 100*time.Second)
	if n1 != 1 || n2 != 0 {
		t.Fatalf("expected dedup to skip second insert, got n1=%d n2=%d", n1, n2)
	}

	size, _ := b.GetTopicSize(ctx, 1)
	if size != 1 {
		t.Fatalf("expected topic size 1 after dedup, got %d", size)
	}

	msgs, _ := b.BatchGet(ctx, 1, 1, 1, 100*time.Second)
	if err := msgs[0].Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	n3, _ := b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte{}, Topic: 1, Hash: hash}}, 0, 0, 1, 100*time.Second)
	if n3 != 1 {
		t.Fatalf("expected re-enqueue after ack to succeed, got n3=%d", n3)
	}
}

func TestNackBackoff(t *testing.T) {
	b, fc := newTestBackend(t)
	ctx := context.Background()

	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, time.Second, 100*time.Second)
	msgs, _ := b.BatchGet(ctx, 1, 1, 1, 100*time.Second)
	if err := msgs[0].Nack(ctx); err != nil {
		t.Fatalf("nack: %v", err)
	}

	got, _ := b.BatchGet(ctx, 1, 1, 1, 100*time.Second)
	if len(got) != 0 {
		t.Fatalf("expected empty before backoff elapses, got %v", got)
	}

	fc.Advance(2 * time.Second)
	got, _ = b.BatchGet(ctx, 1, 1, 2, 100*time.Second)
	if len(got) != 1 {
		t.Fatalf("expected message after 1s backoff elapsed, got %v", got)
	}

	if err := got[0].Nack(ctx); err != nil {
		t.Fatalf("second nack: %v", err)
	}
	fc.Advance(1 * time.Second) // total 1s since second nack, backoff is now 2s
	empty, _ := b.BatchGet(ctx, 1, 1, 3, 100*time.Second)
	if len(empty) != 0 {
		t.Fatalf("expected still backed off at +1s after second nack, got %v", empty)
	}
	fc.Advance(2 * time.Second) // total 3s since second nack, past the 2s backoff
	got2, _ := b.BatchGet(ctx, 1, 1, 3, 100*time.Second)
	if len(got2) != 1 {
		t.Fatalf("expected message after 2s backoff elapsed, got %v", got2)
	}
}

func TestOwnershipGatedNackAndTouch(t *testing.T) {
	b, fc := newTestBackend(t)
	ctx := context.Background()

	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, 1, 100*time.Second)
	msgs, _ := b.BatchGet(ctx, 1, 1, 111, 100*time.Second)
	id := msgs[0].ID

	if err := b.BatchNack(ctx, []uint64{id}, 222); err != nil {
		t.Fatalf("nack by wrong owner: %v", err)
	}
	// wrong-owner nack must be ignored: message is still leased to 111.
	got, _ := b.BatchGet(ctx, 1, 1, 333, 100*time.Second)
	if len(got) != 0 {
		t.Fatalf("expected message still leased to original owner, got %v", got)
	}

	// wrong-owner touch must be ignored too: shortening the lease to 1s
	// would let it stall after 2s, but the original 100s lease stands.
	if err := b.BatchTouch(ctx, []uint64{id}, 222, time.Second); err != nil {
		t.Fatalf("touch by wrong owner: %v", err)
	}
	fc.Advance(2 * time.Second)
	if n, _ := b.ReleaseStalledMessages(ctx); n != 0 {
		t.Fatalf("expected wrong-owner touch to leave the lease unchanged, got %d stalled", n)
	}

	if err := b.BatchNack(ctx, []uint64{id}, 111); err != nil {
		t.Fatalf("nack by correct owner: %v", err)
	}
}

func TestBatchTouchOnlyExtendsListedIDs(t *testing.T) {
	// Regression test for a bug in one iteration of the source, which
	// tested `if msg_id in to_touch: continue` — skipping exactly the
	// ids it was asked to touch. The fixed behavior touches ids that are
	// in the set.
	b, fc := newTestBackend(t)
	ctx := context.Background()

	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, 1, 10*time.Second)
	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("b"), Topic: 1}}, 0, 0, 1, 10*time.Second)

	msgs, _ := b.BatchGet(ctx, 1, 2, 1, 10*time.Second)
	if len(msgs) != 2 {
		t.Fatalf("expected to acquire both messages, got %d", len(msgs))
	}

	touched := msgs[0].ID
	if err := b.BatchTouch(ctx, []uint64{touched}, 1, 100*time.Second); err != nil {
		t.Fatalf("touch: %v", err)
	}

	fc.Advance(20 * time.Second)
	n, _ := b.ReleaseStalledMessages(ctx)
	if n != 1 {
		t.Fatalf("expected exactly the untouched message to stall, got %d", n)
	}
}

func TestTopicLockExclusivity(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1}}, 0, 0, 1, 10*time.Second)

	lock1, err := b.AcquireTopic(ctx, 1, 10*time.Second)
	if err != nil || lock1 == nil {
		t.Fatalf("expected first acquire to succeed, got %v, err %v", lock1, err)
	}

	lock2, err := b.AcquireTopic(ctx, 2, 10*time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if lock2 != nil {
		t.Fatalf("expected second acquire on same topic to fail, got lock on topic %d", lock2.Topic)
	}
}

func TestRateLimit(t *testing.T) {
	b, fc := newTestBackend(t)
	ctx := context.Background()

	key := make([]byte, queue.HashSize)
	accepted, err := b.RateLimit(ctx, [][]byte{key}, 5*time.Second)
	if err != nil || len(accepted) != 1 {
		t.Fatalf("first rate limit call should accept, got %v, err %v", accepted, err)
	}

	accepted, err = b.RateLimit(ctx, [][]byte{key}, 5*time.Second)
	if err != nil || len(accepted) != 0 {
		t.Fatalf("second call within interval should be rejected, got %v, err %v", accepted, err)
	}

	fc.Advance(6 * time.Second)
	accepted, err = b.RateLimit(ctx, [][]byte{key}, 5*time.Second)
	if err != nil || len(accepted) != 1 {
		t.Fatalf("call after interval elapsed should be accepted, got %v, err %v", accepted, err)
	}
}

func TestInvalidHashSizeRejected(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.BatchPut(ctx, []queue.PutRecord{{Payload: []byte("a"), Topic: 1, Hash: []byte{1, 2, 3}}}, 0, 0, 1, time.Second)
	if err != queue.ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
