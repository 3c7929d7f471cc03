// Package sqlqueue implements queue.Backend over PostgreSQL via
// internal/db's driver-agnostic transaction interface. Every exported
// method is one database transaction: most run a single statement
// directly against the pool, and AcquireTopic opens an explicit
// transaction and commits it. Rows are claimed with SELECT ... FOR
// UPDATE SKIP LOCKED where contention matters. Table names are derived
// from a configurable prefix.
package sqlqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/squeal/internal/db"
	"github.com/oriys/squeal/internal/logging"
	"github.com/oriys/squeal/internal/metrics"
	"github.com/oriys/squeal/internal/queue"
	"github.com/oriys/squeal/internal/tracing"
)

// DefaultMaxPayloadSize matches the source's MySQL backend default.
const DefaultMaxPayloadSize = 2047

// Backend is a PostgreSQL-backed queue.Backend.
type Backend struct {
	conn           db.Database
	names          tableNames
	maxPayloadSize int
	metrics        *metrics.Collectors
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithMaxPayloadSize overrides DefaultMaxPayloadSize.
func WithMaxPayloadSize(n int) Option {
	return func(b *Backend) { b.maxPayloadSize = n }
}

// WithMetrics attaches a metrics.Collectors instance; without it,
// Backend records no metrics.
func WithMetrics(c *metrics.Collectors) Option {
	return func(b *Backend) { b.metrics = c }
}

// New constructs a Backend over conn with the given table-name prefix.
func New(conn db.Database, prefix string, opts ...Option) *Backend {
	b := &Backend{
		conn:           conn,
		names:          namesForPrefix(prefix),
		maxPayloadSize: DefaultMaxPayloadSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) MaxPayloadSize() int { return b.maxPayloadSize }

func (b *Backend) Create(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.Create")
	defer span.End()
	for _, stmt := range b.names.createStatements(b.maxPayloadSize) {
		if _, err := b.conn.Exec(ctx, stmt); err != nil {
			tracing.SetSpanError(span, err)
			return fmt.Errorf("sqlqueue: create schema: %w", err)
		}
	}
	return nil
}

func (b *Backend) Destroy(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.Destroy")
	defer span.End()
	for _, stmt := range b.names.dropStatements() {
		if _, err := b.conn.Exec(ctx, stmt); err != nil {
			tracing.SetSpanError(span, err)
			return fmt.Errorf("sqlqueue: drop schema: %w", err)
		}
	}
	return nil
}

func validateHash(h []byte) error {
	if h != nil && len(h) != queue.HashSize {
		return fmt.Errorf("%w: hash must be %d bytes, got %d", queue.ErrInvalidArgument, queue.HashSize, len(h))
	}
	return nil
}

func (b *Backend) validatePayload(p []byte) error {
	if b.maxPayloadSize > 0 && len(p) > b.maxPayloadSize {
		return fmt.Errorf("%w: payload exceeds max size (%d > %d)", queue.ErrInvalidArgument, len(p), b.maxPayloadSize)
	}
	return nil
}

func (b *Backend) BatchPut(ctx context.Context, records []queue.PutRecord, priority uint64, delay, failureBaseDelay, visibilityTimeout time.Duration) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.BatchPut", tracing.AttrCount.Int(len(records)))
	defer span.End()

	if len(records) == 0 {
		return 0, nil
	}
	for _, r := range records {
		if err := validateHash(r.Hash); err != nil {
			tracing.SetSpanError(span, err)
			return 0, err
		}
		if err := b.validatePayload(r.Payload); err != nil {
			tracing.SetSpanError(span, err)
			return 0, err
		}
	}

	topics := make([]int64, len(records))
	hashes := make([][]byte, len(records))
	payloads := make([][]byte, len(records))
	for i, r := range records {
		topics[i] = int64(r.Topic)
		hashes[i] = r.Hash
		payloads[i] = r.Payload
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (topic, hash, priority, delivery_time, visibility_timeout_seconds, failure_base_delay_seconds, payload)
		SELECT t.topic, t.hash, $1, $2, $3, $4, t.payload
		FROM UNNEST($5::bigint[], $6::bytea[], $7::bytea[]) AS t(topic, hash, payload)
		ON CONFLICT (topic, hash) DO NOTHING
		RETURNING id
	`, b.names.queue)

	rows, err := b.conn.Query(ctx, query,
		priority, now.Add(delay), visibilityTimeout.Seconds(), failureBaseDelay.Seconds(),
		topics, hashes, payloads,
	)
	if err != nil {
		tracing.SetSpanError(span, err)
		return 0, fmt.Errorf("sqlqueue: batch put: %w", err)
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		inserted++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sqlqueue: batch put rows: %w", err)
	}

	if b.metrics != nil {
		b.metrics.MessagesEnqueued.Add(float64(inserted))
	}
	logging.Op().Debug("batch put", "inserted", inserted, "skipped", len(records)-inserted)
	return inserted, nil
}

func (b *Backend) BatchGet(ctx context.Context, topic uint64, n int, ownerID uint32, visibilityTimeout time.Duration) ([]*queue.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.BatchGet",
		tracing.AttrTopic.Int64(int64(topic)),
		tracing.AttrOwnerID.Int64(int64(ownerID)),
		tracing.AttrCount.Int(n),
	)
	defer span.End()

	if n <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		WITH claimed AS (
			UPDATE %s SET owner_id = $1, acquire_time = $2, visibility_timeout_seconds = $3
			WHERE id IN (
				SELECT id FROM %s
				WHERE topic = $4
					AND delivery_time <= $2
					AND (owner_id IS NULL OR acquire_time + (visibility_timeout_seconds * INTERVAL '1 second') < $2)
				ORDER BY priority DESC, id ASC
				LIMIT $5
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, payload
		)
		SELECT id, payload FROM claimed ORDER BY id
	`, b.names.queue, b.names.queue)

	rows, err := b.conn.Query(ctx, query, ownerID, now, visibilityTimeout.Seconds(), int64(topic), n)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("sqlqueue: batch get: %w", err)
	}
	defer rows.Close()

	var out []*queue.Message
	for rows.Next() {
		var id uint64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("sqlqueue: scan claimed row: %w", err)
		}
		out = append(out, queue.NewMessage(id, payload, b, ownerID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlqueue: batch get rows: %w", err)
	}

	if b.metrics != nil {
		b.metrics.MessagesAcquired.Add(float64(len(out)))
	}
	return out, nil
}

func (b *Backend) Ack(ctx context.Context, id uint64) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.Ack")
	defer span.End()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND owner_id IS NOT NULL`, b.names.queue)
	result, err := b.conn.Exec(ctx, query, int64(id))
	if err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("sqlqueue: ack: %w", err)
	}
	if b.metrics != nil {
		b.metrics.MessagesAcked.Add(float64(result.RowsAffected()))
	}
	return nil
}

func (b *Backend) BatchNack(ctx context.Context, ids []uint64, ownerID uint32) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.BatchNack",
		tracing.AttrOwnerID.Int64(int64(ownerID)),
		tracing.AttrCount.Int(len(ids)),
	)
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	idArgs := toInt64Slice(ids)
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET
			owner_id = NULL,
			delivery_time = $1 + (failure_base_delay_seconds * POWER(2, failure_count) * INTERVAL '1 second'),
			failure_count = failure_count + 1
		WHERE id = ANY($2::bigint[]) AND owner_id = $3
	`, b.names.queue)
	result, err := b.conn.Exec(ctx, query, now, idArgs, ownerID)
	if err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("sqlqueue: batch nack: %w", err)
	}
	if b.metrics != nil {
		b.metrics.MessagesNacked.Add(float64(result.RowsAffected()))
	}
	return nil
}

func (b *Backend) BatchTouch(ctx context.Context, ids []uint64, ownerID uint32, visibilityTimeout time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.BatchTouch",
		tracing.AttrOwnerID.Int64(int64(ownerID)),
		tracing.AttrCount.Int(len(ids)),
	)
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	idArgs := toInt64Slice(ids)
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET acquire_time = $1, visibility_timeout_seconds = $2
		WHERE id = ANY($3::bigint[]) AND owner_id = $4
	`, b.names.queue)
	if _, err := b.conn.Exec(ctx, query, now, visibilityTimeout.Seconds(), idArgs, ownerID); err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("sqlqueue: batch touch: %w", err)
	}
	return nil
}

func (b *Backend) ReleaseStalledMessages(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.ReleaseStalledMessages")
	defer span.End()

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET owner_id = NULL
		WHERE owner_id IS NOT NULL
			AND acquire_time + (visibility_timeout_seconds * INTERVAL '1 second') < $1
	`, b.names.queue)
	result, err := b.conn.Exec(ctx, query, now)
	if err != nil {
		tracing.SetSpanError(span, err)
		return 0, fmt.Errorf("sqlqueue: release stalled messages: %w", err)
	}
	n := int(result.RowsAffected())
	if b.metrics != nil && n > 0 {
		b.metrics.MessagesReclaimed.Add(float64(n))
	}
	return n, nil
}

func (b *Backend) ListTopics(ctx context.Context) ([]queue.TopicCount, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.ListTopics")
	defer span.End()

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		SELECT topic, COUNT(*) FROM %s
		WHERE owner_id IS NULL AND delivery_time <= $1
		GROUP BY topic
	`, b.names.queue)
	rows, err := b.conn.Query(ctx, query, now)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("sqlqueue: list topics: %w", err)
	}
	defer rows.Close()

	var out []queue.TopicCount
	for rows.Next() {
		var topic int64
		var count int64
		if err := rows.Scan(&topic, &count); err != nil {
			return nil, fmt.Errorf("sqlqueue: scan topic count: %w", err)
		}
		out = append(out, queue.TopicCount{Topic: uint64(topic), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if b.metrics != nil {
		byTopic := make(map[string]int64, len(out))
		for _, tc := range out {
			byTopic[fmt.Sprint(tc.Topic)] = tc.Count
		}
		b.metrics.ObserveTopics(byTopic)
	}
	return out, nil
}

func (b *Backend) GetTopicSize(ctx context.Context, topic uint64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.GetTopicSize", tracing.AttrTopic.Int64(int64(topic)))
	defer span.End()

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE topic = $1 AND owner_id IS NULL AND delivery_time <= $2
	`, b.names.queue)
	var count int64
	if err := b.conn.QueryRow(ctx, query, int64(topic), now).Scan(&count); err != nil {
		tracing.SetSpanError(span, err)
		return 0, fmt.Errorf("sqlqueue: get topic size: %w", err)
	}
	return count, nil
}

func (b *Backend) AcquireTopic(ctx context.Context, ownerID uint32, leaseDuration time.Duration) (*queue.TopicLock, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.AcquireTopic", tracing.AttrOwnerID.Int64(int64(ownerID)))
	defer span.End()

	tx, err := b.conn.BeginTx(ctx)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("sqlqueue: acquire topic begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	candidatesQuery := fmt.Sprintf(`
		SELECT DISTINCT topic FROM %s WHERE owner_id IS NULL AND delivery_time <= $1
	`, b.names.queue)
	rows, err := tx.Query(ctx, candidatesQuery, now)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("sqlqueue: list candidate topics: %w", err)
	}
	var candidates []int64
	for rows.Next() {
		var topic int64
		if err := rows.Scan(&topic); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlqueue: scan candidate topic: %w", err)
		}
		candidates = append(candidates, topic)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return nil, fmt.Errorf("sqlqueue: candidate topics rows: %w", rowsErr)
	}

	claimQuery := fmt.Sprintf(`
		INSERT INTO %s (topic, owner_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (topic) DO UPDATE
			SET owner_id = EXCLUDED.owner_id, expires_at = EXCLUDED.expires_at
			WHERE %s.expires_at <= $4
		RETURNING topic
	`, b.names.topicLock, b.names.topicLock)

	for _, topic := range candidates {
		var claimed int64
		err := tx.QueryRow(ctx, claimQuery, topic, ownerID, now.Add(leaseDuration), now).Scan(&claimed)
		if err != nil {
			if db.IsNoRows(err) {
				continue
			}
			tracing.SetSpanError(span, err)
			return nil, fmt.Errorf("sqlqueue: claim topic lock: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("sqlqueue: commit acquire topic: %w", err)
		}
		if b.metrics != nil {
			b.metrics.TopicLocksHeld.Inc()
		}
		return queue.NewTopicLock(uint64(claimed), b, ownerID), nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sqlqueue: commit acquire topic (no candidate): %w", err)
	}
	return nil, nil
}

func (b *Backend) BatchReleaseTopic(ctx context.Context, topics []uint64, ownerID uint32) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.BatchReleaseTopic",
		tracing.AttrOwnerID.Int64(int64(ownerID)),
		tracing.AttrCount.Int(len(topics)),
	)
	defer span.End()

	if len(topics) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE topic = ANY($1::bigint[]) AND owner_id = $2`, b.names.topicLock)
	result, err := b.conn.Exec(ctx, query, toInt64Slice(topics), ownerID)
	if err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("sqlqueue: batch release topic: %w", err)
	}
	if b.metrics != nil {
		b.metrics.TopicLocksHeld.Sub(float64(result.RowsAffected()))
	}
	return nil
}

func (b *Backend) BatchTouchTopic(ctx context.Context, topics []uint64, ownerID uint32, leaseDuration time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.BatchTouchTopic",
		tracing.AttrOwnerID.Int64(int64(ownerID)),
		tracing.AttrCount.Int(len(topics)),
	)
	defer span.End()

	if len(topics) == 0 {
		return nil
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s SET expires_at = $1 WHERE topic = ANY($2::bigint[]) AND owner_id = $3
	`, b.names.topicLock)
	if _, err := b.conn.Exec(ctx, query, now.Add(leaseDuration), toInt64Slice(topics), ownerID); err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("sqlqueue: batch touch topic: %w", err)
	}
	return nil
}

func (b *Backend) ReleaseStalledTopicLocks(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.ReleaseStalledTopicLocks")
	defer span.End()

	now := time.Now().UTC()
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, b.names.topicLock)
	result, err := b.conn.Exec(ctx, query, now)
	if err != nil {
		tracing.SetSpanError(span, err)
		return 0, fmt.Errorf("sqlqueue: release stalled topic locks: %w", err)
	}
	n := int(result.RowsAffected())
	if b.metrics != nil && n > 0 {
		b.metrics.TopicLocksHeld.Sub(float64(n))
	}
	return n, nil
}

func (b *Backend) RateLimit(ctx context.Context, keys [][]byte, interval time.Duration) ([][]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.RateLimit", tracing.AttrCount.Int(len(keys)))
	defer span.End()

	for _, k := range keys {
		if err := validateHash(k); err != nil {
			tracing.SetSpanError(span, err)
			return nil, err
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		WITH candidates(key) AS (
			SELECT unnest($1::bytea[])
		), upsert AS (
			INSERT INTO %s (key, expires_at)
			SELECT key, $2 FROM candidates
			ON CONFLICT (key) DO UPDATE
				SET expires_at = EXCLUDED.expires_at
				WHERE %s.expires_at <= $3
			RETURNING key
		)
		SELECT key FROM upsert
	`, b.names.rateLimit, b.names.rateLimit)

	rows, err := b.conn.Query(ctx, query, keys, now.Add(interval), now)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("sqlqueue: rate limit: %w", err)
	}
	defer rows.Close()

	var accepted [][]byte
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlqueue: scan rate limit key: %w", err)
		}
		accepted = append(accepted, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if b.metrics != nil {
		b.metrics.RateLimitAccepted.Add(float64(len(accepted)))
		b.metrics.RateLimitRejected.Add(float64(len(keys) - len(accepted)))
	}
	return accepted, nil
}

func (b *Backend) OverrideRateLimit(ctx context.Context, keys [][]byte, interval time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "sqlqueue.OverrideRateLimit", tracing.AttrCount.Int(len(keys)))
	defer span.End()

	for _, k := range keys {
		if err := validateHash(k); err != nil {
			tracing.SetSpanError(span, err)
			return err
		}
	}
	if len(keys) == 0 {
		return nil
	}

	if interval > 0 {
		now := time.Now().UTC()
		query := fmt.Sprintf(`
			INSERT INTO %s (key, expires_at)
			SELECT unnest($1::bytea[]), $2
			ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		`, b.names.rateLimit)
		if _, err := b.conn.Exec(ctx, query, keys, now.Add(interval)); err != nil {
			tracing.SetSpanError(span, err)
			return fmt.Errorf("sqlqueue: override rate limit (set): %w", err)
		}
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1::bytea[])`, b.names.rateLimit)
	if _, err := b.conn.Exec(ctx, query, keys); err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("sqlqueue: override rate limit (clear): %w", err)
	}
	return nil
}

func toInt64Slice(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

var _ queue.Backend = (*Backend)(nil)
