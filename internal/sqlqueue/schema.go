package sqlqueue

import "fmt"

// tableNames derives the three table names used by a Backend from its
// configured prefix, per spec: "{prefix}_queue", "{prefix}_topic_lock",
// "{prefix}_rate_limit".
type tableNames struct {
	queue     string
	topicLock string
	rateLimit string
}

func namesForPrefix(prefix string) tableNames {
	return tableNames{
		queue:     prefix + "_queue",
		topicLock: prefix + "_topic_lock",
		rateLimit: prefix + "_rate_limit",
	}
}

// createStatements returns the idempotent DDL for all three tables. Max
// payload size is baked into the CHECK constraint so an oversized
// payload is rejected by the database even if a caller bypasses
// Backend.BatchPut's own validation.
func (n tableNames) createStatements(maxPayloadSize int) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			topic BIGINT NOT NULL,
			hash BYTEA,
			priority BIGINT NOT NULL,
			owner_id BIGINT,
			delivery_time TIMESTAMPTZ NOT NULL DEFAULT now(),
			visibility_timeout_seconds DOUBLE PRECISION NOT NULL,
			failure_base_delay_seconds DOUBLE PRECISION NOT NULL,
			failure_count BIGINT NOT NULL DEFAULT 0,
			acquire_time TIMESTAMPTZ,
			payload BYTEA NOT NULL CHECK (octet_length(payload) <= %d),
			UNIQUE (topic, hash)
		)`, n.queue, maxPayloadSize),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_claim_idx ON %s (topic, owner_id, delivery_time)`, n.queue, n.queue),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			topic BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`, n.topicLock),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key BYTEA PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		)`, n.rateLimit),
	}
}

func (n tableNames) dropStatements() []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, n.queue),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, n.topicLock),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, n.rateLimit),
	}
}
