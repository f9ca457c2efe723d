package relica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coregx/relica"
	"github.com/lib/pq"

	"github.com/coregx/pgcdc"
	"github.com/coregx/pgcdc/model"
	"github.com/coregx/pgcdc/retry"
)

// QueueRepositoryConfig configures the queue table location and retention
// behavior of the repository.
type QueueRepositoryConfig struct {
	// Schema is the database schema holding the queue table (default "public").
	Schema string

	// Table is the queue table name (default "pg_pubsub_queue").
	Table string

	// MaxRetries caps retry_count before a message permanently fails
	// (default 5).
	MaxRetries int

	// TTL is the minimum age before processed and exhausted rows become
	// eligible for cleanup (default 24h).
	TTL time.Duration

	// ClaimDeadline is the visibility deadline written at claim time; a
	// crashed consumer's rows become re-claimable after it (default 5m).
	ClaimDeadline time.Duration

	// Backoff computes retry delays (default retry.DefaultStrategy()).
	Backoff retry.Strategy
}

func (c *QueueRepositoryConfig) applyDefaults() {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.Table == "" {
		c.Table = "pg_pubsub_queue"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.ClaimDeadline <= 0 {
		c.ClaimDeadline = 5 * time.Minute
	}
	if c.Backoff.BaseDelay <= 0 {
		c.Backoff = retry.DefaultStrategy()
		c.Backoff.MaxRetries = c.MaxRetries
	}
}

// QueueRepository implements pgcdc.QueueRepository on Postgres.
//
// Plain reads go through the Relica builder; the claim, batch-mark and
// cleanup statements need FOR UPDATE SKIP LOCKED, RETURNING and ANY()
// array binds and therefore run as raw SQL on the wrapped pool.
type QueueRepository struct {
	db    *relica.DB
	sqlDB *sql.DB
	cfg   QueueRepositoryConfig
}

// NewQueueRepository creates a queue repository on the given pool.
func NewQueueRepository(sqlDB *sql.DB, cfg QueueRepositoryConfig) *QueueRepository {
	cfg.applyDefaults()
	return &QueueRepository{
		db:    relica.WrapDB(sqlDB, "postgres"),
		sqlDB: sqlDB,
		cfg:   cfg,
	}
}

// tableName returns the schema-qualified, quoted queue table name for use
// in generated statements.
func (r *QueueRepository) tableName() string {
	return pq.QuoteIdentifier(r.cfg.Schema) + "." + pq.QuoteIdentifier(r.cfg.Table)
}

// EnsureSchema idempotently creates the queue table and its three secondary
// indexes.
func (r *QueueRepository) EnsureSchema(ctx context.Context) error {
	table := r.tableName()

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            BIGSERIAL PRIMARY KEY,
			channel       TEXT NOT NULL,
			payload       JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			processed_at  TIMESTAMPTZ,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ,
			status        TEXT NOT NULL DEFAULT 'pending'
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (status)`,
			pq.QuoteIdentifier(r.cfg.Table+"_status_idx"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (channel)`,
			pq.QuoteIdentifier(r.cfg.Table+"_channel_idx"), table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (next_retry_at)`,
			pq.QuoteIdentifier(r.cfg.Table+"_next_retry_at_idx"), table),
	}

	for _, stmt := range ddl {
		if _, err := r.sqlDB.ExecContext(ctx, stmt); err != nil {
			return pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to create queue schema", err)
		}
	}
	return nil
}

// FetchPendingMessages atomically claims up to batch messages for the
// channel in a single transaction. Eligible rows are pending ones plus
// failed ones whose backoff elapsed and whose retries remain; they are
// selected in ascending id order with FOR UPDATE SKIP LOCKED so concurrent
// consumers partition the queue without blocking, then moved to PROCESSING
// with the configured visibility deadline.
func (r *QueueRepository) FetchPendingMessages(ctx context.Context, channel string, batch int) ([]model.QueueMessage, error) {
	if batch <= 0 {
		batch = pgcdc.DefaultBatchSize
	}

	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to begin claim transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		UPDATE %[1]s SET
			status = $1,
			next_retry_at = now() + ($2 * interval '1 millisecond')
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE channel = $3
			  AND (status = $4
			       OR (status = $5 AND retry_count < $6 AND next_retry_at <= now()))
			ORDER BY id ASC
			LIMIT $7
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, channel, payload, created_at, processed_at, retry_count, next_retry_at, status`,
		r.tableName())

	rows, err := tx.QueryContext(ctx, query,
		model.StatusProcessing,
		r.cfg.ClaimDeadline.Milliseconds(),
		channel,
		model.StatusPending,
		model.StatusFailed,
		r.cfg.MaxRetries,
		batch,
	)
	if err != nil {
		return nil, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to claim message batch", err)
	}

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to scan claimed messages", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to commit claim transaction", err)
	}

	// RETURNING does not promise row order.
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]model.QueueMessage, error) {
	defer func() { _ = rows.Close() }()

	var messages []model.QueueMessage
	for rows.Next() {
		var m model.QueueMessage
		if err := rows.Scan(&m.ID, &m.Channel, &m.Payload, &m.CreatedAt,
			&m.ProcessedAt, &m.RetryCount, &m.NextRetryAt, &m.Status); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkAsProcessed marks the given ids processed in a single statement.
// Rows already processed keep their original processed_at, which makes the
// operation idempotent.
func (r *QueueRepository) MarkAsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, processed_at = now()
		WHERE id = ANY($2) AND status <> $1`,
		r.tableName())

	if _, err := r.sqlDB.ExecContext(ctx, query, model.StatusProcessed, pq.Array(ids)); err != nil {
		return pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to mark messages processed", err)
	}
	return nil
}

// MarkAsFailed marks the given ids failed in a single statement,
// incrementing retry_count and scheduling the next attempt at
// now + BaseDelay · 2^retry_count. Exhausted rows get a null next_retry_at.
func (r *QueueRepository) MarkAsFailed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	// The exponent is bounded in SQL the same way retry.Strategy bounds it.
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $1,
			retry_count = retry_count + 1,
			next_retry_at = CASE
				WHEN retry_count + 1 >= $2 THEN NULL
				ELSE now() + ($3 * interval '1 millisecond') * power(2, LEAST(retry_count + 1, 30))
			END
		WHERE id = ANY($4)`,
		r.tableName())

	_, err := r.sqlDB.ExecContext(ctx, query,
		model.StatusFailed,
		r.cfg.MaxRetries,
		r.cfg.Backoff.BaseDelay.Milliseconds(),
		pq.Array(ids),
	)
	if err != nil {
		return pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to mark messages failed", err)
	}
	return nil
}

// Cleanup deletes processed rows older than the TTL and permanently failed
// rows created before the TTL window. Returns the number of rows removed.
func (r *QueueRepository) Cleanup(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE (status = $1 AND processed_at < now() - ($3 * interval '1 millisecond'))
		   OR (status = $2 AND retry_count >= $4 AND created_at < now() - ($3 * interval '1 millisecond'))`,
		r.tableName())

	res, err := r.sqlDB.ExecContext(ctx, query,
		model.StatusProcessed,
		model.StatusFailed,
		r.cfg.TTL.Milliseconds(),
		r.cfg.MaxRetries,
	)
	if err != nil {
		return 0, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to clean up queue", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}

// Load retrieves one message by id.
func (r *QueueRepository) Load(ctx context.Context, id int64) (model.QueueMessage, error) {
	var m model.QueueMessage

	err := r.db.WithContext(ctx).Select("*").
		From(r.cfg.Schema+"."+r.cfg.Table).
		Where("id = ?", id).
		WithContext(ctx).
		One(&m)

	if errors.Is(err, sql.ErrNoRows) {
		return m, pgcdc.ErrNoData
	}
	if err != nil {
		return m, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to load queue message", err)
	}

	return m, nil
}

// FindByStatus retrieves messages in a given state, newest first.
// Intended for monitoring and tests.
func (r *QueueRepository) FindByStatus(ctx context.Context, status model.MessageStatus, limit int) ([]model.QueueMessage, error) {
	var messages []model.QueueMessage

	err := r.db.WithContext(ctx).Select("*").
		From(r.cfg.Schema+"."+r.cfg.Table).
		Where("status = ?", status).
		OrderBy("id DESC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&messages)

	if err != nil {
		return nil, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to find messages by status", err)
	}

	if len(messages) == 0 {
		return nil, pgcdc.ErrNoData
	}

	return messages, nil
}

// Stats returns aggregate queue counts plus the age of the oldest pending
// message.
func (r *QueueRepository) Stats(ctx context.Context) (model.QueueStats, error) {
	var stats model.QueueStats
	var oldestPendingSeconds float64

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(EXTRACT(EPOCH FROM now() - MIN(created_at) FILTER (WHERE status = $1)), 0)
		FROM %s`,
		r.tableName())

	err := r.sqlDB.QueryRowContext(ctx, query,
		model.StatusPending, model.StatusProcessing, model.StatusProcessed, model.StatusFailed,
	).Scan(&stats.Pending, &stats.Processing, &stats.Processed, &stats.Failed, &oldestPendingSeconds)
	if err != nil {
		return stats, pgcdc.NewErrorWithCause(pgcdc.ErrCodeDatabase, "failed to read queue stats", err)
	}

	stats.OldestPending = time.Duration(oldestPendingSeconds * float64(time.Second))
	return stats, nil
}
