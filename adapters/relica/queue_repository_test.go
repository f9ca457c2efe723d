package relica

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueRepositoryConfig_Defaults(t *testing.T) {
	var cfg QueueRepositoryConfig
	cfg.applyDefaults()

	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "pg_pubsub_queue", cfg.Table)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
	assert.Equal(t, 5*time.Minute, cfg.ClaimDeadline)
	assert.Equal(t, time.Minute, cfg.Backoff.BaseDelay)
	assert.Equal(t, 5, cfg.Backoff.MaxRetries)
}

func TestQueueRepositoryConfig_CustomValuesKept(t *testing.T) {
	cfg := QueueRepositoryConfig{
		Schema:        "events",
		Table:         "cdc_queue",
		MaxRetries:    3,
		TTL:           time.Hour,
		ClaimDeadline: time.Minute,
	}
	cfg.applyDefaults()

	assert.Equal(t, "events", cfg.Schema)
	assert.Equal(t, "cdc_queue", cfg.Table)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.TTL)
	assert.Equal(t, time.Minute, cfg.ClaimDeadline)
	// Backoff defaults align with the configured retry cap.
	assert.Equal(t, 3, cfg.Backoff.MaxRetries)
}

func TestQueueRepository_TableName(t *testing.T) {
	repo := NewQueueRepository(nil, QueueRepositoryConfig{Schema: "public", Table: "pg_pubsub_queue"})
	assert.Equal(t, `"public"."pg_pubsub_queue"`, repo.tableName())

	repo = NewQueueRepository(nil, QueueRepositoryConfig{Schema: "weird", Table: `na"me`})
	assert.Equal(t, `"weird"."na""me"`, repo.tableName())
}
