// Package model contains all domain models and data structures for the pgcdc engine.
package model

import (
	"database/sql"
	"time"
)

// MessageStatus represents the lifecycle state of a queued change message.
type MessageStatus string

const (
	// StatusPending indicates the message is awaiting its first delivery attempt.
	StatusPending MessageStatus = "pending"

	// StatusProcessing indicates the message has been claimed by a consumer.
	StatusProcessing MessageStatus = "processing"

	// StatusProcessed indicates all handlers completed for the message.
	StatusProcessed MessageStatus = "processed"

	// StatusFailed indicates at least one handler reported failure and the
	// message is awaiting retry (or has exhausted its retries).
	StatusFailed MessageStatus = "failed"
)

// QueueMessage represents one captured change event persisted in the queue
// table. Rows are written by the generated triggers and consumed in id order.
//
// Messages follow this lifecycle:
//  1. Created by a trigger with status=PENDING
//  2. Claimed by a drain → PROCESSING (with a re-claim visibility deadline)
//  3. Handlers succeed → PROCESSED, or report failure → FAILED with backoff
//  4. FAILED messages re-enter PROCESSING while retries remain
//  5. PROCESSED and exhausted FAILED rows are deleted once older than the TTL
//
// The repository performs the persisted transitions as single batch
// statements; MarkFailed mirrors that transition on a claimed in-memory
// snapshot so callers can inspect post-failure state (IsExhausted).
type QueueMessage struct {
	ID          int64         `json:"id" db:"id"`
	Channel     string        `json:"channel" db:"channel"`
	Payload     []byte        `json:"payload" db:"payload"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	ProcessedAt sql.NullTime  `json:"processedAt" db:"processed_at"`
	RetryCount  int           `json:"retryCount" db:"retry_count"`
	NextRetryAt sql.NullTime  `json:"nextRetryAt" db:"next_retry_at"`
	Status      MessageStatus `json:"status" db:"status"`
}

// MarkFailed transitions the message to FAILED, increments the retry count
// and schedules the next attempt. Once the retry count reaches maxRetries
// the message is permanently failed and NextRetryAt is cleared.
//
// Parameters:
//   - retryAfter: backoff delay before the next attempt
//   - maxRetries: cap after which no further retries are scheduled
func (m *QueueMessage) MarkFailed(retryAfter time.Duration, maxRetries int) {
	m.Status = StatusFailed
	m.RetryCount++
	if m.RetryCount >= maxRetries {
		m.NextRetryAt = sql.NullTime{}
		return
	}
	m.NextRetryAt = sql.NullTime{Time: time.Now().Add(retryAfter), Valid: true}
}

// IsExhausted reports whether the message has used up all retry attempts.
func (m *QueueMessage) IsExhausted(maxRetries int) bool {
	return m.Status == StatusFailed && m.RetryCount >= maxRetries
}

// QueueStats holds aggregate queue counts for monitoring.
type QueueStats struct {
	Pending       int64         `json:"pending" db:"pending"`
	Processing    int64         `json:"processing" db:"processing"`
	Processed     int64         `json:"processed" db:"processed"`
	Failed        int64         `json:"failed" db:"failed"`
	OldestPending time.Duration `json:"oldestPending"`
}

// Total returns the total number of rows across all states.
func (s QueueStats) Total() int64 {
	return s.Pending + s.Processing + s.Processed + s.Failed
}
