package pgcdc

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/pgcdc/model"
)

// DefaultBatchSize is the number of queue rows claimed per drain.
const DefaultBatchSize = 100

// QueueRepository abstracts persistence of queued change messages.
// The production implementation lives in adapters/relica.
type QueueRepository interface {
	// EnsureSchema idempotently creates the queue table and its secondary
	// indexes on (status), (channel) and (next_retry_at).
	EnsureSchema(ctx context.Context) error

	// FetchPendingMessages atomically claims up to batch messages for the
	// channel: pending rows plus failed rows whose backoff elapsed and
	// whose retries are not exhausted, in ascending id order, skipping rows
	// locked by concurrent consumers. Claimed rows transition to PROCESSING
	// with a re-claim visibility deadline.
	FetchPendingMessages(ctx context.Context, channel string, batch int) ([]model.QueueMessage, error)

	// MarkAsProcessed marks the given ids processed, stamping processed_at.
	// Already-processed ids are left untouched.
	MarkAsProcessed(ctx context.Context, ids []int64) error

	// MarkAsFailed marks the given ids failed, increments their retry count
	// and schedules the next attempt with exponential backoff. Exhausted
	// messages get a null next_retry_at and stop retrying.
	MarkAsFailed(ctx context.Context, ids []int64) error

	// Cleanup deletes processed rows older than the TTL and permanently
	// failed rows created before the TTL window. Returns rows removed.
	Cleanup(ctx context.Context) (int64, error)

	// Load retrieves one message by id.
	Load(ctx context.Context, id int64) (model.QueueMessage, error)

	// Stats returns aggregate queue counts for monitoring.
	Stats(ctx context.Context) (model.QueueStats, error)
}

// QueueService owns the queue table lifecycle: schema setup at startup and
// the periodic TTL cleanup timer. All message operations delegate to the
// repository.
//
// Thread safety: safe for concurrent use.
type QueueService struct {
	repo            QueueRepository
	logger          Logger
	cleanupInterval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewQueueService creates a queue service around the repository.
// cleanupInterval is the period of the TTL cleanup timer.
func NewQueueService(repo QueueRepository, logger Logger, cleanupInterval time.Duration) *QueueService {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &QueueService{
		repo:            repo,
		logger:          logger,
		cleanupInterval: cleanupInterval,
	}
}

// Setup creates the queue schema and starts the cleanup timer.
// Calling Setup twice without Teardown is an error-free no-op for the timer.
func (s *QueueService) Setup(ctx context.Context) error {
	if err := s.repo.EnsureSchema(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.cleanupLoop(s.stop, s.done)
	return nil
}

// Teardown stops the cleanup timer and waits for an in-flight pass to end.
func (s *QueueService) Teardown() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *QueueService) cleanupLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			removed, err := s.repo.Cleanup(ctx)
			cancel()
			if err != nil {
				s.logger.Errorf("Queue cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				s.logger.Infof("Queue cleanup removed %d expired messages", removed)
			}
		}
	}
}

// FetchPendingMessages claims the next ordered batch for the channel.
func (s *QueueService) FetchPendingMessages(ctx context.Context, channel string, batch int) ([]model.QueueMessage, error) {
	return s.repo.FetchPendingMessages(ctx, channel, batch)
}

// MarkAsProcessed acknowledges the given ids as fully handled.
func (s *QueueService) MarkAsProcessed(ctx context.Context, ids []int64) error {
	return s.repo.MarkAsProcessed(ctx, ids)
}

// MarkAsFailed schedules the given ids for retry with exponential backoff.
func (s *QueueService) MarkAsFailed(ctx context.Context, ids []int64) error {
	return s.repo.MarkAsFailed(ctx, ids)
}

// Stats returns aggregate queue counts.
func (s *QueueService) Stats(ctx context.Context) (model.QueueStats, error) {
	return s.repo.Stats(ctx)
}
