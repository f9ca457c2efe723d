package pgcdc

import (
	"context"
	"sort"

	"github.com/coregx/pgcdc/model"
	"github.com/coregx/pgcdc/retry"
)

// batchSource abstracts the queue operations one drain needs; satisfied by
// *QueueService and by fakes in tests.
type batchSource interface {
	FetchPendingMessages(ctx context.Context, channel string, batch int) ([]model.QueueMessage, error)
	MarkAsProcessed(ctx context.Context, ids []int64) error
	MarkAsFailed(ctx context.Context, ids []int64) error
}

// Processor turns claimed queue rows into typed change events and drives
// the registered handlers.
//
// One Drain is one pipeline run: claim a batch, decode and remap each
// message, compute UPDATE diffs, sort by id, group per table, fan out to
// the table's handlers in discovery order, then acknowledge: ids any
// handler reported to onError are scheduled for retry, all others are
// marked processed.
//
// Handlers of one table observe its changes in strictly ascending id order
// within a batch. Across tables no order is promised.
type Processor struct {
	queue         batchSource
	discovery     *Discovery
	logger        Logger
	notifications NotificationService
	channel       string
	batchSize     int
	maxRetries    int
	backoff       retry.Strategy

	// treatUnhandledAsFailures schedules the messages a panicking handler
	// was handed for retry instead of counting them processed.
	treatUnhandledAsFailures bool
}

// NewProcessor creates a processor draining the given channel.
func NewProcessor(queue batchSource, discovery *Discovery, logger Logger, cfg Config) *Processor {
	if logger == nil {
		logger = &NoopLogger{}
	}
	backoff := retry.DefaultStrategy()
	backoff.MaxRetries = cfg.MaxRetries

	return &Processor{
		queue:                    queue,
		discovery:                discovery,
		logger:                   logger,
		notifications:            &NoOpNotificationService{},
		channel:                  cfg.TriggerPrefix,
		batchSize:                DefaultBatchSize,
		maxRetries:               cfg.MaxRetries,
		backoff:                  backoff,
		treatUnhandledAsFailures: cfg.TreatUnhandledHandlerErrorsAsFailures,
	}
}

// SetNotificationService installs an optional notification sink.
func (p *Processor) SetNotificationService(svc NotificationService) {
	if svc != nil {
		p.notifications = svc
	}
}

// Drain runs one pipeline iteration. It returns the highest queue id that
// was acknowledged as processed (0 when the batch was empty or nothing
// succeeded) and any claim/acknowledge error. Handler outcomes never fail
// the drain; they only steer per-id accounting.
func (p *Processor) Drain(ctx context.Context) (int64, error) {
	messages, err := p.queue.FetchPendingMessages(ctx, p.channel, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	failed := make(map[int64]bool)
	var changes []*model.Change

	for i := range messages {
		msg := &messages[i]
		change, decodeErr := model.DecodeChange(msg)
		if decodeErr != nil {
			// A bad payload fails alone; the rest of the batch continues.
			p.logger.Errorf("Failed to decode message %d: %v", msg.ID, decodeErr)
			failed[msg.ID] = true
			continue
		}
		p.remap(change)
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })

	p.dispatch(ctx, p.group(changes), failed)

	var failedIDs, processedIDs []int64
	for i := range messages {
		msg := &messages[i]
		if failed[msg.ID] {
			// Mirror the transition the batch statement performs so the
			// notification split below sees post-failure state.
			msg.MarkFailed(p.backoff.Backoff(msg.RetryCount+1), p.maxRetries)
			failedIDs = append(failedIDs, msg.ID)
		} else {
			processedIDs = append(processedIDs, msg.ID)
		}
	}

	if len(failedIDs) > 0 {
		if err := p.queue.MarkAsFailed(ctx, failedIDs); err != nil {
			return 0, err
		}
		p.notifyFailures(ctx, messages, failed)
	}
	if len(processedIDs) > 0 {
		if err := p.queue.MarkAsProcessed(ctx, processedIDs); err != nil {
			return 0, err
		}
	}

	var maxProcessed int64
	for _, id := range processedIDs {
		if id > maxProcessed {
			maxProcessed = id
		}
	}

	p.logger.Debugf("Drain complete: %d processed, %d failed", len(processedIDs), len(failedIDs))
	return maxProcessed, nil
}

// remap translates row data from database column names to entity field
// names and computes the UPDATE diff on the remapped images. Changes for
// tables without a descriptor pass through unmapped.
func (p *Processor) remap(change *model.Change) {
	info := p.discovery.Tables[change.Table]
	if info == nil {
		return
	}

	switch change.Event {
	case model.EventUpdate:
		change.New = info.RemapToFields(change.New)
		change.Old = info.RemapToFields(change.Old)
		updated := model.ComputeUpdatedFields(change.Old, change.New)
		sort.Strings(updated)
		change.UpdatedFields = updated
	default:
		change.Data = info.RemapToFields(change.Data)
	}
}

// group partitions sorted changes per table, preserving first-seen table
// order.
func (p *Processor) group(changes []*model.Change) []*model.Changes {
	byTable := make(map[string]*model.Changes)
	var order []*model.Changes

	for _, change := range changes {
		g, ok := byTable[change.Table]
		if !ok {
			g = &model.Changes{Table: change.Table}
			byTable[change.Table] = g
			order = append(order, g)
		}
		g.Add(change)
	}
	return order
}

// dispatch fans each table group out to its handlers in discovery order.
// Ids reported via onError across all handlers accumulate in failed.
// Messages of tables with no listener (typically from an obsolete trigger
// racing a reconfiguration) are acknowledged without dispatch.
func (p *Processor) dispatch(ctx context.Context, groups []*model.Changes, failed map[int64]bool) {
	for _, group := range groups {
		listener := p.discovery.Listeners[group.Table]
		if listener == nil {
			p.logger.Debugf("No listener for table %q, acknowledging %d message(s)",
				group.Table, len(group.All))
			continue
		}

		inBatch := make(map[int64]bool, len(group.All))
		for _, id := range group.IDs() {
			inBatch[id] = true
		}

		onError := func(ids []int64) {
			for _, id := range ids {
				if inBatch[id] {
					failed[id] = true
				}
			}
		}

		for i, handler := range listener.Handlers {
			view := group
			if events := listener.EventsByHandler[i]; len(events) < len(model.AllEvents) {
				view = group.Filter(events)
			}
			if len(view.All) == 0 {
				continue
			}
			p.invoke(ctx, handler, view, onError, failed)
		}
	}
}

// invoke runs one handler, containing panics. A panic is logged; the ids
// stay acknowledged unless TreatUnhandledHandlerErrorsAsFailures is set, in
// which case the handler's whole view is scheduled for retry.
func (p *Processor) invoke(ctx context.Context, handler Handler, view *model.Changes, onError func([]int64), failed map[int64]bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("Handler for table %q panicked: %v", view.Table, r)
			if p.treatUnhandledAsFailures {
				for _, id := range view.IDs() {
					failed[id] = true
				}
			}
		}
	}()

	handler.Process(ctx, view, onError)
}

// notifyFailures reports failed ids to the notification sink, splitting out
// the ones whose final retry was just consumed. Drain has already applied
// MarkFailed to the failed snapshots.
func (p *Processor) notifyFailures(ctx context.Context, messages []model.QueueMessage, failed map[int64]bool) {
	var retrying, exhausted []int64
	for i := range messages {
		msg := &messages[i]
		if !failed[msg.ID] {
			continue
		}
		if msg.IsExhausted(p.maxRetries) {
			exhausted = append(exhausted, msg.ID)
		} else {
			retrying = append(retrying, msg.ID)
		}
	}

	if len(retrying) > 0 {
		if err := p.notifications.NotifyMessagesFailed(ctx, retrying); err != nil {
			p.logger.Warnf("Failed to send retry notification: %v", err)
		}
	}
	if len(exhausted) > 0 {
		if err := p.notifications.NotifyRetryExhausted(ctx, exhausted); err != nil {
			p.logger.Warnf("Failed to send exhaustion notification: %v", err)
		}
	}
}
