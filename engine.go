package pgcdc

import (
	"context"
	"database/sql"

	"github.com/coregx/pgcdc/model"
)

// Engine is the top-level change-data-capture service. It wires discovery,
// trigger reconciliation, the durable queue, the hybrid listener and the
// message processor into one lifecycle:
//
//  1. Register handlers (before Start).
//  2. Start: validate config, run discovery, set up the queue table,
//     reconcile triggers under the pg_pubsub advisory lock, connect the
//     NOTIFY listener and begin draining.
//  3. Stop: tear everything down in reverse order.
//
// Pause, Resume, SuspendAndRun and Subscribe expose the listener lifecycle
// while the engine runs.
//
// Thread safety: Register is startup-only; everything else is safe for
// concurrent use after Start.
type Engine struct {
	cfg           Config
	logger        Logger
	notifications NotificationService

	db     *sql.DB
	ownsDB bool
	repo   QueueRepository

	registry  *Registry
	discovery *Discovery
	locker    *AdvisoryLocker
	queue     *QueueService
	triggers  *TriggerService
	processor *Processor
	listener  *HybridListener

	started bool
}

// NewEngine creates a new engine with the provided options.
//
// Required options:
//   - WithDSN: database connection string
//   - WithQueueRepository: queue persistence (adapters/relica)
//
// Optional options:
//   - WithLogger (default: NoopLogger)
//   - WithDB, WithTriggerSchema, WithTriggerPrefix, WithQueueTable,
//     WithMaxRetries, WithMessageTTL, WithCleanupInterval,
//     WithReconcileStrategy, WithNotifications,
//     WithTreatUnhandledHandlerErrorsAsFailures
//
// Example:
//
//	engine, err := pgcdc.NewEngine(
//	    pgcdc.WithDSN(dsn),
//	    pgcdc.WithQueueRepository(relica.NewQueueRepository(db, relica.QueueRepositoryConfig{})),
//	    pgcdc.WithDB(db),
//	    pgcdc.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:           DefaultConfig(),
		logger:        &NoopLogger{},
		notifications: &NoOpNotificationService{},
		registry:      NewRegistry(),
		ownsDB:        true,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if e.cfg.DSN == "" {
		return nil, NewError(ErrCodeConfiguration, "DSN is required (use WithDSN)")
	}
	if e.repo == nil {
		return nil, NewError(ErrCodeConfiguration, "QueueRepository is required (use WithQueueRepository)")
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "invalid engine configuration", err)
	}

	return e, nil
}

// Register adds a handler registration. Must be called before Start;
// registrations are resolved once by discovery.
func (e *Engine) Register(reg HandlerRegistration) {
	e.registry.Register(reg)
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start brings the engine up. See the type doc for the startup sequence.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}

	if e.db == nil {
		db, err := sql.Open("postgres", e.cfg.DSN)
		if err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "failed to open database", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return NewErrorWithCause(ErrCodeDatabase, "failed to connect to database", err)
		}
		e.db = db
	}

	discovery, err := Discover(e.registry, e.cfg.TriggerSchema)
	if err != nil {
		return err
	}
	e.discovery = discovery

	e.locker = NewAdvisoryLocker(e.db, e.logger)

	e.queue = NewQueueService(e.repo, e.logger, e.cfg.CleanupInterval)
	if err := e.queue.Setup(ctx); err != nil {
		return err
	}

	e.triggers = NewTriggerService(e.db, e.logger,
		e.cfg.TriggerPrefix, e.cfg.TriggerSchema,
		e.cfg.QueueSchema, e.cfg.QueueTable,
		e.cfg.ReconcileStrategy)
	if err := e.triggers.ReconcileUnderLock(ctx, e.locker, discovery); err != nil {
		return err
	}

	e.processor = NewProcessor(e.queue, discovery, e.logger, e.cfg)
	e.processor.SetNotificationService(e.notifications)

	e.listener = NewHybridListener(e.cfg.DSN, e.cfg.TriggerPrefix, e.processor.Drain, e.logger)
	if err := e.listener.Start(ctx); err != nil {
		e.queue.Teardown()
		return err
	}

	e.started = true
	e.logger.Infof("CDC engine started: %d table(s), channel %q",
		len(discovery.TableOrder), e.cfg.TriggerPrefix)
	return nil
}

// Stop tears the engine down: listener first so no new drains start, then
// the cleanup timer, held advisory locks, and finally the pool when the
// engine opened it.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false

	e.listener.Stop()
	e.queue.Teardown()
	e.locker.Close()

	if e.ownsDB && e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warnf("Failed to close database pool: %v", err)
		}
	}

	e.logger.Info("CDC engine stopped")
}

// Pause suspends change delivery: the NOTIFY connection closes and no new
// drains start. Captured changes keep queueing in the database.
func (e *Engine) Pause() {
	if e.listener == nil {
		return
	}
	e.listener.Pause()
}

// Resume re-establishes the NOTIFY connection after Pause and immediately
// drains the backlog.
func (e *Engine) Resume(ctx context.Context) error {
	if e.listener == nil {
		return ErrNotListening
	}
	return e.listener.Resume(ctx)
}

// SuspendAndRun pauses delivery, runs fn, and resumes on every exit path.
// Typical use: schema migrations on observed tables.
func (e *Engine) SuspendAndRun(ctx context.Context, fn func() error) error {
	if e.listener == nil {
		return ErrNotListening
	}
	return e.listener.SuspendAndRun(ctx, fn)
}

// Subscribe registers a raw NOTIFY callback for a user-defined channel
// beyond the change channel.
func (e *Engine) Subscribe(channel string, callback SubscribeFunc) error {
	if e.listener == nil {
		return ErrNotListening
	}
	return e.listener.Subscribe(channel, callback)
}

// Stats returns aggregate queue counts for monitoring.
func (e *Engine) Stats(ctx context.Context) (model.QueueStats, error) {
	if e.queue == nil {
		return e.repo.Stats(ctx)
	}
	return e.queue.Stats(ctx)
}
