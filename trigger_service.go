package pgcdc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/coregx/pgcdc/model"
)

// ReconcileStrategy selects how installed triggers are brought in line with
// the desired set.
type ReconcileStrategy string

const (
	// ReconcileAtomic drops and recreates every trigger inside one
	// transaction. No window with missing triggers, but schema locks are
	// briefly held on every affected table.
	ReconcileAtomic ReconcileStrategy = "atomic"

	// ReconcileDifferential upserts each desired trigger individually and
	// drops obsolete ones afterwards. Tables present before and after a
	// reconfiguration never lose their trigger; abandoned tables may keep
	// an obsolete trigger for a moment, which is harmless because dispatch
	// only routes desired tables.
	ReconcileDifferential ReconcileStrategy = "differential"
)

// ReconcileLockKey is the advisory-lock key serializing trigger
// reconciliation across instances.
const ReconcileLockKey = "pg_pubsub"

// reconcileLockDuration is how long the reconcile lock is held.
const reconcileLockDuration = 5 * time.Second

// desiredTrigger is one entry of the desired trigger set, keyed by
// (schema, table).
type desiredTrigger struct {
	Schema         string
	Table          string
	FunctionName   string
	Events         []model.Event
	PayloadColumns []string
}

// installedFunction is one trigger function found in the database whose
// name carries the configured prefix.
type installedFunction struct {
	Schema string
	Name   string
}

// TriggerService reconciles the set of generated trigger functions and row
// triggers against the discovery result. Each registered table gets one
// plpgsql function named <prefix>_<table> and one AFTER ... FOR EACH ROW
// trigger bound to it; the function enqueues the change into the queue
// table and notifies the channel with the inserted row id.
//
// Reconciliation only runs under the pg_pubsub advisory lock so a single
// instance updates triggers at a time.
type TriggerService struct {
	db         *sql.DB
	logger     Logger
	prefix     string
	schema     string
	queueTable string // schema-qualified, quoted
	strategy   ReconcileStrategy
}

// NewTriggerService creates a trigger service.
//
// prefix names generated functions and the NOTIFY channel and is also the
// search filter for obsolete-trigger cleanup. queueSchema/queueTable locate
// the queue table the generated functions insert into.
func NewTriggerService(db *sql.DB, logger Logger, prefix, schema, queueSchema, queueTable string, strategy ReconcileStrategy) *TriggerService {
	if logger == nil {
		logger = &NoopLogger{}
	}
	if strategy == "" {
		strategy = ReconcileDifferential
	}
	return &TriggerService{
		db:         db,
		logger:     logger,
		prefix:     prefix,
		schema:     schema,
		queueTable: pq.QuoteIdentifier(queueSchema) + "." + pq.QuoteIdentifier(queueTable),
		strategy:   strategy,
	}
}

// ReconcileUnderLock attempts the pg_pubsub advisory lock and reconciles
// while holding it. When another instance holds the lock the reconcile is
// skipped with a log line; startup continues normally since that instance
// installs the same triggers.
func (s *TriggerService) ReconcileUnderLock(ctx context.Context, locker *AdvisoryLocker, discovery *Discovery) error {
	var reconcileErr error

	locker.TryLock(ctx, LockRequest{
		Key:      ReconcileLockKey,
		Duration: reconcileLockDuration,
		OnAccept: func() {
			reconcileErr = s.Reconcile(ctx, discovery)
		},
		OnReject: func(err error) {
			s.logger.Infof("another instance is already updating PubSub triggers: %v", err)
		},
	})

	return reconcileErr
}

// Reconcile makes the set of <prefix>_* functions and triggers in the
// database equal to the set derived from discovery, using the configured
// strategy.
func (s *TriggerService) Reconcile(ctx context.Context, discovery *Discovery) error {
	desired := s.desiredSet(discovery)

	switch s.strategy {
	case ReconcileAtomic:
		return s.reconcileAtomic(ctx, desired)
	default:
		return s.reconcileDifferential(ctx, desired)
	}
}

// desiredSet computes the trigger set implied by discovery: one function
// per registered (schema, table), with the merged event mask and the
// payload projection translated to database column names.
func (s *TriggerService) desiredSet(discovery *Discovery) []desiredTrigger {
	desired := make([]desiredTrigger, 0, len(discovery.TableOrder))
	for _, table := range discovery.TableOrder {
		listener := discovery.Listeners[table]
		info := discovery.Tables[table]

		events := listener.Events
		if len(events) == 0 {
			events = model.AllEvents
		}

		var columns []string
		if len(listener.PayloadFields) > 0 {
			columns = info.MapFieldsToColumns(listener.PayloadFields)
		}

		desired = append(desired, desiredTrigger{
			Schema:         listener.Schema,
			Table:          table,
			FunctionName:   s.prefix + "_" + table,
			Events:         events,
			PayloadColumns: columns,
		})
	}
	return desired
}

// ListInstalled returns every trigger function in the database whose name
// starts with "<prefix>_".
func (s *TriggerService) ListInstalled(ctx context.Context) ([]installedFunction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.nspname, p.proname
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE p.proname LIKE $1
		ORDER BY p.proname`,
		likePattern(s.prefix+"_"))
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list installed trigger functions", err)
	}
	defer func() { _ = rows.Close() }()

	var installed []installedFunction
	for rows.Next() {
		var fn installedFunction
		if err := rows.Scan(&fn.Schema, &fn.Name); err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "failed to scan trigger function", err)
		}
		installed = append(installed, fn)
	}
	if err := rows.Err(); err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list installed trigger functions", err)
	}
	return installed, nil
}

// reconcileAtomic replaces the entire trigger set inside one transaction:
// list existing, drop everything matching the prefix, create all desired.
func (s *TriggerService) reconcileAtomic(ctx context.Context, desired []desiredTrigger) error {
	installed, err := s.ListInstalled(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to begin reconcile transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, fn := range installed {
		if _, err := tx.ExecContext(ctx, dropFunctionSQL(fn)); err != nil {
			return NewErrorWithCause(ErrCodeDatabase,
				fmt.Sprintf("failed to drop trigger function %s", fn.Name), err)
		}
	}

	for _, trg := range desired {
		if err := s.installTrigger(ctx, tx, trg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to commit reconcile transaction", err)
	}

	s.logger.Infof("Reconciled %d trigger(s) atomically (dropped %d)", len(desired), len(installed))
	return nil
}

// reconcileDifferential upserts every desired trigger per-table (each in
// its own transaction, so surviving tables never lose coverage), then drops
// only the prefixed functions whose (schema, table) key is absent from the
// desired set.
func (s *TriggerService) reconcileDifferential(ctx context.Context, desired []desiredTrigger) error {
	installed, err := s.ListInstalled(ctx)
	if err != nil {
		return err
	}

	for _, trg := range desired {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "failed to begin trigger upsert transaction", err)
		}
		if err := s.installTrigger(ctx, tx, trg); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return NewErrorWithCause(ErrCodeDatabase,
				fmt.Sprintf("failed to commit trigger upsert for table %s", trg.Table), err)
		}
	}

	wanted := make(map[string]bool, len(desired))
	for _, trg := range desired {
		wanted[trg.Schema+"."+trg.FunctionName] = true
	}

	dropped := 0
	for _, fn := range installed {
		if wanted[fn.Schema+"."+fn.Name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, dropFunctionSQL(fn)); err != nil {
			return NewErrorWithCause(ErrCodeDatabase,
				fmt.Sprintf("failed to drop obsolete trigger function %s", fn.Name), err)
		}
		dropped++
	}

	s.logger.Infof("Reconciled %d trigger(s) differentially (dropped %d obsolete)", len(desired), dropped)
	return nil
}

// execer covers *sql.Tx and *sql.DB.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// installTrigger creates or replaces one trigger function and rebinds its
// row trigger.
func (s *TriggerService) installTrigger(ctx context.Context, ex execer, trg desiredTrigger) error {
	if _, err := ex.ExecContext(ctx, s.functionSQL(trg)); err != nil {
		return NewErrorWithCause(ErrCodeDatabase,
			fmt.Sprintf("failed to create trigger function for table %s", trg.Table), err)
	}
	for _, stmt := range s.triggerSQL(trg) {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return NewErrorWithCause(ErrCodeDatabase,
				fmt.Sprintf("failed to bind trigger for table %s", trg.Table), err)
		}
	}
	return nil
}

// functionSQL generates the plpgsql trigger function for one table. The
// function builds the change payload, inserts it into the queue table and
// notifies the channel with the inserted row id.
func (s *TriggerService) functionSQL(trg desiredTrigger) string {
	fnName := pq.QuoteIdentifier(trg.Schema) + "." + pq.QuoteIdentifier(trg.FunctionName)

	newData := rowJSONExpr("NEW", trg.PayloadColumns)
	oldData := rowJSONExpr("OLD", trg.PayloadColumns)
	channel := pq.QuoteLiteral(s.prefix)

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $trigger$
DECLARE
	payload jsonb;
	message_id bigint;
BEGIN
	IF (TG_OP = 'INSERT') THEN
		payload := jsonb_build_object(
			'id', gen_random_uuid(),
			'event', 'INSERT',
			'schema', TG_TABLE_SCHEMA,
			'table', TG_TABLE_NAME,
			'data', %s);
	ELSIF (TG_OP = 'UPDATE') THEN
		payload := jsonb_build_object(
			'id', gen_random_uuid(),
			'event', 'UPDATE',
			'schema', TG_TABLE_SCHEMA,
			'table', TG_TABLE_NAME,
			'data', jsonb_build_object('new', %s, 'old', %s));
	ELSE
		payload := jsonb_build_object(
			'id', gen_random_uuid(),
			'event', 'DELETE',
			'schema', TG_TABLE_SCHEMA,
			'table', TG_TABLE_NAME,
			'data', %s);
	END IF;

	INSERT INTO %s (channel, payload, status)
	VALUES (%s, payload, 'pending')
	RETURNING id INTO message_id;

	PERFORM pg_notify(%s, message_id::text);

	RETURN NULL;
END;
$trigger$ LANGUAGE plpgsql`,
		fnName, newData, newData, oldData, oldData, s.queueTable, channel, channel)
}

// triggerSQL generates the statements rebinding the row trigger for one
// table. DROP IF EXISTS + CREATE run inside the caller's transaction so the
// rebind is atomic per trigger.
func (s *TriggerService) triggerSQL(trg desiredTrigger) []string {
	events := make([]string, len(trg.Events))
	for i, e := range trg.Events {
		events[i] = string(e)
	}

	triggerName := pq.QuoteIdentifier(trg.FunctionName)
	tableName := pq.QuoteIdentifier(trg.Schema) + "." + pq.QuoteIdentifier(trg.Table)
	fnName := pq.QuoteIdentifier(trg.Schema) + "." + pq.QuoteIdentifier(trg.FunctionName)

	return []string{
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, triggerName, tableName),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()`,
			triggerName, strings.Join(events, " OR "), tableName, fnName),
	}
}

// rowJSONExpr builds the payload data expression for a row image: the full
// row when no projection is configured, otherwise a jsonb_build_object
// restricted to the mapped database column names.
func rowJSONExpr(rowVar string, columns []string) string {
	if len(columns) == 0 {
		return "to_jsonb(" + rowVar + ")"
	}

	pairs := make([]string, 0, len(columns))
	for _, col := range columns {
		pairs = append(pairs, pq.QuoteLiteral(col)+", "+rowVar+"."+pq.QuoteIdentifier(col))
	}
	return "jsonb_build_object(" + strings.Join(pairs, ", ") + ")"
}

// dropFunctionSQL drops a trigger function together with its dependent
// triggers.
func dropFunctionSQL(fn installedFunction) string {
	return fmt.Sprintf(`DROP FUNCTION IF EXISTS %s.%s() CASCADE`,
		pq.QuoteIdentifier(fn.Schema), pq.QuoteIdentifier(fn.Name))
}

// likePattern escapes LIKE wildcards in the prefix and appends %.
func likePattern(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}
