// Package pgcdc provides a reliable change-data-capture and pub/sub engine
// on top of PostgreSQL, turning row-level INSERT/UPDATE/DELETE events on
// registered tables into an ordered, at-least-once stream of typed change
// notifications delivered to application handlers.
//
// # Features
//
//   - Trigger-based capture: generated plpgsql functions enqueue every
//     change of a registered table and NOTIFY the listener
//   - Durable queue: a Postgres-backed FIFO with per-message delivery
//     state, exponential backoff retry and TTL cleanup
//   - Hybrid consumption: reactive LISTEN/NOTIFY drains plus fallback
//     polling, so dropped notifications never lose messages
//   - Multi-instance safe: FOR UPDATE SKIP LOCKED partitions batches
//     across consumers; advisory locks serialize trigger reconciliation
//   - Per-table ordering: handlers observe each table's changes in strict
//     queue-id order within a batch
//   - Options Pattern for service configuration
//   - Pluggable architecture: bring your own Logger and NotificationService
//   - Embedded migrations for the default queue table
//
// # Quick Start
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/pgcdc"
//	    "github.com/coregx/pgcdc/adapters/relica"
//	    _ "github.com/lib/pq"
//	)
//
//	db, _ := sql.Open("postgres", dsn)
//
//	engine, _ := pgcdc.NewEngine(
//	    pgcdc.WithDSN(dsn),
//	    pgcdc.WithDB(db),
//	    pgcdc.WithQueueRepository(relica.NewQueueRepository(db, relica.QueueRepositoryConfig{})),
//	    pgcdc.WithLogger(logger),
//	)
//
//	engine.Register(pgcdc.HandlerRegistration{
//	    Entity:  &User{},
//	    Handler: pgcdc.HandlerFunc(func(ctx context.Context, changes *model.Changes, onError func(ids []int64)) {
//	        for _, c := range changes.Insert {
//	            log.Printf("new user: %v", c.Data["Name"])
//	        }
//	    }),
//	})
//
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Message Flow
//
//  1. CAPTURE
//     Row change → generated trigger builds the JSON payload
//     → INSERT into the queue table
//     → pg_notify(prefix, queue row id)
//
//  2. DRAIN (reactive on NOTIFY, fallback every 60s)
//     Claim a batch with FOR UPDATE SKIP LOCKED (id order, max 100)
//     → decode, remap column names to entity fields, diff UPDATEs
//     → group per table, fan out to handlers in registration order
//     → ids reported via onError: FAILED with exponential backoff
//     → everything else: PROCESSED
//
//  3. RETRY & CLEANUP
//     Failed messages retry at now + 1m·2^retry_count until the cap
//     → exhausted and aged-out rows removed by the hourly cleanup
//
// # Ordering & Delivery
//
// Delivery is at-least-once; handlers must be idempotent. Within one
// table, changes arrive in ascending queue-id order per batch. Across
// tables no order is promised.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         Application Layer           │
//	│   (Engine, handler registrations)   │
//	└─────────────┬───────────────────────┘
//	              │
//	┌─────────────▼───────────────────────┐
//	│          Core Services              │
//	│  (TriggerService, QueueService,     │
//	│   HybridListener, Processor)        │
//	└─────────────┬───────────────────────┘
//	              │
//	┌─────────────▼───────────────────────┐
//	│        Relica Adapter               │
//	│   (queue persistence on Postgres)   │
//	└─────────────┬───────────────────────┘
//	              │
//	┌─────────────▼───────────────────────┐
//	│  PostgreSQL (triggers, queue table, │
//	│   LISTEN/NOTIFY, advisory locks)    │
//	└─────────────────────────────────────┘
//
// See cmd/pgcdc-server for a complete working setup, and the expand
// package for the resource-expansion engine shipped alongside.
package pgcdc
