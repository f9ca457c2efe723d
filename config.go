package pgcdc

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Configuration defaults.
const (
	DefaultTriggerSchema   = "public"
	DefaultTriggerPrefix   = "pubsub_trigger"
	DefaultQueueSchema     = "public"
	DefaultQueueTable      = "pg_pubsub_queue"
	DefaultMaxRetries      = 5
	DefaultMessageTTL      = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// identifierPattern matches unquoted SQL identifiers; trigger prefixes and
// table names must stay inside it because they are embedded into generated
// DDL and NOTIFY channel names.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config holds the engine configuration.
//
// DSN is required; everything else has working defaults. TLS settings are
// carried inside the DSN and forwarded to the driver verbatim (lib/pq's
// sslmode, sslrootcert, etc.).
type Config struct {
	// DSN is the database connection string, used for the query pool and
	// the dedicated NOTIFY connection.
	DSN string

	// TriggerSchema is the schema of user tables and generated triggers.
	TriggerSchema string

	// TriggerPrefix names generated trigger functions and the NOTIFY
	// channel, and is the search filter for obsolete-trigger cleanup.
	TriggerPrefix string

	// QueueSchema and QueueTable locate the queue table.
	QueueSchema string
	QueueTable  string

	// MaxRetries caps retry_count before permanent failure.
	MaxRetries int

	// MessageTTL is the minimum age before processed and exhausted rows
	// are deleted by cleanup.
	MessageTTL time.Duration

	// CleanupInterval is the period of the cleanup timer.
	CleanupInterval time.Duration

	// ReconcileStrategy selects atomic or differential trigger
	// reconciliation.
	ReconcileStrategy ReconcileStrategy

	// TreatUnhandledHandlerErrorsAsFailures schedules a panicking
	// handler's messages for retry instead of acknowledging them.
	// Off by default.
	TreatUnhandledHandlerErrorsAsFailures bool
}

// DefaultConfig returns a config with every default applied except DSN.
func DefaultConfig() Config {
	return Config{
		TriggerSchema:     DefaultTriggerSchema,
		TriggerPrefix:     DefaultTriggerPrefix,
		QueueSchema:       DefaultQueueSchema,
		QueueTable:        DefaultQueueTable,
		MaxRetries:        DefaultMaxRetries,
		MessageTTL:        DefaultMessageTTL,
		CleanupInterval:   DefaultCleanupInterval,
		ReconcileStrategy: ReconcileDifferential,
	}
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.TriggerSchema, validation.Required,
			validation.Match(identifierPattern)),
		validation.Field(&c.TriggerPrefix, validation.Required,
			validation.Match(identifierPattern)),
		validation.Field(&c.QueueSchema, validation.Required,
			validation.Match(identifierPattern)),
		validation.Field(&c.QueueTable, validation.Required,
			validation.Match(identifierPattern)),
		validation.Field(&c.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.MessageTTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.CleanupInterval, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.ReconcileStrategy,
			validation.In(ReconcileAtomic, ReconcileDifferential)),
	)
}
