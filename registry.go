package pgcdc

import (
	"context"

	"github.com/coregx/pgcdc/model"
)

// Handler is the user-supplied consumer of change events. One handler
// receives all changes of one table within one drained batch, ordered by
// ascending queue id.
//
// Implementations report per-message failures by calling onError with the
// queue ids that should be retried. Ids never reported to onError are
// acknowledged as processed once every handler of the batch has run.
// Handlers must be idempotent: delivery is at-least-once.
type Handler interface {
	// Process consumes one table's changes from a drained batch.
	// The onError callback may be invoked any number of times; the union of
	// all reported ids across handlers is scheduled for retry.
	Process(ctx context.Context, changes *model.Changes, onError func(ids []int64))
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, changes *model.Changes, onError func(ids []int64))

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, changes *model.Changes, onError func(ids []int64)) {
	f(ctx, changes, onError)
}

// HandlerRegistration associates a handler with a database target.
//
// Multiple registrations against the same table are merged at discovery
// time: event masks and payload fields are set-unioned and handlers are
// appended to the table's fan-out list in registration order.
type HandlerRegistration struct {
	// Entity is a pointer to the entity struct whose table this handler
	// observes. Table metadata (name, columns, field mappings) is derived
	// from it at discovery time.
	Entity any

	// Table optionally overrides the table name derived from Entity.
	Table string

	// Schema optionally overrides the configured default trigger schema.
	Schema string

	// Events restricts which change events the handler receives.
	// Empty means all of INSERT, UPDATE and DELETE.
	Events []model.Event

	// PayloadFields restricts the trigger payload to the named entity
	// fields. Empty means the full row.
	PayloadFields []string

	// Handler receives the table's changes.
	Handler Handler
}

// Registry accumulates handler registrations before discovery runs.
// It is not safe for concurrent use; register everything during startup.
type Registry struct {
	registrations []HandlerRegistration
}

// NewRegistry creates an empty registration collector.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler registration. Validation is deferred to
// discovery, which fails fast on targets without entity metadata.
func (r *Registry) Register(reg HandlerRegistration) {
	r.registrations = append(r.registrations, reg)
}

// Registrations returns the collected registrations in registration order.
func (r *Registry) Registrations() []HandlerRegistration {
	return r.registrations
}
