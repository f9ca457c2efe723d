package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event identifies the kind of row-level change captured by a trigger.
type Event string

const (
	// EventInsert is emitted after a row INSERT.
	EventInsert Event = "INSERT"

	// EventUpdate is emitted after a row UPDATE.
	EventUpdate Event = "UPDATE"

	// EventDelete is emitted after a row DELETE.
	EventDelete Event = "DELETE"
)

// AllEvents is the full event mask used when a registration does not
// restrict the events it listens to.
var AllEvents = []Event{EventInsert, EventUpdate, EventDelete}

// Metadata carries queue-level bookkeeping attached to every dispatched change.
type Metadata struct {
	RetryCount int       `json:"retryCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Change is one decoded row-level change event as delivered to handlers.
//
// For INSERT and DELETE events Data holds the row image. For UPDATE events
// New and Old hold the post- and pre-update images and UpdatedFields lists
// the property names whose scalar values differ between them. All row maps
// are keyed by property names (already remapped from database column names).
//
// ID is the queue row id, which defines per-table delivery order. It is not
// the uuid the trigger embeds in the wire payload; that one is discarded
// during decoding.
type Change struct {
	ID            int64          `json:"id"`
	Event         Event          `json:"event"`
	Schema        string         `json:"schema"`
	Table         string         `json:"table"`
	Data          map[string]any `json:"data,omitempty"`
	New           map[string]any `json:"new,omitempty"`
	Old           map[string]any `json:"old,omitempty"`
	UpdatedFields []string       `json:"updatedFields,omitempty"`
	Metadata      Metadata       `json:"_metadata"`
}

// Changes groups the decoded changes of one table within one drained batch,
// partitioned by event and ordered by ascending queue id.
type Changes struct {
	Table  string
	All    []*Change
	Insert []*Change
	Update []*Change
	Delete []*Change
}

// Add appends a change to All and to its event partition.
func (c *Changes) Add(change *Change) {
	c.All = append(c.All, change)
	switch change.Event {
	case EventInsert:
		c.Insert = append(c.Insert, change)
	case EventUpdate:
		c.Update = append(c.Update, change)
	case EventDelete:
		c.Delete = append(c.Delete, change)
	}
}

// IDs returns the queue ids of all grouped changes in order.
func (c *Changes) IDs() []int64 {
	ids := make([]int64, 0, len(c.All))
	for _, change := range c.All {
		ids = append(ids, change.ID)
	}
	return ids
}

// Filter returns a view of the group restricted to the given event mask.
// The returned group shares the underlying changes.
func (c *Changes) Filter(events []Event) *Changes {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	filtered := &Changes{Table: c.Table}
	for _, change := range c.All {
		if allowed[change.Event] {
			filtered.Add(change)
		}
	}
	return filtered
}

// wireUpdateData mirrors the UPDATE payload shape emitted by the triggers.
type wireUpdateData struct {
	New map[string]any `json:"new"`
	Old map[string]any `json:"old"`
}

// wirePayload mirrors the JSON payload emitted by the generated triggers.
// The trigger-side id is a uuid and is intentionally dropped: the queue row
// id replaces it as the change identifier.
type wirePayload struct {
	Event  Event           `json:"event"`
	Schema string          `json:"schema"`
	Table  string          `json:"table"`
	Data   json.RawMessage `json:"data"`
}

// DecodeChange decodes a queue message payload into a Change, attaching the
// queue id and metadata. Row data keys are still database column names after
// decoding; remapping to property names is the processor's concern.
func DecodeChange(msg *QueueMessage) (*Change, error) {
	var wire wirePayload
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode change payload: %w", err)
	}

	change := &Change{
		ID:     msg.ID,
		Event:  wire.Event,
		Schema: wire.Schema,
		Table:  wire.Table,
		Metadata: Metadata{
			RetryCount: msg.RetryCount,
			CreatedAt:  msg.CreatedAt,
		},
	}

	switch wire.Event {
	case EventInsert, EventDelete:
		if err := json.Unmarshal(wire.Data, &change.Data); err != nil {
			return nil, fmt.Errorf("failed to decode %s row data: %w", wire.Event, err)
		}
	case EventUpdate:
		var upd wireUpdateData
		if err := json.Unmarshal(wire.Data, &upd); err != nil {
			return nil, fmt.Errorf("failed to decode UPDATE row data: %w", err)
		}
		change.New = upd.New
		change.Old = upd.Old
	default:
		return nil, fmt.Errorf("unknown change event %q", wire.Event)
	}

	return change, nil
}

// ComputeUpdatedFields returns the sorted-by-iteration list of keys whose
// scalar values differ between the old and new row images. Values that
// decode to JSON objects or arrays are ignored and never reported.
//
// Iteration follows the new image's keys, so the result order is not
// guaranteed stable across runs; callers that need determinism sort it.
func ComputeUpdatedFields(oldRow, newRow map[string]any) []string {
	var updated []string
	for key, newVal := range newRow {
		if isComposite(newVal) || isComposite(oldRow[key]) {
			continue
		}
		if newVal != oldRow[key] {
			updated = append(updated, key)
		}
	}
	return updated
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
