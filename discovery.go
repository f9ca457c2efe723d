package pgcdc

import (
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"

	"github.com/coregx/pgcdc/model"
)

// Listener is the merged view of every registration against one table:
// the union of event masks, the union of payload field projections and the
// fan-out list of handlers in registration order.
type Listener struct {
	Table         string
	Schema        string
	Events        []model.Event
	PayloadFields []string
	Handlers      []Handler

	// EventsByHandler keeps each handler's own mask so dispatch can narrow
	// the merged trigger mask back down per handler.
	EventsByHandler [][]model.Event
}

// Discovery is the immutable result of resolving all handler registrations
// at startup. It is computed once and read-only afterwards.
type Discovery struct {
	// Tables maps table names to their descriptors.
	Tables map[string]*model.TableInfo

	// Listeners maps table names to their merged registration records.
	Listeners map[string]*Listener

	// TableOrder lists table names in first-registration order.
	TableOrder []string
}

// HandlersFor returns the fan-out list for a table, or nil when the table
// has no registrations.
func (d *Discovery) HandlersFor(table string) []Handler {
	if l, ok := d.Listeners[d.key(table)]; ok {
		return l.Handlers
	}
	return nil
}

func (d *Discovery) key(table string) string { return table }

// namerCache is shared across discovery runs; gorm's schema parser caches
// parsed types in it.
var namerCache sync.Map

// Discover resolves the collected registrations against entity metadata and
// produces the merged per-table view used by the trigger service and the
// processor. defaultSchema is applied to registrations without an explicit
// schema.
//
// Discovery fails fast with a descriptive error when a registration's
// entity has no parseable metadata or no handler.
func Discover(registry *Registry, defaultSchema string) (*Discovery, error) {
	d := &Discovery{
		Tables:    make(map[string]*model.TableInfo),
		Listeners: make(map[string]*Listener),
	}

	for i, reg := range registry.Registrations() {
		if reg.Handler == nil {
			return nil, NewError(ErrCodeDiscovery,
				fmt.Sprintf("registration %d has no handler", i))
		}
		if reg.Entity == nil && reg.Table == "" {
			return nil, NewError(ErrCodeDiscovery,
				fmt.Sprintf("registration %d has no entity target", i))
		}

		var info *model.TableInfo
		if reg.Entity != nil {
			parsed, err := parseEntity(reg.Entity)
			if err != nil {
				return nil, NewErrorWithCause(ErrCodeDiscovery,
					fmt.Sprintf("no metadata for entity target %T", reg.Entity), err)
			}
			info = parsed
		} else {
			// Table-only registration: no entity metadata, payloads keep
			// their database column names.
			info = &model.TableInfo{
				ColumnToField: map[string]string{},
				FieldToColumn: map[string]string{},
			}
		}

		if reg.Table != "" {
			info.Name = reg.Table
		}
		info.Schema = reg.Schema
		if info.Schema == "" {
			info.Schema = defaultSchema
		}

		listener, ok := d.Listeners[info.Name]
		if !ok {
			listener = &Listener{
				Table:  info.Name,
				Schema: info.Schema,
			}
			d.Listeners[info.Name] = listener
			d.Tables[info.Name] = info
			d.TableOrder = append(d.TableOrder, info.Name)
		}

		listener.Events = mergeEvents(listener.Events, reg.Events, len(listener.Handlers) > 0)
		listener.PayloadFields = mergeFields(listener.PayloadFields, reg.PayloadFields, len(listener.Handlers) > 0)
		listener.Handlers = append(listener.Handlers, reg.Handler)

		handlerEvents := reg.Events
		if len(handlerEvents) == 0 {
			handlerEvents = model.AllEvents
		}
		listener.EventsByHandler = append(listener.EventsByHandler, handlerEvents)
	}

	return d, nil
}

// parseEntity derives a table descriptor from an entity struct using gorm's
// schema parser. The entity must be a struct or pointer to struct.
func parseEntity(entity any) (*model.TableInfo, error) {
	s, err := schema.Parse(entity, &namerCache, schema.NamingStrategy{})
	if err != nil {
		return nil, err
	}

	info := &model.TableInfo{
		Name:          s.Table,
		ColumnToField: make(map[string]string),
		FieldToColumn: make(map[string]string),
	}

	for _, field := range s.Fields {
		if field.DBName == "" {
			continue
		}
		info.Columns = append(info.Columns, field.DBName)
		info.ColumnToField[field.DBName] = field.Name
		info.FieldToColumn[field.Name] = field.DBName
	}

	modelType := s.ModelType
	info.NewEntity = func() any {
		return reflect.New(modelType).Interface()
	}

	return info, nil
}

// mergeEvents unions two event masks. An empty mask on either side of an
// existing merge means "all events" and wins.
func mergeEvents(current, incoming []model.Event, hasPrior bool) []model.Event {
	if hasPrior && len(current) == 0 {
		return nil // an earlier registration already widened to all events
	}
	if len(incoming) == 0 {
		return nil
	}
	if !hasPrior {
		return uniqueEvents(incoming)
	}
	return uniqueEvents(append(append([]model.Event{}, current...), incoming...))
}

func uniqueEvents(events []model.Event) []model.Event {
	seen := make(map[model.Event]bool, len(events))
	var out []model.Event
	for _, e := range events {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// mergeFields unions two payload field projections. An empty projection on
// either side of an existing merge means "full row" and wins.
func mergeFields(current, incoming []string, hasPrior bool) []string {
	if hasPrior && len(current) == 0 {
		return nil
	}
	if len(incoming) == 0 {
		return nil
	}
	if !hasPrior {
		return uniqueStrings(incoming)
	}
	return uniqueStrings(append(append([]string{}, current...), incoming...))
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
