package pgcdc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/pgcdc/model"
)

type testUser struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	Name      string `gorm:"column:name"`
	Email     string `gorm:"column:email"`
	CreatedAt time.Time
}

func (testUser) TableName() string { return "test_users" }

type testOrder struct {
	ID     int64 `gorm:"column:id;primaryKey"`
	UserID int64 `gorm:"column:user_id"`
	Total  int64 `gorm:"column:total"`
}

func (testOrder) TableName() string { return "test_orders" }

type nopHandler struct{}

func (nopHandler) Process(_ context.Context, _ *model.Changes, _ func(ids []int64)) {}

func TestDiscover_SingleRegistration(t *testing.T) {
	registry := NewRegistry()
	registry.Register(HandlerRegistration{
		Entity:  &testUser{},
		Handler: nopHandler{},
	})

	d, err := Discover(registry, "public")
	require.NoError(t, err)

	require.Contains(t, d.Tables, "test_users")
	info := d.Tables["test_users"]
	assert.Equal(t, "public", info.Schema)
	assert.Contains(t, info.Columns, "id")
	assert.Contains(t, info.Columns, "name")
	assert.Contains(t, info.Columns, "email")
	assert.Contains(t, info.Columns, "created_at")

	// Bidirectional column <-> field maps
	assert.Equal(t, "Name", info.ColumnToField["name"])
	assert.Equal(t, "name", info.FieldToColumn["Name"])
	assert.Equal(t, "CreatedAt", info.ColumnToField["created_at"])

	// Constructor thunk produces an empty entity
	require.NotNil(t, info.NewEntity)
	_, ok := info.NewEntity().(*testUser)
	assert.True(t, ok)

	listener := d.Listeners["test_users"]
	require.NotNil(t, listener)
	assert.Len(t, listener.Handlers, 1)
	assert.Empty(t, listener.Events) // empty mask = all events
	assert.Equal(t, []string{"test_users"}, d.TableOrder)
}

func TestDiscover_MergesRegistrations(t *testing.T) {
	first := nopHandler{}
	second := HandlerFunc(func(context.Context, *model.Changes, func(ids []int64)) {})

	registry := NewRegistry()
	registry.Register(HandlerRegistration{
		Entity:        &testUser{},
		Events:        []model.Event{model.EventInsert},
		PayloadFields: []string{"Name"},
		Handler:       first,
	})
	registry.Register(HandlerRegistration{
		Entity:        &testUser{},
		Events:        []model.Event{model.EventUpdate},
		PayloadFields: []string{"Email"},
		Handler:       second,
	})

	d, err := Discover(registry, "public")
	require.NoError(t, err)

	listener := d.Listeners["test_users"]
	require.NotNil(t, listener)

	// Handlers appended in registration order
	assert.Len(t, listener.Handlers, 2)

	// Event masks unioned
	assert.ElementsMatch(t, []model.Event{model.EventInsert, model.EventUpdate}, listener.Events)

	// Payload fields unioned
	assert.ElementsMatch(t, []string{"Name", "Email"}, listener.PayloadFields)

	// Each handler keeps its own mask for dispatch-time narrowing
	assert.Equal(t, []model.Event{model.EventInsert}, listener.EventsByHandler[0])
	assert.Equal(t, []model.Event{model.EventUpdate}, listener.EventsByHandler[1])
}

func TestDiscover_EmptyMaskWidensToAll(t *testing.T) {
	registry := NewRegistry()
	registry.Register(HandlerRegistration{
		Entity:  &testUser{},
		Events:  []model.Event{model.EventInsert},
		Handler: nopHandler{},
	})
	registry.Register(HandlerRegistration{
		Entity:  &testUser{},
		Handler: nopHandler{}, // no mask = all events
	})

	d, err := Discover(registry, "public")
	require.NoError(t, err)

	assert.Empty(t, d.Listeners["test_users"].Events)
}

func TestDiscover_SchemaFallback(t *testing.T) {
	registry := NewRegistry()
	registry.Register(HandlerRegistration{
		Entity:  &testUser{},
		Handler: nopHandler{},
	})
	registry.Register(HandlerRegistration{
		Entity:  &testOrder{},
		Schema:  "billing",
		Handler: nopHandler{},
	})

	d, err := Discover(registry, "app")
	require.NoError(t, err)

	assert.Equal(t, "app", d.Listeners["test_users"].Schema)
	assert.Equal(t, "billing", d.Listeners["test_orders"].Schema)
}

func TestDiscover_TableOnlyRegistration(t *testing.T) {
	registry := NewRegistry()
	registry.Register(HandlerRegistration{
		Table:   "raw_events",
		Handler: nopHandler{},
	})

	d, err := Discover(registry, "public")
	require.NoError(t, err)

	info := d.Tables["raw_events"]
	require.NotNil(t, info)
	assert.Empty(t, info.Columns)

	// Without metadata, payload keys pass through unmapped.
	row := map[string]any{"a": 1}
	assert.Equal(t, row, info.RemapToFields(row))
}

func TestDiscover_Errors(t *testing.T) {
	t.Run("No handler", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(HandlerRegistration{Entity: &testUser{}})

		_, err := Discover(registry, "public")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no handler")
	})

	t.Run("No target", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(HandlerRegistration{Handler: nopHandler{}})

		_, err := Discover(registry, "public")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no entity target")
	})

	t.Run("Unparseable entity names the target", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(HandlerRegistration{Entity: 42, Handler: nopHandler{}})

		_, err := Discover(registry, "public")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "int")
	})
}
