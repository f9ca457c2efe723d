package pgcdc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/pgcdc/model"
)

func newTestTriggerService() *TriggerService {
	return NewTriggerService(nil, &NoopLogger{},
		"pubsub_trigger", "public", "public", "pg_pubsub_queue", ReconcileDifferential)
}

func discoverTestUsers(t *testing.T, regs ...HandlerRegistration) *Discovery {
	t.Helper()
	registry := NewRegistry()
	for _, reg := range regs {
		registry.Register(reg)
	}
	d, err := Discover(registry, "public")
	require.NoError(t, err)
	return d
}

func TestTriggerService_DesiredSet(t *testing.T) {
	svc := newTestTriggerService()
	d := discoverTestUsers(t,
		HandlerRegistration{Entity: &testUser{}, Handler: nopHandler{}},
		HandlerRegistration{
			Entity:        &testOrder{},
			Events:        []model.Event{model.EventInsert},
			PayloadFields: []string{"UserID", "Total"},
			Handler:       nopHandler{},
		},
	)

	desired := svc.desiredSet(d)
	require.Len(t, desired, 2)

	users := desired[0]
	assert.Equal(t, "test_users", users.Table)
	assert.Equal(t, "pubsub_trigger_test_users", users.FunctionName)
	assert.Equal(t, model.AllEvents, users.Events)
	assert.Empty(t, users.PayloadColumns) // full row

	orders := desired[1]
	assert.Equal(t, "pubsub_trigger_test_orders", orders.FunctionName)
	assert.Equal(t, []model.Event{model.EventInsert}, orders.Events)
	// Field names translated to database column names
	assert.Equal(t, []string{"user_id", "total"}, orders.PayloadColumns)
}

func TestTriggerService_FunctionSQL_FullRow(t *testing.T) {
	svc := newTestTriggerService()

	sql := svc.functionSQL(desiredTrigger{
		Schema:       "public",
		Table:        "test_users",
		FunctionName: "pubsub_trigger_test_users",
		Events:       model.AllEvents,
	})

	assert.Contains(t, sql, `CREATE OR REPLACE FUNCTION "public"."pubsub_trigger_test_users"()`)
	assert.Contains(t, sql, "RETURNS trigger")
	assert.Contains(t, sql, "LANGUAGE plpgsql")

	// All three event branches present
	assert.Contains(t, sql, "'INSERT'")
	assert.Contains(t, sql, "'UPDATE'")
	assert.Contains(t, sql, "'DELETE'")

	// Full-row payloads
	assert.Contains(t, sql, "to_jsonb(NEW)")
	assert.Contains(t, sql, "to_jsonb(OLD)")

	// UPDATE carries both images
	assert.Contains(t, sql, "jsonb_build_object('new', to_jsonb(NEW), 'old', to_jsonb(OLD))")

	// Enqueue and notify with the inserted queue row id
	assert.Contains(t, sql, `INSERT INTO "public"."pg_pubsub_queue" (channel, payload, status)`)
	assert.Contains(t, sql, "RETURNING id INTO message_id")
	assert.Contains(t, sql, "PERFORM pg_notify('pubsub_trigger', message_id::text)")

	// The trigger does not compute updatedFields
	assert.NotContains(t, sql, "updatedFields")
}

func TestTriggerService_FunctionSQL_PayloadProjection(t *testing.T) {
	svc := newTestTriggerService()

	sql := svc.functionSQL(desiredTrigger{
		Schema:         "public",
		Table:          "test_orders",
		FunctionName:   "pubsub_trigger_test_orders",
		Events:         []model.Event{model.EventInsert},
		PayloadColumns: []string{"user_id", "total"},
	})

	assert.Contains(t, sql, `jsonb_build_object('user_id', NEW."user_id", 'total', NEW."total")`)
	assert.NotContains(t, sql, "to_jsonb(NEW)")
}

func TestTriggerService_TriggerSQL(t *testing.T) {
	svc := newTestTriggerService()

	stmts := svc.triggerSQL(desiredTrigger{
		Schema:       "public",
		Table:        "test_users",
		FunctionName: "pubsub_trigger_test_users",
		Events:       []model.Event{model.EventInsert, model.EventDelete},
	})

	require.Len(t, stmts, 2)
	assert.Equal(t, `DROP TRIGGER IF EXISTS "pubsub_trigger_test_users" ON "public"."test_users"`, stmts[0])
	assert.Equal(t,
		`CREATE TRIGGER "pubsub_trigger_test_users" AFTER INSERT OR DELETE ON "public"."test_users" FOR EACH ROW EXECUTE FUNCTION "public"."pubsub_trigger_test_users"()`,
		stmts[1])
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"pubsub_trigger_", `pubsub\_trigger\_%`},
		{"cdc_", `cdc\_%`},
		{"100%_", `100\%\_%`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, likePattern(tt.prefix))
	}
}

func TestDropFunctionSQL(t *testing.T) {
	sql := dropFunctionSQL(installedFunction{Schema: "public", Name: "pubsub_trigger_old"})
	assert.Equal(t, `DROP FUNCTION IF EXISTS "public"."pubsub_trigger_old"() CASCADE`, sql)
}

func TestReconcileLockKeyIsStable(t *testing.T) {
	// The lock key hash must be identical across instances for mutual
	// exclusion to work.
	assert.Equal(t, HashKey(ReconcileLockKey), HashKey("pg_pubsub"))
	assert.True(t, strings.HasPrefix(ReconcileLockKey, "pg_"))
}
