package pgcdc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "Empty string", key: ""},
		{name: "Short key", key: "a"},
		{name: "Reconcile lock key", key: "pg_pubsub"},
		{name: "Long key", key: "a-rather-long-advisory-lock-key-with-dashes-and-digits-1234567890"},
		{name: "Unicode key", key: "ключ-καί-键"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HashKey(tt.key)

			// Range invariant: [0, 2^31-2]
			assert.GreaterOrEqual(t, h, int64(0))
			assert.LessOrEqual(t, h, int64(1<<31-2))

			// Purity: equal inputs give equal outputs
			assert.Equal(t, h, HashKey(tt.key))
		})
	}
}

func TestHashKey_EmptyString(t *testing.T) {
	assert.Equal(t, int64(0), HashKey(""))
}

func TestHashKey_Distribution(t *testing.T) {
	// Distinct keys should not trivially collide.
	seen := make(map[int64]string)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("table_%d", i)
		h := HashKey(key)
		if prev, ok := seen[h]; ok {
			t.Fatalf("hash collision between %q and %q", prev, key)
		}
		seen[h] = key
	}
}
