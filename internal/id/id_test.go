package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Uniqueness(t *testing.T) {
	// Generate many IDs and verify they're unique
	ids := make(map[string]bool)
	count := 1000

	for i := 0; i < count; i++ {
		id, err := Generate("test")
		require.NoError(t, err)
		assert.False(t, ids[id], "ID should be unique: %s", id)
		ids[id] = true
	}

	assert.Len(t, ids, count)
}

func TestGenerate_Format(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
	}{
		{"job", "job"},
		{"queue entry", "qe"},
		{"record", "rec"},
		{"stream client", "stream"},
		{"token", "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Generate(tt.prefix)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(id, tt.prefix+"-"))
			// Prefix + "-" + 21 char nanoid
			assert.Len(t, id, len(tt.prefix)+1+21)
		})
	}
}

func TestMustGenerate_Format(t *testing.T) {
	id := MustGenerate("job")
	assert.True(t, strings.HasPrefix(id, "job-"))
	assert.Len(t, id, 4+21)
}

func TestMustGenerate_Uniqueness(t *testing.T) {
	a := MustGenerate("job")
	b := MustGenerate("job")
	assert.NotEqual(t, a, b)
}
