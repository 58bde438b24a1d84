package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsUniqueAndSortable(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 1000; i++ {
		v := New()
		assert.Len(t, v, 26)
		assert.False(t, seen[v])
		seen[v] = true
		if prev != "" {
			assert.Less(t, prev, v)
		}
		prev = v
	}
}
