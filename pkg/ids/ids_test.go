package ids

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLengthAndCharset(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := New()
		require.Len(t, id, Length)
		for _, c := range id {
			assert.True(t, strings.ContainsRune(base62Chars, c), "unexpected character %q in %s", c, id)
		}
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewSortsInCreationOrder(t *testing.T) {
	generated := make([]string, 100)
	for i := range generated {
		generated[i] = New()
	}
	assert.True(t, sort.StringsAreSorted(generated))
}
