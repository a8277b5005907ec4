package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLaneOf(t *testing.T) {
	assert.Equal(t, 0, laneOf("anything", 1))
	assert.Equal(t, laneOf("user-42", 8), laneOf("user-42", 8))
	for _, key := range []string{"a", "b", "c", "user-1", ""} {
		lane := laneOf(key, 5)
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, 5)
	}
	assert.Panics(t, func() { laneOf("a", 0) })
}
