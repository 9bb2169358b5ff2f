package earnings

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/shift-engine/core"
)

func TestLockStripe_BoundedAndStable(t *testing.T) {
	// GIVEN: many (processor, day) keys
	// THEN: each maps to one stripe within the fixed table, every time
	day := core.Day("2025-03-10")
	used := map[uint64]bool{}
	for i := 0; i < 1000; i++ {
		pid := core.ProcessorID(fmt.Sprintf("p%d", i))
		stripe := lockStripe(pid, day)
		assert.Less(t, stripe, uint64(lockStripes))
		assert.Equal(t, stripe, lockStripe(pid, day))
		used[stripe] = true
	}
	assert.LessOrEqual(t, len(used), lockStripes)
	assert.Greater(t, len(used), 1, "keys spread over stripes")
}
