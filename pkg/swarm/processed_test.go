// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package swarm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessedSetMarkOnce(t *testing.T) {
	p := newProcessedSet()
	assert.True(t, p.markOnce("a"))
	assert.False(t, p.markOnce("a"))
	assert.True(t, p.markOnce("b"))
	assert.Equal(t, 2, p.len())
}

func TestProcessedSetEvictsOldestQuarter(t *testing.T) {
	p := newProcessedSet()
	for i := 0; i < processedLimit; i++ {
		p.markOnce(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, processedLimit, p.len())

	// The next insert evicts the oldest quarter, so an early id can be
	// marked again while a recent one cannot.
	assert.True(t, p.markOnce("overflow"))
	assert.True(t, p.markOnce("id-0"))
	assert.False(t, p.markOnce(fmt.Sprintf("id-%d", processedLimit-1)))
	assert.LessOrEqual(t, p.len(), processedLimit)
}
