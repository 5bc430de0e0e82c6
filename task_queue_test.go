package sarfs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meigma/sarfs/sar"
)

func TestTaskQueuePriorityOnlyRises(t *testing.T) {
	t.Parallel()
	a, b, c := tablePaths()
	q := newTaskQueue()
	assert.False(t, q.hasEntries())

	q.fetch(a, PriorityLow)
	q.fetch(a, PriorityHigh)
	q.fetch(b, PriorityHigh)
	q.fetch(b, PriorityLow)
	q.fetchAll([]sar.FilePath{b, c}, PriorityMedium)
	assert.True(t, q.hasEntries())

	got := q.popAll()
	assert.Equal(t, map[sar.FilePath]Priority{
		a: PriorityHigh,
		b: PriorityHigh,
		c: PriorityMedium,
	}, got)
	assert.False(t, q.hasEntries())
	assert.Empty(t, q.popAll())
}
