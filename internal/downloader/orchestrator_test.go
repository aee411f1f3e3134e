package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionDistributesContiguousRanges(t *testing.T) {
	ranges := partition(10, 3)
	a := assert.New(t)
	a.Len(ranges, 3)
	total := 0
	for i, r := range ranges {
		if i > 0 {
			a.Equal(ranges[i-1][1], r[0], "ranges must be contiguous")
		}
		total += r[1] - r[0]
	}
	a.Equal(10, total)
}

func TestPartitionHandlesFewerPiecesThanWorkers(t *testing.T) {
	ranges := partition(2, 5)
	assert.Len(t, ranges, 2)
	assert.Equal(t, [2]int{0, 1}, ranges[0])
	assert.Equal(t, [2]int{1, 2}, ranges[1])
}

func TestPartitionZeroWorkersReturnsNil(t *testing.T) {
	assert.Nil(t, partition(10, 0))
}
