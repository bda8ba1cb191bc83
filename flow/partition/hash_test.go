package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/flow/partition"
)

func TestOfIsDeterministic(t *testing.T) {
	a := partition.Of(partition.FNV1a{}, "BTCUSD", 16)
	b := partition.Of(partition.FNV1a{}, "BTCUSD", 16)
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, a, 0)
	require.Less(t, a, 16)
}

func TestOfDistributesAcrossKeys(t *testing.T) {
	seen := make(map[int]struct{})
	for i := 0; i < 64; i++ {
		key := string(rune('a' + (i % 26)))
		seen[partition.Of(partition.FNV1a{}, key, 8)] = struct{}{}
	}
	require.Greater(t, len(seen), 1, "expected keys to spread across more than one partition")
}

func TestOfZeroPartitionsIsZero(t *testing.T) {
	require.Equal(t, 0, partition.Of(partition.FNV1a{}, "x", 0))
}
