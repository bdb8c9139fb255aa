package partition

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/harvester/internal/interfaces"
)

func testKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("https://ocw.mit.edu/courses/course-%04d", i)
	}
	return keys
}

func TestAssign_SingleNode(t *testing.T) {
	for _, key := range testKeys(50) {
		assert.Equal(t, 0, Assign(key, 1))
		assert.Equal(t, 0, Assign(key, 0), "non-positive node counts degenerate to one node")
	}
}

func TestAssign_Deterministic(t *testing.T) {
	for _, key := range testKeys(100) {
		first := Assign(key, 7)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, Assign(key, 7))
		}
	}
}

func TestAssign_KnownHash(t *testing.T) {
	// XXH3-64 of the empty input with seed 0
	assert.Equal(t, uint64(0x2d06800538d394c2), Hash(""))
}

func TestPartition_CompleteAndDisjoint(t *testing.T) {
	keys := testKeys(1000)

	for _, n := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("nodes=%d", n), func(t *testing.T) {
			owners := make(map[string]int, len(keys))
			for node := 0; node < n; node++ {
				p, err := New(node, n)
				require.NoError(t, err)
				for _, key := range keys {
					if !p.Owns(key) {
						continue
					}
					prev, taken := owners[key]
					require.False(t, taken, "key %s owned by %d and %d", key, prev, node)
					owners[key] = node
				}
			}
			assert.Len(t, owners, len(keys), "every key has exactly one owner")
			for key, node := range owners {
				assert.GreaterOrEqual(t, node, 0)
				assert.Less(t, node, n)
				assert.Equal(t, node, Assign(key, n))
			}
		})
	}
}

func TestPartition_Spread(t *testing.T) {
	counts := make([]int, 4)
	for _, key := range testKeys(4000) {
		counts[Assign(key, 4)]++
	}
	for node, c := range counts {
		assert.Greater(t, c, 500, "node %d received too few keys", node)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 0)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	_, err = New(2, 2)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	_, err = New(-1, 2)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	p, err := New(1, 2)
	require.NoError(t, err)
	assert.True(t, p.Distributed())
	assert.Equal(t, 1, p.NodeID())
	assert.Equal(t, 2, p.TotalNodes())
}
