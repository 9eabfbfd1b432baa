package matching_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/matching"
)

func TestAssign_BeatsGreedy(t *testing.T) {
	t.Parallel()

	// Greedy picks (0->0, 1->1) averaging 0.45; optimal is (0->1, 1->0)
	// averaging 0.845.
	sim := [][]float64{
		{0.90, 0.85},
		{0.84, 0.00},
	}
	cols := matching.Assign(sim)
	assert.Equal(t, []int{1, 0}, cols)
}

func TestAssign_Identity(t *testing.T) {
	t.Parallel()

	sim := [][]float64{
		{1.0, 0.2, 0.1},
		{0.2, 1.0, 0.3},
		{0.1, 0.3, 1.0},
	}
	assert.Equal(t, []int{0, 1, 2}, matching.Assign(sim))
}

func TestAssign_OneToOne(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := 2 + rng.Intn(19)
		sim := make([][]float64, n)
		for i := range sim {
			sim[i] = make([]float64, n)
			for j := range sim[i] {
				sim[i][j] = rng.Float64()
			}
		}
		cols := matching.Assign(sim)
		require.Len(t, cols, n)
		seen := make(map[int]bool, n)
		for _, j := range cols {
			require.False(t, seen[j], "column assigned twice")
			seen[j] = true
		}
	}
}

func TestAssign_AtLeastGreedy(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(19)
		sim := make([][]float64, n)
		for i := range sim {
			sim[i] = make([]float64, n)
			for j := range sim[i] {
				sim[i][j] = rng.Float64()
			}
		}
		cols := matching.Assign(sim)
		var optimal float64
		for i, j := range cols {
			optimal += sim[i][j]
		}
		assert.GreaterOrEqual(t, optimal+1e-9, greedySum(sim))
	}
}

func TestAssign_Deterministic(t *testing.T) {
	t.Parallel()

	sim := [][]float64{
		{0.5, 0.5},
		{0.5, 0.5},
	}
	first := matching.Assign(sim)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, matching.Assign(sim))
	}
	// All-tied matrix resolves to the lowest (row, column) pairing.
	assert.Equal(t, []int{0, 1}, first)
}

// greedySum is the best-first baseline: repeatedly take the globally
// largest remaining cell.
func greedySum(sim [][]float64) float64 {
	n := len(sim)
	usedRow := make([]bool, n)
	usedCol := make([]bool, n)
	var total float64
	for k := 0; k < n; k++ {
		best, bi, bj := -1.0, -1, -1
		for i := 0; i < n; i++ {
			if usedRow[i] {
				continue
			}
			for j := 0; j < n; j++ {
				if usedCol[j] {
					continue
				}
				if sim[i][j] > best {
					best, bi, bj = sim[i][j], i, j
				}
			}
		}
		usedRow[bi], usedCol[bj] = true, true
		total += best
	}
	return total
}
