// Package matching computes deterministic CV/JD match scores from
// embedding bundles.
package matching

import "math"

// Assign solves the linear assignment problem on a square similarity
// matrix, returning for each row the column that maximizes the total
// similarity. The solver is exact (Jonker–Volgenant shortest augmenting
// paths on cost -sim); row order and strict minimum comparisons make ties
// resolve to the lowest (row, column) pair, so results are reproducible
// across runs and machines.
func Assign(sim [][]float64) []int {
	n := len(sim)
	if n == 0 {
		return nil
	}
	cost := make([][]float64, n)
	for i := range sim {
		cost[i] = make([]float64, n)
		for j := range sim[i] {
			cost[i][j] = -sim[i][j]
		}
	}
	return solveMinCost(cost)
}

// solveMinCost implements the O(n^3) shortest-augmenting-path method with
// row/column potentials. Indices are 1-based internally; column 0 is the
// virtual source.
func solveMinCost(cost [][]float64) []int {
	n := len(cost)
	inf := math.Inf(1)
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j]: row assigned to column j
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	out := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			out[p[j]-1] = j - 1
		}
	}
	return out
}
