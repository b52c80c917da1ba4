package track

import "math"

// padCost is the sentinel cost assigned to padded rows/columns when the
// cost matrix is not square. Any assignment landing on a padded cell is
// discarded before the max_dist filter runs. This is the chosen resolution
// to spec §9's "non-square padding convention" Open Question: document and
// test it rather than depend on an unstated third-party solver convention.
const padCost = 1e6

// Solve computes the minimum-cost perfect assignment over a square cost
// matrix using the Kuhn-Munkres (Hungarian) algorithm. It returns
// assignment such that assignment[row] is the assigned column, or -1 if
// row could not be assigned (only possible for malformed input).
//
// This is an O(n^3) primal-dual implementation; no example or third-party
// library in the reference pack ships a Hungarian/Munkres solver, so it is
// written from scratch here rather than adapted from a library.
func Solve(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}

	const inf = math.MaxFloat64 / 2

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row assigned to column j (1-indexed columns)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

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

	assignment := make([]int, n)
	for i := range assignment {
		assignment[i] = -1
	}
	for j := 1; j <= n; j++ {
		if p[j] != 0 {
			assignment[p[j]-1] = j - 1
		}
	}
	return assignment
}

// SolvePadded builds a square cost matrix from a possibly-rectangular
// rows x cols cost matrix by padding the shorter dimension with padCost
// sentinel cells, solves it, and returns an assignment vector sized to the
// original row count. assignment[i] is the assigned column index in
// [0, cols), or -1 if row i was assigned to a padded (nonexistent) column.
func SolvePadded(cost [][]float64, rows, cols int) []int {
	n := rows
	if cols > n {
		n = cols
	}
	if n == 0 {
		return nil
	}

	square := make([][]float64, n)
	for i := 0; i < n; i++ {
		square[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i < rows && j < cols {
				square[i][j] = cost[i][j]
			} else {
				square[i][j] = padCost
			}
		}
	}

	full := Solve(square)

	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		j := full[i]
		if j < 0 || j >= cols {
			out[i] = -1
			continue
		}
		out[i] = j
	}
	return out
}
