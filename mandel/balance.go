package mandel

// RankLoad is the share of a render's work done by one rank.
type RankLoad struct {
	Rank       int
	Rows       int
	Iterations int64
}

// Balance attributes the iteration cost of an assembled matrix to the ranks the
// partition assigns each row to. Ownership is a pure function, so the root can do
// this after the fact without asking anyone. The second result is max/mean cost,
// 1 for a perfectly even split.
func Balance(m *Matrix, part Partition) ([]RankLoad, float64) {
	loads := make([]RankLoad, part.Size)
	for r := range loads {
		loads[r].Rank = r
	}
	for row := 0; row < m.Height; row++ {
		l := &loads[part.Owner(row)]
		l.Rows++
		for _, n := range m.Row(row) {
			// every pixel costs at least the first bailout test
			l.Iterations += int64(n) + 1
		}
	}

	var total, max int64
	for _, l := range loads {
		total += l.Iterations
		if l.Iterations > max {
			max = l.Iterations
		}
	}
	if total == 0 {
		return loads, 1
	}
	mean := float64(total) / float64(len(loads))
	return loads, float64(max) / mean
}
