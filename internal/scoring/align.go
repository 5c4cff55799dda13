package scoring

// alignPositional pairs target[i] with spoken[i]; missing positions are "".
func alignPositional(target, spoken []string) []string {
	out := make([]string, len(target))
	for i := range target {
		if i < len(spoken) {
			out[i] = spoken[i]
		}
	}
	return out
}

// alignEditDistance pairs words along a minimum edit script. Target words that
// the script deletes are paired with "", extra spoken words are dropped.
func alignEditDistance(target, spoken []string) []string {
	n, m := len(target), len(spoken)
	dist := make([][]int, n+1)
	for i := range dist {
		dist[i] = make([]int, m+1)
		dist[i][0] = i
	}
	for j := 0; j <= m; j++ {
		dist[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := dist[i-1][j-1]
			if target[i-1] != spoken[j-1] {
				sub++
			}
			dist[i][j] = min(sub, dist[i-1][j]+1, dist[i][j-1]+1)
		}
	}

	out := make([]string, n)
	i, j := n, m
	for i > 0 {
		switch {
		case j > 0 && dist[i][j] == dist[i-1][j-1]+cost(target[i-1], spoken[j-1]):
			out[i-1] = spoken[j-1]
			i--
			j--
		case dist[i][j] == dist[i-1][j]+1:
			i--
		default:
			j--
		}
	}
	return out
}

func cost(a, b string) int {
	if a == b {
		return 0
	}
	return 1
}
