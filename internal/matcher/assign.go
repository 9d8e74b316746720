package matcher

import (
	"math"
	"sort"
)

type candidate struct {
	i, j   int
	score  float64
	volume float64
}

// assign picks one-to-one pairs greedily: highest score first, ties broken by
// greater combined volume and then row-major input order. Candidates below
// minScore are never accepted; a score equal to minScore is.
func assign(scores [][]float64, volume func(i, j int) float64, minScore float64) []candidate {
	var cands []candidate
	for i, row := range scores {
		for j, s := range row {
			if s >= minScore {
				cands = append(cands, candidate{i: i, j: j, score: s, volume: volume(i, j)})
			}
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].score != cands[b].score {
			return cands[a].score > cands[b].score
		}
		return cands[a].volume > cands[b].volume
	})

	usedI := make(map[int]struct{})
	usedJ := make(map[int]struct{})
	var out []candidate
	for _, c := range cands {
		if _, ok := usedI[c.i]; ok {
			continue
		}
		if _, ok := usedJ[c.j]; ok {
			continue
		}
		usedI[c.i] = struct{}{}
		usedJ[c.j] = struct{}{}
		out = append(out, c)
	}
	return out
}

// cosine returns the cosine similarity of a and b clamped to [0,1]. Zero vectors
// and length mismatches score 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for k := range a {
		x, y := float64(a[k]), float64(b[k])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
