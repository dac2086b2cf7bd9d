package vector

import (
	"math"
	"sort"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// A zero-magnitude operand yields 0.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	s := InnerProduct(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, s))
}

// bruteForce scores every vector against query and returns the best k with
// the row position as ID. Equal scores keep row order.
func bruteForce(query []float32, vectors [][]float32, k int) []*VectorResult {
	if k <= 0 || len(vectors) == 0 {
		return nil
	}
	scores := make([]*VectorResult, len(vectors))
	for i, vec := range vectors {
		scores[i] = &VectorResult{ID: int64(i), Score: CosineSimilarity(query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k]
}
