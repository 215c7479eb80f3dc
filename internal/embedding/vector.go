package embedding

import "math"

// Normalize forces vec to targetDims: longer vectors are truncated, shorter
// ones right-padded with zeros. A lossy compatibility shim for running a
// mismatched backend against a fixed-dimension corpus, not a substitute for
// a matching model.
func Normalize(vec []float32, targetDims int) []float32 {
	if targetDims <= 0 || len(vec) == targetDims {
		return vec
	}

	out := make([]float32, targetDims)
	copy(out, vec)
	return out
}

// Cosine returns the cosine similarity between a and b. Zero when either
// vector has zero magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
