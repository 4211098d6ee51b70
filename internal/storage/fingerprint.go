package storage

import (
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FingerprintDims is the vector size of the Qdrant collection.
const FingerprintDims = 128

// Fingerprint hashes the distinct per-line character trigrams of a resolved
// MRZ into a signed, L2-normalised vector. Scans of the same document that
// differ by a few OCR errors land close together under cosine distance.
// An empty input yields the zero vector.
func Fingerprint(lines []string) []float32 {
	acc := make([]float64, FingerprintDims)
	seen := make(map[string]struct{})

	for i, line := range lines {
		padded := "^" + line + "$"
		prefix := strconv.Itoa(i) + ":"
		for j := 0; j+3 <= len(padded); j++ {
			key := prefix + padded[j:j+3]
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			h := xxhash.Sum64String(key)
			sign := 1.0
			if h>>63 == 1 {
				sign = -1.0
			}
			acc[h%FingerprintDims] += sign
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, FingerprintDims)
	if norm == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

// Cosine returns the cosine similarity of two equally sized vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
