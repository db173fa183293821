package analysis

import (
	"errors"
	"math"

	"github.com/okian/proctor/internal/domain/model"
)

// ErrEmbeddingShape is returned when two embeddings cannot be compared.
var ErrEmbeddingShape = errors.New("embedding length mismatch")

// CosineSimilarity compares two embeddings. A zero vector has similarity 0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrEmbeddingShape
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Matches applies the fixed identity threshold.
func Matches(similarity float64) bool {
	return similarity > model.IdentityMatchThreshold
}
