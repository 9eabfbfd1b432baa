package embedmodel

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// Stub is a deterministic embeddings backend. Identical text always maps to
// the identical vector, so matches are reproducible without a provider.
type Stub struct{}

// NewStub constructs the stub backend.
func NewStub() *Stub { return &Stub{} }

// Name identifies the backend in metrics.
func (s *Stub) Name() string { return "stub" }

// EmbedBatch derives each vector from the text's SHA-256 digest via a
// splitmix64 stream. Vectors are not normalized here; the engine does that.
func (s *Stub) EmbedBatch(_ domain.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = stubVector(t)
	}
	return out, nil
}

func stubVector(text string) []float64 {
	h := sha256.Sum256([]byte(text))
	state := binary.BigEndian.Uint64(h[:8])
	v := make([]float64, domain.EmbeddingDim)
	for i := range v {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		// Uniform in [-1, 1)
		v[i] = float64(int64(z)) / float64(1<<63)
	}
	return v
}
