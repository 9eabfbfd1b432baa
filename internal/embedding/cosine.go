package embedding

import (
	"log/slog"
	"math"
	"sync"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
)

// Accelerator is an optional batched similarity backend (e.g. a GPU
// service). Failures downgrade to the CPU path and are never surfaced.
type Accelerator interface {
	CosineMatrix(a, b [][]float64) ([][]float64, error)
}

var (
	accelMu  sync.RWMutex
	accel    Accelerator
	degraded bool
)

// SetAccelerator installs the batched similarity backend. Pass nil to force
// the CPU path.
func SetAccelerator(a Accelerator) {
	accelMu.Lock()
	defer accelMu.Unlock()
	accel = a
	degraded = false
	observability.EmbeddingBackendDegraded.Set(0)
}

// Cos returns max(0, cos(a, b)) clamped to [0, 1]. Operands may be
// non-unit; zero vectors yield 0.
func Cos(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// CosMatrix returns the m x n matrix of clamped cosine similarities between
// the rows of a and b. An installed accelerator is tried first; on failure
// the call falls back to the CPU reference and the degraded flag is raised.
func CosMatrix(a, b [][]float64) [][]float64 {
	accelMu.RLock()
	acc := accel
	accelMu.RUnlock()

	if acc != nil {
		out, err := acc.CosineMatrix(a, b)
		if err == nil && len(out) == len(a) {
			return clampMatrix(out)
		}
		accelMu.Lock()
		if !degraded {
			degraded = true
			observability.EmbeddingBackendDegraded.Set(1)
			slog.Warn("similarity accelerator failed, falling back to CPU", slog.Any("error", err))
		}
		accelMu.Unlock()
	}

	out := make([][]float64, len(a))
	for i := range a {
		row := make([]float64, len(b))
		for j := range b {
			row[j] = Cos(a[i], b[j])
		}
		out[i] = row
	}
	return out
}

func clampMatrix(m [][]float64) [][]float64 {
	for i := range m {
		for j := range m[i] {
			if m[i][j] < 0 {
				m[i][j] = 0
			} else if m[i][j] > 1 {
				m[i][j] = 1
			}
		}
	}
	return m
}

// normalize scales v to unit L2 norm in place and returns it. Zero vectors
// are returned unchanged.
func normalize(v []float64) []float64 {
	var n float64
	for _, x := range v {
		n += x * x
	}
	if n == 0 {
		return v
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] /= n
	}
	return v
}
