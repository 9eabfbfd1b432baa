package embedding

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// Backend produces raw embedding vectors for a batch of texts. One backend
// instance is shared process-wide; thread-safety is delegated to the
// implementation.
type Backend interface {
	Name() string
	EmbedBatch(ctx domain.Context, texts []string) ([][]float64, error)
}

// Engine implements domain.Embedder on top of a shared Backend with an
// in-process content-hash cache.
type Engine struct {
	backend Backend
	cache   *vectorCache
}

// New constructs the engine and probes the backend once so that a model
// that cannot be loaded fails at startup rather than on the first job.
func New(ctx domain.Context, backend Backend, cacheSize int) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("op=embedding.New: nil backend: %w", domain.ErrModelInit)
	}
	probe, err := backend.EmbedBatch(ctx, []string{"startup probe"})
	if err != nil {
		return nil, fmt.Errorf("op=embedding.New: probe: %w: %v", domain.ErrModelInit, err)
	}
	if len(probe) != 1 {
		return nil, fmt.Errorf("op=embedding.New: probe returned %d vectors: %w", len(probe), domain.ErrModelInit)
	}
	if len(probe[0]) != domain.EmbeddingDim {
		return nil, fmt.Errorf("op=embedding.New: probe dim %d: %w", len(probe[0]), domain.ErrModelInit)
	}
	return &Engine{backend: backend, cache: newVectorCache(cacheSize)}, nil
}

// EmbedText produces a unit-norm vector for a single non-empty string.
func (e *Engine) EmbedText(ctx domain.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("op=embedding.EmbedText: %w", domain.ErrEmptyInput)
	}
	vecs, err := e.embedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocument embeds a normalized document into the canonical
// (20, 10, 1, 1) bundle. Empty items are replaced by fillers so the shape
// never varies.
func (e *Engine) EmbedDocument(ctx domain.Context, info domain.StandardizedInfo) (domain.Bundle, error) {
	info = info.Normalize()

	texts := make([]string, 0, domain.BundleVectors)
	for _, s := range info.Skills {
		texts = append(texts, fillEmpty(s, domain.FillerSkill))
	}
	for _, r := range info.Responsibilities {
		texts = append(texts, fillEmpty(r, domain.FillerResponsibility))
	}
	texts = append(texts, strconv.Itoa(info.ExperienceYears)+" years of experience")
	texts = append(texts, info.JobTitle)

	vecs, err := e.embedAll(ctx, texts)
	if err != nil {
		return domain.Bundle{}, err
	}

	b := domain.Bundle{
		Skills:           vecs[:domain.SkillsCount],
		Responsibilities: vecs[domain.SkillsCount : domain.SkillsCount+domain.ResponsibilitiesCount],
		Experience:       vecs[domain.BundleVectors-2],
		Title:            vecs[domain.BundleVectors-1],
	}
	if err := b.Validate(); err != nil {
		return domain.Bundle{}, fmt.Errorf("op=embedding.EmbedDocument: %w", err)
	}
	return b, nil
}

// embedAll resolves texts through the cache and batches the misses into a
// single backend call. Batching must not change results, so cache entries
// and fresh vectors are interchangeable.
func (e *Engine) embedAll(ctx domain.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, t := range texts {
		if v, ok := e.cache.get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	vecs, err := e.backend.EmbedBatch(ctx, missTexts)
	if err != nil {
		observability.EmbeddingRequestsTotal.WithLabelValues(e.backend.Name(), "error").Inc()
		return nil, fmt.Errorf("op=embedding.embedAll: %w", err)
	}
	observability.EmbeddingRequestsTotal.WithLabelValues(e.backend.Name(), "ok").Inc()
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("op=embedding.embedAll: got %d vectors for %d texts: %w", len(vecs), len(missTexts), domain.ErrShape)
	}
	for j, idx := range missIdx {
		if len(vecs[j]) != domain.EmbeddingDim {
			return nil, fmt.Errorf("op=embedding.embedAll: dim %d: %w", len(vecs[j]), domain.ErrShape)
		}
		v := normalize(vecs[j])
		out[idx] = v
		e.cache.put(missTexts[j], v)
	}
	return out, nil
}

func fillEmpty(s, filler string) string {
	if strings.TrimSpace(s) == "" {
		return filler
	}
	return s
}
