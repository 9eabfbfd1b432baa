package matching

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// Service loads bundles through the vector store and runs the engine.
type Service struct {
	Engine *Engine
	Store  domain.VectorStore
}

// NewService constructs a matching service.
func NewService(e *Engine, store domain.VectorStore) *Service {
	return &Service{Engine: e, Store: store}
}

// MatchResponse is the outcome of one ranking request.
type MatchResponse struct {
	JDID       string               `json:"jd_id"`
	JDTitle    string               `json:"jd_title"`
	Weights    domain.Weights       `json:"normalized_weights"`
	Candidates []domain.MatchResult `json:"candidates"`
}

// Rank loads the JD and candidate CVs by id and returns the top k matches.
// With all=true the entire CV collection is scanned instead of cvIDs.
func (s *Service) Rank(ctx domain.Context, jdID string, cvIDs []string, all bool, w domain.Weights, topK int) (MatchResponse, error) {
	jd, err := s.load(ctx, jdID, domain.KindJD)
	if err != nil {
		return MatchResponse{}, err
	}

	if all {
		cvIDs, err = s.allCVIDs(ctx)
		if err != nil {
			return MatchResponse{}, err
		}
	}

	cvs := make([]Input, 0, len(cvIDs))
	for _, id := range cvIDs {
		cv, err := s.load(ctx, id, domain.KindCV)
		if err != nil {
			// A missing candidate fails the request; partial rankings would
			// silently misreport the pool.
			return MatchResponse{}, err
		}
		cvs = append(cvs, cv)
	}

	lg := observability.LoggerFromContext(ctx)
	lg.Info("ranking candidates", slog.String("jd_id", jdID), slog.Int("candidates", len(cvs)), slog.Int("top_k", topK))

	results, err := s.Engine.Rank(jd, cvs, w, topK)
	if err != nil {
		return MatchResponse{}, err
	}

	weights := w.Normalized()
	if w == (domain.Weights{}) {
		weights = s.Engine.defaults
	}
	return MatchResponse{
		JDID:       jdID,
		JDTitle:    jd.Info.JobTitle,
		Weights:    weights,
		Candidates: results,
	}, nil
}

func (s *Service) load(ctx domain.Context, id string, kind domain.Kind) (Input, error) {
	b, err := s.Store.GetBundle(ctx, id, kind)
	if err != nil {
		return Input{}, fmt.Errorf("op=matching.load id=%s kind=%s: %w", id, kind, err)
	}
	p, err := s.Store.GetStructured(ctx, id, kind)
	if err != nil {
		return Input{}, fmt.Errorf("op=matching.load id=%s kind=%s: %w", id, kind, err)
	}
	return Input{ID: id, Bundle: b, Info: p.Info}, nil
}

func (s *Service) allCVIDs(ctx domain.Context) ([]string, error) {
	var ids []string
	offset := ""
	for {
		page, next, err := s.Store.Scroll(ctx, domain.KindCV, 256, offset)
		if err != nil {
			return nil, fmt.Errorf("op=matching.allCVIDs: %w", err)
		}
		for _, d := range page {
			ids = append(ids, d.ID)
		}
		if next == "" {
			return ids, nil
		}
		offset = next
	}
}
