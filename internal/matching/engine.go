package matching

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/internal/embedding"
)

// Engine computes pairwise match results. It is stateless and safe for
// concurrent use.
type Engine struct {
	defaults       domain.Weights
	skillThreshold float64
	respThreshold  float64
}

// NewEngine constructs the engine. Thresholds only affect the reported
// matched/unmatched split, never scoring.
func NewEngine(defaults domain.Weights, skillThreshold, respThreshold float64) *Engine {
	if skillThreshold <= 0 {
		skillThreshold = 0.50
	}
	if respThreshold <= 0 {
		respThreshold = 0.45
	}
	return &Engine{defaults: defaults.Normalized(), skillThreshold: skillThreshold, respThreshold: respThreshold}
}

// Input bundles one side of a match.
type Input struct {
	ID     string
	Bundle domain.Bundle
	Info   domain.StandardizedInfo
}

// Match scores cv against jd with the given weights (zero-value weights use
// the engine defaults).
func (e *Engine) Match(jd, cv Input, w domain.Weights) (domain.MatchResult, error) {
	start := time.Now()

	if err := jd.Bundle.Validate(); err != nil {
		return domain.MatchResult{}, fmt.Errorf("op=matching.Match jd=%s: %w", jd.ID, err)
	}
	if err := cv.Bundle.Validate(); err != nil {
		return domain.MatchResult{}, fmt.Errorf("op=matching.Match cv=%s: %w", cv.ID, err)
	}
	if len(jd.Bundle.Title) != len(cv.Bundle.Title) {
		return domain.MatchResult{}, fmt.Errorf("op=matching.Match: %w", domain.ErrDimension)
	}

	weights := w.Normalized()
	if w == (domain.Weights{}) {
		weights = e.defaults
	}

	skillScore, skillPairs, unmatchedSkills := e.assignmentScore(jd.Bundle.Skills, cv.Bundle.Skills, e.skillThreshold)
	respScore, respPairs, unmatchedResp := e.assignmentScore(jd.Bundle.Responsibilities, cv.Bundle.Responsibilities, e.respThreshold)
	titleScore := 100 * embedding.Cos(jd.Bundle.Title, cv.Bundle.Title)
	expScore := experienceScore(jd.Info.ExperienceYears, cv.Info.ExperienceYears)

	overall := weights.Skills*skillScore +
		weights.Responsibilities*respScore +
		weights.Title*titleScore +
		weights.Experience*expScore

	res := domain.MatchResult{
		CVID:                      cv.ID,
		JDID:                      jd.ID,
		Overall:                   overall,
		SkillsScore:               skillScore,
		ResponsibilitiesScore:     respScore,
		TitleScore:                titleScore,
		ExperienceScore:           expScore,
		SkillAssignments:          skillPairs,
		ResponsibilityAssignments: respPairs,
		UnmatchedSkills:           unmatchedSkills,
		UnmatchedResponsibilities: unmatchedResp,
		Duration:                  time.Since(start),
	}
	res.Explanation = explain(res, jd.Info, cv.Info)
	observability.ObserveMatch(res.Overall, res.Duration)
	return res, nil
}

// assignmentScore builds the cosine matrix (JD rows, CV columns), solves
// the optimal one-to-one assignment, and scores 100 x mean assigned
// similarity. Unmatched rows are those below the reporting threshold.
func (e *Engine) assignmentScore(jdVecs, cvVecs [][]float64, threshold float64) (float64, []domain.AssignmentPair, []int) {
	sim := embedding.CosMatrix(jdVecs, cvVecs)
	cols := Assign(sim)

	pairs := make([]domain.AssignmentPair, len(cols))
	var sum float64
	var unmatched []int
	for i, j := range cols {
		s := sim[i][j]
		pairs[i] = domain.AssignmentPair{JDIndex: i, CVIndex: j, Similarity: s}
		sum += s
		if s < threshold {
			unmatched = append(unmatched, i)
		}
	}
	return 100 * sum / float64(len(cols)), pairs, unmatched
}

// experienceScore applies the banding contract. r = 0 means the posting
// states no requirement.
func experienceScore(r, c int) float64 {
	if r <= 0 {
		return 75
	}
	if c >= r {
		s := 80 + 5*float64(c-r)
		if s > 100 {
			return 100
		}
		return s
	}
	return 60 * float64(c) / float64(r)
}

// Ranked is one entry of a ranking.
type Ranked struct {
	Result domain.MatchResult
}

// Rank matches every CV against the JD independently and returns the top k
// by overall score. No state flows between candidates.
func (e *Engine) Rank(jd Input, cvs []Input, w domain.Weights, topK int) ([]domain.MatchResult, error) {
	out := make([]domain.MatchResult, 0, len(cvs))
	for _, cv := range cvs {
		res, err := e.Match(jd, cv, w)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Overall > out[j].Overall })
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func explain(r domain.MatchResult, jd, cv domain.StandardizedInfo) string {
	var b strings.Builder

	switch {
	case r.SkillsScore >= 80:
		b.WriteString("Strong skills alignment with the role requirements. ")
	case r.SkillsScore >= 60:
		b.WriteString("Moderate skills alignment; several requirements are partially covered. ")
	default:
		b.WriteString("Weak skills alignment; most required skills are not evidenced. ")
	}

	switch {
	case r.ResponsibilitiesScore >= 80:
		b.WriteString("Past responsibilities closely mirror the role. ")
	case r.ResponsibilitiesScore >= 60:
		b.WriteString("Some prior responsibilities carry over to this role. ")
	default:
		b.WriteString("Prior responsibilities diverge from what the role expects. ")
	}

	switch {
	case r.TitleScore >= 80:
		b.WriteString(fmt.Sprintf("Current title %q is a close fit for %q. ", cv.JobTitle, jd.JobTitle))
	case r.TitleScore >= 60:
		b.WriteString(fmt.Sprintf("Current title %q is related to %q. ", cv.JobTitle, jd.JobTitle))
	default:
		b.WriteString(fmt.Sprintf("Current title %q is distant from %q. ", cv.JobTitle, jd.JobTitle))
	}

	if jd.ExperienceYears <= 0 {
		b.WriteString("The posting states no experience requirement.")
	} else if cv.ExperienceYears >= jd.ExperienceYears {
		b.WriteString(fmt.Sprintf("Meets the %d-year experience requirement with %d years.", jd.ExperienceYears, cv.ExperienceYears))
	} else {
		b.WriteString(fmt.Sprintf("Below the %d-year experience requirement with %d years.", jd.ExperienceYears, cv.ExperienceYears))
	}

	return b.String()
}
