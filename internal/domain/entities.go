// Package domain holds the core entities and ports of the matching backend.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrShape        = errors.New("bundle shape mismatch")
	ErrDimension    = errors.New("vector dimension mismatch")
	ErrOverloaded   = errors.New("system overloaded")
	ErrRateLimited  = errors.New("rate limited")
	ErrCircuitOpen  = errors.New("circuit open")
	ErrUpstream     = errors.New("upstream failure")
	ErrTransient    = errors.New("transient failure")
	ErrModelInit    = errors.New("embedding model init failed")
	ErrEmptyInput   = errors.New("empty input")
	ErrInternal     = errors.New("internal error")
)

// Kind enumerates document kinds.
type Kind string

const (
	KindCV Kind = "cv"
	KindJD Kind = "jd"
)

// Bundle layout constants. A bundle always has exactly
// SkillsCount + ResponsibilitiesCount + 2 vectors of EmbeddingDim each.
const (
	EmbeddingDim          = 768
	SkillsCount           = 20
	ResponsibilitiesCount = 10
	BundleVectors         = SkillsCount + ResponsibilitiesCount + 2
)

// StandardizedInfo is the structured representation of one document as
// produced by the standardizer. Normalize enforces the fixed shape before
// the info reaches the embedding engine.
type StandardizedInfo struct {
	JobTitle         string            `json:"job_title"`
	ExperienceYears  int               `json:"experience_years"`
	Skills           []string          `json:"skills"`
	Responsibilities []string          `json:"responsibilities"`
	ContactInfo      map[string]string `json:"contact_info,omitempty"`
	Extra            map[string]any    `json:"extra,omitempty"`
}

// Bundle is the fixed-shape embedding representation of one document.
// Invariant: len(Skills)==SkillsCount, len(Responsibilities)==ResponsibilitiesCount,
// every vector has EmbeddingDim components with unit L2 norm.
type Bundle struct {
	Skills           [][]float64
	Responsibilities [][]float64
	Experience       []float64
	Title            []float64
}

// Validate reports ErrShape or ErrDimension if the bundle deviates from the
// canonical (20, 10, 1, 1) x 768 layout.
func (b Bundle) Validate() error {
	if len(b.Skills) != SkillsCount || len(b.Responsibilities) != ResponsibilitiesCount {
		return ErrShape
	}
	if len(b.Experience) != EmbeddingDim || len(b.Title) != EmbeddingDim {
		return ErrDimension
	}
	for _, v := range b.Skills {
		if len(v) != EmbeddingDim {
			return ErrDimension
		}
	}
	for _, v := range b.Responsibilities {
		if len(v) != EmbeddingDim {
			return ErrDimension
		}
	}
	return nil
}

// DocumentMeta is the persisted metadata record for one document.
type DocumentMeta struct {
	ID         string
	Kind       Kind
	Filename   string
	Format     string
	MIME       string
	RawText    string
	FileURI    string
	UploadedAt time.Time
}

// Priority orders jobs in the queue. Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// ParsePriority maps a client hint to a Priority, defaulting to Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// JobStatus enumerates queue job states.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// ApplicationData is the payload of one submitted application job.
type ApplicationData struct {
	ApplicationID  string `json:"application_id"`
	JobToken       string `json:"job_token"`
	ApplicantName  string `json:"applicant_name"`
	ApplicantEmail string `json:"applicant_email"`
	FilePath       string `json:"file_path"`
	Filename       string `json:"filename"`
	MIME           string `json:"mime"`
	PriorityHint   string `json:"priority_hint,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// Job is one queue entry with its full lifecycle state.
type Job struct {
	ID          string
	Data        ApplicationData
	Priority    Priority
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *IngestResult
	Error       string
	FailedStep  string
	RetryCount  int
	MaxRetries  int
}

// IngestResult records what a completed ingestion produced.
type IngestResult struct {
	DocumentID string        `json:"document_id"`
	JobID      string        `json:"job_posting_id"`
	Duration   time.Duration `json:"duration"`
}

// AssignmentPair is one JD item matched one-to-one to a CV item.
type AssignmentPair struct {
	JDIndex    int     `json:"jd_index"`
	CVIndex    int     `json:"cv_index"`
	Similarity float64 `json:"similarity"`
}

// MatchResult is the in-memory outcome of matching one CV against one JD.
type MatchResult struct {
	CVID                      string           `json:"cv_id"`
	JDID                      string           `json:"jd_id"`
	Overall                   float64          `json:"overall"`
	SkillsScore               float64          `json:"skills_score"`
	ResponsibilitiesScore     float64          `json:"responsibilities_score"`
	TitleScore                float64          `json:"title_score"`
	ExperienceScore           float64          `json:"experience_score"`
	SkillAssignments          []AssignmentPair `json:"skill_assignments"`
	ResponsibilityAssignments []AssignmentPair `json:"responsibility_assignments"`
	UnmatchedSkills           []int            `json:"unmatched_skills"`
	UnmatchedResponsibilities []int            `json:"unmatched_responsibilities"`
	Explanation               string           `json:"explanation"`
	Duration                  time.Duration    `json:"duration"`
}

// Weights controls the blend of the four sub-scores.
type Weights struct {
	Skills           float64 `json:"skills"`
	Responsibilities float64 `json:"responsibilities"`
	Title            float64 `json:"title"`
	Experience       float64 `json:"experience"`
}

// DefaultWeights per the matching contract.
func DefaultWeights() Weights {
	return Weights{Skills: 0.80, Responsibilities: 0.15, Title: 0.025, Experience: 0.025}
}

// Normalized scales the weights to sum to 1. A non-positive sum reverts to
// the defaults.
func (w Weights) Normalized() Weights {
	sum := w.Skills + w.Responsibilities + w.Title + w.Experience
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Skills:           w.Skills / sum,
		Responsibilities: w.Responsibilities / sum,
		Title:            w.Title / sum,
		Experience:       w.Experience / sum,
	}
}

// Context is an alias so ports read naturally without importing std context
// at every call site. Adapters pass context.Context through unchanged.
type Context = context.Context
