package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/resume-matcher/internal/config"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/internal/matching"
	"github.com/fairyhunter13/resume-matcher/internal/queue"
	"github.com/fairyhunter13/resume-matcher/internal/ratelimit"
)

// JobQueue is the slice of the queue manager the HTTP layer depends on.
type JobQueue interface {
	Submit(ctx domain.Context, data domain.ApplicationData) (domain.Job, error)
	Status(id string) (queue.JobView, error)
	Stats() queue.Stats
	Pause()
	Resume()
	ResetBreaker()
	ScaleUp(n int) int
	ScaleDown(n int) int
}

// Matcher ranks stored CVs against a stored JD.
type Matcher interface {
	Rank(ctx domain.Context, jdID string, cvIDs []string, all bool, w domain.Weights, topK int) (matching.MatchResponse, error)
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Queue   JobQueue
	Matcher Matcher
	Limiter *ratelimit.Limiter

	DBCheck     func(ctx context.Context) error
	QdrantCheck func(ctx context.Context) error

	idem idempotencyCache
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, q JobQueue, m Matcher, l *ratelimit.Limiter, dbCheck, qdrantCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Queue: q, Matcher: m, Limiter: l, DBCheck: dbCheck, QdrantCheck: qdrantCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// allowedExt enforces an allowlist for uploads: .txt, .pdf, .docx.
func allowedExt(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".txt") || strings.HasSuffix(n, ".pdf") || strings.HasSuffix(n, ".docx")
}

func allowedMIME(m string) bool {
	m = strings.ToLower(m)
	if strings.HasPrefix(m, "text/") { // allow parameters such as charset
		return true
	}
	return m == "application/pdf" ||
		m == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

type submitForm struct {
	JobToken       string `validate:"required,min=8,max=128"`
	ApplicantName  string `validate:"required,min=1,max=256"`
	ApplicantEmail string `validate:"required,email"`
	Priority       string `validate:"omitempty,oneof=low normal high urgent"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

// SubmitApplicationHandler accepts one multipart CV application and enqueues
// it for ingestion. Replays with the same Idempotency-Key return the
// original job id.
func (s *Server) SubmitApplicationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("content-type must be multipart/form-data: %w", domain.ErrInvalidInput), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "PAYLOAD_TOO_LARGE",
					Message: "upload exceeds the size limit",
					Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil)
			return
		}

		if key := r.Header.Get("Idempotency-Key"); key != "" {
			if jobID, ok := s.idem.get(key); ok {
				writeJSON(w, http.StatusAccepted, submitResponse{
					JobID:     jobID,
					Status:    string(domain.JobQueued),
					StatusURL: "/v1/applications/" + jobID,
				})
				return
			}
		}

		form := submitForm{
			JobToken:       r.FormValue("job_token"),
			ApplicantName:  strings.TrimSpace(r.FormValue("applicant_name")),
			ApplicantEmail: strings.TrimSpace(r.FormValue("applicant_email")),
			Priority:       r.FormValue("priority"),
		}
		if err := getValidator().Struct(form); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("cv file required: %w", domain.ErrInvalidInput), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		if !allowedExt(header.Filename) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code:    "UNSUPPORTED_MEDIA_TYPE",
				Message: "only .txt, .pdf and .docx uploads are accepted",
				Details: map[string]string{"filename": header.Filename},
			}})
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("read upload: %w", domain.ErrInvalidInput), nil)
			return
		}
		mime := mimetype.Detect(data)
		if !allowedMIME(mime.String()) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code:    "UNSUPPORTED_MEDIA_TYPE",
				Message: "upload content does not match an accepted document type",
				Details: map[string]string{"mime": mime.String(), "filename": header.Filename},
			}})
			return
		}

		path, err := saveUpload(data, header.Filename)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=httpserver.saveUpload: %w", err), nil)
			return
		}

		job, err := s.Queue.Submit(r.Context(), domain.ApplicationData{
			ApplicationID:  uuid.NewString(),
			JobToken:       form.JobToken,
			ApplicantName:  form.ApplicantName,
			ApplicantEmail: form.ApplicantEmail,
			FilePath:       path,
			Filename:       header.Filename,
			MIME:           mime.String(),
			PriorityHint:   form.Priority,
			RequestID:      r.Header.Get("X-Request-Id"),
		})
		if err != nil {
			_ = os.Remove(path)
			if errors.Is(err, domain.ErrOverloaded) {
				w.Header().Set("Retry-After", "30")
			}
			writeError(w, r, err, nil)
			return
		}

		if key := r.Header.Get("Idempotency-Key"); key != "" {
			s.idem.put(key, job.ID)
		}
		LoggerFrom(r).Info("application accepted",
			slog.String("job_id", job.ID),
			slog.String("priority", job.Priority.String()))
		writeJSON(w, http.StatusAccepted, submitResponse{
			JobID:     job.ID,
			Status:    string(job.Status),
			StatusURL: "/v1/applications/" + job.ID,
		})
	}
}

// saveUpload spools the upload to a temp file the pipeline can hand to the
// parser; the queue removes it once the job reaches a terminal state.
func saveUpload(data []byte, filename string) (string, error) {
	f, err := os.CreateTemp("", "application-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

type jobStatusResponse struct {
	JobID         string               `json:"job_id"`
	Status        string               `json:"status"`
	Priority      string               `json:"priority"`
	QueuePosition *int                 `json:"queue_position,omitempty"`
	ETASeconds    *float64             `json:"eta_seconds,omitempty"`
	RetryCount    int                  `json:"retry_count"`
	FailedStep    string               `json:"failed_step,omitempty"`
	Error         string               `json:"error,omitempty"`
	Result        *domain.IngestResult `json:"result,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// JobStatusHandler reports the lifecycle state of one submitted application.
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		view, err := s.Queue.Status(id)
		if err != nil {
			writeError(w, r, err, map[string]string{"job_id": id})
			return
		}
		resp := jobStatusResponse{
			JobID:       view.Job.ID,
			Status:      string(view.Job.Status),
			Priority:    view.Job.Priority.String(),
			RetryCount:  view.Job.RetryCount,
			FailedStep:  view.Job.FailedStep,
			Error:       view.Job.Error,
			Result:      view.Job.Result,
			CreatedAt:   view.Job.CreatedAt,
			StartedAt:   view.Job.StartedAt,
			CompletedAt: view.Job.CompletedAt,
		}
		if view.Job.Status == domain.JobQueued && view.Position >= 0 {
			pos := view.Position
			eta := view.ETA.Seconds()
			resp.QueuePosition = &pos
			resp.ETASeconds = &eta
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type matchRequest struct {
	JDRef   string          `json:"jd_ref" validate:"required"`
	CVRefs  []string        `json:"cv_refs" validate:"omitempty,dive,required"`
	All     bool            `json:"all"`
	Weights *domain.Weights `json:"weights"`
	TopK    int             `json:"top_k" validate:"omitempty,min=1,max=1000"`
}

// MatchHandler ranks candidate CVs against a stored job description.
func (s *Server) MatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req matchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil)
			return
		}
		if !req.All && len(req.CVRefs) == 0 {
			writeError(w, r, fmt.Errorf("cv_refs or all=true required: %w", domain.ErrInvalidInput), nil)
			return
		}
		var weights domain.Weights
		if req.Weights != nil {
			weights = *req.Weights
		}
		resp, err := s.Matcher.Rank(r.Context(), req.JDRef, req.CVRefs, req.All, weights, req.TopK)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type systemResponse struct {
	Queue          queue.Stats `json:"queue"`
	GlobalInFlight int         `json:"global_in_flight"`
}

// AdminSystemHandler returns the operator snapshot of the queue and limiter.
func (s *Server) AdminSystemHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := systemResponse{Queue: s.Queue.Stats()}
		if s.Limiter != nil {
			resp.GlobalInFlight = s.Limiter.GlobalInFlight()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type controlRequest struct {
	Action string `json:"action" validate:"required,oneof=pause resume scale_up scale_down reset_circuit_breaker"`
	Amount int    `json:"amount" validate:"omitempty,min=1,max=100"`
}

type controlResponse struct {
	Action  string `json:"action"`
	Workers int    `json:"workers,omitempty"`
	OK      bool   `json:"ok"`
}

// AdminControlHandler applies one operator action to the queue.
func (s *Server) AdminControlHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err), nil)
			return
		}
		amount := req.Amount
		if amount == 0 {
			amount = 1
		}
		resp := controlResponse{Action: req.Action, OK: true}
		switch req.Action {
		case "pause":
			s.Queue.Pause()
		case "resume":
			s.Queue.Resume()
		case "scale_up":
			resp.Workers = s.Queue.ScaleUp(amount)
		case "scale_down":
			resp.Workers = s.Queue.ScaleDown(amount)
		case "reset_circuit_breaker":
			s.Queue.ResetBreaker()
		}
		LoggerFrom(r).Info("operator control applied", slog.String("action", req.Action), slog.Int("amount", amount))
		writeJSON(w, http.StatusOK, resp)
	}
}

// HealthzHandler is a trivial liveness probe.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler pings the metadata and vector stores with a short deadline.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		for name, check := range map[string]func(context.Context) error{
			"postgres": s.DBCheck,
			"qdrant":   s.QdrantCheck,
		} {
			if check == nil {
				checks[name] = "skipped"
				continue
			}
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
			} else {
				checks[name] = "ok"
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": healthy, "checks": checks})
	}
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() http.Handler { return promhttp.Handler() }

// idempotencyCache remembers submission keys for replay. Entries expire
// after 24 hours; expiry is enforced lazily on access.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]idemEntry
}

type idemEntry struct {
	jobID string
	at    time.Time
}

const idemTTL = 24 * time.Hour

func (c *idempotencyCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Since(e.at) > idemTTL {
		delete(c.entries, key)
		return "", false
	}
	return e.jobID, true
}

func (c *idempotencyCache) put(key, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]idemEntry)
	}
	for k, e := range c.entries {
		if time.Since(e.at) > idemTTL {
			delete(c.entries, k)
		}
	}
	c.entries[key] = idemEntry{jobID: jobID, at: time.Now()}
}
