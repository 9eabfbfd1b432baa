// Package pipeline orchestrates one application submission from raw upload
// to persisted bundle: resolve posting, parse, standardize, embed, persist,
// link. Retries are the queue's responsibility, never the pipeline's.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/pkg/textx"
)

// Step names recorded on failed jobs.
const (
	StepResolve     = "resolve"
	StepParse       = "parse"
	StepStandardize = "standardize"
	StepEmbed       = "embed"
	StepPersist     = "persist"
	StepLink        = "link"
)

// StepError tags a pipeline failure with the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step=%s: %v", e.Step, e.Err) }

// Unwrap exposes the underlying error for errors.Is checks.
func (e *StepError) Unwrap() error { return e.Err }

// FailedStep extracts the step name from a pipeline error, or "".
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// Pipeline wires the external collaborators of one ingestion.
type Pipeline struct {
	Meta     domain.MetadataStore
	Parser   domain.Parser
	Std      domain.Standardizer
	Embedder domain.Embedder
	Store    domain.VectorStore
}

// New constructs a pipeline.
func New(meta domain.MetadataStore, parser domain.Parser, std domain.Standardizer, emb domain.Embedder, store domain.VectorStore) *Pipeline {
	return &Pipeline{Meta: meta, Parser: parser, Std: std, Embedder: emb, Store: store}
}

// documentID derives a stable document id from the application id so that a
// retried job overwrites its own prior partial state instead of duplicating.
func documentID(applicationID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("application:"+applicationID)).String()
}

// Run executes all six steps for one application. Any failure aborts the run
// with a step-tagged error; a partial persist is cleaned up best-effort.
func (p *Pipeline) Run(ctx domain.Context, data domain.ApplicationData) (domain.IngestResult, error) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	start := time.Now()
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("application_id", data.ApplicationID),
		slog.String("job_token", data.JobToken),
	)

	posting, err := p.Meta.ResolvePosting(ctx, data.JobToken)
	if err != nil {
		return domain.IngestResult{}, &StepError{Step: StepResolve, Err: err}
	}

	parsed, err := p.Parser.Process(ctx, data.FilePath, domain.KindCV)
	if err != nil {
		return domain.IngestResult{}, &StepError{Step: StepParse, Err: err}
	}

	info, err := p.Std.Standardize(ctx, parsed.CleanText, data.Filename, domain.KindCV)
	if err != nil {
		return domain.IngestResult{}, &StepError{Step: StepStandardize, Err: err}
	}
	info = mergePII(info, parsed.ExtractedPII, data)

	bundle, err := p.Embedder.EmbedDocument(ctx, info)
	if err != nil {
		return domain.IngestResult{}, &StepError{Step: StepEmbed, Err: err}
	}

	docID := documentID(data.ApplicationID)
	if err := p.persist(ctx, docID, data, parsed, info, bundle); err != nil {
		return domain.IngestResult{}, &StepError{Step: StepPersist, Err: err}
	}

	if err := p.Meta.LinkApplication(ctx, data.ApplicationID, posting.ID, data.ApplicantEmail, docID); err != nil {
		return domain.IngestResult{}, &StepError{Step: StepLink, Err: err}
	}

	lg.Info("application ingested",
		slog.String("document_id", docID),
		slog.String("posting_id", posting.ID),
		slog.Duration("duration", time.Since(start)))

	return domain.IngestResult{
		DocumentID: docID,
		JobID:      posting.ID,
		Duration:   time.Since(start),
	}, nil
}

// persist issues the three collection writes concurrently. A partial failure
// deletes whatever landed so a retry starts clean.
func (p *Pipeline) persist(ctx domain.Context, docID string, data domain.ApplicationData, parsed domain.ParseOutput, info domain.StandardizedInfo, bundle domain.Bundle) error {
	meta := domain.DocumentMeta{
		ID:         docID,
		Kind:       domain.KindCV,
		Filename:   data.Filename,
		Format:     formatFromMIME(data.MIME),
		MIME:       data.MIME,
		RawText:    parsed.RawText,
		UploadedAt: time.Now().UTC(),
	}
	structured := domain.StructuredPayload{
		Info: info,
		Side: map[string]any{
			"application_id": data.ApplicationID,
			"applicant_name": data.ApplicantName,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Store.PutDocument(gctx, meta) })
	g.Go(func() error { return p.Store.PutStructured(gctx, docID, domain.KindCV, structured) })
	g.Go(func() error { return p.Store.PutBundle(gctx, docID, domain.KindCV, bundle) })

	if err := g.Wait(); err != nil {
		if cerr := p.Store.Delete(ctx, docID, domain.KindCV); cerr != nil {
			observability.LoggerFromContext(ctx).Warn("cleanup after partial persist failed",
				slog.String("document_id", docID), slog.Any("error", cerr))
		}
		return err
	}
	return nil
}

// mergePII folds parser-extracted PII and submitter fields into contact_info.
// Submitted fields win over extracted ones.
func mergePII(info domain.StandardizedInfo, pii map[string]string, data domain.ApplicationData) domain.StandardizedInfo {
	if info.ContactInfo == nil {
		info.ContactInfo = make(map[string]string, len(pii)+2)
	}
	for k, v := range pii {
		if _, ok := info.ContactInfo[k]; !ok && v != "" {
			info.ContactInfo[k] = v
		}
	}
	if data.ApplicantEmail != "" {
		info.ContactInfo["email"] = textx.NormalizeEmail(data.ApplicantEmail)
	}
	if data.ApplicantName != "" {
		info.ContactInfo["name"] = data.ApplicantName
	}
	return info
}

func formatFromMIME(mime string) string {
	switch mime {
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "application/msword":
		return "doc"
	case "text/plain; charset=utf-8", "text/plain":
		return "txt"
	default:
		return "bin"
	}
}
