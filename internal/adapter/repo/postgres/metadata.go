package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// MetadataRepo implements domain.MetadataStore over Postgres.
type MetadataRepo struct{ Pool PgxPool }

// NewMetadataRepo constructs a MetadataRepo with the given pool.
func NewMetadataRepo(p PgxPool) *MetadataRepo { return &MetadataRepo{Pool: p} }

// ResolvePosting loads a posting by its public token. Postings that are
// closed or past their deadline resolve to ErrInvalidInput so the caller can
// reject the application before any processing starts.
func (r *MetadataRepo) ResolvePosting(ctx domain.Context, publicToken string) (domain.JobPosting, error) {
	tracer := otel.Tracer("repo.metadata")
	ctx, span := tracer.Start(ctx, "metadata.ResolvePosting")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "job_postings"),
	)

	q := `SELECT id, public_token, urgent, accepting, closes_at FROM job_postings WHERE public_token=$1`
	row := r.Pool.QueryRow(ctx, q, publicToken)
	var p domain.JobPosting
	if err := row.Scan(&p.ID, &p.PublicToken, &p.Urgent, &p.Accepting, &p.ClosesAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.JobPosting{}, fmt.Errorf("op=metadata.resolve_posting: %w", domain.ErrNotFound)
		}
		return domain.JobPosting{}, fmt.Errorf("op=metadata.resolve_posting: %w", err)
	}
	if !p.Accepting {
		return domain.JobPosting{}, fmt.Errorf("op=metadata.resolve_posting: posting closed: %w", domain.ErrInvalidInput)
	}
	if p.ClosesAt != nil && time.Now().UTC().After(p.ClosesAt.UTC()) {
		return domain.JobPosting{}, fmt.Errorf("op=metadata.resolve_posting: posting deadline passed: %w", domain.ErrInvalidInput)
	}
	return p, nil
}

// LinkApplication records a processed application against its posting.
func (r *MetadataRepo) LinkApplication(ctx domain.Context, applicationID, postingID, email, cvDocumentID string) error {
	tracer := otel.Tracer("repo.metadata")
	ctx, span := tracer.Start(ctx, "metadata.LinkApplication")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "applications"),
	)

	q := `INSERT INTO applications (id, posting_id, applicant_email, cv_document_id, created_at)
	      VALUES ($1,$2,$3,$4,$5)
	      ON CONFLICT (id) DO UPDATE SET cv_document_id = EXCLUDED.cv_document_id`
	if _, err := r.Pool.Exec(ctx, q, applicationID, postingID, email, cvDocumentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=metadata.link_application: %w", err)
	}
	return nil
}
