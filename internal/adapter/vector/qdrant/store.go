package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// retryAttempts bounds the adapter's internal retry loop for transient
// backend errors. Business failures are retried only by the queue.
const retryAttempts = 3

// Store implements domain.VectorStore over three Qdrant collections per
// document kind: documents, structured, embeddings.
type Store struct {
	client *Client
	// maxRetryElapsed bounds the total time spent inside one retry loop.
	maxRetryElapsed time.Duration
}

// NewStore constructs the store.
func NewStore(client *Client) *Store {
	return &Store{client: client, maxRetryElapsed: 15 * time.Second}
}

// EnsureCollections creates every collection this store uses. The
// embeddings collections carry the title summary vector for
// collection-level queries; documents and structured are payload-only.
func (s *Store) EnsureCollections(ctx context.Context) error {
	for _, kind := range []domain.Kind{domain.KindCV, domain.KindJD} {
		if err := s.client.EnsureCollection(ctx, collDocuments(kind), 1, "Dot"); err != nil {
			return err
		}
		if err := s.client.EnsureCollection(ctx, collStructured(kind), 1, "Dot"); err != nil {
			return err
		}
		if err := s.client.EnsureCollection(ctx, collEmbeddings(kind), domain.EmbeddingDim, "Cosine"); err != nil {
			return err
		}
	}
	return nil
}

func collDocuments(kind domain.Kind) string  { return string(kind) + "_documents" }
func collStructured(kind domain.Kind) string { return string(kind) + "_structured" }
func collEmbeddings(kind domain.Kind) string { return string(kind) + "_embeddings" }

// placeholderVector fills the mandatory vector slot of payload-only points.
var placeholderVector = []float64{1}

type documentPayload struct {
	Kind       domain.Kind `json:"kind"`
	Filename   string      `json:"filename"`
	Format     string      `json:"format"`
	MIME       string      `json:"mime"`
	RawText    string      `json:"raw_text"`
	FileURI    string      `json:"file_uri,omitempty"`
	UploadedAt time.Time   `json:"uploaded_at"`
}

type bundlePayload struct {
	Skills           [][]float64 `json:"skill_vectors"`
	Responsibilities [][]float64 `json:"responsibility_vectors"`
	Experience       []float64   `json:"experience_vector"`
	Title            []float64   `json:"job_title_vector"`
	JobTitle         string      `json:"job_title,omitempty"`
}

// PutDocument stores raw text and file metadata.
func (s *Store) PutDocument(ctx domain.Context, meta domain.DocumentMeta) error {
	p := documentPayload{
		Kind:       meta.Kind,
		Filename:   meta.Filename,
		Format:     meta.Format,
		MIME:       meta.MIME,
		RawText:    meta.RawText,
		FileURI:    meta.FileURI,
		UploadedAt: meta.UploadedAt,
	}
	return s.retry(ctx, func() error {
		return s.client.UpsertPoint(ctx, collDocuments(meta.Kind), meta.ID, placeholderVector, p)
	})
}

// PutStructured stores the standardized info plus side-channel fields.
func (s *Store) PutStructured(ctx domain.Context, id string, kind domain.Kind, payload domain.StructuredPayload) error {
	return s.retry(ctx, func() error {
		return s.client.UpsertPoint(ctx, collStructured(kind), id, placeholderVector, payload)
	})
}

// PutBundle stores all 32 vectors under one record. The point's own vector
// is the title vector so the collection remains searchable; the payload
// vectors are the source of truth for matching.
func (s *Store) PutBundle(ctx domain.Context, id string, kind domain.Kind, b domain.Bundle) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("op=qdrant.PutBundle id=%s: %w", id, err)
	}
	p := bundlePayload{
		Skills:           b.Skills,
		Responsibilities: b.Responsibilities,
		Experience:       b.Experience,
		Title:            b.Title,
	}
	return s.retry(ctx, func() error {
		return s.client.UpsertPoint(ctx, collEmbeddings(kind), id, b.Title, p)
	})
}

// GetDocument retrieves file metadata and raw text by id.
func (s *Store) GetDocument(ctx domain.Context, id string, kind domain.Kind) (domain.DocumentMeta, error) {
	var raw json.RawMessage
	err := s.retry(ctx, func() error {
		var e error
		raw, e = s.client.GetPointPayload(ctx, collDocuments(kind), id)
		return e
	})
	if err != nil {
		return domain.DocumentMeta{}, err
	}
	var p documentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.DocumentMeta{}, fmt.Errorf("op=qdrant.GetDocument: decode: %w", domain.ErrUpstream)
	}
	return domain.DocumentMeta{
		ID:         id,
		Kind:       kind,
		Filename:   p.Filename,
		Format:     p.Format,
		MIME:       p.MIME,
		RawText:    p.RawText,
		FileURI:    p.FileURI,
		UploadedAt: p.UploadedAt,
	}, nil
}

// GetStructured retrieves the structured payload verbatim.
func (s *Store) GetStructured(ctx domain.Context, id string, kind domain.Kind) (domain.StructuredPayload, error) {
	var raw json.RawMessage
	err := s.retry(ctx, func() error {
		var e error
		raw, e = s.client.GetPointPayload(ctx, collStructured(kind), id)
		return e
	})
	if err != nil {
		return domain.StructuredPayload{}, err
	}
	var p domain.StructuredPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.StructuredPayload{}, fmt.Errorf("op=qdrant.GetStructured: decode: %w", domain.ErrUpstream)
	}
	return p, nil
}

// GetBundle retrieves the 32-vector bundle in its stored order.
func (s *Store) GetBundle(ctx domain.Context, id string, kind domain.Kind) (domain.Bundle, error) {
	var raw json.RawMessage
	err := s.retry(ctx, func() error {
		var e error
		raw, e = s.client.GetPointPayload(ctx, collEmbeddings(kind), id)
		return e
	})
	if err != nil {
		return domain.Bundle{}, err
	}
	var p bundlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Bundle{}, fmt.Errorf("op=qdrant.GetBundle: decode: %w", domain.ErrUpstream)
	}
	b := domain.Bundle{
		Skills:           p.Skills,
		Responsibilities: p.Responsibilities,
		Experience:       p.Experience,
		Title:            p.Title,
	}
	if err := b.Validate(); err != nil {
		return domain.Bundle{}, fmt.Errorf("op=qdrant.GetBundle id=%s: %w", id, err)
	}
	return b, nil
}

// Delete removes all three records. Per-collection failures are logged;
// overall success is reported only when every delete succeeds.
func (s *Store) Delete(ctx domain.Context, id string, kind domain.Kind) error {
	colls := []string{collDocuments(kind), collStructured(kind), collEmbeddings(kind)}
	var firstErr error
	for _, coll := range colls {
		err := s.retry(ctx, func() error { return s.client.DeletePoint(ctx, coll, id) })
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Error("vector store delete failed",
				slog.String("collection", coll),
				slog.String("id", id),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Scroll pages document summaries of one kind for listing queries.
func (s *Store) Scroll(ctx domain.Context, kind domain.Kind, limit int, offset string) ([]domain.DocumentSummary, string, error) {
	if limit <= 0 {
		limit = 64
	}
	var points []ScrollPoint
	var next string
	err := s.retry(ctx, func() error {
		var e error
		points, next, e = s.client.Scroll(ctx, collStructured(kind), limit, offset)
		return e
	})
	if err != nil {
		return nil, "", err
	}
	out := make([]domain.DocumentSummary, 0, len(points))
	for _, pt := range points {
		var p domain.StructuredPayload
		if err := json.Unmarshal(pt.Payload, &p); err != nil {
			slog.Warn("skipping undecodable structured payload", slog.String("id", pt.ID))
			continue
		}
		out = append(out, domain.DocumentSummary{ID: pt.ID, JobTitle: p.Info.JobTitle})
	}
	return out, next, nil
}

// retry runs fn with exponential backoff for transient errors only, then
// surfaces the failure as an upstream error.
func (s *Store) retry(ctx domain.Context, fn func() error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			if attempts < retryAttempts {
				observability.VectorStoreRetriesTotal.Inc()
				return err
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrUpstream, err))
		}
		return backoff.Permanent(err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = s.maxRetryElapsed
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	// The elapsed-time budget can expire before the attempt limit, in which
	// case the last raw transient error falls through backoff unwrapped.
	if IsTransient(err) {
		err = fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	return err
}
