package domain

import "time"

// ParseOutput is what the external document parser returns for one file.
type ParseOutput struct {
	RawText      string            `json:"raw_text"`
	CleanText    string            `json:"clean_text"`
	ExtractedPII map[string]string `json:"extracted_pii"`
}

// Parser extracts text and PII from an uploaded file. Implementations call
// an external parsing service and must be pure with respect to the input bytes.
type Parser interface {
	Process(ctx Context, filePath string, kind Kind) (ParseOutput, error)
}

// Standardizer turns clean text into a StandardizedInfo. The core
// re-normalizes the result defensively regardless of what comes back.
type Standardizer interface {
	Standardize(ctx Context, cleanText, filename string, kind Kind) (StandardizedInfo, error)
}

// Embedder produces the fixed-shape bundle and similarity primitives.
type Embedder interface {
	EmbedText(ctx Context, text string) ([]float64, error)
	EmbedDocument(ctx Context, info StandardizedInfo) (Bundle, error)
}

// StructuredPayload is the persisted structured record: the standardized
// info plus side-channel fields preserved verbatim.
type StructuredPayload struct {
	Info StandardizedInfo `json:"info"`
	Side map[string]any   `json:"side,omitempty"`
}

// DocumentSummary is one row of a collection scroll.
type DocumentSummary struct {
	ID       string
	JobTitle string
	Filename string
}

// VectorStore is the by-id persistence contract over the vector database.
type VectorStore interface {
	PutDocument(ctx Context, meta DocumentMeta) error
	PutStructured(ctx Context, id string, kind Kind, payload StructuredPayload) error
	PutBundle(ctx Context, id string, kind Kind, b Bundle) error
	GetDocument(ctx Context, id string, kind Kind) (DocumentMeta, error)
	GetStructured(ctx Context, id string, kind Kind) (StructuredPayload, error)
	GetBundle(ctx Context, id string, kind Kind) (Bundle, error)
	Delete(ctx Context, id string, kind Kind) error
	Scroll(ctx Context, kind Kind, limit int, offset string) ([]DocumentSummary, string, error)
}

// JobPosting is the metadata-store view of one job description.
type JobPosting struct {
	ID          string
	PublicToken string
	Urgent      bool
	Accepting   bool
	ClosesAt    *time.Time
}

// MetadataStore resolves job postings and links applications to them.
type MetadataStore interface {
	ResolvePosting(ctx Context, publicToken string) (JobPosting, error)
	LinkApplication(ctx Context, applicationID, postingID, email, cvDocumentID string) error
}

// DeadLetter receives jobs that exhausted their retries.
type DeadLetter interface {
	Publish(ctx Context, job Job) error
}
