// Package parser provides the client for the external document parsing
// service. It uploads a stored file and returns raw text, clean text and any
// extracted PII fields.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/pkg/textx"
)

// Client calls the parsing service over HTTP. It performs
// POST /v1/parse with the file as multipart form data.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a parser client with a default timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Process uploads the file at filePath and returns the parse output.
// Uploaded files live in the system temp dir; paths outside it are rejected.
func (c *Client) Process(ctx domain.Context, filePath string, kind domain.Kind) (domain.ParseOutput, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w: %v", domain.ErrInvalidInput, err)
	}
	abs = filepath.Clean(abs)
	tmp := filepath.Clean(os.TempDir())
	if abs != tmp && !strings.HasPrefix(abs, tmp+string(os.PathSeparator)) {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: disallowed path %s: %w", abs, domain.ErrInvalidInput)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: read file: %w", err)
	}
	if len(data) == 0 {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", domain.ErrEmptyInput)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(abs))
	if err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", err)
	}
	if err := mw.WriteField("kind", string(kind)); err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", err)
	}
	if err := mw.WriteField("content_type", mimetype.Detect(data).String()); err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", &body)
	if err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: %w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: status %d: %s: %w", resp.StatusCode, snippet, domain.ErrInvalidInput)
		}
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: status %d: %s: %w", resp.StatusCode, snippet, domain.ErrUpstream)
	}

	var out domain.ParseOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: decode: %w", domain.ErrUpstream)
	}
	out.RawText = textx.SanitizeText(out.RawText)
	out.CleanText = textx.SanitizeText(out.CleanText)
	if out.CleanText == "" {
		out.CleanText = out.RawText
	}
	if out.CleanText == "" {
		return domain.ParseOutput{}, fmt.Errorf("op=parser.Process: no text extracted: %w", domain.ErrEmptyInput)
	}
	return out, nil
}
