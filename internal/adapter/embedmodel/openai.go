// Package embedmodel provides embedding model backends for the engine.
//
// The real backend speaks the OpenAI-compatible /embeddings API; the stub
// backend is deterministic and used in tests and local development.
package embedmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/resume-matcher/internal/config"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// batchTokenBudget caps the total tokens sent in one /embeddings request.
const batchTokenBudget = 8000

// OpenAI is an embeddings backend over an OpenAI-compatible API.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	enc        *tiktoken.Tiktoken
}

// NewOpenAI constructs the backend from config.
func NewOpenAI(cfg config.Config) *OpenAI {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Token counting is a budgeting aid only; fall back to rune estimates.
		slog.Warn("tiktoken encoding unavailable, using rune estimate", slog.Any("error", err))
		enc = nil
	}
	return &OpenAI{
		baseURL: cfg.EmbeddingsBaseURL,
		apiKey:  cfg.EmbeddingsAPIKey,
		model:   cfg.EmbeddingsModel,
		httpClient: &http.Client{
			Timeout:   cfg.EmbeddingsTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		enc: enc,
	}
}

// Name identifies the backend in metrics.
func (o *OpenAI) Name() string { return "openai" }

// EmbedBatch embeds texts, splitting the batch when it would exceed the
// token budget. Results are positionally aligned with the input.
func (o *OpenAI) EmbedBatch(ctx domain.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	start := 0
	budget := 0
	for i, t := range texts {
		n := o.countTokens(t)
		if budget+n > batchTokenBudget && i > start {
			vecs, err := o.call(ctx, texts[start:i])
			if err != nil {
				return nil, err
			}
			out = append(out, vecs...)
			start, budget = i, 0
		}
		budget += n
	}
	vecs, err := o.call(ctx, texts[start:])
	if err != nil {
		return nil, err
	}
	return append(out, vecs...), nil
}

func (o *OpenAI) call(ctx domain.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"model":      o.model,
		"input":      texts,
		"dimensions": domain.EmbeddingDim,
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=embedmodel.call: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=embedmodel.call: %w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("embeddings provider non-2xx",
			slog.String("provider", "openai"),
			slog.Int("status", resp.StatusCode),
			slog.String("model", o.model),
			slog.String("body", string(snippet)))
		return nil, fmt.Errorf("op=embedmodel.call: status %d: %w", resp.StatusCode, domain.ErrUpstream)
	}
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=embedmodel.call: decode: %w", domain.ErrUpstream)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("op=embedmodel.call: got %d embeddings for %d inputs: %w", len(out.Data), len(texts), domain.ErrUpstream)
	}
	vecs := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("op=embedmodel.call: index %d out of range: %w", d.Index, domain.ErrUpstream)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (o *OpenAI) countTokens(s string) int {
	if o.enc != nil {
		return len(o.enc.Encode(s, nil, nil))
	}
	return len([]rune(s)) / 4
}
