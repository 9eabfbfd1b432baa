// Package standardizer turns parsed document text into the fixed
// StandardizedInfo shape using an OpenAI-compatible chat completion with a
// strict JSON contract.
package standardizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

const systemPromptCV = `You are a resume standardization engine. Extract from the resume text a JSON object with exactly these keys:
{"job_title": string, "experience_years": string, "skills": [string], "responsibilities": [string], "contact_info": {string: string}}
job_title is the candidate's current or most recent title. experience_years is the total professional experience, e.g. "5" or "3-5" or "Not specified". skills holds up to 20 concrete skills. responsibilities holds up to 10 things the candidate has done. Respond with the JSON object only.`

const systemPromptJD = `You are a job description standardization engine. Extract from the posting text a JSON object with exactly these keys:
{"job_title": string, "experience_years": string, "skills": [string], "responsibilities": [string]}
experience_years is the required experience, e.g. "5" or "3-5" or "Not specified". skills holds up to 20 required skills. responsibilities holds up to 10 duties of the role. Respond with the JSON object only.`

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxPrompt  int
	httpClient *http.Client
	encoder    *tiktoken.Tiktoken
}

// New constructs a standardizer client. maxPromptTokens bounds the document
// text sent per request.
func New(baseURL, apiKey, model string, maxPromptTokens int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using heuristic token counts", slog.Any("error", err))
		enc = nil
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxPrompt: maxPromptTokens,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		encoder: enc,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// rawInfo matches the JSON contract; experience_years arrives as a string so
// the model can answer ranges or "Not specified".
type rawInfo struct {
	JobTitle         string            `json:"job_title"`
	ExperienceYears  json.RawMessage   `json:"experience_years"`
	Skills           []string          `json:"skills"`
	Responsibilities []string          `json:"responsibilities"`
	ContactInfo      map[string]string `json:"contact_info"`
}

// Standardize sends the clean text through the chat endpoint and decodes the
// structured result. The caller re-normalizes the shape regardless.
func (c *Client) Standardize(ctx domain.Context, cleanText, filename string, kind domain.Kind) (domain.StandardizedInfo, error) {
	if strings.TrimSpace(cleanText) == "" {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: %w", domain.ErrEmptyInput)
	}

	system := systemPromptCV
	if kind == domain.KindJD {
		system = systemPromptJD
	}
	user := fmt.Sprintf("Document: %s\n\n%s", filename, c.truncate(cleanText))

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: %w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: status %d: %s: %w", resp.StatusCode, snippet, domain.ErrUpstream)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: decode: %w", domain.ErrUpstream)
	}
	if len(cr.Choices) == 0 {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: no choices: %w", domain.ErrUpstream)
	}

	info, err := decodeInfo(cr.Choices[0].Message.Content)
	if err != nil {
		return domain.StandardizedInfo{}, fmt.Errorf("op=standardizer.Standardize: %w", err)
	}
	return info, nil
}

// decodeInfo tolerates fenced or prose-wrapped model output.
func decodeInfo(content string) (domain.StandardizedInfo, error) {
	cleaned := stripFences(content)
	var raw rawInfo
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return domain.StandardizedInfo{}, fmt.Errorf("malformed model output: %w", domain.ErrUpstream)
	}
	return domain.StandardizedInfo{
		JobTitle:         strings.TrimSpace(raw.JobTitle),
		ExperienceYears:  domain.ParseExperienceYears(experienceString(raw.ExperienceYears)),
		Skills:           raw.Skills,
		Responsibilities: raw.Responsibilities,
		ContactInfo:      raw.ContactInfo,
	}, nil
}

// experienceString accepts both `"3-5"` and bare `5` from the model.
func experienceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%d", int(n))
	}
	return ""
}

// stripFences unwraps a markdown code fence and trims prose around the
// outermost JSON object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// truncate keeps the document within the prompt token budget.
func (c *Client) truncate(text string) string {
	if c.maxPrompt <= 0 {
		return text
	}
	if c.encoder == nil {
		limit := c.maxPrompt * 4
		if len(text) > limit {
			return text[:limit]
		}
		return text
	}
	tokens := c.encoder.Encode(text, nil, nil)
	if len(tokens) <= c.maxPrompt {
		return text
	}
	return c.encoder.Decode(tokens[:c.maxPrompt])
}
