package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/redact"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 1024
	defaultTimeout          = 45 * time.Second
	defaultRateLimit        = 1.0
	defaultBurst            = 2
)

// maxResponseBytes caps how much of an answer is read.
const maxResponseBytes = 4 << 20

// analyzePrompt is the system prompt for quote analysis.
const analyzePrompt = `You read freight quote requests for shipping vehicles. The input is an email, a scanned document or a photo.

Respond with a JSON object containing:
- "fields": an object with any of these keys you can read, omitting the rest:
  contact: name, email, phone, company
  vehicle: brand, model, year, dimensions {length_m, width_m, height_m}, weight_kg, engine_cc, fuel_type, type
  shipment: origin, destination, destination_options (array), shipping_type (roro, container, flatrack or consolidation), cargo
- "confidence": your confidence in the fields (0.0 to 1.0)
- "raw_text": for images and documents, the full text you can read; otherwise empty

Convert dimensions to meters and weight to kilograms. Respond ONLY with the JSON object, no additional text.`

// httpAnalyzer holds what both providers share.
type httpAnalyzer struct {
	provider   string
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	scrubber   *redact.Scrubber
	logger     *logging.Logger
}

// AnalyzerConfig configures an HTTP analyzer.
type AnalyzerConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
	RateLimit float64
	Burst     int
}

func newHTTPAnalyzer(provider string, cfg AnalyzerConfig, defURL, defModel string, scrubber *redact.Scrubber, logger *logging.Logger) (*httpAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", provider)
	}
	a := &httpAnalyzer{
		provider:  provider,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		maxTokens: cfg.MaxTokens,
		scrubber:  scrubber,
		logger:    logger,
	}
	if a.model == "" {
		a.model = defModel
	}
	if a.baseURL == "" {
		a.baseURL = defURL
	}
	if a.maxTokens <= 0 {
		a.maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	a.httpClient = &http.Client{Timeout: timeout}

	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	a.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	return a, nil
}

func (a *httpAnalyzer) Available() bool { return a.apiKey != "" }

// prepare scrubs credentials from the text before it leaves the process.
func (a *httpAnalyzer) prepare(ctx context.Context, req AnalyzeRequest) string {
	text, findings := a.scrubber.Scrub(req.Text)
	if len(findings) > 0 {
		a.logger.Info(ctx, "scrubbed credentials before analysis",
			zap.String("provider", a.provider),
			zap.Int("findings", len(findings)),
		)
	}
	if text == "" {
		text = "(no text layer)"
	}
	return fmt.Sprintf("Hint: %s\n\n%s", req.Hint, text)
}

// post sends one request. There are no retries; the caller's timeout and
// the limiter bound the cost.
func (a *httpAnalyzer) post(ctx context.Context, path string, payload any, headers map[string]string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("API error (%d): %s", status, e.Error.Message)
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}

func mediaType(req AnalyzeRequest) string {
	if req.MIMEType != "" {
		return req.MIMEType
	}
	return http.DetectContentType(req.Data)
}

// anthropicAnalyzer implements Analyzer over the Messages API.
type anthropicAnalyzer struct {
	*httpAnalyzer
}

// NewAnthropicAnalyzer returns an analyzer backed by Claude.
func NewAnthropicAnalyzer(cfg AnalyzerConfig, scrubber *redact.Scrubber, logger *logging.Logger) (Analyzer, error) {
	h, err := newHTTPAnalyzer("anthropic", cfg, defaultAnthropicBaseURL, defaultAnthropicModel, scrubber, logger)
	if err != nil {
		return nil, err
	}
	return &anthropicAnalyzer{h}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (a *anthropicAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	var blocks []anthropicBlock
	if len(req.Data) > 0 {
		mt := mediaType(req)
		kind := "image"
		if mt == "application/pdf" {
			kind = "document"
		}
		blocks = append(blocks, anthropicBlock{
			Type:   kind,
			Source: &anthropicSource{Type: "base64", MediaType: mt, Data: base64.StdEncoding.EncodeToString(req.Data)},
		})
	}
	blocks = append(blocks, anthropicBlock{Type: "text", Text: a.prepare(ctx, req)})

	body, err := a.post(ctx, "/v1/messages", anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      analyzePrompt,
		Temperature: 0,
		Messages:    []anthropicMessage{{Role: "user", Content: blocks}},
	}, map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": "2023-06-01",
	})
	if err != nil {
		return Analysis{}, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse response: %w", err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" {
			return ParseAnalysis(c.Text), nil
		}
	}
	return Analysis{}, fmt.Errorf("empty response from API")
}

// openAIAnalyzer implements Analyzer over Chat Completions.
type openAIAnalyzer struct {
	*httpAnalyzer
}

// NewOpenAIAnalyzer returns an analyzer backed by OpenAI.
func NewOpenAIAnalyzer(cfg AnalyzerConfig, scrubber *redact.Scrubber, logger *logging.Logger) (Analyzer, error) {
	h, err := newHTTPAnalyzer("openai", cfg, defaultOpenAIBaseURL, defaultOpenAIModel, scrubber, logger)
	if err != nil {
		return nil, err
	}
	return &openAIAnalyzer{h}, nil
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openAIPart
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
	File     *openAIFile     `json:"file,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (a *openAIAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	parts := []openAIPart{{Type: "text", Text: a.prepare(ctx, req)}}
	if len(req.Data) > 0 {
		mt := mediaType(req)
		uri := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(req.Data)
		if mt == "application/pdf" {
			parts = append(parts, openAIPart{Type: "file", File: &openAIFile{Filename: "quote.pdf", FileData: uri}})
		} else {
			parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: uri}})
		}
	}

	body, err := a.post(ctx, "/v1/chat/completions", openAIRequest{
		Model: a.model,
		Messages: []openAIMessage{
			{Role: "system", Content: analyzePrompt},
			{Role: "user", Content: parts},
		},
		MaxTokens:      a.maxTokens,
		Temperature:    0,
		ResponseFormat: &openAIFormat{Type: "json_object"},
	}, map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	})
	if err != nil {
		return Analysis{}, err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("empty response from API")
	}
	return ParseAnalysis(resp.Choices[0].Message.Content), nil
}
