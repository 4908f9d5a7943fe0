package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/logging"
)

// AIStrategyName identifies results of the AI strategy.
const AIStrategyName = "ai"

// defaultAIConfidence is used when the analyzer omits or garbles its own.
const defaultAIConfidence = 0.5

// AnalyzeRequest is what the AI capability is given.
type AnalyzeRequest struct {
	Text     string
	Data     []byte
	MIMEType string
	Hint     string
}

// Analysis is the capability's best-effort answer.
type Analysis struct {
	Fields     map[string]any
	Confidence float64
	RawText    string // OCR transcription, when the input was an image or pdf
	Garbled    bool   // the answer could not be decoded as JSON
}

// Analyzer is the external AI/vision capability. Implementations make at
// most one remote call per Analyze.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error)
	Available() bool
}

// AIStrategy delegates to an Analyzer and falls back to the pattern
// strategy over the OCR text when the answer is unusable.
type AIStrategy struct {
	analyzer Analyzer
	fallback *PatternStrategy
	timeout  time.Duration
	logger   *logging.Logger
}

// NewAIStrategy returns an AI strategy. timeout bounds each call; zero
// leaves the caller's deadline in charge.
func NewAIStrategy(a Analyzer, fallback *PatternStrategy, timeout time.Duration, logger *logging.Logger) *AIStrategy {
	if a == nil {
		a = &NoOpAnalyzer{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AIStrategy{analyzer: a, fallback: fallback, timeout: timeout, logger: logger.Named("ai")}
}

func (s *AIStrategy) Name() string { return AIStrategyName }

// Supports reports whether the analyzer is configured and the document
// has bytes or text to send.
func (s *AIStrategy) Supports(doc Document) bool {
	if !s.analyzer.Available() {
		return false
	}
	return (doc.Channel.Binary() && len(doc.Data) > 0) || doc.HasText()
}

const analyzeHint = "freight quote request for vehicle shipping"

// Extract makes exactly one analyzer call.
func (s *AIStrategy) Extract(ctx context.Context, doc Document) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req := AnalyzeRequest{Text: doc.Content(), MIMEType: doc.MIMEType, Hint: analyzeHint}
	if doc.Channel.Binary() {
		req.Data = doc.Data
	}

	analysis, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("analyzer timed out: %w", err)
		}
		s.logger.Warn(ctx, "ai analysis failed", zap.Error(err))
		return failed(s.Name(), err)
	}

	r := s.fromAnalysis(analysis)
	if r.Success {
		return r
	}

	if strings.TrimSpace(analysis.RawText) != "" && s.fallback != nil {
		s.logger.Debug(ctx, "ai output unusable, running patterns over ocr text",
			zap.Bool("garbled", analysis.Garbled),
			zap.Int("raw_text_len", len(analysis.RawText)),
		)
		fb := s.fallback.extract(ctx, s.Name(), analysis.RawText, "", OriginOCR)
		fb.Metadata["fallback"] = "ocr_pattern"
		fb.Metadata["raw_text"] = analysis.RawText
		return fb
	}
	return failed(s.Name(), ErrUnusableOutput)
}

func (s *AIStrategy) fromAnalysis(a Analysis) Result {
	r := newResult(s.Name())
	flat, ignored := Flatten(a.Fields)
	for path, v := range flat {
		r.set(path, v, OriginAI)
	}
	if ignored > 0 {
		r.Metadata["ignored_fields"] = ignored
	}
	if a.RawText != "" {
		r.Metadata["raw_text"] = a.RawText
	}

	r.Success = len(r.Data) > 0
	r.Confidence = a.Confidence
	if r.Confidence <= 0 || r.Confidence > 1 {
		r.Confidence = defaultAIConfidence
	}
	return r
}

// RawText returns the OCR transcription attached to an AI result.
func RawText(r Result) string {
	s, _ := r.Metadata["raw_text"].(string)
	return s
}

// Flatten turns nested or dotted analyzer output into known record leaves,
// coerced to their types. It returns the number of leaves it dropped.
func Flatten(fields map[string]any) (Fields, int) {
	out := Fields{}
	ignored := 0
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			path := strings.ToLower(strings.TrimSpace(k))
			if prefix != "" {
				path = prefix + "." + path
			}
			if sub, ok := v.(map[string]any); ok {
				walk(path, sub)
				continue
			}
			kind, known := kindOf(path)
			if !known {
				ignored++
				continue
			}
			if isEmpty(v) || isSentinel(v) {
				continue
			}
			c, ok := coerce(kind, v)
			if !ok || isEmpty(c) {
				ignored++
				continue
			}
			out[path] = c
		}
	}
	walk("", fields)
	return out, ignored
}

// analysisPayload is the JSON shape analyzers are asked to answer with.
type analysisPayload struct {
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`
	RawText    string         `json:"raw_text"`
}

// ParseAnalysis decodes an analyzer answer, tolerating markdown fences.
// An undecodable answer is returned as garbled raw text, not as an error.
func ParseAnalysis(text string) Analysis {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var p analysisPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return Analysis{RawText: text, Garbled: true}
	}
	return Analysis{Fields: p.Fields, Confidence: p.Confidence, RawText: p.RawText}
}
