package extraction

import (
	"context"
	"errors"
	"fmt"
)

// Channel is the intake channel an input arrived on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelText  Channel = "text"
	ChannelImage Channel = "image"
	ChannelPDF   Channel = "pdf"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelText, ChannelImage, ChannelPDF:
		return true
	}
	return false
}

// Binary reports whether inputs on c carry bytes that need vision/OCR.
func (c Channel) Binary() bool {
	return c == ChannelImage || c == ChannelPDF
}

// Document is the read-only view of one input handed to every strategy.
type Document struct {
	Channel  Channel
	MIMEType string
	Subject  string
	From     string // raw From header, if any
	Text     string // plain body; empty for images without a text layer
	Data     []byte // original bytes, used by the AI strategy for image/pdf
}

// Content joins subject and body, which is what the text patterns scan.
func (d Document) Content() string {
	switch {
	case d.Subject == "":
		return d.Text
	case d.Text == "":
		return d.Subject
	}
	return d.Subject + "\n" + d.Text
}

// HasText reports whether any textual content is available.
func (d Document) HasText() bool {
	return d.Subject != "" || d.Text != "" || d.From != ""
}

// Origin tells where a leaf value came from.
type Origin string

const (
	OriginText      Origin = "text"
	OriginHeader    Origin = "header"
	OriginReference Origin = "reference"
	OriginAI        Origin = "ai"
	OriginOCR       Origin = "ocr"
)

// Fields is the raw strategy output: dotted leaf path to value. Values are
// string, float64, int or []string; see Leaves for the shape.
type Fields map[string]any

// Result is the output of one strategy invocation.
type Result struct {
	Strategy   string
	Success    bool
	Data       Fields
	Origins    map[string]Origin
	Confidence float64
	Metadata   map[string]any
	Err        error
}

func newResult(strategy string) Result {
	return Result{
		Strategy: strategy,
		Data:     Fields{},
		Origins:  map[string]Origin{},
		Metadata: map[string]any{},
	}
}

// set stores v under path unless it is empty or the path is already filled.
func (r *Result) set(path string, v any, o Origin) bool {
	if isEmpty(v) {
		return false
	}
	if _, ok := r.Data[path]; ok {
		return false
	}
	r.Data[path] = v
	r.Origins[path] = o
	return true
}

// Has reports whether path carries a value.
func (r Result) Has(path string) bool {
	_, ok := r.Data[path]
	return ok
}

// Strategy is one pluggable extraction method.
type Strategy interface {
	Name() string
	Supports(doc Document) bool
	// Extract never returns an error; failures are reported on the Result.
	Extract(ctx context.Context, doc Document) Result
}

var (
	// ErrUnusableOutput is reported when the analyzer answered but nothing
	// could be read from the answer.
	ErrUnusableOutput = errors.New("analyzer output unusable")

	// ErrAnalyzerUnavailable is reported by the no-op analyzer.
	ErrAnalyzerUnavailable = errors.New("analyzer not configured")

	// ErrNoContent is reported when a strategy is handed nothing to read.
	ErrNoContent = errors.New("document has no content")
)

// StrategyError records why a strategy produced no usable result.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

func failed(strategy string, err error) Result {
	r := newResult(strategy)
	r.Err = &StrategyError{Strategy: strategy, Err: err}
	return r
}
