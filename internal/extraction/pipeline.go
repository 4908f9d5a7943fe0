package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/metrics"
)

const instrumentationName = "github.com/fyrsmithlabs/quoted/internal/extraction"

// Pipeline selects strategies for a document, merges their results and
// validates the merged record.
type Pipeline struct {
	pattern   *PatternStrategy
	ai        *AIStrategy
	catalog   *Catalog
	threshold float64
	expected  []string
	logger    *logging.Logger
	tracer    trace.Tracer
}

// NewPipeline builds a pipeline. analyzer may be nil, which disables the
// AI strategy.
func NewPipeline(cfg config.ExtractionConfig, cat *Catalog, analyzer Analyzer, aiTimeout time.Duration, logger *logging.Logger) (*Pipeline, error) {
	if cfg.EnrichmentThreshold < 0 || cfg.EnrichmentThreshold > 1 {
		return nil, fmt.Errorf("enrichment threshold must be within [0,1], got %v", cfg.EnrichmentThreshold)
	}
	for _, f := range cfg.ExpectedFields {
		if _, ok := kindOf(f); !ok {
			return nil, fmt.Errorf("unknown expected field %q", f)
		}
	}
	if cat == nil {
		var err error
		if cat, err = DefaultCatalog(); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("extraction")

	pattern := NewPatternStrategy(cat, logger)
	return &Pipeline{
		pattern:   pattern,
		ai:        NewAIStrategy(analyzer, pattern, aiTimeout, logger),
		catalog:   cat,
		threshold: cfg.EnrichmentThreshold,
		expected:  append([]string(nil), cfg.ExpectedFields...),
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// Catalog returns the reference catalog in use.
func (p *Pipeline) Catalog() *Catalog { return p.catalog }

// Run extracts one record from doc. It never fails: when every strategy
// fails the record is empty with a zero quality score and a warning.
func (p *Pipeline) Run(ctx context.Context, doc Document) Record {
	ctx, span := p.tracer.Start(ctx, "extraction.pipeline",
		trace.WithAttributes(attribute.String("quote.channel", string(doc.Channel))))
	defer span.End()

	results := p.runStrategies(ctx, doc)

	rec, warnings := merge(results)
	for _, w := range warnings {
		rec.Warn("%s", w)
	}
	ocrText := make([]string, 0, 1)
	anySuccess := false
	for _, r := range results {
		if r.Success {
			anySuccess = true
		} else if r.Err != nil {
			rec.Warn("%v", r.Err)
		}
		if t := RawText(r); t != "" {
			ocrText = append(ocrText, t)
		}
	}
	if !anySuccess {
		rec.Warn("all extraction strategies failed")
	}

	NormalizeBlanks(&rec)
	BackfillRoute(&rec, p.catalog, strings.Join(append([]string{doc.Content()}, ocrText...), "\n"))
	StripArtifacts(&rec)
	rec.Quality = Assess(&rec, results, p.expected)
	if !anySuccess {
		rec.Quality.QualityScore = 0
	}

	metrics.RecordQuality(rec.Quality.QualityScore)
	span.SetAttributes(
		attribute.Int("extraction.strategies", len(results)),
		attribute.Int("extraction.fields", rec.FieldCount()),
		attribute.Float64("extraction.quality", rec.Quality.QualityScore),
		attribute.Float64("extraction.completeness", rec.Quality.CompletenessScore),
	)
	p.logger.Debug(ctx, "extraction finished",
		zap.Int("strategies", len(results)),
		zap.Int("fields", rec.FieldCount()),
		zap.Float64("quality", rec.Quality.QualityScore),
		zap.Int("warnings", len(rec.Quality.Warnings)),
	)
	return rec
}

// runStrategies applies the selection rules. Binary documents go to the AI
// strategy with a pattern pass over its OCR text; text documents go to the
// pattern strategy and get AI enrichment below the threshold.
func (p *Pipeline) runStrategies(ctx context.Context, doc Document) []Result {
	var results []Result

	if doc.Channel.Binary() {
		if p.ai.Supports(doc) {
			ai := p.run(ctx, p.ai, doc)
			results = append(results, ai)
			if raw := RawText(ai); raw != "" && ai.Metadata["fallback"] == nil {
				results = append(results, p.runOCRPass(ctx, raw))
			}
		}
		if p.pattern.Supports(doc) {
			results = append(results, p.run(ctx, p.pattern, doc))
		}
		if len(results) == 0 {
			results = append(results, failed(AIStrategyName, ErrAnalyzerUnavailable))
		}
		return results
	}

	if p.pattern.Supports(doc) {
		pr := p.run(ctx, p.pattern, doc)
		results = append(results, pr)
		if pr.Success && pr.Confidence >= p.threshold {
			return results
		}
	}
	if p.ai.Supports(doc) {
		results = append(results, p.run(ctx, p.ai, doc))
	}
	if len(results) == 0 {
		results = append(results, failed(PatternStrategyName, ErrNoContent))
	}
	return results
}

func (p *Pipeline) runOCRPass(ctx context.Context, raw string) Result {
	ctx, span := p.tracer.Start(ctx, "extraction.pattern.ocr")
	defer span.End()
	start := time.Now()
	r := p.pattern.extract(ctx, PatternStrategyName, raw, "", OriginOCR)
	metrics.RecordStrategy("pattern_ocr", r.Success, time.Since(start))
	span.SetAttributes(attribute.Bool("extraction.success", r.Success), attribute.Int("extraction.fields", len(r.Data)))
	return r
}

// run invokes one strategy inside a span and records its outcome.
func (p *Pipeline) run(ctx context.Context, s Strategy, doc Document) Result {
	ctx, span := p.tracer.Start(ctx, "extraction."+s.Name())
	defer span.End()

	start := time.Now()
	r := s.Extract(ctx, doc)
	metrics.RecordStrategy(s.Name(), r.Success, time.Since(start))

	span.SetAttributes(
		attribute.Bool("extraction.success", r.Success),
		attribute.Int("extraction.fields", len(r.Data)),
		attribute.Float64("extraction.confidence", r.Confidence),
	)
	if r.Err != nil {
		span.RecordError(r.Err)
		if !r.Success {
			span.SetStatus(codes.Error, "strategy failed")
		}
		level := p.logger.Warn
		if errors.Is(r.Err, ErrNoFields) || errors.Is(r.Err, ErrNoContent) {
			level = p.logger.Debug
		}
		level(ctx, "extraction strategy failed", zap.String("strategy", s.Name()), zap.Error(r.Err))
	}
	return r
}
