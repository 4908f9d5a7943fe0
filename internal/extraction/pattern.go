package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/logging"
)

// PatternStrategyName identifies results of the pattern strategy.
const PatternStrategyName = "pattern"

// ErrNoFields is reported when the patterns found nothing at all.
var ErrNoFields = errors.New("no fields extracted")

// Field groups scored by the pattern strategy.
const (
	GroupVehicle      = "vehicle"
	GroupMeasurements = "measurements"
	GroupRoute        = "route"
	GroupContact      = "contact"
)

// PatternStrategy extracts fields with regular expressions, keyword anchors
// and the reference catalog.
type PatternStrategy struct {
	catalog *Catalog
	logger  *logging.Logger
}

// NewPatternStrategy returns a pattern strategy over cat.
func NewPatternStrategy(cat *Catalog, logger *logging.Logger) *PatternStrategy {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PatternStrategy{catalog: cat, logger: logger.Named("pattern")}
}

func (p *PatternStrategy) Name() string { return PatternStrategyName }

// Supports reports whether the document has any text to scan.
func (p *PatternStrategy) Supports(doc Document) bool {
	return doc.HasText()
}

// Extract scans the document's subject, body and From header.
func (p *PatternStrategy) Extract(ctx context.Context, doc Document) Result {
	return p.extract(ctx, p.Name(), doc.Content(), doc.From, OriginText)
}

// extract runs every field group over text. Groups are independent: one
// that panics is logged and scored as attempted without hits.
func (p *PatternStrategy) extract(ctx context.Context, name, text, from string, o Origin) Result {
	if strings.TrimSpace(text) == "" && from == "" {
		return failed(name, ErrNoContent)
	}

	r := newResult(name)
	s := newScan(text)
	var model *Model

	groups := []struct {
		name string
		run  func() int
	}{
		{GroupContact, func() int { return contactGroup(text, from, &r, o) }},
		{GroupVehicle, func() int {
			var n int
			model, n = p.catalog.vehicleGroup(s, &r, o)
			return n
		}},
		{GroupMeasurements, func() int { return measurementGroup(s, &r, o) }},
		{GroupRoute, func() int {
			contact, _ := r.Data[FieldContactName].(string)
			return p.catalog.routeGroup(text, contact, &r, o) + shipmentGroup(s, &r, o)
		}},
	}

	hitGroups := 0
	perGroup := make(map[string]int, len(groups))
	var failedGroups []string
	for _, g := range groups {
		n, err := p.safeGroup(ctx, g.name, g.run)
		if err != nil {
			failedGroups = append(failedGroups, g.name)
		}
		perGroup[g.name] = n
		if n > 0 {
			hitGroups++
		}
	}

	// Backfill after measurements so text values are already in place.
	if n := referenceBackfill(model, &r); n > 0 {
		perGroup[GroupVehicle] += n
		r.Metadata["reference_fields"] = n
	}

	r.Confidence = float64(hitGroups) / float64(len(groups))
	r.Success = len(r.Data) > 0
	if !r.Success {
		r.Err = &StrategyError{Strategy: name, Err: ErrNoFields}
	}
	r.Metadata["groups"] = perGroup
	if len(failedGroups) > 0 {
		r.Metadata["failed_groups"] = failedGroups
	}

	p.logger.Trace(ctx, "pattern extraction finished",
		zap.String("strategy", name),
		zap.Int("fields", len(r.Data)),
		zap.Float64("confidence", r.Confidence),
		zap.Any("groups", perGroup),
	)
	return r
}

// safeGroup runs one field group with panic recovery.
func (p *PatternStrategy) safeGroup(ctx context.Context, group string, run func() int) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error(ctx, "pattern group panicked",
				zap.String("group", group),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			n, err = 0, fmt.Errorf("group %s: %v", group, rec)
		}
	}()
	return run(), nil
}
