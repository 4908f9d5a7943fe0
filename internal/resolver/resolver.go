// Package resolver matches extracted contact hints to a customer in the
// external directory.
//
// Every input goes through the same staged path regardless of the channel it
// arrived on: id, then email, then phone, then a bounded fuzzy name scan.
// The first stage with a hit wins. A stage that fails is logged and counted
// as no hit, so a broken lookup never blocks the stages after it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/directory"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/metrics"
	"github.com/fyrsmithlabs/quoted/internal/normalize"
)

const instrumentationName = "github.com/fyrsmithlabs/quoted/internal/resolver"

// Method names the stage that produced a match.
type Method string

const (
	MethodID    Method = "id"
	MethodEmail Method = "email"
	MethodPhone Method = "phone"
	MethodName  Method = "name"
)

// Hints is partial identifying information about the requester.
type Hints struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Empty reports whether no hint is set.
func (h Hints) Empty() bool {
	return h.ID == "" && h.Email == "" && h.Phone == "" && h.Name == ""
}

// HintsFromRecord derives hints from a merged record's contact. The company
// is preferred over the person's name because directory entries are
// customer accounts.
func HintsFromRecord(rec extraction.Record) Hints {
	name := strings.TrimSpace(rec.Contact.Company)
	if name == "" {
		name = strings.TrimSpace(rec.Contact.Name)
	}
	return Hints{
		Email: strings.TrimSpace(rec.Contact.Email),
		Phone: strings.TrimSpace(rec.Contact.Phone),
		Name:  name,
	}
}

// Match is the outcome of a resolution. Matched is false for an explicit
// no-match, which is not an error.
type Match struct {
	Matched    bool    `json:"matched"`
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method,omitempty"`
	// Warnings lists the stages that failed on the way.
	Warnings []string `json:"warnings,omitempty"`
}

// StageError reports a failed stage. It never escapes Resolve.
type StageError struct {
	Stage Method
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("resolver stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrPageLimit is reported when the name scan stops at the page bound
// before reaching the end of the directory.
var ErrPageLimit = errors.New("directory page limit reached")

var emailShapeRe = regexp.MustCompile(`^[^@\s<>()\[\],;:"]+@[^@\s<>()\[\],;:"]+\.[^@\s<>()\[\],;:".]{2,}$`)

// ValidEmail reports whether s has the shape of an email address.
func ValidEmail(s string) bool {
	return emailShapeRe.MatchString(strings.TrimSpace(s))
}

// Resolver resolves hints against a directory. It holds no mutable state
// and is safe for concurrent use.
type Resolver struct {
	dir          directory.Directory
	names        *normalize.Normalizer
	threshold    float64
	pageSize     int
	maxPages     int
	stageTimeout time.Duration
	logger       *logging.Logger
	tracer       trace.Tracer
}

// New builds a resolver over dir.
func New(cfg config.ResolverConfig, dir directory.Directory, logger *logging.Logger) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("resolver needs a directory")
	}
	if cfg.NameThreshold <= 0 || cfg.NameThreshold > 100 {
		return nil, fmt.Errorf("name threshold must be within (0,100], got %v", cfg.NameThreshold)
	}
	if cfg.PageSize <= 0 || cfg.MaxPages <= 0 {
		return nil, fmt.Errorf("page size and max pages must be positive")
	}
	ncfg := normalize.DefaultConfig()
	ncfg.TokenWeight = cfg.TokenWeight
	names, err := normalize.New(ncfg)
	if err != nil {
		return nil, fmt.Errorf("create name normalizer: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		dir:          dir,
		names:        names,
		threshold:    cfg.NameThreshold,
		pageSize:     cfg.PageSize,
		maxPages:     cfg.MaxPages,
		stageTimeout: cfg.StageTimeout.Duration(),
		logger:       logger.Named("resolver"),
		tracer:       otel.Tracer(instrumentationName),
	}, nil
}

type stage struct {
	method Method
	// key is the normalized hint; an empty key skips the stage.
	key string
	run func(ctx context.Context, key string) (*Match, error)
}

// Resolve runs the stages in order and returns the first hit, or a
// no-match. With an unchanged directory the same hints always produce the
// same Match.
func (r *Resolver) Resolve(ctx context.Context, h Hints) Match {
	ctx, span := r.tracer.Start(ctx, "resolver.resolve")
	defer span.End()

	var warnings []string
	for _, st := range r.stages(h) {
		if st.key == "" {
			continue
		}
		m, err := r.runStage(ctx, st)
		if err != nil {
			se := &StageError{Stage: st.method, Err: err}
			metrics.RecordStageError(string(st.method))
			r.logger.Warn(ctx, "resolver stage failed", zap.String("stage", string(st.method)), zap.Error(se.Err))
			warnings = append(warnings, se.Error())
			continue
		}
		if m != nil {
			m.Warnings = warnings
			metrics.RecordResolution(string(m.Method))
			span.SetAttributes(
				attribute.String("resolver.method", string(m.Method)),
				attribute.Float64("resolver.confidence", m.Confidence),
			)
			r.logger.Debug(ctx, "client resolved",
				zap.String("method", string(m.Method)),
				zap.String("client_id", m.ID),
				zap.Float64("confidence", m.Confidence),
			)
			return *m
		}
	}

	metrics.RecordResolution("")
	span.SetAttributes(attribute.String("resolver.method", "none"))
	return Match{Warnings: warnings}
}

func (r *Resolver) stages(h Hints) []stage {
	email := strings.ToLower(strings.TrimSpace(h.Email))
	if !ValidEmail(email) {
		email = ""
	}
	name := strings.TrimSpace(h.Name)
	if r.names.Normalize(name) == "" {
		name = ""
	}
	return []stage{
		{MethodID, strings.TrimSpace(h.ID), r.byID},
		{MethodEmail, email, r.byEmail},
		{MethodPhone, extraction.NormalizePhone(h.Phone), r.byPhone},
		{MethodName, name, r.byName},
	}
}

func (r *Resolver) runStage(ctx context.Context, st stage) (*Match, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.stage."+string(st.method))
	defer span.End()

	if r.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stageTimeout)
		defer cancel()
	}

	m, err := st.run(ctx, st.key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("resolver.hit", m != nil))
	return m, nil
}

func exact(c *directory.Client, method Method) *Match {
	if c == nil {
		return nil
	}
	return &Match{Matched: true, ID: string(c.ID), Name: c.Name, Confidence: 1.0, Method: method}
}

func (r *Resolver) byID(ctx context.Context, id string) (*Match, error) {
	c, err := r.dir.GetByID(ctx, id)
	return exact(c, MethodID), err
}

func (r *Resolver) byEmail(ctx context.Context, email string) (*Match, error) {
	c, err := r.dir.SearchByEmail(ctx, email)
	return exact(c, MethodEmail), err
}

func (r *Resolver) byPhone(ctx context.Context, phone string) (*Match, error) {
	c, err := r.dir.SearchByPhone(ctx, phone)
	return exact(c, MethodPhone), err
}

// byName scans at most maxPages pages and keeps the first candidate with
// the highest similarity. A failed page fails the stage.
func (r *Resolver) byName(ctx context.Context, name string) (*Match, error) {
	var (
		best     directory.Client
		bestSim  float64
		found    bool
		scanned  int
		complete bool
	)
	for page := 0; page < r.maxPages; page++ {
		clients, err := r.dir.ListPage(ctx, page, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		for _, c := range clients {
			scanned++
			sim := r.names.Similarity(name, c.Name)
			if !found || sim > bestSim {
				best, bestSim, found = c, sim, true
			}
		}
		if len(clients) < r.pageSize {
			complete = true
			break
		}
	}
	if !complete {
		r.logger.Debug(ctx, "name scan stopped at page limit",
			zap.Int("max_pages", r.maxPages),
			zap.Int("scanned", scanned),
			zap.Error(ErrPageLimit),
		)
	}

	if !found || bestSim < r.threshold {
		r.logger.Trace(ctx, "no name candidate above threshold",
			zap.Float64("best_similarity", bestSim),
			zap.Float64("threshold", r.threshold),
		)
		return nil, nil
	}
	return &Match{
		Matched:    true,
		ID:         string(best.ID),
		Name:       best.Name,
		Confidence: math.Round(bestSim*100) / 10000,
		Method:     MethodName,
	}, nil
}
