// Package intake runs one raw input through the whole quote path:
// fingerprint, dedup gate, extraction pipeline, client resolution, commit
// and event publication.
//
// Only the commit touches persistent state, so cancelling a Process call
// before it reaches the ledger leaves nothing behind.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/dedup"
	"github.com/fyrsmithlabs/quoted/internal/events"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/metrics"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
)

const instrumentationName = "github.com/fyrsmithlabs/quoted/internal/intake"

// Store persists ledger rows and committed records.
type Store interface {
	dedup.Ledger
	SaveRecord(ctx context.Context, rec ledger.StoredRecord) error
	GetRecord(ctx context.Context, ref string) (*ledger.StoredRecord, error)
}

// Extractor turns a document into a merged record.
type Extractor interface {
	Run(ctx context.Context, doc extraction.Document) extraction.Record
}

// Resolver maps hints to a customer.
type Resolver interface {
	Resolve(ctx context.Context, h resolver.Hints) resolver.Match
}

// Outcome is the result of processing one input.
type Outcome struct {
	Ref         string                  `json:"ref,omitempty"`
	Duplicate   bool                    `json:"duplicate"`
	ExistingRef string                  `json:"existing_ref,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Record      *extraction.Record      `json:"record,omitempty"`
	Client      *resolver.Match         `json:"client,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// Quote is a committed record read back from the store.
type Quote struct {
	Ref       string            `json:"ref"`
	Record    extraction.Record `json:"record"`
	Client    *resolver.Match   `json:"client,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Service is safe for concurrent use; independent inputs may be processed
// in parallel. The ledger's uniqueness constraints settle races.
type Service struct {
	store     Store
	gate      *dedup.Gate
	extractor Extractor
	resolver  Resolver
	publisher events.Publisher
	logger    *logging.Logger
	tracer    trace.Tracer
	newRef    func() string
}

// New builds a Service. res and pub may be nil; resolution is then
// skipped and events are dropped.
func New(store Store, ext Extractor, res Resolver, pub events.Publisher, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("intake needs a store")
	}
	if ext == nil {
		return nil, errors.New("intake needs an extractor")
	}
	if pub == nil {
		pub = events.NoOp{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     store,
		gate:      dedup.NewGate(store, logger),
		extractor: ext,
		resolver:  res,
		publisher: pub,
		logger:    logger.Named("intake"),
		tracer:    otel.Tracer(instrumentationName),
		newRef:    uuid.NewString,
	}, nil
}

// Process handles one input. The only error it returns is an *InputError;
// every later failure degrades to warnings on the Outcome.
func (s *Service) Process(ctx context.Context, in RawInput) (*Outcome, error) {
	start := time.Now()

	in, err := normalized(in)
	if err != nil {
		metrics.RecordInput(string(in.Channel), "invalid", 0)
		s.logger.Debug(ctx, "rejected input", zap.Error(err), zap.String("filename", in.Filename))
		return nil, err
	}
	channel := string(in.Channel)

	ctx, span := s.tracer.Start(ctx, "intake.process",
		trace.WithAttributes(attribute.String("quote.channel", channel)))
	defer span.End()

	fp, doc := prepare(in)
	ref := s.newRef()
	ctx = logging.WithQuote(ctx, &logging.Quote{Ref: ref, Channel: channel, Source: in.source()})
	span.SetAttributes(attribute.String("quote.ref", ref), attribute.String("quote.content_sha256", fp.ContentSHA256))

	if v := s.gate.IsDuplicate(ctx, fp); v.IsDuplicate {
		out := &Outcome{Duplicate: true, ExistingRef: v.ExistingRef, Fingerprint: fp}
		s.publishDuplicate(ctx, in, fp, v.ExistingRef)
		metrics.RecordInput(channel, "duplicate", time.Since(start))
		span.SetAttributes(attribute.Bool("quote.duplicate", true))
		return out, nil
	}

	rec := s.extractor.Run(ctx, doc)

	var match *resolver.Match
	if s.resolver != nil {
		hints := resolver.HintsFromRecord(rec)
		hints.ID = in.ClientID
		if !hints.Empty() {
			m := s.resolver.Resolve(ctx, hints)
			match = &m
		}
	}

	out := &Outcome{Ref: ref, Fingerprint: fp, Record: &rec, Client: match}

	commit := s.gate.RecordProcessed(ctx, fp, ref)
	if commit.Duplicate {
		// Lost a race with a concurrent identical input.
		s.publishDuplicate(ctx, in, fp, commit.ExistingRef)
		metrics.RecordInput(channel, "duplicate", time.Since(start))
		return &Outcome{Duplicate: true, ExistingRef: commit.ExistingRef, Fingerprint: fp}, nil
	}
	if commit.Warning != "" {
		out.Warnings = append(out.Warnings, commit.Warning)
	}

	if err := s.save(ctx, ref, rec, match); err != nil {
		s.logger.Error(ctx, "failed to save record", zap.Error(err))
		out.Warnings = append(out.Warnings, "record not saved: "+err.Error())
	}

	ev := events.Event{
		Kind:          events.KindProcessed,
		Ref:           ref,
		Channel:       channel,
		Source:        in.source(),
		ContentSHA256: fp.ContentSHA256,
		MessageID:     fp.MessageID,
		Quality:       rec.Quality.QualityScore,
	}
	if match != nil && match.Matched {
		ev.ClientID, ev.ClientMethod = match.ID, string(match.Method)
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn(ctx, "failed to publish event", zap.Error(err))
	}

	metrics.RecordInput(channel, "processed", time.Since(start))
	s.logger.Info(ctx, "quote processed",
		zap.Float64("quality", rec.Quality.QualityScore),
		zap.Int("fields", rec.FieldCount()),
		zap.Bool("client_matched", match != nil && match.Matched),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// Prepare validates in and returns the fingerprint and extraction document
// Process would use, without touching any state.
func Prepare(in RawInput) (fingerprint.Fingerprint, extraction.Document, error) {
	in, err := normalized(in)
	if err != nil {
		return fingerprint.Fingerprint{}, extraction.Document{}, err
	}
	fp, doc := prepare(in)
	return fp, doc, nil
}

// prepare fingerprints in and builds the document handed to extraction.
// Binary inputs are hashed on their bytes; only a supplied message id is
// carried over.
func prepare(in RawInput) (fingerprint.Fingerprint, extraction.Document) {
	doc := extraction.Document{Channel: in.Channel, MIMEType: in.MIMEType}

	if in.Channel.Binary() {
		hdr := map[string]string{}
		if id := in.Headers[fingerprint.HeaderMessageID]; id != "" {
			hdr[fingerprint.HeaderMessageID] = id
		}
		doc.Data = in.Data
		doc.Subject = in.Headers[fingerprint.HeaderSubject]
		doc.From = in.Headers[fingerprint.HeaderFrom]
		return fingerprint.FromRaw(in.Data, hdr, ""), doc
	}

	headers := fingerprint.ParseHeaders(in.Data)
	for k, v := range in.Headers {
		if _, ok := headers[k]; !ok && v != "" {
			headers[k] = v
		}
	}
	body := fingerprint.ExtractPlainBody(in.Data)
	doc.Subject = headers[fingerprint.HeaderSubject]
	doc.From = headers[fingerprint.HeaderFrom]
	doc.Text = body
	return fingerprint.FromRaw(in.Data, headers, body), doc
}

func (s *Service) save(ctx context.Context, ref string, rec extraction.Record, match *resolver.Match) error {
	raw, err := rec.JSON()
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	stored := ledger.StoredRecord{
		Ref:       ref,
		Record:    raw,
		Quality:   rec.Quality.QualityScore,
		CreatedAt: time.Now().UTC(),
	}
	if match != nil {
		if stored.ClientMatch, err = json.Marshal(match); err != nil {
			return fmt.Errorf("encode client match: %w", err)
		}
	}
	return s.store.SaveRecord(ctx, stored)
}

func (s *Service) publishDuplicate(ctx context.Context, in RawInput, fp fingerprint.Fingerprint, existing string) {
	err := s.publisher.Publish(ctx, events.Event{
		Kind:          events.KindDuplicate,
		ExistingRef:   existing,
		Channel:       string(in.Channel),
		Source:        in.source(),
		ContentSHA256: fp.ContentSHA256,
		MessageID:     fp.MessageID,
	})
	if err != nil {
		s.logger.Warn(ctx, "failed to publish event", zap.Error(err))
	}
}

// Get returns the committed quote for ref, or ledger.ErrNotFound.
func (s *Service) Get(ctx context.Context, ref string) (*Quote, error) {
	stored, err := s.store.GetRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	q := &Quote{Ref: stored.Ref, CreatedAt: stored.CreatedAt}
	if err := json.Unmarshal(stored.Record, &q.Record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", ref, err)
	}
	if len(stored.ClientMatch) > 0 {
		var m resolver.Match
		if err := json.Unmarshal(stored.ClientMatch, &m); err != nil {
			return nil, fmt.Errorf("decode client match %s: %w", ref, err)
		}
		q.Client = &m
	}
	return q, nil
}

// Resolve resolves hints directly, outside of an intake.
func (s *Service) Resolve(ctx context.Context, h resolver.Hints) (resolver.Match, error) {
	if s.resolver == nil {
		return resolver.Match{}, errors.New("no client directory configured")
	}
	return s.resolver.Resolve(ctx, h), nil
}
