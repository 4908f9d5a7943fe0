// Package dedup decides whether an input was already processed.
//
// The Gate consults the fingerprint ledger before extraction and records
// each processed input afterwards. Neither step can fail the caller: a
// lookup error lets processing continue, a lost insert race turns the input
// into a duplicate of the winner, and any other write error is surfaced as
// a warning only.
package dedup

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/metrics"
)

// Ledger is the subset of ledger.Store the gate needs.
type Ledger interface {
	Exists(ctx context.Context, fp fingerprint.Fingerprint) (string, bool, error)
	Insert(ctx context.Context, fp fingerprint.Fingerprint, ref string) error
}

// Verdict is the gate's answer for one fingerprint.
type Verdict struct {
	IsDuplicate bool   `json:"is_duplicate"`
	ExistingRef string `json:"existing_ref,omitempty"`
}

// Commit reports what RecordProcessed did.
type Commit struct {
	// Duplicate is set when a concurrent writer recorded the same input
	// first; ExistingRef names it.
	Duplicate   bool
	ExistingRef string
	// Warning is non-empty when the ledger write failed for another reason.
	Warning string
}

// Gate wraps a Ledger with dedup semantics.
type Gate struct {
	ledger Ledger
	logger *logging.Logger
}

// NewGate returns a Gate over l.
func NewGate(l Ledger, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{ledger: l, logger: logger.Named("dedup")}
}

// IsDuplicate looks fp up, message id first. A ledger error is logged and
// reported as not-duplicate.
func (g *Gate) IsDuplicate(ctx context.Context, fp fingerprint.Fingerprint) Verdict {
	ref, found, err := g.ledger.Exists(ctx, fp)
	if err != nil {
		metrics.RecordVerdict("lookup_error")
		g.logger.Warn(ctx, "ledger lookup failed, treating input as new",
			zap.String("content_sha256", fp.ContentSHA256),
			zap.Error(err),
		)
		return Verdict{}
	}
	if !found {
		metrics.RecordVerdict("new")
		return Verdict{}
	}

	metrics.RecordVerdict("duplicate")
	g.logger.Info(ctx, "duplicate input",
		zap.String("existing_ref", ref),
		zap.String("message_id", fp.MessageID),
	)
	return Verdict{IsDuplicate: true, ExistingRef: ref}
}

// RecordProcessed inserts fp under ref.
func (g *Gate) RecordProcessed(ctx context.Context, fp fingerprint.Fingerprint, ref string) Commit {
	err := g.ledger.Insert(ctx, fp, ref)
	if err == nil {
		metrics.RecordLedgerWrite("ok")
		return Commit{}
	}

	var conflict *ledger.ConflictError
	if errors.As(err, &conflict) {
		metrics.RecordLedgerWrite("conflict")
		g.logger.Info(ctx, "lost ledger race, input is a duplicate",
			zap.String("ref", ref),
			zap.String("existing_ref", conflict.ExistingRef),
		)
		return Commit{Duplicate: true, ExistingRef: conflict.ExistingRef}
	}

	metrics.RecordLedgerWrite("error")
	g.logger.Warn(ctx, "ledger write failed", zap.String("ref", ref), zap.Error(err))
	return Commit{Warning: "ledger write failed: " + err.Error()}
}
