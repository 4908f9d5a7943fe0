// Package ledger persists fingerprints of processed inputs and the
// committed record for each one.
//
// The fingerprint table is append-only and unique independently on
// message_id and content_sha256. A losing concurrent insert is reported as
// a *ConflictError naming the winner's ref.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
)

var (
	// ErrConflict marks an insert that lost to an existing row.
	ErrConflict = errors.New("ledger: fingerprint already recorded")
	// ErrNotFound is returned by GetRecord for an unknown ref.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidRef is returned for an empty ref.
	ErrInvalidRef = errors.New("ledger: ref is required")
)

// ConflictError reports the ref that already owns a fingerprint.
type ConflictError struct {
	ExistingRef string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger: fingerprint already recorded as %s", e.ExistingRef)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StoredRecord is the durable result for one ref. Record and ClientMatch
// are opaque JSON owned by the intake layer.
type StoredRecord struct {
	Ref         string          `json:"ref"`
	Record      json.RawMessage `json:"record"`
	ClientMatch json.RawMessage `json:"client_match,omitempty"`
	Quality     float64         `json:"quality"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store is the ledger contract.
type Store interface {
	// Exists returns the ref owning fp, checking message_id before the hash.
	Exists(ctx context.Context, fp fingerprint.Fingerprint) (ref string, found bool, err error)
	// Insert records fp under ref. A uniqueness loss yields *ConflictError.
	Insert(ctx context.Context, fp fingerprint.Fingerprint, ref string) error
	SaveRecord(ctx context.Context, rec StoredRecord) error
	GetRecord(ctx context.Context, ref string) (*StoredRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

func validateInsert(fp fingerprint.Fingerprint, ref string) error {
	if ref == "" {
		return ErrInvalidRef
	}
	if fp.ContentSHA256 == "" {
		return errors.New("ledger: content_sha256 is required")
	}
	return nil
}
