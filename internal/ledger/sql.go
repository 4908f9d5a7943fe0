package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

//go:embed migrations
var migrations embed.FS

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore is a Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *logging.Logger
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) a sqlite ledger at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string, logger *logging.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite ledger: %w", err)
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	return newSQLStore(ctx, db, DialectSQLite, logger)
}

// OpenPostgres connects through pgx and applies migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *logging.Logger) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres ledger: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres ledger: %w", err)
	}
	return newSQLStore(ctx, db, DialectPostgres, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, logger *logging.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &SQLStore{db: db, dialect: dialect, logger: logger.Named("ledger"), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("locating %s migrations: %w", s.dialect, err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	var driver database.Driver
	switch s.dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
	default:
		return fmt.Errorf("unsupported dialect %q", s.dialect)
	}
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(s.dialect), driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	// m.Close would close the shared *sql.DB; it is released with the store.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	v, _, _ := m.Version()
	s.logger.Debug(ctx, "ledger migrated", zap.String("dialect", string(s.dialect)), zap.Uint("version", v))
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Exists(ctx context.Context, fp fingerprint.Fingerprint) (string, bool, error) {
	if fp.HasMessageID() {
		ref, ok, err := s.queryRef(ctx, `SELECT ref FROM fingerprints WHERE message_id = ?`, fp.MessageID)
		if err != nil || ok {
			return ref, ok, err
		}
	}
	return s.queryRef(ctx, `SELECT ref FROM fingerprints WHERE content_sha256 = ?`, fp.ContentSHA256)
}

func (s *SQLStore) queryRef(ctx context.Context, q string, arg string) (string, bool, error) {
	var ref string
	err := s.db.QueryRowContext(ctx, s.rebind(q), arg).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger lookup: %w", err)
	}
	return ref, true, nil
}

func (s *SQLStore) Insert(ctx context.Context, fp fingerprint.Fingerprint, ref string) error {
	if err := validateInsert(fp, ref); err != nil {
		return err
	}

	var msgID sql.NullString
	if fp.HasMessageID() {
		msgID = sql.NullString{String: fp.MessageID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO fingerprints (ref, message_id, content_sha256, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		ref, msgID, fp.ContentSHA256, s.now().UTC().UnixMilli(),
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("ledger insert: %w", err)
	}
	if err == nil {
		if n, rerr := res.RowsAffected(); rerr == nil && n > 0 {
			return nil
		}
	}

	existing, found, lerr := s.Exists(ctx, fp)
	if lerr != nil {
		return fmt.Errorf("ledger conflict lookup: %w", lerr)
	}
	if !found {
		// The conflicting row is on ref itself.
		existing = ref
	}
	return &ConflictError{ExistingRef: existing}
}

func (s *SQLStore) SaveRecord(ctx context.Context, rec StoredRecord) error {
	if rec.Ref == "" {
		return ErrInvalidRef
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	var match any
	if len(rec.ClientMatch) > 0 {
		match = string(rec.ClientMatch)
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO records (ref, record, client_match, quality, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ref) DO UPDATE SET record = excluded.record,
		   client_match = excluded.client_match, quality = excluded.quality`),
		rec.Ref, string(rec.Record), match, rec.Quality, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.Ref, err)
	}
	return nil
}

func (s *SQLStore) GetRecord(ctx context.Context, ref string) (*StoredRecord, error) {
	var (
		record  string
		match   sql.NullString
		quality float64
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT record, client_match, quality, created_at FROM records WHERE ref = ?`), ref,
	).Scan(&record, &match, &quality, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", ref, err)
	}

	rec := &StoredRecord{
		Ref:       ref,
		Record:    []byte(record),
		Quality:   quality,
		CreatedAt: time.UnixMilli(created).UTC(),
	}
	if match.Valid && match.String != "" {
		rec.ClientMatch = []byte(match.String)
	}
	return rec, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
