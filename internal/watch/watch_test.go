package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

// recordingIngester wraps a real intake service and remembers filenames.
type recordingIngester struct {
	svc   *intake.Service
	mu    sync.Mutex
	files []string
	err   error
}

func (r *recordingIngester) Process(ctx context.Context, in intake.RawInput) (*intake.Outcome, error) {
	r.mu.Lock()
	r.files = append(r.files, in.Filename)
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.svc.Process(ctx, in)
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func newIngester(t *testing.T) *recordingIngester {
	t.Helper()
	p, err := extraction.NewPipeline(config.Default().Extraction, nil, nil, 0, nil)
	require.NoError(t, err)
	svc, err := intake.New(ledger.NewMemoryStore(), p, nil, nil, nil)
	require.NoError(t, err)
	return &recordingIngester{svc: svc}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{}, newIngester(t), nil)
	assert.ErrorContains(t, err, "directory is required")
	_, err = New(Config{Dir: dir}, nil, nil)
	assert.ErrorContains(t, err, "ingester is required")

	w, err := New(Config{Dir: dir}, newIngester(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.cfg.Settle)
	assert.Equal(t, 4, w.cfg.Concurrency)
	assert.DirExists(t, filepath.Join(dir, processedDir))
	assert.DirExists(t, filepath.Join(dir, failedDir))
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	ing := newIngester(t)
	tl := logging.NewTestLogger()
	w, err := New(Config{Dir: dir}, ing, tl.Logger)
	require.NoError(t, err)
	ctx := context.Background()
	body := "Please quote a Toyota Hilux from Antwerp to Lagos."

	t.Run("ingested file moves to processed", func(t *testing.T) {
		path := writeFile(t, dir, "q1.txt", body)
		require.NoError(t, w.IngestFile(ctx, path))
		assert.False(t, exists(path))
		assert.FileExists(t, filepath.Join(dir, processedDir, "q1.txt"))
		tl.AssertLogged(t, zapcore.InfoLevel, "ingested inbox file")
	})

	t.Run("duplicate also moves to processed", func(t *testing.T) {
		path := writeFile(t, dir, "q1.txt", body)
		require.NoError(t, w.IngestFile(ctx, path))
		assert.False(t, exists(path))
		tl.AssertLogged(t, zapcore.InfoLevel, "duplicate inbox file")

		matches, err := filepath.Glob(filepath.Join(dir, processedDir, "q1*.txt"))
		require.NoError(t, err)
		assert.Len(t, matches, 2, "earlier file of the same name is kept")
	})

	t.Run("invalid input moves to failed", func(t *testing.T) {
		path := writeFile(t, dir, "blank.txt", "   \n")
		require.NoError(t, w.IngestFile(ctx, path))
		assert.FileExists(t, filepath.Join(dir, failedDir, "blank.txt"))
		tl.AssertLogged(t, zapcore.WarnLevel, "rejected inbox file")
	})

	t.Run("unsupported and hidden files are left alone", func(t *testing.T) {
		for _, name := range []string{"notes.docx", ".q2.txt", "~q3.txt"} {
			path := writeFile(t, dir, name, body)
			require.NoError(t, w.IngestFile(ctx, path))
			assert.FileExists(t, path)
		}
	})

	t.Run("missing file is skipped", func(t *testing.T) {
		assert.NoError(t, w.IngestFile(ctx, filepath.Join(dir, "gone.txt")))
	})

	t.Run("intake failure leaves the file in place", func(t *testing.T) {
		ing.err = errors.New("ledger unavailable")
		defer func() { ing.err = nil }()
		path := writeFile(t, dir, "q4.txt", "Ford Ranger from Hamburg to Mombasa")
		assert.ErrorContains(t, w.IngestFile(ctx, path), "ledger unavailable")
		assert.FileExists(t, path)
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	ing := newIngester(t)
	existing := writeFile(t, dir, "existing.txt", "BMW X5 from Antwerp to Cotonou")

	w, err := New(Config{Dir: dir, Settle: 20 * time.Millisecond, Concurrency: 2}, ing, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, processedDir, "existing.txt"))
	}, 5*time.Second, 10*time.Millisecond, "initial scan")
	assert.False(t, exists(existing))

	dropped := writeFile(t, dir, "dropped.eml",
		"From: a@example.com\r\nSubject: Quote\r\n\r\nToyota Hilux from Hamburg to Mombasa\r\n")
	require.Eventually(t, func() bool {
		return exists(filepath.Join(dir, processedDir, "dropped.eml"))
	}, 5*time.Second, 10*time.Millisecond, "new file")
	assert.False(t, exists(dropped))

	writeFile(t, dir, "ignored.docx", "x")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.ElementsMatch(t, []string{"existing.txt", "dropped.eml"}, ing.seen())
}

func TestSettled(t *testing.T) {
	w := &Watcher{cfg: Config{Settle: time.Second}, pending: map[string]time.Time{}}
	now := time.Now()
	w.pending["old"] = now.Add(-2 * time.Second)
	w.pending["fresh"] = now

	assert.Equal(t, []string{"old"}, w.settled(now))
	assert.Len(t, w.pending, 1)
}
