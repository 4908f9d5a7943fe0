// Package watch ingests quote files dropped into an inbox directory.
//
// Supported files (by extension) are passed to intake once they have
// stopped changing. Ingested files, duplicates included, move to
// processed/; files intake rejects as invalid move to failed/. Anything
// else stays where it is.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Ingester processes one raw input.
type Ingester interface {
	Process(ctx context.Context, in intake.RawInput) (*intake.Outcome, error)
}

// Config configures a Watcher.
type Config struct {
	Dir string
	// Settle is how long a file must go without events before it is read.
	Settle time.Duration
	// Concurrency bounds parallel ingests.
	Concurrency int
}

// Watcher watches one directory. It is not recursive.
type Watcher struct {
	cfg      Config
	ingester Ingester
	logger   *logging.Logger

	mu       sync.Mutex
	pending  map[string]time.Time
	inflight map[string]bool
}

// New validates cfg and creates the processed and failed directories.
func New(cfg Config, ing Ingester, logger *logging.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if ing == nil {
		return nil, errors.New("ingester is required")
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	for _, d := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, d), 0o750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	return &Watcher{
		cfg:      cfg,
		ingester: ing,
		logger:   logger.Named("watch"),
		pending:  make(map[string]time.Time),
		inflight: make(map[string]bool),
	}, nil
}

// Run ingests files already in the directory, then watches for new ones
// until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info(ctx, "watching inbox", zap.String("dir", w.cfg.Dir))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.cfg.Dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(gctx, g, filepath.Join(w.cfg.Dir, e.Name()))
		}
	}

	tick := time.NewTicker(w.cfg.Settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				_ = g.Wait()
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.touch(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if ok {
				w.logger.Warn(ctx, "watcher error", zap.Error(err))
			}
		case now := <-tick.C:
			for _, path := range w.settled(now) {
				w.schedule(gctx, g, path)
			}
		}
	}
}

func (w *Watcher) touch(path string) {
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// settled removes and returns the paths quiet for at least Settle.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.cfg.Settle {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

func (w *Watcher) schedule(ctx context.Context, g *errgroup.Group, path string) {
	if !eligible(path) {
		return
	}
	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return
	}
	w.inflight[path] = true
	w.mu.Unlock()

	g.Go(func() error {
		defer func() {
			w.mu.Lock()
			delete(w.inflight, path)
			w.mu.Unlock()
		}()
		if err := w.IngestFile(ctx, path); err != nil {
			w.logger.Warn(ctx, "ingest failed", zap.String("file", path), zap.Error(err))
		}
		return nil
	})
}

// eligible reports whether path names a supported, non-temporary file.
func eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}
	_, ok := intake.ChannelForFile(name)
	return ok
}

// IngestFile processes one file and moves it out of the inbox. A file that
// has already been moved is skipped.
func (w *Watcher) IngestFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() || !eligible(path) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	name := filepath.Base(path)
	out, err := w.ingester.Process(ctx, intake.RawInput{Data: data, Filename: name})
	switch {
	case errors.Is(err, intake.ErrInvalidInput):
		w.logger.Warn(ctx, "rejected inbox file", zap.String("file", name), zap.Error(err))
		return w.move(path, failedDir)
	case err != nil:
		return err
	}

	if out.Duplicate {
		w.logger.Info(ctx, "duplicate inbox file", zap.String("file", name), zap.String("existing_ref", out.ExistingRef))
	} else {
		w.logger.Info(ctx, "ingested inbox file", zap.String("file", name), zap.String("ref", out.Ref))
	}
	return w.move(path, processedDir)
}

// move renames path into sub, keeping earlier files of the same name.
func (w *Watcher) move(path, sub string) error {
	dst := filepath.Join(w.cfg.Dir, sub, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dst, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("move to %s: %w", sub, err)
	}
	return nil
}
