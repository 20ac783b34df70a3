package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pable/racquet-metrics/internal/model"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	Dir string
	// Settle is how long a file must stay unchanged before it is decoded. Devices that sync
	// over Bluetooth write exports in several chunks.
	Settle time.Duration
	// Existing decodes the exports already in Dir before watching.
	Existing bool
	Logger   *slog.Logger
}

// Watch decodes every *.json export that appears in opts.Dir and passes it to fn. Files that
// fail to decode are logged and skipped. It returns when ctx is cancelled.
func Watch(ctx context.Context, opts WatchOptions, fn func(path string, m model.MatchRecord)) (err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	if err := watcher.Add(opts.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", opts.Dir, err)
	}

	ingest := func(path string) {
		m, err := DecodeFile(path)
		if err != nil {
			logger.Warn("skipping export", "path", path, "error", err)
			return
		}
		logger.Debug("decoded export", "path", path, "id", m.ID)
		fn(path, m)
	}

	if opts.Existing {
		existing, err := ListExports(opts.Dir)
		if err != nil {
			return err
		}
		for _, p := range existing {
			ingest(p)
		}
	}

	// Last event time per path; a path is ingested once it has been quiet for settle.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isExport(ev.Name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "dir", opts.Dir, "error", werr)
		case now := <-ticker.C:
			var ready []string
			for p, at := range pending {
				if now.Sub(at) >= settle {
					ready = append(ready, p)
				}
			}
			sort.Strings(ready)
			for _, p := range ready {
				delete(pending, p)
				ingest(p)
			}
		}
	}
}

// ListExports returns the export files in dir, sorted by name.
func ListExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read export dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isExport(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func isExport(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}
