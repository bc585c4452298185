package datasource

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

// FileDataSource loads a full put-equivalent dataset from a local JSON
// file and re-reads it on write events. It exists for local bootstrap,
// CI, and tests — not as a network fallback. The file is expected to
// contain the same {"data": {"flags": ..., "segments": ...}} envelope
// as a put event, and is validated against the same schema.
type FileDataSource struct {
	path string
	core *core
	log  *logger.Logger
}

var _ DataSource = (*FileDataSource)(nil)

// NewFileDataSource builds a source that loads path and watches it for
// writes.
func NewFileDataSource(path string, s store.Store, log *logger.Logger) *FileDataSource {
	return &FileDataSource{path: path, core: newCore(s, log), log: log}
}

func (f *FileDataSource) Initialized() bool { return f.core.store.Initialized() }

// Run performs the initial load, then watches for file writes until ctx
// is canceled. Unlike the SSE source, a failed initial load is fatal — a
// local file that can't be read or doesn't validate is a configuration
// mistake, not a transient outage. A failed reload after a later write is
// logged and the previously loaded data stays in place.
func (f *FileDataSource) Run(ctx context.Context) error {
	if err := f.load(); err != nil {
		return fmt.Errorf("datasource: initial load of %s: %w", f.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("datasource: creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.path); err != nil {
		return fmt.Errorf("datasource: watching %s: %w", f.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			if err := f.load(); err != nil {
				f.log.Errorf("datasource: reloading %s: %v", f.path, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Errorf("datasource: watcher error on %s: %v", f.path, err)
		}
	}
}

func (f *FileDataSource) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	return f.core.ingestPut(raw)
}
