package prompts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"azure-search-mcp/internal/logging"
	"azure-search-mcp/pkg/models"
)

const reloadDebounce = 250 * time.Millisecond

// Store holds the active catalog. Readers always see a complete, validated
// catalog; a failed reload leaves the previous one in place.
type Store struct {
	path    string
	logger  *logging.Logger
	current atomic.Pointer[Catalog]
}

// NewStore loads the catalog at path, or the embedded catalog when path is
// empty.
func NewStore(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{path: path, logger: logger}
	c, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	logger.Info("Prompt catalog loaded", "source", c.Source(), "templates", len(c.templates))
	return s, nil
}

// NewStoreFromCatalog wraps an already validated catalog.
func NewStoreFromCatalog(c *Catalog) *Store {
	s := &Store{logger: logging.Nop()}
	s.current.Store(c)
	return s
}

func (s *Store) load() (*Catalog, error) {
	if s.path == "" {
		return Default()
	}
	return LoadFile(s.path)
}

// Catalog returns the active catalog.
func (s *Store) Catalog() *Catalog {
	return s.current.Load()
}

// TemplateFor returns the active template for an output format.
func (s *Store) TemplateFor(f models.Format) (*Template, error) {
	return s.Catalog().TemplateFor(f)
}

// Reload re-reads the catalog file and swaps it in if it validates.
func (s *Store) Reload() error {
	c, err := s.load()
	if err != nil {
		s.logger.Error("Prompt catalog reload rejected, keeping previous catalog", "source", s.path, "error", err)
		return err
	}
	s.current.Store(c)
	s.logger.Info("Prompt catalog reloaded", "source", c.Source())
	return nil
}

// Watch reloads the catalog whenever its file changes. It blocks until ctx
// is cancelled. The parent directory is watched so editors that replace the
// file by rename are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(s.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	s.logger.Info("Watching prompt catalog", "path", target)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = s.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Prompt watcher error", "error", err)
		}
	}
}
