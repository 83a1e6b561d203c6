package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/formula"
)

// DefaultDebounce is how long the watcher waits for a burst of events on a
// file to settle before reloading it.
const DefaultDebounce = 200 * time.Millisecond

// Engine is the part of the formula engine the loader drives
type Engine interface {
	FormulaFormat(ctx context.Context, text, formulaID string, opts ...engine.FormatOption) (*engine.Handle, error)
	Delete(ctx context.Context, formulaID string) error
}

// Loader keeps the formula sets defined by the YAML files in a directory
// tree in sync with an Engine
type Loader struct {
	dir      string
	engine   Engine
	log      *logrus.Logger
	debounce time.Duration

	mu    sync.Mutex
	files map[string][]string // path -> ids it defines
	owner map[string]string   // id -> path

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader creates a loader for dir
func NewLoader(dir string, eng Engine, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}

	return &Loader{
		dir:      dir,
		engine:   eng,
		log:      log,
		debounce: DefaultDebounce,
		files:    make(map[string][]string),
		owner:    make(map[string]string),
	}
}

// SetDebounce overrides DefaultDebounce
func (l *Loader) SetDebounce(d time.Duration) {
	l.debounce = d
}

// IsFormulaFile reports whether path has a YAML extension
func IsFormulaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadAll loads every formula file under the directory. Files that fail are
// logged and reported together; the others are still loaded.
func (l *Loader) LoadAll(ctx context.Context) (int, error) {
	return l.loadTree(ctx, l.dir)
}

func (l *Loader) loadTree(ctx context.Context, root string) (int, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsFormulaFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(paths)

	loaded := 0
	var errs []error
	for _, path := range paths {
		ids, err := l.LoadFile(ctx, path)
		loaded += len(ids)
		if err != nil {
			l.log.Warnf("Failed to load formula file %s: %v", path, err)
			errs = append(errs, err)
		}
	}
	l.log.Infof("Loaded %d formula sets from %d files in %s", loaded, len(paths), root)
	return loaded, errors.Join(errs...)
}

// LoadFile defines every formula set in path. Sets the file defined on a
// previous load but no longer lists are deleted. It returns the ids that were
// defined successfully.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	file, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	previous := make(map[string]bool)
	for _, id := range l.files[path] {
		previous[id] = true
	}

	var (
		defined []string
		owned   []string
		errs    []error
	)
	for _, d := range file.Formulas {
		if other, ok := l.owner[d.ID]; ok && other != path {
			errs = append(errs, fmt.Errorf("%s: formula %q is already defined in %s", path, d.ID, other))
			continue
		}

		_, err := l.engine.FormulaFormat(ctx, d.Source(), d.ID, engine.WithOutput(d.Output))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: formula %q: %w", path, d.ID, err))
			// a failed save leaves the earlier definition in place
			if previous[d.ID] {
				owned = append(owned, d.ID)
				delete(previous, d.ID)
			}
			continue
		}
		l.log.Debugf("Defined formula %s from %s", d.ID, path)
		defined = append(defined, d.ID)
		owned = append(owned, d.ID)
		delete(previous, d.ID)
	}

	for id := range previous {
		if err := l.deleteSet(ctx, id); err != nil {
			errs = append(errs, err)
			owned = append(owned, id)
			continue
		}
		delete(l.owner, id)
	}

	for _, id := range owned {
		l.owner[id] = path
	}
	sort.Strings(owned)
	l.files[path] = owned

	return defined, errors.Join(errs...)
}

// RemoveFile deletes every formula set path defined
func (l *Loader) RemoveFile(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		kept []string
		errs []error
	)
	for _, id := range l.files[path] {
		if err := l.deleteSet(ctx, id); err != nil {
			errs = append(errs, err)
			kept = append(kept, id)
			continue
		}
		delete(l.owner, id)
	}
	if len(kept) == 0 {
		delete(l.files, path)
	} else {
		l.files[path] = kept
	}
	return errors.Join(errs...)
}

// Owned returns the ids currently defined by path
func (l *Loader) Owned(path string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.files[path]...)
}

func (l *Loader) deleteSet(ctx context.Context, id string) error {
	err := l.engine.Delete(ctx, id)
	if err != nil && !errors.Is(err, formula.ErrNotFound) {
		return fmt.Errorf("failed to delete formula %q: %w", id, err)
	}
	l.log.Infof("Deleted formula %s", id)
	return nil
}

// sync reloads path if it still exists and removes its sets otherwise
func (l *Loader) sync(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := l.RemoveFile(ctx, path); err != nil {
			l.log.Warnf("Failed to remove formulas of %s: %v", path, err)
		}
		return
	}
	if _, err := l.LoadFile(ctx, path); err != nil {
		l.log.Warnf("Failed to reload formula file %s: %v", path, err)
	}
}
