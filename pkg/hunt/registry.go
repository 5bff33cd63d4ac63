package hunt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/darkhound-project/darkhound/pkg/models"
)

const watchInterval = 10 * time.Second

// Registry holds the loaded hunt modules and reloads them wholesale when
// anything under the module directory changes.
type Registry struct {
	dir string

	mu      sync.RWMutex
	modules map[string]*models.HuntModule
	mtimes  map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry loads all modules from dir. A module file that fails to
// parse is skipped with a warning; an unreadable directory is an error.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:    dir,
		stopCh: make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every .md file in the module directory.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read module directory %s: %w", r.dir, err)
	}

	modules := make(map[string]*models.HuntModule)
	mtimes := make(map[string]time.Time)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		info, err := entry.Info()
		if err == nil {
			mtimes[path] = info.ModTime()
		}

		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read hunt module", "path", path, "error", err)
			continue
		}
		mod, err := Parse(string(content))
		if err != nil {
			slog.Warn("Failed to parse hunt module", "path", path, "error", err)
			continue
		}
		if _, dup := modules[mod.ID]; dup {
			slog.Warn("Duplicate hunt module id, keeping first", "id", mod.ID, "path", path)
			continue
		}
		modules[mod.ID] = mod
	}

	if dirInfo, err := os.Stat(r.dir); err == nil {
		mtimes[r.dir] = dirInfo.ModTime()
	}

	r.mu.Lock()
	r.modules = modules
	r.mtimes = mtimes
	r.mu.Unlock()

	slog.Info("Hunt modules loaded", "dir", r.dir, "count", len(modules))
	return nil
}

// Get returns a module by id.
func (r *Registry) Get(id string) (*models.HuntModule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// List returns all modules sorted by id.
func (r *Registry) List() []*models.HuntModule {
	r.mu.RLock()
	mods := make([]*models.HuntModule, 0, len(r.modules))
	for _, m := range r.modules {
		mods = append(mods, m)
	}
	r.mu.RUnlock()
	SortModules(mods)
	return mods
}

// StartWatcher polls mtimes and reloads on any change.
func (r *Registry) StartWatcher() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if r.changed() {
					if err := r.Reload(); err != nil {
						slog.Error("Hunt module reload failed", "error", err)
					}
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop ends the watcher.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// changed reports whether the directory or any known file has a new mtime.
func (r *Registry) changed() bool {
	r.mu.RLock()
	mtimes := r.mtimes
	r.mu.RUnlock()

	for path, seen := range mtimes {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Equal(seen) {
			return true
		}
	}

	// New files don't appear in mtimes but do bump the directory mtime,
	// which is tracked above. A brand-new registry with zero entries
	// still tracks the directory itself.
	return false
}

// Save serialises a module to <dir>/<id>.md and reloads the registry.
func (r *Registry) Save(m *models.HuntModule) error {
	content, err := Serialize(m)
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, m.ID+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write module %s: %w", m.ID, err)
	}
	return r.Reload()
}

// Delete removes a module's file and reloads the registry. Returns
// os.ErrNotExist when no such module file exists.
func (r *Registry) Delete(id string) error {
	path := filepath.Join(r.dir, id+".md")
	if err := os.Remove(path); err != nil {
		return err
	}
	return r.Reload()
}
