package tenant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// StaticData is one tenant's file under the static directory: the
// container allow-list plus fallback business data used when no live
// source is enabled or a live fetch fails.
type StaticData struct {
	TenantID          string    `koanf:"tenant_id"`
	AllowedContainers []string  `koanf:"allowed_containers"`
	Config            Config    `koanf:"config"`
	Profile           Profile   `koanf:"profile"`
	Services          []Service `koanf:"services"`
}

// Directory serves StaticData loaded from <dir>/<tenant>.yaml files.
type Directory struct {
	dir    string
	logger *logging.Logger

	mu      sync.RWMutex
	tenants map[string]StaticData
}

// NewDirectory loads every YAML file in dir. A missing dir yields an
// empty directory.
func NewDirectory(dir string, logger *logging.Logger) (*Directory, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Directory{dir: dir, logger: logger, tenants: map[string]StaticData{}}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// AllowedContainers implements AllowList.
func (d *Directory) AllowedContainers(tenantID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.tenants[tenantID].AllowedContainers)
}

// Static returns the fallback data for tenantID.
func (d *Directory) Static(tenantID string) (StaticData, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sd, ok := d.tenants[tenantID]
	return sd, ok
}

// Reload re-reads the directory and swaps the table atomically. A file
// that fails to parse aborts the reload and keeps the previous table.
func (d *Directory) Reload() error {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading static dir %s: %w", d.dir, err)
	}

	next := make(map[string]StaticData, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		sd, err := loadStaticFile(filepath.Join(d.dir, e.Name()))
		if err != nil {
			return err
		}
		next[sd.TenantID] = sd
	}

	d.mu.Lock()
	d.tenants = next
	d.mu.Unlock()
	return nil
}

// Watch reloads the directory whenever a YAML file changes, until ctx
// ends. Reload errors are logged and the previous table kept.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating static dir watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := d.Reload(); err != nil {
					d.logger.Warn(ctx, "static tenant reload failed", zap.Error(err))
					continue
				}
				d.logger.Info(ctx, "static tenant directory reloaded", zap.String("file", ev.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn(ctx, "static dir watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func loadStaticFile(path string) (StaticData, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return StaticData{}, fmt.Errorf("reading %s: %w", path, err)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return StaticData{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	var sd StaticData
	if err := k.Unmarshal("", &sd); err != nil {
		return StaticData{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if sd.TenantID == "" {
		sd.TenantID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if sd.Config.ID == "" {
		sd.Config.ID = sd.TenantID
	}
	// Fallback services are listed in order and always offered.
	for i := range sd.Services {
		sd.Services[i].Position = i
		sd.Services[i].Active = true
	}
	return sd, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
