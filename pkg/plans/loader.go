package plans

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML shape of an on-disk catalog
type catalogFile struct {
	Plans           map[Plan]Entry  `yaml:"plans"`
	ModelCosts      map[Model]int64 `yaml:"model_costs"`
	MinCreditBuffer int64           `yaml:"min_credit_buffer"`
}

// LoadCatalog reads a catalog from a YAML file. Entries not present in the
// file keep the built-in defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	for p := range cf.Plans {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown plan %q in catalog file", p)
		}
	}
	for m, cost := range cf.ModelCosts {
		if cost <= 0 {
			return nil, fmt.Errorf("model %q has non-positive cost multiplier", m)
		}
	}

	return NewCatalog(cf.Plans, cf.ModelCosts, cf.MinCreditBuffer), nil
}

// Provider hands out the current catalog snapshot. When constructed with a
// file path it watches the file and swaps in a new catalog on change; the
// previous snapshot stays valid for callers that already hold it.
type Provider struct {
	current atomic.Pointer[Catalog]
	watcher *fsnotify.Watcher
	logger  *logrus.Logger
	done    chan struct{}
}

// NewStaticProvider wraps a fixed catalog
func NewStaticProvider(c *Catalog) *Provider {
	p := &Provider{}
	p.current.Store(c)
	return p
}

// NewFileProvider loads the catalog from path and watches it for changes
func NewFileProvider(path string, logger *logrus.Logger) (*Provider, error) {
	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	p := &Provider{
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}
	p.current.Store(catalog)

	go p.watch(path)
	return p, nil
}

// Catalog returns the current snapshot
func (p *Provider) Catalog() *Catalog {
	return p.current.Load()
}

// Close stops the file watcher, if any
func (p *Provider) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	return p.watcher.Close()
}

func (p *Provider) watch(path string) {
	base := filepath.Base(path)
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Base(event.Name) != base {
				continue
			}
			catalog, err := LoadCatalog(path)
			if err != nil {
				// Keep serving the previous snapshot on a bad reload
				p.logger.WithError(err).WithField("path", path).Error("Failed to reload plan catalog")
				continue
			}
			p.current.Store(catalog)
			p.logger.WithField("path", path).Info("Plan catalog reloaded")
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.WithError(err).Warn("Plan catalog watcher error")
		}
	}
}
