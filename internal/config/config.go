// Package config loads the processor's YAML configuration and watches it
// for changes, hot-reloading the fields that are safe to change without a
// restart.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete processor configuration, loaded from YAML with
// environment-variable overrides for the values operators most often need
// to change per deployment.
type Config struct {
	Worker struct {
		Group                  string `yaml:"group"`
		InitScriptTag          string `yaml:"init_script_tag"`
		EnforceSameWorkerReqs  bool   `yaml:"enforce_same_worker_requirements"`
	} `yaml:"worker"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Flow struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"flow"`

	Telemetry struct {
		Enabled       bool   `yaml:"enabled"`
		OTLPEndpoint  string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Receiver struct {
		UnboundedHint int `yaml:"unbounded_hint"`
		BoundedSize   int `yaml:"bounded_size"`
	} `yaml:"receiver"`

	LogLevel string `yaml:"log_level"`
}

// Load reads and parses a YAML config file, then applies environment
// overrides for the values most deployments pin per-environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WORKER_GROUP"); v != "" {
		cfg.Worker.Group = v
	}
	if v := os.Getenv("INIT_SCRIPT_TAG"); v != "" {
		cfg.Worker.InitScriptTag = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Hot-reloadable fields a watched config is allowed to change on the fly,
// without tearing down connections or channels sized at startup.
type Hot struct {
	LogLevel        string
	TelemetryOn     bool
	MetricsEnabled  bool
}

func (c *Config) hot() Hot {
	return Hot{
		LogLevel:       c.LogLevel,
		TelemetryOn:    c.Telemetry.Enabled,
		MetricsEnabled: c.Metrics.Enabled,
	}
}

// Watcher reloads a config file's hot-reloadable fields whenever the file
// changes on disk, and publishes each new Hot snapshot to subscribers.
type Watcher struct {
	path string
	fs   FsWatcher

	mu   sync.RWMutex
	last Hot

	subs []chan Hot
}

// FsWatcher is the minimal filesystem-watch surface this package depends
// on, kept behind an interface (rather than importing fsnotify directly
// everywhere) so tests can drive it without touching a real filesystem.
type FsWatcher interface {
	Add(path string) error
	Close() error
	Events() <-chan FsEvent
	Errors() <-chan error
}

// FsEvent mirrors the one field callers here care about: which path
// changed.
type FsEvent struct {
	Name string
}

// NewWatcher starts watching path via fs, seeding the initial hot
// snapshot from cfg.
func NewWatcher(path string, cfg *Config, fs FsWatcher) (*Watcher, error) {
	if err := fs.Add(path); err != nil {
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}
	return &Watcher{path: path, fs: fs, last: cfg.hot()}, nil
}

// Subscribe returns a channel that receives every reloaded Hot snapshot.
func (w *Watcher) Subscribe() <-chan Hot {
	ch := make(chan Hot, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

// Current returns the most recently loaded Hot snapshot.
func (w *Watcher) Current() Hot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}

// Run blocks, reloading on every filesystem event until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-stop:
			return
		case _, ok := <-w.fs.Events():
			if !ok {
				return
			}
			debounce.Reset(50 * time.Millisecond)
		case <-debounce.C:
			w.reload()
		case <-w.fs.Errors():
			// A watch error doesn't invalidate the last known-good config.
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		return
	}
	next := cfg.hot()

	w.mu.Lock()
	w.last = next
	subs := append([]chan Hot(nil), w.subs...)
	w.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
