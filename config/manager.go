package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Manager keeps the settings file of a long-running process (cortexquant
// serve) in sync with memory. The file is JSON unless it ends in .yaml or
// .yml.
type Manager struct {
	path     string
	format   fileFormat
	debounce time.Duration
	log      logrus.FieldLogger

	mu       sync.RWMutex
	cfg      Config
	onChange func(Config)
	watching bool
}

type managerOptions struct {
	path     string
	seed     *Config
	debounce time.Duration
	logger   logrus.FieldLogger
}

type ManagerOption func(*managerOptions)

// fileFormat is the on-disk encoding of a settings file.
type fileFormat struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

var (
	jsonFormat = fileFormat{
		marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		unmarshal: json.Unmarshal,
	}
	yamlFormat = fileFormat{marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
)

func formatFor(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlFormat
	}
	return jsonFormat
}

// NewManager loads the settings file, creating it from the seed config (or
// the defaults) when it does not exist yet.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	o := managerOptions{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	if o.path == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		o.path = path
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}

	m := &Manager{
		path:     filepath.Clean(o.path),
		format:   formatFor(o.path),
		debounce: o.debounce,
		log:      o.logger.WithField("component", "config"),
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := m.read()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if o.seed != nil {
			cfg = *o.seed
		} else {
			cfg = *DefaultConfigWithRoot(filepath.Dir(m.path))
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := m.write(cfg); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
	default:
		return nil, fmt.Errorf("load config %s: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", m.path, err)
	}
	m.cfg = cfg
	return m, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) UpdateFromJSON(doc string) error {
	return m.updateFrom(doc, jsonFormat)
}

func (m *Manager) UpdateFromYAML(doc string) error {
	return m.updateFrom(doc, yamlFormat)
}

func (m *Manager) updateFrom(doc string, f fileFormat) error {
	var cfg Config
	if err := f.unmarshal([]byte(doc), &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return m.Update(cfg)
}

// Update validates cfg, persists it and notifies the watcher callback. An
// unchanged config is a no-op.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if reflect.DeepEqual(m.cfg, cfg) {
		m.mu.Unlock()
		return nil
	}
	if err := m.write(cfg); err != nil {
		m.mu.Unlock()
		return err
	}
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(cfg)
	}
	return nil
}

// Watch calls onChange whenever the file is edited on disk and the result
// validates. Calling it again only replaces the callback. The watch stops
// with ctx.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = onChange
	if m.watching {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	// Editors and write() replace the file by rename, so watch the directory.
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.watching = true
	go m.watch(ctx, w)
	return nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer func() {
		w.Close()
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
	}()

	settle := time.NewTimer(m.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != m.path {
				continue
			}
			switch {
			case evt.Op&(fsnotify.Write|fsnotify.Create) != 0:
				settle.Reset(m.debounce)
			case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				m.log.WithField("path", m.path).Warn("config file removed, keeping current settings")
			}
		case <-settle.C:
			m.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warn("config watcher error")
		}
	}
}

// reload applies the file on disk. Writes made by Update read back equal to
// the current config and are ignored here.
func (m *Manager) reload() {
	log := m.log.WithField("path", m.path)
	cfg, err := m.read()
	if err != nil {
		log.WithError(err).Warn("config reload failed, keeping current settings")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Warn("invalid config on disk, keeping current settings")
		return
	}

	m.mu.Lock()
	if reflect.DeepEqual(m.cfg, cfg) {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	log.Info("config reloaded")
	if cb != nil {
		cb(cfg)
	}
}

func (m *Manager) read() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.path)
	if err != nil {
		return cfg, err
	}
	if err := m.format.unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", filepath.Base(m.path), err)
	}
	return cfg, nil
}

// write replaces the file atomically so a concurrent reload never sees a
// partial document.
func (m *Manager) write(cfg Config) error {
	data, err := m.format.marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), m.path)
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "cortexquant", "config.json"), nil
}

// WithConfigDir stores config.json in dir.
func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.path = filepath.Join(dir, "config.json")
		}
	}
}

// WithConfigPath names the settings file; a .yaml or .yml extension selects YAML.
func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.path = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithInitialConfig seeds a settings file that does not exist yet. An
// existing file wins.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.seed = cfg
	}
}
