package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/internal/logging"
	"github.com/dyike/CortexQuant/internal/storage"
	"github.com/dyike/CortexQuant/pkg/dataflows"
)

// application holds what every command needs once flags are parsed.
type application struct {
	cfg     *config.Config
	log     *logrus.Logger
	manager *config.Manager
	store   *storage.Store
}

func newApp() *application {
	return &application{cfg: config.DefaultConfig()}
}

// setup loads an optional config file and builds the logger.
func (a *application) setup(configPath string, debug bool) error {
	if configPath != "" {
		mgr, err := config.NewManager(
			config.WithConfigPath(configPath),
			config.WithInitialConfig(a.cfg),
		)
		if err != nil {
			return fmt.Errorf("load config %s: %w", configPath, err)
		}
		loaded := mgr.Get()
		a.cfg = &loaded
		a.manager = mgr
	}
	if debug {
		a.cfg.Debug = true
		a.cfg.LogLevel = "debug"
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	logFile := a.cfg.LogFile
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(a.cfg.ProjectDir, logFile)
	}
	logger, err := logging.New(logging.Config{Level: a.cfg.LogLevel, OutputFile: logFile})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log = logger
	return nil
}

// newEngine wires the data layer and an optional run recorder.
func (a *application) newEngine(rec engine.Recorder) (*engine.Engine, *dataflows.DataFlowInterface, error) {
	dfi, err := dataflows.NewDataFlowInterface(a.cfg, dataflows.WithLogger(a.log))
	if err != nil {
		return nil, nil, err
	}
	return engine.New(a.cfg, dfi, dataflows.NewSignalStore(a.cfg.DataDir), engineOptions(a.log, rec)...), dfi, nil
}

// buildEngine is newEngine for a config snapshot, used on hot reload.
func buildEngine(cfg *config.Config, log logrus.FieldLogger, rec engine.Recorder) (*engine.Engine, error) {
	dfi, err := dataflows.NewDataFlowInterface(cfg, dataflows.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, dfi, dataflows.NewSignalStore(cfg.DataDir), engineOptions(log, rec)...), nil
}

func engineOptions(log logrus.FieldLogger, rec engine.Recorder) []engine.Option {
	opts := []engine.Option{engine.WithLogger(log)}
	if rec != nil {
		opts = append(opts, engine.WithRecorder(rec))
	}
	return opts
}

// openStore opens the run history database once per process. A missing
// db_path disables history.
func (a *application) openStore() (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := storage.OpenFromConfig(a.cfg)
	if errors.Is(err, storage.ErrDBPathNotConfigured) {
		a.log.Warn("db_path is empty, run history disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

func (a *application) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
