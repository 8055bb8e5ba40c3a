package app

import (
	"sync/atomic"
	"time"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
)

// Build is one engine built from one config version.
type Build struct {
	Engine  *engine.Engine
	Config  config.Config
	BuiltAt time.Time
	Version uint64
}

// EngineBuilder turns a config into a ready engine.
type EngineBuilder func(config.Config) (*engine.Engine, error)

var buildSeq atomic.Uint64

func newBuild(builder EngineBuilder, cfg config.Config) (*Build, error) {
	eng, err := builder(cfg)
	if err != nil {
		return nil, err
	}
	return &Build{
		Engine:  eng,
		Config:  cfg,
		BuiltAt: time.Now(),
		Version: buildSeq.Add(1),
	}, nil
}
