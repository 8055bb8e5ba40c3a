// Package app keeps a live engine in step with the config file.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
)

type Option func(*Runtime)

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// Runtime rebuilds the engine whenever the config manager reports a change.
// A failed rebuild keeps the previous engine serving.
type Runtime struct {
	cfgMgr  *config.Manager
	current atomic.Pointer[Build]

	builder EngineBuilder
	notify  func(string, string)
	log     logrus.FieldLogger
	cancel  context.CancelFunc
}

func NewRuntime(ctx context.Context, cfgMgr *config.Manager, builder EngineBuilder, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("engine builder is required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: builder,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(cfg config.Config) {
		if err := rt.reload(cfg); err != nil {
			rt.log.WithError(err).Warn("engine reload failed, keeping previous")
		}
	}); err != nil {
		cancel()
		return nil, err
	}

	return rt, nil
}

// Engine returns the engine built from the latest valid config.
func (r *Runtime) Engine() *engine.Engine {
	return r.current.Load().Engine
}

func (r *Runtime) Current() *Build {
	return r.current.Load()
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) reload(cfg config.Config) error {
	b, err := newBuild(r.builder, cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	r.current.Store(b)
	r.notifySuccess(b)
	return nil
}

func (r *Runtime) notifySuccess(b *Build) {
	r.log.WithFields(logrus.Fields{"version": b.Version, "provider": b.Config.PriceProvider}).Info("engine built")
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  b.Version,
		"built_at": b.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
