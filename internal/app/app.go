// Package app wires a config file, a logger registry and the viewer into a
// running process.
package app

import (
	"context"
	"log"
	"log/slog"
	"time"

	"turboprint/internal/config"
	"turboprint/internal/eventbus"
	"turboprint/internal/runtime/supervisor"
	"turboprint/internal/storage"
	"turboprint/internal/viewer"
	"turboprint/pkg/bridge"
	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"
)

// StopReason records why the process is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopInputEOF   StopReason = "input_eof"
	StopFatalError StopReason = "fatal_error"
)

// Options configures New.
type Options struct {
	// ConfigPath is a JSON or YAML file; empty uses a console-only setup.
	ConfigPath string
	// Watch reloads the config file when it changes.
	Watch bool
	// ViewerAddr forces the viewer on at this address and attaches a viewer
	// handler to the root logger.
	ViewerAddr string
	// CaptureStdlib names a logger that receives log/slog and standard log
	// output while the app runs. Empty leaves both alone.
	CaptureStdlib string
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	cfg  *config.Config

	log    logx.Logger
	reg    *turboprint.Registry
	bus    *eventbus.Bus
	store  storage.Store
	viewer *viewer.Server
	sup    *supervisor.Supervisor

	restoreStdlib func()
}

func defaultConfig() *config.Config {
	return &config.Config{
		Handlers: map[string]config.HandlerConfig{
			"console": {Type: config.TypeStream},
		},
		Loggers: map[string]config.LoggerConfig{
			turboprint.RootName: {Level: "INFO", Handlers: []string{"console"}},
		},
	}
}

// New loads the configuration and applies it to a fresh registry. Nothing
// is started until Start.
func New(opts Options) (*App, error) {
	a := &App{opts: opts}
	if opts.ConfigPath != "" {
		a.cfgm = config.NewConfigManager(opts.ConfigPath)
		cfg, err := a.cfgm.Load()
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
	} else {
		a.cfg = defaultConfig()
	}

	a.log = a.cfg.Diagnostics.Fallback()
	a.reg = turboprint.NewRegistry(turboprint.WithFallback(a.log))
	a.bus = eventbus.New()

	store, err := storage.Open(a.storageConfig(a.cfg), a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = store
	a.viewer = viewer.New(a.bus, store, a.reg.Stats, a.log)

	if err := config.Apply(context.Background(), a.reg, a.overlay(a.cfg), a.env()); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) Registry() *turboprint.Registry { return a.reg }

func (a *App) Viewer() *viewer.Server { return a.viewer }

func (a *App) env() config.Env {
	return config.Env{Fallback: a.log, Publisher: a.bus}
}

func (a *App) storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		if a.viewerConfig(cfg).Enabled {
			return storage.Config{Driver: "memory"}
		}
		return storage.Config{}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		Capacity:    cfg.Storage.Capacity,
		BusyTimeout: busy,
	}
}

func (a *App) viewerConfig(cfg *config.Config) viewer.Config {
	vc := cfg.Viewer
	if a.opts.ViewerAddr != "" {
		vc.Enabled = true
		vc.Address = a.opts.ViewerAddr
	}
	return vc
}

// overlay returns cfg with command-line overrides applied. cfg is not modified.
func (a *App) overlay(cfg *config.Config) *config.Config {
	if a.opts.ViewerAddr == "" {
		return cfg
	}
	for _, hc := range cfg.Handlers {
		if hc.Type == config.TypeViewer {
			return cfg
		}
	}
	out := *cfg
	out.Handlers = make(map[string]config.HandlerConfig, len(cfg.Handlers)+1)
	for k, v := range cfg.Handlers {
		out.Handlers[k] = v
	}
	out.Handlers["viewer"] = config.HandlerConfig{Type: config.TypeViewer}
	out.Loggers = make(map[string]config.LoggerConfig, len(cfg.Loggers)+1)
	for k, v := range cfg.Loggers {
		out.Loggers[k] = v
	}
	root := out.Loggers[turboprint.RootName]
	root.Handlers = append(append([]string(nil), root.Handlers...), "viewer")
	out.Loggers[turboprint.RootName] = root
	return &out
}

// Start brings up the viewer and, when enabled, the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if err := a.viewer.Apply(ctx, a.viewerConfig(a.cfg)); err != nil {
		return err
	}
	if name := a.opts.CaptureStdlib; name != "" && a.restoreStdlib == nil {
		a.restoreStdlib = captureStdlib(a.reg.Get(name))
	}

	if a.cfgm == nil || !a.opts.Watch {
		return nil
	}
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// A reload must build before it is committed.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		p, err := config.Build(a.overlay(cfg), a.env())
		if err != nil {
			return err
		}
		return p.Close(context.Background())
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.reload(c, cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	return nil
}

// captureStdlib points slog and the standard log package at l and returns a
// function that puts the previous outputs back.
func captureStdlib(l *turboprint.Logger) func() {
	prev, out, flags := slog.Default(), log.Writer(), log.Flags()
	bridge.SetDefault(l)
	return func() {
		slog.SetDefault(prev)
		log.SetOutput(out)
		log.SetFlags(flags)
	}
}

func (a *App) reload(ctx context.Context, cfg *config.Config) {
	changed, attrs := config.SummarizeChange(a.cfg, cfg)
	if len(changed) == 0 {
		return
	}
	if err := config.Apply(ctx, a.reg, a.overlay(cfg), a.env()); err != nil {
		a.log.Warn("config apply failed", logx.Err(err))
		return
	}
	if err := a.viewer.Apply(ctx, a.viewerConfig(cfg)); err != nil {
		a.log.Warn("viewer apply failed", logx.Err(err))
	}
	for _, section := range changed {
		if section == "storage" {
			a.log.Warn("storage changes take effect after restart")
		}
	}
	a.cfg = cfg
	a.log.Info("config applied", append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)
}

// Stop shuts everything down in dependency order: background loops, the
// viewer, then every handler, then storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Debug("stopping", logx.String("reason", string(reason)))

	if a.sup != nil {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.sup.Stop(sctx); err != nil {
			a.log.Warn("background tasks did not stop cleanly", logx.Err(err))
		}
		cancel()
	}
	a.viewer.Stop(ctx)
	if a.restoreStdlib != nil {
		a.restoreStdlib()
		a.restoreStdlib = nil
	}

	err := a.reg.Shutdown(ctx)
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
