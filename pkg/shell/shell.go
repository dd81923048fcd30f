// Package shell assembles a host process from a profile directory: config,
// logging, the sqlite journal, tracing and the bridge router with the full
// capability set.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rexliu/webshell/pkg/appinfo"
	"github.com/rexliu/webshell/pkg/bridge"
	"github.com/rexliu/webshell/pkg/capability"
	"github.com/rexliu/webshell/pkg/clipboard"
	"github.com/rexliu/webshell/pkg/config"
	"github.com/rexliu/webshell/pkg/imaging"
	"github.com/rexliu/webshell/pkg/logging"
	"github.com/rexliu/webshell/pkg/storage/sqlite"
	"github.com/rexliu/webshell/pkg/tracing"
)

// Options tune Open.
type Options struct {
	// Prefix labels log lines, e.g. the binary name.
	Prefix string
	// LogWriter receives console log output; stdout when nil.
	LogWriter io.Writer
	// TraceWriter receives exported spans; stderr when nil.
	TraceWriter io.Writer
	// WorkDir is inspected for git metadata by app.getInfo.
	WorkDir string
}

// Shell is an assembled host.
type Shell struct {
	ProfileDir string
	Config     *config.ProfileConfig
	Logger     *logging.Logger
	Store      *sqlite.Store
	Router     *bridge.Router
	Tracing    *tracing.Provider
	Info       appinfo.Resolver
}

// Open loads the profile at profileDir and wires every component.
func Open(ctx context.Context, profileDir string, opts Options) (*Shell, error) {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(profileDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "webshell"
	}
	var logger *logging.Logger
	if opts.LogWriter != nil {
		logger = logging.NewWithWriter(prefix, opts.LogWriter)
	} else {
		logger = logging.New(prefix)
	}
	logCfg := cfg.Logging
	logCfg.FilePath = config.ResolvePath(profileDir, logCfg.FilePath)
	if err := logger.Configure(logCfg); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	s := &Shell{ProfileDir: profileDir, Config: cfg, Logger: logger}
	if err := s.open(ctx, opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Shell) open(ctx context.Context, opts Options) error {
	cfg := s.Config
	store, err := sqlite.OpenWithOptions(config.ResolvePath(s.ProfileDir, cfg.Storage.DBPath), sqlite.Options{
		JournalMode: cfg.Storage.JournalMode,
		Synchronous: cfg.Storage.Synchronous,
	})
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	s.Store = store
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}

	s.Info = appinfo.Resolver{
		ManifestPath: config.ResolvePath(s.ProfileDir, cfg.App.ManifestPath),
		Name:         cfg.App.Name,
		Version:      cfg.App.Version,
		WorkDir:      opts.WorkDir,
	}
	info := s.Info.Resolve(ctx)

	traceOut := opts.TraceWriter
	if traceOut == nil {
		traceOut = os.Stderr
	}
	s.Tracing, err = tracing.Init(cfg.Tracing, info.Name, info.Version, traceOut)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	clip, err := clipboard.New(cfg.Clipboard.Backend)
	if err != nil {
		return err
	}
	extractor := imaging.NewAdapter(imaging.ThresholdBackend{Threshold: cfg.Imaging.Threshold}, s.Logger)

	registry, err := bridge.NewRegistry(s.Logger, capability.All(capability.Deps{
		Info:        s.Info,
		Clipboard:   clip,
		Extractor:   extractor,
		ImageLimits: imaging.Limits{MaxBytes: cfg.Imaging.MaxImageBytes, MaxPixels: cfg.Imaging.MaxPixels},
		Logger:      s.Logger,
		Journal:     store,
	})...)
	if err != nil {
		return err
	}
	s.Router = bridge.NewRouter(registry,
		bridge.WithLogger(s.Logger),
		bridge.WithTracer(s.Tracing.Tracer("github.com/rexliu/webshell/pkg/bridge")),
		bridge.WithObserver(bridge.ObserverFunc(s.recordCall)),
	)
	s.Logger.Infof("shell ready: profile=%s app=%s %s methods=%s",
		cfg.ProfileName, info.Name, info.Version, strings.Join(registry.Methods(), ","))
	return nil
}

func (s *Shell) recordCall(ctx context.Context, rec bridge.CallRecord) {
	err := s.Store.RecordCall(context.WithoutCancel(ctx), sqlite.CallEntry{
		RequestID:  rec.ID,
		Method:     rec.Method,
		Code:       rec.Code,
		DurationUs: rec.Duration.Microseconds(),
		CreatedAt:  rec.At.UnixMilli(),
	})
	if err != nil {
		s.Logger.Warnf("record call %s: %v", rec.ID, err)
	}
}

// SocketPath is the resolved bridge socket location.
func (s *Shell) SocketPath() string {
	return config.ResolvePath(s.ProfileDir, s.Config.Bridge.SocketPath)
}

// ContentDir is the resolved static web content directory.
func (s *Shell) ContentDir() string {
	return config.ResolvePath(s.ProfileDir, s.Config.Web.ContentDir)
}

// NavigationTarget is the URL the front-end should load first: a dev server
// override when present, else the bundled content.
func (s *Shell) NavigationTarget() string {
	if dev := s.Config.DevURL(); dev != "" {
		return dev
	}
	return "http://" + s.Config.Web.ListenAddr + "/index.html"
}

// Close flushes spans and releases the store and log file.
func (s *Shell) Close() error {
	var firstErr error
	if s.Tracing != nil {
		if err := s.Tracing.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.Logger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
