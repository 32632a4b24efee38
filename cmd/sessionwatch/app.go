package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesm/sessionwatch/internal/config"
	"github.com/wesm/sessionwatch/internal/index"
	"github.com/wesm/sessionwatch/internal/log"
	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/sync"
)

// app is the wired indexer behind every command.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	backend index.Backend
	store   *index.Store
	engine  *sync.Engine
}

type appOptions struct {
	notifier sync.Notifier
	progress sync.ProgressFunc
	homes    parser.HomeResolver
	getenv   func(string) string
}

// openApp loads configuration from the command's flags and wires
// logger, index backend, store, cache and engine. The index is not
// read until the engine is loaded or started.
func openApp(cmd *cobra.Command, o appOptions) (*app, error) {
	fs := cmd.Flags()
	stderr := cmd.ErrOrStderr()

	dataDir, err := config.ResolveDataDir(fs)
	if err != nil {
		return nil, err
	}
	boot := log.New(log.Options{Out: stderr, Pretty: isTerminal(stderr)})
	if err := config.MigrateLegacyKeys(dataDir, boot); err != nil {
		boot.Warn().Err(err).Msg("config migration failed")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	logger := log.New(log.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty || isTerminal(stderr),
		Out:    stderr,
	})
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	store := index.NewStore(backend, logger)

	if o.homes == nil {
		o.homes = parser.PlatformHomes{}
	}
	if o.getenv == nil {
		o.getenv = os.Getenv
	}
	engine, err := sync.New(sync.Options{
		Store:            store,
		Cache:            index.NewDetailsCache(cfg.CacheSize),
		Notifier:         o.notifier,
		Logger:           logger,
		Diagnostics:      log.NewDiagnostics(logger, cfg.DiagEnabled, cfg.DiagFilter),
		Roots:            cfg.Roots(o.getenv, o.homes),
		Discover:         parser.DiscoverOptions{IncludeAgentHistory: cfg.IncludeAgentHistory},
		KnownProjects:    cfg.KnownProjects,
		MaxLines:         cfg.MaxLines,
		MaxLineBytes:     cfg.MaxLineBytes,
		MaxBytes:         cfg.MaxJSONBytes,
		Debounce:         cfg.Debounce.D(),
		LocalSettle:      cfg.LocalSettle.D(),
		PollInterval:     cfg.PollInterval.D(),
		RescanInterval:   cfg.RescanInterval.D(),
		RescanCooldown:   cfg.RescanCooldown.D(),
		RescanLocal:      cfg.RescanLocal,
		BatchConcurrency: cfg.BatchConcurrency,
		Concurrency:      cfg.Concurrency,
		OnProgress:       o.progress,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   store,
		engine:  engine,
	}, nil
}

func openBackend(cfg config.Config) (index.Backend, error) {
	switch cfg.IndexBackend {
	case config.BackendSQLite:
		b, err := index.OpenSQLite(cfg.IndexPath())
		if err != nil {
			return nil, fmt.Errorf("opening index database: %w", err)
		}
		return b, nil
	default:
		b, err := index.NewFileBackend(cfg.IndexPath())
		if err != nil {
			return nil, fmt.Errorf("opening index directory: %w", err)
		}
		return b, nil
	}
}

// Close stops the engine, which flushes the index, and releases the
// backend.
func (a *app) Close() error {
	return errors.Join(a.engine.Stop(), a.backend.Close())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
