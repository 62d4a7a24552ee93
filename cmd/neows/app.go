package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/pders01/neows/internal/config"
	"github.com/pders01/neows/internal/debuglog"
	"github.com/pders01/neows/internal/feed"
	"github.com/pders01/neows/internal/search"
	"github.com/pders01/neows/internal/storage"
	"github.com/pders01/neows/internal/validation"
)

// options are the persistent root flags.
type options struct {
	configPath string
	dbPath     string
	logLevel   string
	quiet      bool

	// stderr receives log lines when no log file is configured.
	stderr io.Writer
}

// app bundles what the commands share. Any field but cfg may be nil
// depending on how it was opened.
type app struct {
	cfg    *config.Config
	store  *storage.Store
	index  search.Index
	loader *feed.Loader
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, stderr io.Writer) error {
	level := debuglog.ParseLogLevel(cfg.Log.Level)
	if cfg.Log.File == "" {
		debuglog.SetOutput(level, stderr)
		return nil
	}
	return debuglog.Setup(level, cfg.Log.File)
}

// openStore opens the archive at the configured path. A path given on the
// command line may live anywhere; a configured one must stay under
// ~/.neows, ~/.config/neows or the temp dir.
func openStore(cfg *config.Config, explicit bool) (*storage.Store, error) {
	handler := validation.NewSecurePathHandler()
	if explicit {
		handler = validation.NewPermissivePathHandler()
	}
	path, err := handler.PrepareFile(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}
	return storage.NewStoreWithTimeout(path, cfg.Database.Timeout)
}

// openIndex prefers the on-disk bleve index and falls back to scoring in
// memory when it cannot be opened.
func openIndex(cfg *config.Config, store *storage.Store) (search.Index, error) {
	if cfg.Database.SearchIndex != "" {
		idx, err := search.NewBleveEngine(store, cfg.Database.SearchIndex)
		if err == nil {
			return idx, nil
		}
		debuglog.Warnf("search index unavailable, using in-memory search: %v", err)
	}
	if store == nil {
		return search.NewEngine(), nil
	}
	return search.NewEngineFromStore(store)
}

// openApp loads configuration and opens the archive. withLoader also
// validates the API settings and builds the loader around a live fetcher.
func openApp(o *options, withLoader bool) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if withLoader {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := setupLogging(cfg, o.stderr); err != nil {
		return nil, err
	}

	store, err := openStore(cfg, o.dbPath != "")
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}

	if withLoader {
		a.index, err = openIndex(cfg, store)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.loader = newLoader(cfg, feed.NewFetcher(cfg), store, a.index)
	}
	return a, nil
}

func newLoader(cfg *config.Config, source feed.Source, archive feed.Archive, index search.UpdateListener) *feed.Loader {
	loader := feed.NewLoader(cfg, source)
	if archive != nil {
		loader.SetArchive(archive)
	}
	if index != nil {
		loader.AddListener(index)
	}
	return loader
}

func (a *app) Close() error {
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, debuglog.Close())
	return errors.Join(errs...)
}
