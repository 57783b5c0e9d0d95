package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"bulletin-verifier/domain"
	"bulletin-verifier/infrastructure"
	"bulletin-verifier/reconcile"
	"bulletin-verifier/service"
)

// app holds the wired verifier and the connections it owns.
type app struct {
	cfg      *infrastructure.Config
	verifier *service.Verifier
	rmq      *infrastructure.RabbitMQ
	log      zerolog.Logger
	closers  []func() error
}

func loadConfig(opts *rootOptions) (*infrastructure.Config, error) {
	if opts.configPath != "" {
		if err := os.Setenv("CONFIG_PATH", opts.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := infrastructure.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	infrastructure.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// newApp connects the optional backends that are configured. withQueue
// enables RabbitMQ, which only the server needs.
func newApp(ctx context.Context, opts *rootOptions, withQueue bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: infrastructure.Logger()}

	engine, err := reconcile.New(cfg.Reconcile)
	if err != nil {
		return nil, err
	}

	recognizer, closeRecognizer, err := infrastructure.NewRecognizer(ctx, cfg.Recognition)
	if err != nil {
		return nil, fmt.Errorf("recognition backend: %w", err)
	}
	a.closers = append(a.closers, closeRecognizer)

	svcOpts := []service.Option{service.WithParallelism(cfg.Workers.Parallelism)}
	if !withQueue {
		// one-shot commands may name a folder outside the candidatures root
		svcOpts = append(svcOpts, service.WithLocalPaths())
	}

	if cfg.Database.DSN != "" {
		db, err := infrastructure.NewMySQLConnection(cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		runs, err := infrastructure.NewRunIndex(db)
		if err != nil {
			a.Close()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		svcOpts = append(svcOpts, service.WithRunTracker(runs))
	}

	if cfg.Redis.Addr != "" {
		locker, err := infrastructure.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.LockTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, locker.Close)
		svcOpts = append(svcOpts, service.WithLocker(locker))
	}

	if cfg.Archive.Bucket != "" {
		archive, err := infrastructure.NewArchive(cfg.Archive)
		if err != nil {
			a.Close()
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithArchive(archive))
	}

	if withQueue && cfg.RabbitMQ.URL != "" {
		rmq, err := infrastructure.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rmq = rmq
		a.closers = append(a.closers, rmq.Close)
		svcOpts = append(svcOpts, service.WithQueue(rmq))
	}

	a.verifier = service.NewVerifier(
		cfg.Storage.CandidaturesDir,
		engine,
		recognizer,
		infrastructure.NewFileStore(),
		infrastructure.NewReportWriter(),
		svcOpts...,
	)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// folderReader answers read-only queries without connecting any backend.
type folderReader struct {
	root  string
	store *infrastructure.FileStore
}

func newFolderReader(opts *rootOptions) (*folderReader, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return &folderReader{root: cfg.Storage.CandidaturesDir, store: infrastructure.NewFileStore()}, nil
}

func (r *folderReader) status(ctx context.Context, folder string) (domain.VerificationStatus, error) {
	path, err := infrastructure.ResolvePath(r.root, folder)
	if err != nil {
		return domain.NotVerified(), err
	}
	return r.store.CurrentStatus(ctx, path)
}

func (r *folderReader) history(ctx context.Context, folder string) ([]infrastructure.StoredVerdict, error) {
	path, err := infrastructure.ResolvePath(r.root, folder)
	if err != nil {
		return nil, err
	}
	return r.store.History(ctx, path)
}

func (r *folderReader) detect(folder string) (infrastructure.Detection, error) {
	path, err := infrastructure.ResolvePath(r.root, folder)
	if err != nil {
		return infrastructure.Detection{}, err
	}
	return infrastructure.Detect(path)
}
