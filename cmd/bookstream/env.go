package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simp-lee/bookstream"
	"github.com/simp-lee/bookstream/config"
	"github.com/simp-lee/bookstream/memstore"
	"github.com/simp-lee/bookstream/sqlstore"
)

type envKey struct{}

// store is what the commands need from a storage backend.
type store interface {
	bookstream.Storage
	Documents(ctx context.Context) ([]string, error)
}

// localEnv keeps everything the program needs in a single place.
type localEnv struct {
	Cfg *config.Config
	Log *zap.Logger

	store   store
	closer  func() error
	tracker *bookstream.Tracker

	start         time.Time
	restoreStdLog func()
}

func envFromContext(ctx context.Context) *localEnv {
	if env, ok := ctx.Value(envKey{}).(*localEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func contextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, &localEnv{start: time.Now()})
}

func (e *localEnv) uptime() time.Duration {
	return time.Since(e.start)
}

func (e *localEnv) redirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *localEnv) restoreLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}

// storage opens the configured backend on first use.
func (e *localEnv) storage(ctx context.Context) (store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.Cfg.Storage.Path == config.MemoryDatabase {
		e.store = memstore.New()
		e.Log.Debug("Using in-memory storage")
		return e.store, nil
	}
	s, err := sqlstore.Open(ctx, e.Cfg.Storage.Path,
		sqlstore.WithLogger(e.Log.Named("sqlstore")),
		sqlstore.WithCompressedMarkup(e.Cfg.Storage.CompressMarkup))
	if err != nil {
		return nil, fmt.Errorf("unable to open storage: %w", err)
	}
	e.store, e.closer = s, s.Close
	return e.store, nil
}

// progressTracker starts the single progress writer on first use.
func (e *localEnv) progressTracker(ctx context.Context) (*bookstream.Tracker, error) {
	if e.tracker != nil {
		return e.tracker, nil
	}
	s, err := e.storage(ctx)
	if err != nil {
		return nil, err
	}
	e.tracker = bookstream.NewTracker(s, e.Cfg.Progress.TrackerOptions(e.Log.Named("progress"))...)
	return e.tracker, nil
}

// close flushes pending progress and releases the storage.
func (e *localEnv) close() (err error) {
	if e.tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.Cfg.Progress.StoreTimeout+time.Second)
		if er := e.tracker.Close(ctx); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to flush reading progress: %w", er))
		}
		cancel()
	}
	if e.closer != nil {
		if er := e.closer(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close storage: %w", er))
		}
	}
	return err
}
