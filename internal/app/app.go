// Package app builds the collaborators both binaries share from a Config:
// proof uploader, registration store, review dispatch and counter storage.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/counters"
	"github.com/dharsanguruparan/ProofDrop/internal/database"
	"github.com/dharsanguruparan/ProofDrop/internal/imagehost"
	"github.com/dharsanguruparan/ProofDrop/internal/kvstore"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
	"github.com/dharsanguruparan/ProofDrop/internal/processing"
	"github.com/dharsanguruparan/ProofDrop/internal/queue"
	"github.com/dharsanguruparan/ProofDrop/internal/repository"
	"github.com/dharsanguruparan/ProofDrop/internal/review"
	"github.com/dharsanguruparan/ProofDrop/internal/s3storage"
	"github.com/dharsanguruparan/ProofDrop/internal/storage"
	"github.com/dharsanguruparan/ProofDrop/internal/submission"
)

const counterKeyPrefix = "proofdrop:"

// Store is a registration store the pipeline writes to and reviewers read.
type Store interface {
	submission.Recorder
	List(ctx context.Context, limit int) ([]model.Registration, error)
}

// App is the wired dependency graph.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Uploader submission.Uploader
	Store    Store
	Reviewer submission.Reviewer
	Counter  *counters.Counter

	processor *processing.Processor
	closers   []func()
}

// Build connects the store, review dispatch and counter storage. Anything
// left unconfigured falls back to its in-process implementation: memory
// store, memory counters and the goroutine review pool. The proof uploader is
// not built here; callers that submit call EnableUploads.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	kv := a.buildRedis()
	a.Counter = counters.New(kv, counterBounds(cfg.Counters),
		counters.RandomDelay(cfg.Counters.MinDelay, cfg.Counters.MaxDelay, rand.New(rand.NewSource(time.Now().UnixNano()))),
		log.Named("counters"))
	if err := a.Counter.Load(ctx); err != nil {
		log.Warn("load counters, using start values", zap.Error(err))
	}
	return a, nil
}

// EnableUploads checks the proof backend credentials and builds its client.
// With the minio backend the bucket is created if missing.
func (a *App) EnableUploads(ctx context.Context) error {
	if a.Uploader != nil {
		return nil
	}
	cfg := a.Config
	if err := cfg.ValidateProofBackend(); err != nil {
		return err
	}
	switch cfg.ProofBackend {
	case config.BackendMinio:
		store, err := s3storage.New(cfg)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure proof bucket: %w", err)
		}
		a.Uploader = store
	default:
		client, err := imagehost.New(cfg.ImageHostEndpoint, cfg.ImageHostKey,
			imagehost.WithField(cfg.ImageHostField),
			imagehost.WithHTTPClient(&http.Client{Timeout: cfg.UploadTimeout}),
			imagehost.WithLogger(a.Log.Named("imagehost")))
		if err != nil {
			return err
		}
		a.Uploader = client
	}
	return nil
}

func (a *App) buildStore(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		a.Log.Warn("PROOFDROP_DATABASE_URL not set, registrations are kept in memory")
		a.Store = storage.NewMemoryStore()
		return nil
	}
	pool, err := database.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	a.Store = repository.NewRegistrationRepository(pool)
	return nil
}

// buildRedis wires review dispatch and counter storage. Without Redis both
// stay in process.
func (a *App) buildRedis() kvstore.KV {
	cfg := a.Config
	if cfg.RedisAddr == "" {
		a.processor = processing.New(review.NewChecker(nil, a.Log.Named("review")), cfg.ReviewWorkers, a.Log.Named("review"))
		a.Reviewer = a.processor
		return kvstore.NewMemory()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	client := asynq.NewClient(RedisOpt(cfg))
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.Reviewer = queue.NewReviewer(client)
	return kvstore.NewRedis(rdb, counterKeyPrefix)
}

// RedisOpt is the asynq connection for cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// Start launches the in-process review workers, if they are in use.
func (a *App) Start(ctx context.Context) {
	if a.processor != nil {
		a.processor.Start(ctx)
	}
}

// DrainReviews stops the in-process review pool from taking new work and
// waits for queued checks to finish or ctx to end. Queue-backed reviews are
// already in Redis and need nothing.
func (a *App) DrainReviews(ctx context.Context) {
	if a.processor == nil {
		return
	}
	a.processor.Close()
	done := make(chan struct{})
	go func() {
		a.processor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Log.Warn("review checks still running at exit", zap.Error(ctx.Err()))
	}
}

// NewForm returns a fresh form wired to the app's backends. EnableUploads must
// have succeeded first.
func (a *App) NewForm() *submission.Form {
	return submission.NewForm(a.Config.Page, a.Uploader, a.Store,
		submission.WithReviewer(a.Reviewer),
		submission.WithMaxFileSize(a.Config.MaxFileSize),
		submission.WithLogger(a.Log.Named("submission")))
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func counterBounds(c config.Counters) counters.Bounds {
	return counters.Bounds{
		VisitorsStart: c.VisitorsStart,
		VisitorsMax:   c.VisitorsMax,
		SpotsStart:    c.SpotsStart,
		SpotsMin:      c.SpotsMin,
	}
}
