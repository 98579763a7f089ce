package main

import (
	"context"

	"github.com/kandev/kanrun/internal/common/config"
	"github.com/kandev/kanrun/internal/db"
	"github.com/kandev/kanrun/internal/executor/scratch"
	"github.com/kandev/kanrun/internal/scheduling/store"
	"github.com/kandev/kanrun/internal/task/repository"
)

// Stores groups every table owner over one writer/reader pool.
type Stores struct {
	Pool      *db.Pool
	Tasks     *repository.Repository
	Schedules *store.Store
	Scratch   *scratch.Store
}

func provideStores(ctx context.Context, cfg *config.Config) (*Stores, func() error, error) {
	pool, cleanup, err := db.Provide(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (*Stores, func() error, error) {
		_ = cleanup()
		return nil, nil, err
	}

	// tasks first: scheduled_executions references its tables.
	tasks, err := repository.NewWithDB(pool.Writer(), pool.Reader())
	if err != nil {
		return fail(err)
	}
	schedules, err := store.NewWithDB(pool.Writer(), pool.Reader())
	if err != nil {
		return fail(err)
	}
	scratchStore, err := scratch.NewStore(pool.Writer(), pool.Reader())
	if err != nil {
		return fail(err)
	}
	return &Stores{Pool: pool, Tasks: tasks, Schedules: schedules, Scratch: scratchStore}, cleanup, nil
}
