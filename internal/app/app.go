package app

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/grosser/soft-deletion/internal/config"
	"github.com/grosser/soft-deletion/internal/database"
	"github.com/grosser/soft-deletion/internal/event"
	"github.com/grosser/soft-deletion/internal/model"
	"github.com/grosser/soft-deletion/internal/storage"
	"github.com/grosser/soft-deletion/pkg/gormstore"
	"github.com/grosser/soft-deletion/pkg/pgstore"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

// Store is a softdelete.Store that can also create and load rows.
type Store interface {
	softdelete.Store
	Insert(ctx context.Context, recs ...softdelete.Record) error
	Get(ctx context.Context, table, id string) (softdelete.Record, error)
}

type App struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *softdelete.Registry
	store        Store
	engine       *softdelete.Engine
	bus          *event.InMemoryBus
	health       func(ctx context.Context) error
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	registry := softdelete.NewRegistry()
	if err := model.Enable(registry); err != nil {
		return nil, fmt.Errorf("failed to enable soft deletion: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, registry: registry}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	a.bus = event.NewBus(logger)
	event.Notify(registry, a.bus, model.TableCategories, model.TableForums, model.TablePosts)

	a.engine = softdelete.New(store, registry,
		softdelete.WithLogger(logger),
		softdelete.WithUndeleteWindow(cfg.UndeleteWindow),
	)
	return a, nil
}

func (a *App) Engine() *softdelete.Engine { return a.engine }

// Health checks the database behind the store. The in-memory store is
// always healthy.
func (a *App) Health(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health(ctx)
}

func (a *App) Store() Store { return a.store }

func (a *App) Bus() event.Bus { return a.bus }

func (a *App) openStore(ctx context.Context) (Store, error) {
	switch a.cfg.DBDriver {
	case config.DriverMemory:
		a.logger.Info("using in-memory store")
		return storage.NewMemStore(a.registry, memTables()...), nil

	case config.DriverPgx:
		a.logger.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, a.cfg.DatabaseURL, database.PoolOptions{
			MaxConns:          a.cfg.DBMaxConns,
			MinConns:          a.cfg.DBMinConns,
			MaxConnLifetime:   a.cfg.DBMaxConnLifetime,
			MaxConnIdleTime:   a.cfg.DBMaxConnIdleTime,
			HealthCheckPeriod: a.cfg.DBHealthCheckPeriod,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)
		a.health = db.Health

		if err := db.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		return pgstore.New(db.Pool, a.registry, pgTables()...), nil

	case config.DriverGormPostgres, config.DriverGormSQLite:
		return a.openGorm(ctx)
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", a.cfg.DBDriver)
}

func (a *App) openGorm(ctx context.Context) (Store, error) {
	open := func() (*gorm.DB, error) {
		if a.cfg.DBDriver == config.DriverGormSQLite {
			a.logger.Info("opening SQLite database", "path", a.cfg.SQLitePath)
			return database.OpenSQLite(a.cfg.SQLitePath, a.logger)
		}
		a.logger.Info("connecting to PostgreSQL through gorm")
		return database.OpenPostgres(a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.logger)
	}

	db, err := open()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		if err := database.CloseGorm(db); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	})
	a.health = func(ctx context.Context) error { return database.PingGorm(ctx, db) }

	if err := database.MigrateGorm(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	store, err := gormstore.New(db, a.registry, gormstore.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm store: %w", err)
	}
	if err := store.Register(&model.Category{}, &model.Forum{}, &model.Post{}); err != nil {
		return nil, fmt.Errorf("failed to register models: %w", err)
	}
	return store, nil
}

func memTables() []storage.Table {
	rels := model.Relationships()
	return []storage.Table{
		{Name: model.TableCategories, Relationships: rels[model.TableCategories]},
		{Name: model.TableForums, Relationships: rels[model.TableForums]},
		{Name: model.TablePosts, Relationships: rels[model.TablePosts]},
	}
}

func pgTables() []pgstore.Table {
	rels := model.Relationships()
	return []pgstore.Table{
		{Name: model.TableCategories, New: func() softdelete.Record { return &model.Category{} }, Relationships: rels[model.TableCategories]},
		{Name: model.TableForums, New: func() softdelete.Record { return &model.Forum{} }, Relationships: rels[model.TableForums]},
		{Name: model.TablePosts, New: func() softdelete.Record { return &model.Post{} }, Relationships: rels[model.TablePosts]},
	}
}

// Close releases database handles in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
