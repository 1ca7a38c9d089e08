package server

import (
	"context"

	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/broadcast"
	"github.com/wavite/wavite/pkg/wavite/config"
	"github.com/wavite/wavite/pkg/wavite/database"
	"github.com/wavite/wavite/pkg/wavite/dynamiclinks"
	"github.com/wavite/wavite/pkg/wavite/evolution"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/logging"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/redirect"
	"github.com/wavite/wavite/pkg/wavite/rotation"
	"github.com/wavite/wavite/pkg/wavite/scheduler"
	"github.com/wavite/wavite/pkg/wavite/webhooks"
	"github.com/wavite/wavite/pkg/wavite/whatsapp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewLogger builds the process logger from config.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.Environment, cfg.LogLevel)
}

// NewDB connects, migrates, and closes the pool on shutdown.
func NewDB(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg.DBDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		database.Close(db)
		return nil, err
	}
	log.Info("database ready", zap.String("driver", cfg.DBDriver))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return database.Close(db)
		},
	})
	return db, nil
}

// NewProvider returns the Evolution API client as the group provider.
func NewProvider(cfg *config.Config, log *zap.Logger) whatsapp.Provider {
	return evolution.New(evolution.Options{
		BaseURL: cfg.EvolutionURL,
		APIKey:  cfg.EvolutionAPIKey,
		Timeout: cfg.EvolutionTimeout,
		Logger:  log,
	})
}

func newTokens(cfg *config.Config) *auth.Tokens {
	return auth.NewTokens(cfg.JWTSecret, cfg.JWTExpiry)
}

func newDirectory(db *gorm.DB, provider whatsapp.Provider, inst *instances.Service, cfg *config.Config, log *zap.Logger) *groups.Directory {
	return groups.NewDirectory(db, provider, inst, cfg.DefaultGroupCapacity, log)
}

func newEngine(registry *dynamiclinks.Registry, dir *groups.Directory, provider whatsapp.Provider, cfg *config.Config, log *zap.Logger) *rotation.Engine {
	return rotation.NewEngine(registry, dir, provider, rotation.Options{
		LiveCheck:        cfg.RotationLiveCheck,
		LiveCheckTimeout: cfg.LiveCheckTimeout,
		LeaseTTL:         cfg.RotationLease,
		ProvisionTimeout: cfg.ProvisionTimeout,
		SwapTimeout:      config.PointerUpdateBudget,
	}, log)
}

func newBroadcast(dir *groups.Directory, inst *instances.Service, provider whatsapp.Provider, cfg *config.Config, log *zap.Logger) *broadcast.Service {
	return broadcast.NewService(dir, inst, provider, cfg.BroadcastConcurrency, log)
}

func newScheduler(lc fx.Lifecycle, inst *instances.Service, dir *groups.Directory, cfg *config.Config, log *zap.Logger) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(inst, dir, cfg.SyncSchedule, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
	return s, nil
}

func newDynamicLinksHandler(registry *dynamiclinks.Registry, engine *rotation.Engine, cfg *config.Config) *dynamiclinks.Handler {
	return dynamiclinks.NewHandler(registry, engine, cfg.BaseURL)
}

func newRedirectHandler(engine *rotation.Engine, log *zap.Logger) *redirect.Handler {
	return redirect.NewHandler(engine, log)
}

func newWebhooksHandler(dir *groups.Directory, cfg *config.Config, log *zap.Logger) *webhooks.Handler {
	return webhooks.NewHandler(dir, cfg.WebhookSecret, log)
}
