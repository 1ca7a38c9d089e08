// Package server assembles the HTTP service with fx.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/admin"
	"github.com/wavite/wavite/pkg/wavite/apikeys"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/broadcast"
	"github.com/wavite/wavite/pkg/wavite/config"
	"github.com/wavite/wavite/pkg/wavite/dynamiclinks"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/models"
	"github.com/wavite/wavite/pkg/wavite/scheduler"
	"github.com/wavite/wavite/pkg/wavite/tenants"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Core provides services, handlers and the router. It expects a config, a
// logger, a database and a whatsapp.Provider from the caller.
var Core = fx.Options(
	fx.Provide(
		newTokens,
		instances.NewService,
		newDirectory,
		dynamiclinks.NewRegistry,
		newEngine,
		newBroadcast,
		newScheduler,

		auth.NewHandler,
		apikeys.NewHandler,
		tenants.NewHandler,
		instances.NewHandler,
		groups.NewHandler,
		newDynamicLinksHandler,
		broadcast.NewHandler,
		newWebhooksHandler,
		admin.NewHandler,
		newRedirectHandler,

		NewRouter,
	),
	fx.Invoke(
		EnsureAdmin,
		func(*scheduler.Scheduler) {},
	),
)

// Module is the full production graph.
var Module = fx.Options(
	fx.Provide(
		config.Load,
		NewLogger,
		NewDB,
		NewProvider,
	),
	Core,
	fx.Invoke(StartHTTPServer),
)

// StartHTTPServer serves the router until the app stops.
func StartHTTPServer(lc fx.Lifecycle, cfg *config.Config, router *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("starting wavite server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// EnsureAdmin creates the configured system admin if no admin exists yet.
func EnsureAdmin(db *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Where("system_role = ?", models.SystemRoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if cfg.AdminEmail == "" {
		log.Warn("no system admin exists; set ADMIN_EMAIL and ADMIN_PASSWORD to create one")
		return nil
	}

	// Promote an existing account with that email instead of failing on the
	// unique index.
	var existing models.User
	if err := db.Where("email = ?", cfg.AdminEmail).First(&existing).Error; err == nil {
		if err := db.Model(&existing).Update("system_role", models.SystemRoleAdmin).Error; err != nil {
			return err
		}
		log.Info("promoted existing user to system admin", zap.String("email", cfg.AdminEmail))
		return nil
	}

	hashedPassword, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	adminUser := models.User{
		Email:        cfg.AdminEmail,
		Name:         "Admin",
		PasswordHash: hashedPassword,
		SystemRole:   models.SystemRoleAdmin,
	}
	if err := db.Create(&adminUser).Error; err != nil {
		return err
	}
	log.Info("created system admin", zap.String("email", cfg.AdminEmail))
	return nil
}
