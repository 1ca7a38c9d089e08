package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/admin"
	"github.com/wavite/wavite/pkg/wavite/apikeys"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/broadcast"
	"github.com/wavite/wavite/pkg/wavite/config"
	"github.com/wavite/wavite/pkg/wavite/dynamiclinks"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"github.com/wavite/wavite/pkg/wavite/instances"
	"github.com/wavite/wavite/pkg/wavite/logging"
	"github.com/wavite/wavite/pkg/wavite/redirect"
	"github.com/wavite/wavite/pkg/wavite/tenants"
	"github.com/wavite/wavite/pkg/wavite/webhooks"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterParams are the dependencies of the HTTP router.
type RouterParams struct {
	fx.In

	Config *config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	Tokens *auth.Tokens

	Auth         *auth.Handler
	APIKeys      *apikeys.Handler
	Tenants      *tenants.Handler
	Instances    *instances.Handler
	Groups       *groups.Handler
	DynamicLinks *dynamiclinks.Handler
	Broadcast    *broadcast.Handler
	Webhooks     *webhooks.Handler
	Admin        *admin.Handler
	Redirect     *redirect.Handler
}

// NewRouter mounts every handler on a gin engine.
func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(logging.GinRecovery(p.Log), logging.GinLogger(p.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "wavite",
			})
		})

		// Public
		p.Auth.RegisterRoutes(api.Group("/auth"))
		p.Webhooks.RegisterRoutes(api)

		// API key management needs an interactive session
		p.APIKeys.RegisterRoutes(api.Group("", auth.AuthMiddleware(p.Tokens), auth.TenantMiddleware(p.DB)))

		// Tenant-scoped routes accept a JWT or an API key
		scoped := api.Group("", apikeys.CombinedAuthMiddleware(p.DB, p.Tokens), auth.TenantMiddleware(p.DB))
		p.Tenants.RegisterRoutes(scoped)
		p.Instances.RegisterRoutes(scoped)
		p.Groups.RegisterRoutes(scoped)
		p.DynamicLinks.RegisterRoutes(scoped)
		p.Broadcast.RegisterRoutes(scoped)

		// System admin, JWT only
		p.Admin.RegisterRoutes(api.Group("/admin", auth.AuthMiddleware(p.Tokens), auth.RequireAdmin()))
	}

	p.Redirect.RegisterRoutes(r)

	return r
}
