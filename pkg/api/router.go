package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/urmzd/ambisense/pkg/api/handlers"
	"github.com/urmzd/ambisense/pkg/device/schema"
	"github.com/urmzd/ambisense/pkg/discovery"
)

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Links     handlers.Links
	Services  handlers.Services
	Scanner   handlers.Scanner
	Store     handlers.LinkStore  // optional
	Probe     discovery.ProbeFunc // optional, defaults to discovery.Probe
	Validator *schema.Validator
	Timezone  string
}

// Router holds the Gin engine and dependencies
type Router struct {
	engine *gin.Engine
	deps   Deps
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	if deps.Validator == nil {
		deps.Validator = schema.NewValidator()
	}

	router := &Router{
		engine: engine,
		deps:   deps,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	// Health check at root
	healthHandler := handlers.NewHealthHandler(r.deps.Links, r.deps.Timezone)
	r.engine.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		servicesHandler := handlers.NewServicesHandler(r.deps.Services, r.deps.Validator)
		v1.GET("/schema", servicesHandler.Schema)

		// Discovery
		discoveryHandler := handlers.NewDiscoveryHandler(r.deps.Scanner)
		v1.POST("/discovery/scan", discoveryHandler.Scan)

		// Events
		eventsHandler := handlers.NewEventsHandler(r.deps.Links)
		v1.GET("/events", eventsHandler.Events)

		// Links
		linksHandler := handlers.NewLinksHandler(r.deps.Links, r.deps.Store, r.deps.Probe, r.deps.Validator)
		links := v1.Group("/links")
		{
			links.GET("", linksHandler.ListLinks)
			links.POST("", linksHandler.CreateLink)
			links.GET("/:id", linksHandler.GetLink)
			links.PATCH("/:id", linksHandler.RenameLink)
			links.DELETE("/:id", linksHandler.DeleteLink)

			// Settings synchronization
			links.GET("/:id/settings", linksHandler.GetSettings)
			links.POST("/:id/settings", linksHandler.UpdateSettings)
			links.POST("/:id/apply", linksHandler.ApplySettings)
			links.POST("/:id/refresh", linksHandler.RefreshSettings)
			links.GET("/:id/distance", linksHandler.GetDistance)
			links.GET("/:id/entities", linksHandler.GetEntities)
			links.GET("/:id/events", eventsHandler.LinkEvents)
		}

		// Services
		services := v1.Group("/services/ambisense")
		{
			services.POST("/update_settings", servicesHandler.UpdateSettings)
			services.POST("/apply_settings", servicesHandler.ApplySettings)
		}
		v1.POST("/entities/:entity_id", servicesHandler.Command)
	}
}

// Handler returns the HTTP handler, e.g. for an http.Server or httptest.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
