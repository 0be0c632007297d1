package api

import (
	"github.com/gin-gonic/gin"
	"github.com/marcusv/ionbridge/internal/api/handler"
	"github.com/marcusv/ionbridge/internal/api/middleware"
	"github.com/marcusv/ionbridge/internal/config"
	"github.com/marcusv/ionbridge/internal/logger"
	"github.com/marcusv/ionbridge/internal/repository"
	"github.com/marcusv/ionbridge/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	engine *service.Engine,
	jobRepo *repository.SyncJobRepository,
	settingRepo *repository.SettingRepository,
	cfg *config.Config,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	syncHandler := handler.NewSyncHandler(engine, jobRepo)
	settingHandler := handler.NewSettingHandler(settingRepo)
	dashboardHandler := handler.NewDashboardHandler()

	// Health check
	r.GET("/health", healthHandler.Health)

	// Dashboard
	r.GET("/", dashboardHandler.DashboardPage)
	r.GET("/admin", dashboardHandler.DashboardPage)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Sync jobs
		v1.POST("/sync", syncHandler.StartSync)
		v1.GET("/sync", syncHandler.ListJobs)
		v1.GET("/sync/:jobId", syncHandler.GetStatus)
		v1.POST("/sync/:jobId/control", syncHandler.Control)

		// Entities
		v1.GET("/entities", syncHandler.ListEntities)

		// Settings
		v1.GET("/settings", settingHandler.ListSettings)
		v1.GET("/settings/:key", settingHandler.GetSetting)
		v1.PUT("/settings/:key", settingHandler.PutSetting)
	}

	return r
}
