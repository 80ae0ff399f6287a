package routes

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agri-trace-api-server/internal/api/handlers"
	"agri-trace-api-server/internal/api/middleware"
	"agri-trace-api-server/internal/auth"
	"agri-trace-api-server/internal/metrics"
	"agri-trace-api-server/internal/models"
	"agri-trace-api-server/internal/socket"
)

// Dependencies are the components the router serves.
type Dependencies struct {
	Batches  handlers.BatchWriter
	Reader   handlers.BatchReader
	Views    handlers.Projector
	Enricher handlers.Enricher
	Geocoder handlers.Geocoder
	Hub      *socket.Hub
	Issuer   *auth.Issuer
	Health   *handlers.HealthHandler
	Logger   *zap.Logger
}

// SetupRouter wires middleware and every route onto a fresh engine.
func SetupRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{middleware.HeaderRequestID},
		AllowCredentials: false,
	}))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(middleware.Metrics())

	batchHandler := &handlers.BatchHandler{Batches: deps.Batches, Logger: logger}
	traceHandler := &handlers.TraceHandler{Reader: deps.Reader, Views: deps.Views, Logger: logger}
	geocodeHandler := &handlers.GeocodeHandler{Enricher: deps.Enricher, Geocoder: deps.Geocoder, Logger: logger}
	webSocketHandler := &handlers.WebSocketHandler{Hub: deps.Hub, Issuer: deps.Issuer, Logger: logger}
	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = &handlers.HealthHandler{}
	}

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/trace/:id", traceHandler.GetTrace)

	api := router.Group("/api")
	{
		api.GET("/ws", webSocketHandler.ServeWs)
		api.GET("/geocode/reverse", geocodeHandler.ReverseGeocode)
		api.GET("/reverse-geocode", geocodeHandler.LookupAddress)

		batches := api.Group("/batch")
		{
			batches.GET("/:id/distributor", traceHandler.GetDistributorView)
			batches.GET("/:id/retailer", traceHandler.GetRetailerView)

			authenticate := middleware.Authenticate(deps.Issuer)
			batches.POST("", authenticate, middleware.Authorize(models.RoleFarmer), batchHandler.CreateBatch)
			// the role check for updates depends on the payload's tag
			batches.POST("/:id/update", authenticate, batchHandler.UpdateBatch)
		}
	}

	return router
}
