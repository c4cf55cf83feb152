package handlers

import (
	"net/http"
	"slices"
	"time"

	"documerge/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Templates   *TemplateHandler
	Mappings    *MappingHandler
	DataSource  *DataSourceHandler
	Documents   *DocumentHandler
	Generations *GenerationHandler
	Artifacts   *ArtifactHandler
	Logs        *LogsHandler
	Health      *HealthHandler

	ActivityLog    *services.ActivityLogService
	AllowOrigins   []string
	TracingEnabled bool
	ServiceName    string
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(RequestLogger(cfg.Logger))
	router.Use(CORS(cfg.AllowOrigins))

	if cfg.Health != nil {
		router.GET("/healthz", cfg.Health.Check)
	}

	v1 := router.Group("/api/v1")
	if cfg.ActivityLog != nil {
		v1.Use(cfg.ActivityLog.Middleware())
	}

	templates := v1.Group("/templates")
	{
		templates.GET("", cfg.Templates.ListTemplates)
		templates.POST("", cfg.Templates.CreateTemplate)
		templates.POST("/validate", cfg.Templates.ValidateStep)
		templates.GET("/:id", cfg.Templates.GetTemplate)
		templates.PUT("/:id", cfg.Templates.UpdateTemplate)
		templates.DELETE("/:id", cfg.Templates.DeleteTemplate)
		templates.GET("/:id/mappings", cfg.Templates.ListMappings)
		templates.PUT("/:id/mappings", cfg.Templates.ReplaceMappings)
		templates.DELETE("/:id/mappings", cfg.Templates.DeleteMapping)
		templates.POST("/:id/automap", cfg.Templates.AutoMap)
		templates.GET("/:id/records", cfg.Templates.ListRecords)
	}

	mappings := v1.Group("/mappings")
	{
		mappings.POST("/auto", cfg.Mappings.AutoMap)
		mappings.POST("/propose", cfg.Mappings.Propose)
	}

	datasource := v1.Group("/datasource")
	{
		datasource.POST("/test", cfg.DataSource.TestConnection)
		datasource.POST("/fields", cfg.DataSource.ListFields)
		datasource.POST("/records", cfg.DataSource.ListRecords)
	}

	documents := v1.Group("/documents")
	{
		documents.POST("/placeholders", cfg.Documents.GetPlaceholders)
		documents.POST("/validate", cfg.Documents.ValidateDocument)
		documents.GET("/sharing-instructions", cfg.Documents.SharingInstructions)
	}

	generations := v1.Group("/generations")
	{
		generations.GET("", cfg.Generations.ListGenerations)
		generations.POST("", cfg.Generations.Generate)
		generations.GET("/export", cfg.Generations.Export)
		generations.GET("/:id", cfg.Generations.GetGeneration)
		generations.PATCH("/:id/status", cfg.Generations.UpdateStatus)
		generations.DELETE("/:id", cfg.Generations.DeleteGeneration)
	}

	v1.GET("/dashboard/stats", cfg.Generations.DashboardStats)

	if cfg.Artifacts != nil {
		v1.GET("/artifacts/*name", cfg.Artifacts.Download)
	}

	if cfg.Logs != nil {
		logs := v1.Group("/logs")
		{
			logs.GET("", cfg.Logs.GetAllLogs)
			logs.GET("/stats", cfg.Logs.GetLogStats)
			logs.GET("/history", cfg.Logs.GetHistory)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrorBody{Code: "not_found", Message: "route not found"}})
	})

	return router
}

// CORS allows the configured origins. An empty list or "*" allows any
// origin without credentials.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With", SessionHeader},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// RequestLogger logs one line per request at a level matching the status.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
