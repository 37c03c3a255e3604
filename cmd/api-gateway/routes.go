package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/cliniclink-api/internal/middleware"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/pkg/config"
	"github.com/noah-isme/cliniclink-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/cliniclink-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/cliniclink-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, app *application, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, cfg.Log.SkipPaths...))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics, "/health", "/ready", "/metrics"))
	r.Use(middleware.WithResponseMeta())

	h := app.handlers
	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleCoordinator)
	authors := middleware.RequireRoles(models.RoleAdmin, models.RoleCoordinator, models.RolePreceptor, models.RoleStudent)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(app.audit, logr, action, resource)
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", h.auth.Login)
	auth.POST("/refresh", h.auth.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.auth))
	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)
	secured.GET("/auth/me", h.auth.Me)

	// Visibility inside /users is scoped by university in the service.
	users := secured.Group("/users")
	users.GET("/:id", h.users.Get)
	users.GET("", staff, h.users.List)
	users.POST("", staff, h.users.Create)
	users.PATCH("/:id", staff, h.users.Update)
	users.DELETE("/:id", staff, h.users.Deactivate)

	templates := secured.Group("/evaluation-templates")
	templates.GET("/defaults", authors, h.templates.Defaults)
	templates.GET("", authors, h.templates.List)
	templates.GET("/:id", authors, h.templates.Get)
	templates.POST("", staff, audit(models.AuditActionTemplateWrite, "evaluation_template"), h.templates.Create)
	templates.PUT("/:id", staff, audit(models.AuditActionTemplateWrite, "evaluation_template"), h.templates.Update)
	templates.PATCH("/:id/active", staff, audit(models.AuditActionTemplateWrite, "evaluation_template"), h.templates.SetActive)
	templates.POST("/:id/duplicate", staff, audit(models.AuditActionTemplateWrite, "evaluation_template"), h.templates.Duplicate)
	templates.DELETE("/:id", staff, audit(models.AuditActionTemplateDelete, "evaluation_template"), h.templates.Delete)

	evaluations := secured.Group("/evaluations")
	evaluations.GET("", authors, h.evaluations.List)
	evaluations.GET("/:id", authors, h.evaluations.Get)
	evaluations.POST("", authors, audit(models.AuditActionEvaluationSave, "evaluation"), h.evaluations.Create)
	evaluations.PUT("/:id", authors, audit(models.AuditActionEvaluationSave, "evaluation"), h.evaluations.Update)

	secured.GET("/metrics/system", middleware.RequireRoles(models.RoleAdmin), h.metrics.System)

	if h.reports != nil {
		secured.POST("/reports/generate", middleware.RequireRoles(models.RoleAdmin, models.RoleCoordinator, models.RolePreceptor), h.reports.GenerateReport)
		secured.GET("/reports/status/:id", h.reports.ReportStatus)
		api.GET("/export/:token", h.reports.DownloadReport)
	}

	return r
}
