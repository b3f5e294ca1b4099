package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-grading-api/internal/handler"
	"github.com/noah-isme/sma-grading-api/internal/middleware"
	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/internal/service"
	"github.com/noah-isme/sma-grading-api/pkg/config"
	"github.com/noah-isme/sma-grading-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-grading-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-grading-api/pkg/middleware/requestid"
)

type routes struct {
	auth        *handler.AuthHandler
	users       *handler.UserHandler
	classes     *handler.ClassHandler
	students    *handler.StudentHandler
	assessments *handler.AssessmentTypeHandler
	marks       *handler.MarkHandler
	grades      *handler.GradeHandler
	metrics     *handler.MetricsHandler

	tokens     middleware.TokenValidator
	audit      middleware.AuditWriter
	metricsSvc *service.MetricsService
}

func newRouter(cfg *config.Config, logr *zap.Logger, h routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(h.metricsSvc))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", h.auth.Login)
	auth.POST("/refresh", h.auth.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(h.tokens))

	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)
	secured.GET("/auth/me", h.auth.Me)

	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)

	users := secured.Group("/users", admin)
	users.GET("", h.users.List)
	users.POST("", h.users.Create)
	users.GET("/:id", h.users.Get)
	users.PUT("/:id", h.users.Update)
	users.DELETE("/:id", h.users.Delete)

	classes := secured.Group("/classes", staff)
	classes.GET("", h.classes.List)
	classes.POST("", h.classes.Create)
	classes.GET("/:id", h.classes.Get)
	classes.PUT("/:id", h.classes.Update)
	classes.DELETE("/:id", h.classes.Delete)
	classes.GET("/:id/students", h.classes.Students)
	classes.GET("/:id/assessment-types", h.assessments.List)
	classes.POST("/:id/assessment-types", h.assessments.Create)
	classes.GET("/:id/assessment-types/validate", h.assessments.ValidateWeights)
	classes.PUT("/:id/assessment-types/order", h.assessments.Reorder)
	classes.GET("/:id/marks", h.marks.List)
	classes.POST("/:id/marks", h.marks.Create)
	classes.POST("/:id/marks/bulk", h.marks.BulkCreate)
	classes.GET("/:id/grades", h.grades.ClassGrades)
	classes.POST("/:id/recalculate", middleware.Audit(h.audit, logr, models.AuditActionRecalculate, "classes", "id"), h.grades.Recalculate)
	classes.GET("/:id/statistics", h.grades.Statistics)
	classes.GET("/:id/export", h.grades.Export)

	assessmentTypes := secured.Group("/assessment-types", staff)
	assessmentTypes.GET("/:id", h.assessments.Get)
	assessmentTypes.PUT("/:id", h.assessments.Update)
	assessmentTypes.DELETE("/:id", h.assessments.Delete)
	assessmentTypes.POST("/:id/deactivate", h.assessments.Deactivate)
	assessmentTypes.GET("/:id/history", h.assessments.History)
	assessmentTypes.GET("/:id/statistics", h.assessments.Statistics)

	marks := secured.Group("/marks", staff)
	marks.GET("/:id", h.marks.Get)
	marks.PUT("/:id", h.marks.Update)
	marks.DELETE("/:id", h.marks.Delete)

	students := secured.Group("/students")
	students.POST("", admin, h.students.Create)
	students.GET("/:id", h.students.Get)
	students.PUT("/:id/class", admin, h.students.AssignClass)
	students.PUT("/:id/parent", admin, h.students.LinkParent)
	students.PUT("/:id/parent-access", h.students.SetParentAccess)
	students.GET("/:id/grade", h.grades.StudentGrade)
	students.GET("/:id/trend", h.grades.Trend)
	students.GET("/:id/prediction", h.grades.Prediction)
	students.GET("/:id/dashboard", h.grades.Dashboard)
	students.GET("/:id/marks", h.grades.Marks)
	students.GET("/:id/alerts", h.grades.Alerts)
	students.POST("/:id/alerts/:alertId/dismiss", h.grades.DismissAlert)

	secured.GET("/parents/me/children", middleware.RequireRoles(models.RoleParent), h.students.Children)

	return r
}
