package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/handler"
	"github.com/noah-isme/classroom-api/internal/middleware"
	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/internal/service"
	"github.com/noah-isme/classroom-api/pkg/config"
	"github.com/noah-isme/classroom-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/classroom-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classroom-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Auth         *handler.AuthHandler
	Users        *handler.UserHandler
	Courses      *handler.CourseHandler
	Enrollment   *handler.EnrollmentHandler
	Assignments  *handler.AssignmentHandler
	Notification *handler.NotificationHandler
	Exports      *handler.ExportHandler
	Audit        *handler.AuditHandler
	System       *handler.MetricsHandler
}

// Options carries the cross-cutting dependencies of the engine.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Tokens  middleware.TokenValidator
	Metrics *service.MetricsService
}

// New builds the gin engine with global middleware and every route group.
func New(opts Options, h Handlers) *gin.Engine {
	cfg := opts.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(middleware.RequestMeta())
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.System.Health)
	r.GET("/ready", h.System.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", h.System.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/users/register", h.Auth.Register)
	api.POST("/users/login", h.Auth.Login)
	api.GET("/exports/download", h.Exports.Download)

	authed := api.Group("", middleware.JWT(opts.Tokens))
	registerUserRoutes(authed, h)
	registerCourseRoutes(authed, h)
	registerTeacherRoutes(authed, h)
	registerAdminRoutes(authed, h)
	registerAssignmentRoutes(authed, h)
	registerNotificationRoutes(authed, h)

	return r
}

var (
	adminOnly      = middleware.RequireRoles(models.RoleAdmin)
	teacherOrAdmin = middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	studentOnly    = middleware.RequireRoles(models.RoleStudent)
	selfOrAdmin    = middleware.RBAC(string(models.RoleAdmin), middleware.SelfRole)
)

func registerUserRoutes(g *gin.RouterGroup, h Handlers) {
	users := g.Group("/users")
	users.GET("/me", h.Users.Me)
	users.PUT("/me", h.Users.UpdateMe)
	users.PUT("/me/password", h.Auth.ChangePassword)

	users.GET("", adminOnly, h.Users.List)
	users.POST("", adminOnly, h.Auth.CreateUser)
	users.GET("/:id", selfOrAdmin, h.Users.Get)
	users.PATCH("/:id/role", adminOnly, h.Users.UpdateRole)
	users.PATCH("/:id/active", adminOnly, h.Users.SetActive)
	users.DELETE("/:id", adminOnly, h.Users.Delete)
}

func registerCourseRoutes(g *gin.RouterGroup, h Handlers) {
	courses := g.Group("/courses")
	courses.GET("", h.Courses.List)
	courses.POST("", teacherOrAdmin, h.Courses.Create)
	courses.GET("/mine", studentOnly, h.Enrollment.MyCourses)
	courses.GET("/:id", h.Courses.Get)
	courses.PUT("/:id", teacherOrAdmin, h.Courses.Update)
	courses.DELETE("/:id", teacherOrAdmin, h.Courses.Delete)

	courses.POST("/:id/enroll", studentOnly, h.Enrollment.Request)
	courses.DELETE("/:id/enroll", studentOnly, h.Enrollment.CancelRequest)
	courses.DELETE("/:id/unenroll", studentOnly, h.Enrollment.Unenroll)
	courses.GET("/:id/enrollment", h.Enrollment.Status)
	courses.GET("/:id/students", h.Enrollment.Roster)
	courses.GET("/:id/assignments", h.Assignments.ListByCourse)
	courses.POST("/:id/exports", teacherOrAdmin, h.Exports.Generate)
}

func registerTeacherRoutes(g *gin.RouterGroup, h Handlers) {
	teachers := g.Group("/teachers", teacherOrAdmin)
	teachers.GET("/courses", h.Courses.TeacherCourses)
	teachers.GET("/courses/:id/pending", h.Enrollment.Pending)
	teachers.PATCH("/courses/:id/approve", h.Enrollment.Approve)
	teachers.PATCH("/courses/:id/reject", h.Enrollment.Reject)
}

func registerAdminRoutes(g *gin.RouterGroup, h Handlers) {
	admin := g.Group("/admin", adminOnly)
	admin.POST("/courses/:id/students", h.Enrollment.AdminAdd)
	admin.DELETE("/courses/:id/students/:studentId", h.Enrollment.AdminRemove)
	admin.GET("/audit-logs/:resource/:id", h.Audit.History)
}

func registerAssignmentRoutes(g *gin.RouterGroup, h Handlers) {
	assignments := g.Group("/assignments")
	assignments.POST("", teacherOrAdmin, h.Assignments.Create)
	assignments.GET("/:id", h.Assignments.Get)
	assignments.PUT("/:id", teacherOrAdmin, h.Assignments.Update)
	assignments.DELETE("/:id", teacherOrAdmin, h.Assignments.Delete)
	assignments.POST("/:id/submit", studentOnly, h.Assignments.Submit)
	assignments.POST("/:id/grade", teacherOrAdmin, h.Assignments.Grade)
	assignments.GET("/:id/submission", studentOnly, h.Assignments.MySubmission)
}

func registerNotificationRoutes(g *gin.RouterGroup, h Handlers) {
	notifications := g.Group("/notifications")
	notifications.GET("", h.Notification.List)
	notifications.GET("/unread-count", h.Notification.UnreadCount)
	notifications.POST("", teacherOrAdmin, h.Notification.Create)
	notifications.PATCH("/:id/read", h.Notification.MarkRead)
	notifications.DELETE("/:id", h.Notification.Delete)
}
