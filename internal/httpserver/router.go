package httpserver

import (
	"time"

	"github.com/cleberrangel/quotation-api/internal/handler"
	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers reúne os handlers e middlewares montados pelo main
type Handlers struct {
	Quotation *handler.QuotationHandler
	Platform  *handler.PlatformHandler
	Review    *handler.ReviewHandler
	Auth      *handler.AuthHandler
	WebSocket *handler.WebSocketHandler
	Health    *handler.HealthHandler

	Session       *middleware.SessionAuth
	Sessions      middleware.SessionResolver
	CreateLimiter *middleware.UserRateLimiter
}

// Options controla CORS e a proteção de /metrics
type Options struct {
	CORSOrigins  []string
	MetricsToken string
}

// NewRouter monta o gin.Engine com todas as rotas da API
func NewRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID()) // Request ID + logging estruturado
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AuditMiddleware())

	// Health e métricas
	r.GET("/health/live", h.Health.LivenessCheck)
	r.GET("/health/ready", h.Health.ReadinessCheck)
	r.GET("/health/summary", middleware.BearerAuth(opts.MetricsToken), h.Health.Summary)
	r.GET("/metrics", middleware.BearerAuth(opts.MetricsToken), gin.WrapH(promhttp.Handler()))

	// Autenticação
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/logout", h.Auth.Logout)
		auth.GET("/me", h.Session.RequireAuth(), h.Auth.Me)
	}

	// Grupo de rotas protegidas
	api := r.Group("/api/v1")
	api.Use(h.Session.RequireAuth())
	{
		api.GET("/platforms", h.Platform.ListPlatforms)
		api.GET("/ws/connections", h.WebSocket.GetUserConnections)

		quotations := api.Group("/quotations")
		quotations.POST("", h.CreateLimiter.Middleware(), h.Quotation.CreateQuotation)
		quotations.GET("", h.Quotation.ListQuotations)

		byID := quotations.Group("/:id", middleware.RequireUUIDParams("id"))
		byID.GET("", h.Quotation.GetQuotation)
		byID.PUT("", h.Quotation.UpdateQuotation)
		byID.DELETE("", h.Quotation.DeleteQuotation)
		byID.GET("/export", h.Quotation.ExportQuotation)
		byID.PATCH("/tasks/:taskId", middleware.RequireUUIDParams("taskId"), h.Quotation.UpdateTask)
		byID.POST("/review", h.Review.CreateReview)
		byID.GET("/review", h.Review.GetReview)
	}

	// WebSocket aceita o cookie ou ?session_id=
	r.GET("/ws", websocket.AuthMiddleware(h.Sessions, h.Session.CookieName()), h.WebSocket.HandleConnection)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Disposition", "Retry-After", middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Credenciais não combinam com "*": ecoa a origem da requisição
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
