package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/subgate-microservice/subgate-sub000/internal/http/handlers"
	httpMW "github.com/subgate-microservice/subgate-sub000/internal/http/middleware"
	"github.com/subgate-microservice/subgate-sub000/internal/observability"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	Metrics        *observability.Metrics

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler      *httpH.HealthHandler
	TransactionHandler *httpH.TransactionHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAdmin())
	}
	{
		// Transactions
		if cfg.TransactionHandler != nil {
			api.GET("/transactions", cfg.TransactionHandler.ListTransactions)
			api.DELETE("/transactions", cfg.TransactionHandler.Purge)
			api.GET("/transactions/:id/logs", cfg.TransactionHandler.ListLogs)
			api.POST("/transactions/:id/rollback", cfg.TransactionHandler.Rollback)
		}
	}

	return r
}
