package app

import (
	"fmt"

	httpserver "github.com/subgate-microservice/subgate-sub000/internal/http"
	"github.com/subgate-microservice/subgate-sub000/internal/http/handlers"
	"github.com/subgate-microservice/subgate-sub000/internal/http/middleware"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
)

func wireServer(log *logger.Logger, cfg Config, a *App) (*httpserver.Server, error) {
	log.Info("Wiring HTTP server...")
	sqlDB, err := a.DB.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if cfg.Admin.JWTSecret == "" {
		log.Warn("ADMIN_JWT_SECRET is empty, the admin api rejects every request")
	}
	serviceName := ""
	if cfg.OTel.Enabled {
		serviceName = cfg.OTel.ServiceName
	}
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:                log,
		ServiceName:        serviceName,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		Metrics:            a.Metrics,
		AuthMiddleware:     middleware.NewAuthMiddleware(log, cfg.Admin.JWTSecret),
		HealthHandler:      handlers.NewHealthHandler(sqlDB),
		TransactionHandler: handlers.NewTransactionHandler(log, a.UoW),
	}), nil
}
