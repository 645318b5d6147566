package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/taskflowhq/taskflow/internal/app"
	"github.com/taskflowhq/taskflow/internal/handlers"
	"github.com/taskflowhq/taskflow/internal/middleware"
	"github.com/taskflowhq/taskflow/internal/realtime"
)

// NewRouter builds the Gin engine, wires middleware, and registers the live
// connection endpoint plus operational routes. The CRUD surface lives in a
// separate service; this process only hosts the collaboration layer.
func NewRouter(db *gorm.DB, hub *realtime.Hub, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	realtimeHandler := handlers.NewRealtimeHandler(hub)
	r.GET("/ws/:user_id", realtimeHandler.Connect)

	return r, nil
}
