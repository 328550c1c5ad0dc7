package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// routeRegistrar is the router surface handed to controllers.
type routeRegistrar = gin.IRouter

func buildHTTPServer(cfg ServerConfig, metrics MetricsConfig, gatherer prometheus.Gatherer, mount func(routeRegistrar)) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContext())
	router.Use(requestLogger())

	if metrics.Enabled {
		router.GET(metrics.Path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	mount(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// saturation reports whether the dispatcher can take more work.
type saturation interface {
	Saturated() bool
}

type healthServer struct {
	server *grpc.Server
	health *health.Server
}

func (h *healthServer) stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

// startHealthServer serves grpc.health.v1 and flips the overall status to
// NOT_SERVING while the dispatcher is saturated. It returns nil when no
// address is configured.
func startHealthServer(ctx context.Context, cfg GRPCConfig, load saturation, errCh chan<- error) (*healthServer, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("init grpc listener: %w", err)
	}
	h := &healthServer{server: grpc.NewServer(), health: health.NewServer()}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info(ctx, "judge grpc health server started", zap.String("addr", cfg.Addr))
		errCh <- h.server.Serve(listener)
	}()
	go watchSaturation(ctx, h.health, load, cfg.CheckInterval)
	return h, nil
}

func watchSaturation(ctx context.Context, h *health.Server, load saturation, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_SERVING
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status := healthpb.HealthCheckResponse_SERVING
		if load.Saturated() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			h.SetServingStatus("", status)
			logger.Info(ctx, "health status changed", zap.String("status", status.String()))
			last = status
		}
	}
}
