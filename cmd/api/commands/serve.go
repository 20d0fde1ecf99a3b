package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"approvals/internal/config"
	"approvals/internal/discovery"
	"approvals/internal/handler"
	"approvals/internal/metrics"
	"approvals/internal/middleware"
	"approvals/internal/service"
	"approvals/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const shutdownTimeout = 10 * time.Second

func NewServeCmd() *cobra.Command {
	var noReaper bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !noReaper)
		},
	}

	cmd.Flags().BoolVar(&noReaper, "no-reaper", false, "Do not run the in-process expiry reaper")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, runReaper bool) error {
	gin.SetMode(cfg.Server.GinMode)
	logger := slog.Default()

	hub := websocket.NewHub(logger, cfg.Server.CORSOrigins)
	a, err := newApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	go hub.Run(ctx)
	if runReaper {
		go service.NewExpiryReaper(a.workflow, cfg.Approvals.ReapInterval).Run(ctx)
	}

	secret := []byte(cfg.Server.JWTSecret)
	auth := middleware.RequireRole(secret, middleware.AdminRoles...)

	auditService := a.workflow.Audit
	approvalHandler := handler.NewApprovalHandler(
		service.NewApprovalService(a.workflow),
		service.NewQuorumService(a.workflow),
		service.NewAccessService(a.workflow),
		auditService,
		auth,
	)
	auditHandler := handler.NewAuditHandler(auditService, auth)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), metrics.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, c, secret)
	})

	approvalHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	if cfg.Consul.Addr != "" {
		registry, err := discovery.NewServiceRegistry(cfg.Consul.Addr, discovery.Registration{
			Name:    cfg.Consul.ServiceName,
			Address: cfg.Consul.ServiceHost,
			Port:    cfg.Server.Port,
			Tags:    []string{"admin", "approvals"},
		}, logger)
		if err != nil {
			return err
		}
		if err := registry.Register(); err != nil {
			// the API still serves direct traffic without the gateway entry
			logger.Error("consul registration failed", "error", err)
		} else {
			defer func() {
				if err := registry.Deregister(); err != nil {
					logger.Error("consul deregistration failed", "error", err)
				}
			}()
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
