// Package httpserver exposes the wallet service over HTTP. Handlers translate
// typed domain errors into status codes and perform no business recovery;
// retry and refund decisions belong to the caller.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careerforge/coinwallet/internal/identity"
	"github.com/careerforge/coinwallet/pkg/wallet"
)

const (
	authClaimsKey    = "auth_subject"
	bearerPrefix     = "Bearer "
	shutdownTimeout  = 5 * time.Second
	defaultListLimit = 50
	maxListLimit     = 200
	corsMaxAge       = 12 * time.Hour
)

// Config carries the HTTP facade configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server routes wallet operations. A nil verifier disables authentication,
// which is the mode used by in-process tests and trusted internal deployments.
type Server struct {
	logger   *zap.Logger
	service  *wallet.Service
	verifier *identity.Verifier
	cfg      Config
}

// New wires a Server.
func New(cfg Config, service *wallet.Service, logger *zap.Logger, verifier *identity.Verifier) *Server {
	return &Server{
		logger:   logger,
		service:  service,
		verifier: verifier,
		cfg:      cfg,
	}
}

// Router builds the gin engine with all wallet routes mounted.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           corsMaxAge,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/wallet/:userId")
	if server.verifier != nil {
		api.Use(server.requireUser())
	}
	api.GET("/balance", server.handleBalance)
	api.GET("/can-afford", server.handleCanAfford)
	api.POST("/credit", server.handleCredit)
	api.POST("/deduct", server.handleDeduct)
	api.POST("/reserve", server.handleReserve)
	api.POST("/complete", server.handleComplete)
	api.POST("/refund", server.handleRefund)
	api.GET("/transactions", server.handleTransactions)
	api.GET("/transactions/:transactionId", server.handleTransactionStatus)
	api.GET("/breakdown", server.handleBreakdown)
	api.GET("/subscription-stats", server.handleSubscriptionStats)
	api.GET("/enhanced-balance", server.handleEnhancedBalance)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("wallet api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireUser verifies the bearer token and pins its subject to the path user.
func (server *Server) requireUser() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		subject, err := server.verifier.Verify(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if subject != ctx.Param("userId") {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token subject mismatch"})
			return
		}
		ctx.Set(authClaimsKey, subject)
		ctx.Next()
	}
}
