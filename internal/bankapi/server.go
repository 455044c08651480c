package bankapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nunster3000/rydr-app-sub000/internal/authgate"
	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

const claimsContextKey = "auth_claims"

// Components bundles the wired bank services the API exposes.
type Components struct {
	Accrual   *bank.AccrualEngine
	Lifecycle *bank.CodeLifecycle
	Transfer  *bank.TransferService
}

// Server is the HTTP facade over the voucher ledger.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *zap.Logger
}

// NewServer validates configuration and wires the router.
func NewServer(cfg Config, components Components, verifier *authgate.TokenVerifier, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bankapi config: %w", err)
	}
	if components.Accrual == nil || components.Lifecycle == nil || components.Transfer == nil {
		return nil, errors.New("bankapi: all components are required")
	}
	if verifier == nil {
		return nil, errors.New("bankapi: token verifier is required")
	}
	if logger == nil {
		return nil, errors.New("bankapi: logger is required")
	}

	handler := &httpHandler{
		logger:    logger,
		accrual:   components.Accrual,
		lifecycle: components.Lifecycle,
		transfer:  components.Transfer,
	}
	return &Server{
		cfg:    cfg,
		router: setupRouter(cfg, handler, verifier),
		logger: logger,
	}, nil
}

// Router exposes the gin engine for tests.
func (server *Server) Router() http.Handler {
	return server.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("bankapi listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.cfg.ShutdownGrace)
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

func setupRouter(cfg Config, handler *httpHandler, verifier *authgate.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(verifier.GinMiddleware(claimsContextKey))

	api.GET("/bank", handler.handleBankSummary)
	api.POST("/rides/eligible", handler.handleRecordRide)
	api.GET("/codes/:value", handler.handleGetCode)
	api.POST("/codes/preview", handler.handlePreview)
	api.POST("/codes/release", handler.handleRelease)
	api.POST("/codes/consume", handler.handleConsume)
	api.POST("/codes/transfer", handler.handleTransfer)

	// Web redemption path for gifted codes held by an email identity.
	// Deliberately unauthenticated; ownership is proven by the matching
	// email.
	web := router.Group("/web")
	web.POST("/codes/preview", handler.handleExternalPreview)
	web.POST("/codes/consume", handler.handleExternalConsume)

	return router
}

func getClaims(ctx *gin.Context) *authgate.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*authgate.Claims)
	return claims
}
