package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"raspadinha-platform/internal/commission"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
	"raspadinha-platform/internal/wallet"

	"github.com/shopspring/decimal"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// CommissionAPI is the commission engine surface the server exposes
type CommissionAPI interface {
	HandleDepositCompleted(ctx context.Context, evt commission.DepositEvent) (*commission.Result, error)
	RecordRegistration(ctx context.Context, userID int64) error
}

// WalletAPI is the wallet service surface the server exposes
type WalletAPI interface {
	GetWallet(ctx context.Context, principalType string, principalID int64) (*database.Wallet, error)
	ListTransactions(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*database.WalletTransaction, error)
	ListWithdrawals(ctx context.Context, principalType string, principalID int64, limit, offset int) ([]*database.Withdrawal, error)
	RequestWithdrawal(ctx context.Context, principalType string, principalID int64, amount decimal.Decimal, pixKey string, pixKeyType *string) (*database.Withdrawal, error)
	ConfirmPayout(ctx context.Context, withdrawalID int64, endToEndID *string) (*database.Withdrawal, error)
	FailPayout(ctx context.Context, withdrawalID int64, status, reason string) (*database.Withdrawal, error)
}

// AdminStore is the repository surface behind the admin endpoints
type AdminStore interface {
	HealthCheck(ctx context.Context) error
	ListTierConfigs(ctx context.Context) ([]*database.TierConfig, error)
	UpdateTierConfig(ctx context.Context, tier string, rate, fixed, minEarnings decimal.Decimal) error
	CancelConversion(ctx context.Context, id int64, reason string) (*database.Conversion, *database.WalletTransaction, error)
	MarkConversionsPaid(ctx context.Context, ids []int64) (int64, error)
	PromoteEligibleAffiliates(ctx context.Context) (int64, error)
	ListConversionsByPrincipal(ctx context.Context, principalType string, principalID int64, filter database.ConversionFilter) ([]*database.Conversion, error)
	GetConversionsByDeposit(ctx context.Context, depositID string) ([]*database.Conversion, error)
}

// Server represents the HTTP API server
type Server struct {
	router        *gin.Engine
	httpServer    *http.Server
	store         AdminStore
	commissionSvc CommissionAPI
	walletSvc     WalletAPI
	reconciler    *wallet.Reconciler
	eventBus      *events.EventBus
	config        ServerConfig
	rateLimiter   *RateLimiter
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins string
	ProductionMode bool
}

// NewServer creates a new API server
func NewServer(
	config ServerConfig,
	store AdminStore,
	commissionSvc CommissionAPI,
	walletSvc WalletAPI,
	reconciler *wallet.Reconciler,
	eventBus *events.EventBus,
) *Server {
	// Set Gin mode
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(requestIDMiddleware())
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if config.AllowedOrigins == "" || config.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(config.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:        router,
		store:         store,
		commissionSvc: commissionSvc,
		walletSvc:     walletSvc,
		reconciler:    reconciler,
		eventBus:      eventBus,
		config:        config,
		rateLimiter:   NewRateLimiter(300, time.Minute),
	}

	server.setupRoutes()

	return server
}

// requestIDMiddleware tags every request with an id so a webhook can be
// traced from the access log through to the ledger rows it produced
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// rateLimitMiddleware creates a middleware that rate limits requests by endpoint
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	// Webhooks are never rate limited, a dropped deposit event means a lost
	// commission until the provider retries
	noRateLimitPaths := map[string]bool{
		"/health":                         true,
		"/api/webhooks/deposit-completed": true,
		"/api/webhooks/registration":      true,
		"/api/webhooks/payout-result":     true,
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if noRateLimitPaths[path] {
			c.Next()
			return
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"path":  path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())

	// Webhooks from the payments side
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/deposit-completed", s.handleDepositCompleted)
		webhooks.POST("/registration", s.handleRegistration)
		webhooks.POST("/payout-result", s.handlePayoutResult)
	}

	// Principal-facing wallet and history reads
	principals := api.Group("/principals/:type/:id")
	{
		principals.GET("/wallet", s.handleGetWallet)
		principals.GET("/transactions", s.handleListTransactions)
		principals.GET("/conversions", s.handleListConversions)
		principals.GET("/withdrawals", s.handleListWithdrawals)
		principals.POST("/withdrawals", s.handleRequestWithdrawal)
	}

	// Deposit trace for support
	api.GET("/deposits/:depositId/conversions", s.handleDepositConversions)

	// Admin operations
	admin := api.Group("/admin")
	{
		admin.GET("/tiers", s.handleListTiers)
		admin.PUT("/tiers/:tier", s.handleUpdateTier)
		admin.POST("/tiers/promote", s.handlePromoteTiers)
		admin.POST("/conversions/:id/cancel", s.handleCancelConversion)
		admin.POST("/conversions/mark-paid", s.handleMarkConversionsPaid)
		admin.POST("/reconcile", s.handleReconcile)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Router exposes the gin engine, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
	})
}
