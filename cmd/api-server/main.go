package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/configs"
	"github.com/fraudshield/scoring-engine/internal/analytics"
	"github.com/fraudshield/scoring-engine/internal/auth"
	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/hashing"
	"github.com/fraudshield/scoring-engine/internal/learning"
	"github.com/fraudshield/scoring-engine/internal/policy"
	"github.com/fraudshield/scoring-engine/internal/queue"
	"github.com/fraudshield/scoring-engine/internal/repositories"
	"github.com/fraudshield/scoring-engine/internal/rules"
	"github.com/fraudshield/scoring-engine/internal/scoring"
	"github.com/fraudshield/scoring-engine/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting fraud scoring API server")

	hasher, err := hashing.New(cfg.Security.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize hasher")
	}

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	cacheClient, err := cache.NewClient(cfg.Redis.URL, cfg.Redis.OpTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	streamClient, err := queue.NewRedisStreamClient(cacheClient.Raw(), cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize stream client")
	}

	// Repositories
	clientRepo := repositories.NewClientRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	accuracyRepo := repositories.NewRuleAccuracyRepository(db)
	consortiumRepo := repositories.NewConsortiumRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	adminUserRepo := repositories.NewAdminUserRepository(db)

	// Rule catalogue; duplicate names abort startup
	registry, err := rules.Build(rules.Options{LoanStackingTenants: cfg.Scoring.LoanStackingTenants})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build rule catalogue")
	}
	log.Info().Int("rules", registry.Len()).Msg("Rule catalogue loaded")

	policyStore := policy.NewStore(cfg.Scoring.VerticalThresholds)
	weightTable := policy.NewWeightTable()

	velocityStore := cache.NewVelocityStore(cacheClient)
	rateLimiter := cache.NewRateLimiter(cacheClient)

	assembler := features.NewAssembler(hasher, velocityStore, consortiumRepo, features.Options{
		RoundAmounts:             cfg.Scoring.RoundAmounts,
		ImpossibleTravelSpeedKmh: cfg.Scoring.ImpossibleTravelSpeedKmh,
		DeviceSharedThreshold:    cfg.Scoring.DeviceSharedThreshold,
		ConsortiumWindowDays:     cfg.Consortium.WindowDays,
		ContextTimeout:           cfg.Scoring.ContextTimeout,
	})

	var mlAdapter scoring.Adapter
	if cfg.Scoring.MLEnabled && cfg.Scoring.MLEndpoint != "" {
		mlAdapter = scoring.NewHTTPAdapter(cfg.Scoring.MLEndpoint, cfg.Scoring.MLTimeout)
		log.Info().Str("endpoint", cfg.Scoring.MLEndpoint).Msg("ML adapter enabled")
	}

	engine := scoring.NewEngine(
		registry,
		assembler,
		scoring.NewAggregator(cfg.Scoring.TopKFlags),
		policyStore,
		weightTable,
		cacheClient,
		velocityStore,
		streamClient,
		mlAdapter,
		scoring.Options{
			CacheTTL:       cfg.Scoring.CacheTTL,
			MLEnabled:      cfg.Scoring.MLEnabled,
			MLTimeout:      cfg.Scoring.MLTimeout,
			RuleFanout:     cfg.Scoring.RuleFanout,
			RulesetVersion: cfg.Scoring.RulesetVersion,
		},
	)

	learningService := learning.NewService(db, txRepo, accuracyRepo, consortiumRepo, registry, weightTable, cfg.Scoring.MinFeedbackSample)
	if err := learningService.WarmWeights(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to warm learned weights, starting at defaults")
	}

	jwtManager := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
	authService := services.NewAuthService(adminUserRepo, jwtManager)
	analyticsService := analytics.NewService(txRepo)
	authenticator := auth.NewAPIKeyAuthenticator(hasher, clientRepo)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	deps := &handlerDeps{
		cfg:         cfg,
		engine:      engine,
		learning:    learningService,
		analytics:   analyticsService,
		policies:    policyStore,
		accuracy:    accuracyRepo,
		clients:     clientRepo,
		audit:       auditRepo,
		authSvc:     authService,
		keyDigest:   authenticator.KeyDigest,
		rateLimiter: rateLimiter,
		db:          db,
		cacheClient: cacheClient,
		stream:      streamClient,
	}
	setupRoutes(router, deps, authenticator, jwtManager)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(router *gin.Engine, deps *handlerDeps, authenticator *auth.APIKeyAuthenticator, jwtManager *auth.JWTManager) {
	router.GET("/health", healthHandler(deps))

	v1 := router.Group("/api/v1")

	// Tenant traffic, authenticated by API key and rate limited per tier
	tenant := v1.Group("")
	tenant.Use(authenticator.Middleware())
	tenant.Use(rateLimitMiddleware(deps))
	{
		tenant.POST("/fraud/check", checkHandler(deps))
		tenant.POST("/fraud/check/batch", batchCheckHandler(deps))
		tenant.POST("/feedback", feedbackHandler(deps))
		tenant.GET("/verticals", verticalsHandler(deps))
		tenant.GET("/verticals/:vertical/config", verticalConfigHandler(deps))
		tenant.GET("/analytics/summary", analyticsSummaryHandler(deps))
	}

	// Admin surface, JWT with role=admin
	v1.POST("/admin/login", adminLoginHandler(deps))

	admin := v1.Group("/admin")
	admin.Use(auth.AdminMiddleware(jwtManager))
	admin.Use(auth.RoleMiddleware("admin"))
	{
		admin.POST("/clients", createClientHandler(deps))
		admin.GET("/clients", listClientsHandler(deps))
		admin.PUT("/clients/:id", updateClientHandler(deps))
		admin.POST("/clients/:id/rotate-key", rotateKeyHandler(deps))
		admin.PUT("/verticals/:vertical/policy", updatePolicyHandler(deps))
		admin.GET("/rules/accuracy", ruleAccuracyHandler(deps))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Msg("Request handled")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
