package main

import (
	"context"
	"strings"
	"time"

	"gigworks/api_credits/internal/boost"
	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/internal/handlers"
	"gigworks/api_credits/internal/payments"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/auth"
	"gigworks/api_credits/pkg/clients/clans"
	"gigworks/api_credits/pkg/clients/gigs"
	"gigworks/api_credits/pkg/clients/users"
	"gigworks/api_credits/pkg/config"
	"gigworks/api_credits/pkg/database"
	"gigworks/api_credits/pkg/kafka"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/monitoring"
	"gigworks/api_credits/pkg/server"
	"gigworks/api_credits/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Credits API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	usersURL := config.RequireEnv("USERS_SERVICE_URL")
	gigsURL := config.RequireEnv("GIGS_SERVICE_URL")
	clansURL := config.RequireEnv("CLANS_SERVICE_URL")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Kafka producer for boost/credit events (optional: the ledger is
	// authoritative, events are best-effort)
	publisher := events.NewPublisher(nil, logger)
	var producer *kafka.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		var err error
		producer, err = kafka.NewProducer(strings.Split(brokers, ","), "bursar", logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka producer unavailable, events disabled")
			producer = nil
		} else {
			defer producer.Close()
			publisher = events.NewPublisher(producer, logger)
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.GetInfo())
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))
	if producer != nil {
		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.GetClient()))
	}

	// Wallet ledger
	wallets := wallet.NewStore(db, logger)

	// Platform service clients used to apply boost visibility
	clientTimeout := config.GetEnvDuration("SERVICE_CLIENT_TIMEOUT", 10*time.Second)
	adapter := boost.NewServiceAdapter(
		users.NewClient(users.Config{BaseURL: usersURL, ServiceToken: serviceToken, Timeout: clientTimeout, Logger: logger}),
		gigs.NewClient(gigs.Config{BaseURL: gigsURL, ServiceToken: serviceToken, Timeout: clientTimeout, Logger: logger}),
		clans.NewClient(clans.Config{BaseURL: clansURL, ServiceToken: serviceToken, Timeout: clientTimeout, Logger: logger}),
		logger,
	)

	// Boost lifecycle
	boostManager := boost.NewManager(db, wallets, adapter, publisher, boost.ConfigFromEnv(), logger)

	// Payment gateways
	var gateways []payments.Gateway
	if keyID := config.GetEnv("CHECKOUT_KEY_ID", ""); keyID != "" {
		gateways = append(gateways, payments.NewHostedCheckoutGateway(payments.HostedCheckoutConfig{
			Name:      config.GetEnv("CHECKOUT_GATEWAY_NAME", "hosted_checkout"),
			BaseURL:   config.RequireEnv("CHECKOUT_BASE_URL"),
			KeyID:     keyID,
			KeySecret: config.RequireEnv("CHECKOUT_KEY_SECRET"),
			Logger:    logger,
		}))
	}
	paymentService := payments.NewService(db, wallets, publisher, gateways, payments.DefaultPackages(), logger)

	// Background jobs: boost expiry sweep and the daily summary report
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := boost.NewSweeper(boostManager)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	reporter := boost.NewReporter(boostManager)
	if err := reporter.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to schedule daily report")
	}
	defer reporter.Stop()

	logger.Info("Background jobs started - boost expiry sweep active")

	// Database metrics: ledger query counters plus a sampled pool gauge
	dbQueries, dbQueryDuration, dbConnections := metricsCollector.CreateDatabaseMetrics()
	wallets.Instrument(&wallet.Metrics{Queries: dbQueries, Duration: dbQueryDuration})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dbConnections.WithLabelValues("bursar").Set(float64(db.Stats().OpenConnections))
			}
		}
	}()

	// Custom credit metrics
	metrics := &handlers.BursarMetrics{
		BoostPurchases: metricsCollector.NewCounter("boost_purchases_total", "Boost purchases", []string{"boost_type", "status"}),
		CreditOps:      metricsCollector.NewCounter("credit_operations_total", "Credit operations", []string{"operation", "status"}),
	}

	h := handlers.New(wallets, boostManager, paymentService, metrics, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/credits/ prefix)
	{
		// Public catalog endpoints
		router.GET("/packages", h.GetPackages)
		router.GET("/boosts/pricing", h.GetBoostPricing)

		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/wallet", h.GetWallet)
			protected.GET("/wallet/transactions", h.GetTransactions)
			protected.GET("/boosts", h.GetBoosts)
			protected.POST("/credits/purchase", h.PurchaseCredits)
			protected.POST("/boosts/profile", h.BoostProfile)
			protected.POST("/boosts/gig", h.BoostGig)
			protected.POST("/boosts/clan", h.BoostClan)
			protected.POST("/clans/:clan_id/contribute", h.Contribute)
		}

		// Gateway confirmation callback (signature-verified, no session)
		router.POST("/credits/confirm", h.ConfirmPayment)

		// Service-to-service endpoints
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/admin/credits/award", h.AwardCredits)
		}

		// Back-office surface: platform admins grant credits with their own
		// session instead of a service token
		adminAPI := router.Group("/admin")
		adminAPI.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)), auth.RequireRole("admin"))
		{
			adminAPI.POST("/credits/grant", h.AwardCredits)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
