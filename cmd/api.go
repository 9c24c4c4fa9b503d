package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/api"
	"example.com/backstage/services/shipping/internal/bridge"
	"example.com/backstage/services/shipping/internal/cache"
	"example.com/backstage/services/shipping/internal/courier"
	"example.com/backstage/services/shipping/internal/database"
	"example.com/backstage/services/shipping/internal/metrics"
	"example.com/backstage/services/shipping/internal/notify"
	"example.com/backstage/services/shipping/internal/repositories"
	"example.com/backstage/services/shipping/internal/search"
	"example.com/backstage/services/shipping/internal/shopify"
	"example.com/backstage/services/shipping/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle Shopify order webhooks and shipment queries`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without webhook dedupe")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize the alert notifier
	notifier := buildNotifier(cfg)

	// Initialize the bridge
	store := repositories.NewShipmentRepository(db, readOnlyDB)
	courierClient := courier.NewClient(cfg.Courier)
	shopifyClient := shopify.NewClient(cfg.Shopify)
	var indexer bridge.Indexer
	if elasticClient != nil {
		indexer = elasticClient
	}
	b := bridge.New(store, courierClient, shopifyClient, notifier, indexer, metricsCollector, tracer)

	// Initialize and start the server
	server := api.NewServer(cfg, b, redisCache, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func buildNotifier(cfg config.Config) notify.Notifier {
	if cfg.Azure.QueueConnStr == "" {
		log.Warn().Msg("Azure Service Bus not configured, alerts will only be logged")
		return notify.LogNotifier{}
	}

	notifier, err := notify.NewServiceBusNotifier(cfg.Azure)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus notifier, alerts will only be logged")
		return notify.LogNotifier{}
	}

	return notifier
}
