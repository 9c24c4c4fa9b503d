package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/shipping/config"
	"example.com/backstage/services/shipping/internal/bridge"
	"example.com/backstage/services/shipping/internal/courier"
	"example.com/backstage/services/shipping/internal/database"
	"example.com/backstage/services/shipping/internal/metrics"
	"example.com/backstage/services/shipping/internal/repositories"
	"example.com/backstage/services/shipping/internal/search"
	"example.com/backstage/services/shipping/internal/shopify"
	"example.com/backstage/services/shipping/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that periodically resumes pending shipments`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
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

	// Start the shipment resumption sweep
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Sweep.Interval).Msg("Starting shipment resumption sweep")

		// Create a scheduler
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Sweep.Interval),
			gocron.NewTask(func() {
				log.Info().Msg("Running resumption sweep over pending shipments")
				advanced, err := b.SyncPendingShipments(ctx, cfg.Sweep.NotifyCustomer)
				if err != nil {
					log.Error().Err(err).Msg("Failed to sweep pending shipments")
					return
				}
				log.Info().Int("advanced", len(advanced)).Msg("Resumption sweep finished")
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
