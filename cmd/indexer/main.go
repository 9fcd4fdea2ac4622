package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/realtoken-community/yam-indexer/internal/backfill"
	"github.com/realtoken-community/yam-indexer/internal/config"
	"github.com/realtoken-community/yam-indexer/internal/connection"
	"github.com/realtoken-community/yam-indexer/internal/fetcher"
	"github.com/realtoken-community/yam-indexer/internal/indexer"
	"github.com/realtoken-community/yam-indexer/internal/metrics"
	"github.com/realtoken-community/yam-indexer/internal/notification"
	"github.com/realtoken-community/yam-indexer/internal/storage"
	"github.com/realtoken-community/yam-indexer/internal/subgraph"
	"github.com/realtoken-community/yam-indexer/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// restartCooldown is the pause before the supervisor restarts the loop after
// a runtime failure
const restartCooldown = 5 * time.Minute

// Application wires the indexer components together
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	pool       *connection.Pool
	store      storage.Store
	notifier   notification.Notifier
	applier    *storage.EventApplier
	controller *fetcher.Controller
	subgraph   *subgraph.Client
	reconciler *backfill.Reconciler
	scheduler  *indexer.Scheduler
	server     *metrics.Server
}

// NewApplication creates and wires an application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{config: cfg}

	logCfg := cfg.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.logger = utils.GetLogger()

	if err := app.initializeComponents(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing indexer components")

	pool, err := connection.NewPool(&app.config.Chain)
	if err != nil {
		return fmt.Errorf("failed to create endpoint pool: %w", err)
	}
	app.pool = pool

	store, err := storage.NewStore(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}
	app.store = store

	app.notifier = notification.NewTelegramNotifier(&app.config.Notifications, app.config.App.Name)
	app.applier = storage.NewEventApplier(app.store, app.notifier)

	primary := fetcher.NewPrimarySource(app.pool, app.config.Chain.ContractAddress)
	backup := fetcher.NewBackupSource(app.pool, app.config.Chain.ContractAddress)
	dual := fetcher.NewDualFetcher(primary, backup)
	app.controller = fetcher.NewController(dual, app.pool, primary, backup, app.notifier,
		fetcher.ControllerConfig{
			MaxRetries: app.config.Indexer.MaxRetriesPerRange,
			Backoff:    app.config.Indexer.RetryBackoff,
			Cooldown:   app.config.Indexer.ExhaustionCooldown,
		})

	graph, err := subgraph.NewClient(&app.config.Subgraph)
	if err != nil {
		return fmt.Errorf("failed to create subgraph client: %w", err)
	}
	app.subgraph = graph

	app.reconciler = backfill.NewReconciler(
		app.controller, primary, graph, app.applier, app.store, app.pool, app.notifier, app.config)
	app.scheduler = indexer.NewScheduler(
		app.controller, app.applier, app.store, app.reconciler, app.pool, app.config)
	app.server = metrics.NewServer(&app.config.Server)

	app.logger.Info("All components initialized")
	return nil
}

// Run starts the metrics server and drives the indexing loop under the
// supervisor until the context is cancelled. When the database carries no
// watermark yet, the full history is replayed before live indexing begins.
func (app *Application) Run(ctx context.Context) error {
	go app.server.Start()
	defer app.shutdown()

	hasState, err := app.store.HasIndexingState(ctx)
	if err != nil {
		return err
	}
	if !hasState {
		app.logger.Info("Empty database, replaying full history before live indexing")
		if err := app.runSupervised(ctx, app.reconciler.Run); err != nil {
			return err
		}
	}

	return app.runSupervised(ctx, app.scheduler.Run)
}

// runSupervised restarts fn after runtime failures, alerting the operator and
// cooling down between attempts. Configuration and integrity errors are not
// survivable by a restart and propagate.
func (app *Application) runSupervised(ctx context.Context, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if isFatal(err) {
			return err
		}

		app.logger.WithField("error", err.Error()).Error("Indexer failed, restarting after cooldown")
		app.notifier.Notify(ctx, fmt.Sprintf("Indexer failed and will restart in %s: %v", restartCooldown, err))

		select {
		case <-time.After(restartCooldown):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// isFatal reports whether the error cannot be fixed by restarting
func isFatal(err error) bool {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == utils.ErrCodeConfiguration || appErr.Code == utils.ErrCodeIntegrity
	}
	return false
}

func (app *Application) shutdown() {
	app.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithField("error", err.Error()).Error("Failed to stop metrics server")
	}

	if err := app.store.Close(); err != nil {
		app.logger.WithField("error", err.Error()).Error("Failed to close storage")
	}
	app.pool.Close()

	app.logger.Info("Shutdown complete")
}

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		fmt.Println("\nReceived shutdown signal, stopping...")
		cancel()
	}()
	return ctx, cancel
}

var rootCmd = &cobra.Command{
	Use:     "yam-indexer",
	Short:   "YAM marketplace offer indexer",
	Long:    `Continuously indexes YAM marketplace offer events from redundant RPC endpoints into a relational database, reconciling against the marketplace subgraph.`,
	Version: AppVersion,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()
		return app.Run(ctx)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay the full contract history into the database and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.shutdown()

		ctx, cancel := signalContext()
		defer cancel()
		return app.reconciler.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yam-indexer %s\n", AppVersion)
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Configuration is valid!")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Endpoints: %d\n", len(cfg.Chain.Endpoints))
		fmt.Printf("Contract: %s\n", cfg.Chain.ContractAddress)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
