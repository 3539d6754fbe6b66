/*
main.go - Application entry point

PURPOSE:
  The wastewise command. Loads configuration, builds the store and the
  services, and either serves the HTTP API or runs a maintenance task.

COMMANDS:
  serve     Start the HTTP server (and the redemption expiry sweeper)
  migrate   Create or update the database schema
  seed      Load rewards, eco-store items and grants from a YAML file
  token     Mint a bearer token for a user (development and support)

STARTUP SEQUENCE (serve):
  1. Load config (.env + environment)
  2. Build the zap logger
  3. Open the store selected by STORE_DRIVER
  4. Wire ledger, coordinator, shop, pickups and the router
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SERVER_SHUTDOWN_TIMEOUT)
  3. Stop the sweeper
  4. Close the store

EXAMPLES:
  # Local run on SQLite
  AUTH_JWT_SECRET=dev ./wastewise serve

  # Throwaway in-memory run with demo data
  AUTH_JWT_SECRET=dev STORE_DRIVER=memory ./wastewise serve --seed catalog.yaml

  # Token for curl
  AUTH_JWT_SECRET=dev ./wastewise token --user demo-user --role user

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/wastewise/api"
	"github.com/warp/wastewise/auth"
	"github.com/warp/wastewise/catalog"
	"github.com/warp/wastewise/config"
	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/logging"
	"github.com/warp/wastewise/pickup"
	"github.com/warp/wastewise/rewards"
	"github.com/warp/wastewise/store/memory"
	"github.com/warp/wastewise/store/postgres"
	"github.com/warp/wastewise/store/sqlite"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "wastewise",
	Short:         "WasteWise points ledger service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, _, err = logging.New(cfg.Log.Level, cfg.Log.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load rewards, eco-store items and grants from a YAML file",
	Long: `Applies a seed file through the normal services. Records get stable ids
derived from their names and grants carry idempotency keys, so running the
same file twice changes nothing the second time.`,
	RunE: runSeed,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token",
	RunE:  runToken,
}

func init() {
	serveCmd.Flags().String("seed", "", "seed file to apply before serving")
	seedCmd.Flags().String("file", "catalog.yaml", "seed file")
	tokenCmd.Flags().String("user", "", "user id (token subject)")
	tokenCmd.Flags().String("role", string(auth.RoleUser), "user, driver or admin")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := newServices(store)

	if path, _ := cmd.Flags().GetString("seed"); path != "" {
		if err := applySeed(ctx, svc, path); err != nil {
			return err
		}
	}

	handler := api.NewHandler(api.Deps{
		Ledger:      svc.ledger,
		Coordinator: svc.coordinator,
		Catalog:     svc.catalog,
		Shop:        svc.shop,
		Pickups:     svc.pickups,
		Tokens:      auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Logger:      logger,
	})
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sweeper := rewards.NewExpirySweeper(svc.ledger, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("app", cfg.App.Name),
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema up to date", zap.String("store", cfg.Store.Driver))
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if cfg.Store.Driver == config.DriverMemory {
		return errors.New("seeding the memory store has no lasting effect; use serve --seed instead")
	}
	path, _ := cmd.Flags().GetString("file")

	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	return applySeed(cmd.Context(), newServices(store), path)
}

func runToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")

	tokens := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	raw, err := tokens.Issue(ledger.UserID(user), auth.Role(role))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	return nil
}

// =============================================================================
// WIRING
// =============================================================================

type services struct {
	ledger      *ledger.Ledger
	coordinator *rewards.Coordinator
	catalog     *rewards.Catalog
	shop        *rewards.Shop
	pickups     *pickup.Service
}

func newServices(store ledger.Store) services {
	l := ledger.New(store, ledger.WithLogger(logger.Named("ledger")))
	return services{
		ledger: l,
		coordinator: rewards.NewCoordinator(l,
			rewards.WithDefaultExpiryDays(cfg.Redemption.ExpiryDays),
			rewards.WithLogger(logger.Named("rewards"))),
		catalog: rewards.NewCatalog(store, l.Clock(), logger.Named("catalog")),
		shop:    rewards.NewShop(l, logger.Named("shop")),
		pickups: pickup.NewService(l, logger.Named("pickup")),
	}
}

func openStore(ctx context.Context) (ledger.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		store, err := sqlite.New(ctx, cfg.Store.SQLitePath, cfg.Store.TxTimeout)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.ConnectionString(), postgres.Options{
			TxTimeout:       cfg.Store.TxTimeout,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return memory.New(memory.WithTxTimeout(cfg.Store.TxTimeout)), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func applySeed(ctx context.Context, svc services, path string) error {
	seed, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	res, err := seed.Apply(ctx, catalog.Deps{Catalog: svc.catalog, Ledger: svc.ledger})
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.Info("seed applied",
		zap.String("file", path),
		zap.Int("rewards", res.Rewards),
		zap.Int("utilities", res.Utilities),
		zap.Int("grants", res.Grants))
	return nil
}
