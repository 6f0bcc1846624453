// Dinodia Sync Core - device synchronization daemon
//
// This is the headless consumer of the synchronization library: it wires
// the backend, gateway, cache, and optional statestream/telemetry
// integrations together, mirrors observed device lists into durable
// storage, and keeps them fresh for the dashboards that connect to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/dinodia/dinodia-core/migrations"

	"github.com/dinodia/dinodia-core/internal/backend"
	"github.com/dinodia/dinodia-core/internal/device"
	"github.com/dinodia/dinodia-core/internal/gateway"
	"github.com/dinodia/dinodia-core/internal/infrastructure/config"
	"github.com/dinodia/dinodia-core/internal/infrastructure/database"
	"github.com/dinodia/dinodia-core/internal/infrastructure/logging"
	"github.com/dinodia/dinodia-core/internal/kvstore"
	"github.com/dinodia/dinodia-core/internal/statestream"
	"github.com/dinodia/dinodia-core/internal/synccache"
	"github.com/dinodia/dinodia-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Dinodia sync core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Backend repositories and the connection resolver
	users := backend.NewUserRepository(db.DB)
	conns := backend.NewConnectionRepository(db.DB)
	rules := backend.NewAccessRuleRepository(db.DB)
	overrides := backend.NewOverrideRepository(db.DB)
	resolver := backend.NewResolver(users, conns, rules)

	if cfg.Seed.Enabled {
		if seedErr := backend.Seed(ctx, users, conns, backend.SeedConfig{
			AdminUsername:  cfg.Seed.AdminUsername,
			BaseURL:        cfg.Seed.BaseURL,
			CloudURL:       cfg.Seed.CloudURL,
			LongLivedToken: cfg.Seed.LongLivedToken,
		}); seedErr != nil {
			return fmt.Errorf("seeding database: %w", seedErr)
		}
		log.Info("seed check complete", "admin", cfg.Seed.AdminUsername)
	}

	// Gateway client and device resolution pipeline
	gw := gateway.New(cfg.Gateway)
	pipeline := device.NewPipeline(resolver, overrides, gw,
		cfg.Gateway.GetHomeProbeTimeout(), cfg.Gateway.GetCloudProbeTimeout())
	pipeline.SetLogger(log)

	// Optional refresh telemetry. The recorder is nil-safe, so the
	// instrumented fetcher is wired unconditionally.
	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		recorder.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"bucket", cfg.Telemetry.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// Synchronization cache over the pipeline and the durable store
	store := kvstore.NewSQLiteStore(db.DB)
	cache := synccache.New(&recordingFetcher{pipeline: pipeline, recorder: recorder}, store, synccache.Config{
		Namespace:    cfg.Sync.StorageNamespace,
		PollInterval: cfg.Sync.GetPollInterval(),
		// The daemon has no host UI lifecycle; it is always foreground.
		IsForeground: nil,
	})
	cache.SetLogger(log)
	log.Info("synchronization cache initialised",
		"poll_interval", cfg.Sync.GetPollInterval(),
		"namespace", cfg.Sync.StorageNamespace,
	)

	// Subscribe every account in both modes. Subscribing is what drives
	// the cache: it primes from durable storage, refreshes, and starts
	// the foreground poller for each key.
	unwatch, err := watchAllUsers(ctx, cache, users, log)
	if err != nil {
		return fmt.Errorf("watching user device lists: %w", err)
	}
	defer unwatch()

	// Optional statestream listener: push-style refresh between polls
	if cfg.Statestream.Enabled {
		listener, listenErr := statestream.Connect(cfg.Statestream, func(entityIDs []string) {
			log.Debug("statestream trigger", "entities", len(entityIDs))
			cache.RefreshObserved(ctx)
		})
		if listenErr != nil {
			return fmt.Errorf("connecting statestream listener: %w", listenErr)
		}
		listener.SetLogger(log)
		defer func() {
			log.Info("disconnecting statestream listener")
			if closeErr := listener.Close(); closeErr != nil {
				log.Error("error closing statestream listener", "error", closeErr)
			}
		}()
		log.Info("statestream listener connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Statestream.Broker.Host, cfg.Statestream.Broker.Port),
			"prefix", cfg.Statestream.TopicPrefix,
		)
	} else {
		log.Info("statestream listener disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// watchAllUsers subscribes every account to the cache in home and cloud
// mode, logging refresh failures as they surface. The returned function
// releases all subscriptions, stopping the per-key pollers.
func watchAllUsers(ctx context.Context, cache *synccache.Cache, users backend.UserRepository, log *logging.Logger) (func(), error) {
	accounts, err := users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	if len(accounts) == 0 {
		log.Warn("no user accounts found, nothing to synchronize")
	}

	var unsubscribes []func()
	for _, account := range accounts {
		userID := account.ID
		for _, mode := range device.AllModes() {
			unsubscribe := cache.SubscribeDevices(userID, mode, func(state synccache.State) {
				if state.LastError != nil {
					log.Warn("device refresh failed",
						"user_id", userID,
						"mode", string(mode),
						"error", state.LastError,
					)
				}
			})
			unsubscribes = append(unsubscribes, unsubscribe)
		}
		log.Info("watching device lists",
			"user_id", account.ID,
			"username", account.Username,
			"role", string(account.Role),
		)
	}

	return func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses DINODIA_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DINODIA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// recordingFetcher wraps the resolution pipeline with refresh telemetry.
// The recorder drops writes when nil or disconnected, so this adds no
// branching at the call sites.
type recordingFetcher struct {
	pipeline *device.Pipeline
	recorder *telemetry.Recorder
}

func (f *recordingFetcher) FetchDevices(ctx context.Context, userID string, mode device.Mode) ([]device.Snapshot, error) {
	start := time.Now()
	devices, err := f.pipeline.FetchDevices(ctx, userID, mode)
	f.recorder.RecordRefresh(userID, mode, time.Since(start), len(devices), err)
	return devices, err
}
