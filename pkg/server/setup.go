package server

import (
	"fmt"
	"log"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dorianinnovations/numina-collective/pkg/aggregate"
	"github.com/dorianinnovations/numina-collective/pkg/batch"
	"github.com/dorianinnovations/numina-collective/pkg/cache"
	"github.com/dorianinnovations/numina-collective/pkg/config"
	"github.com/dorianinnovations/numina-collective/pkg/scheduler"
	"github.com/dorianinnovations/numina-collective/pkg/storage"
	"github.com/dorianinnovations/numina-collective/pkg/storage/badger"
)

// Config holds process-level server configuration, read from environment.
type Config struct {
	Port        string `env:"NUMINA_PORT"`
	DataDir     string `env:"NUMINA_DATA_DIR" env-default:"./data/collective"`
	MaxMemoryMB int64  `env:"NUMINA_MAX_MEMORY_MB"`
	InMemory    bool   `env:"NUMINA_IN_MEMORY" env-default:"false"`
}

// LoadConfig reads configuration from environment variables and ensures
// the data directory exists.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to read environment: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = config.DefaultPort
	}
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = config.DefaultMaxMemoryMB
	}

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return cfg, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return cfg, nil
}

// InitializeStorage opens the BadgerDB store with the configured limits.
func InitializeStorage(cfg Config) (storage.Store, error) {
	log.Println("Initializing BadgerDB storage with Snappy compression...")
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		InMemory:    cfg.InMemory,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB storage initialized successfully")
	return store, nil
}

// InitializePipeline wires the cache, engine, scheduler and batcher over
// the given store.
func InitializePipeline(store storage.Store) (*cache.Cache, *aggregate.Engine, *scheduler.Runner, *batch.Batcher) {
	c := cache.New()

	engine := aggregate.New(store, c)
	log.Println("Aggregation engine created")

	runner := scheduler.New(store, engine, c)
	log.Println("Scheduled aggregation runner created")

	batcher := batch.New(store, batch.DefaultConfig())
	log.Println("Event batcher created")

	return c, engine, runner, batcher
}
