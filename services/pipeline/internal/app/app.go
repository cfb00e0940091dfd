package app

import (
	"fmt"
	"time"

	"loanflow/pkg/catalog"
	"loanflow/pkg/events"
	"loanflow/pkg/progress"
	"loanflow/pkg/storage"
	"loanflow/pkg/store"
	"loanflow/services/pipeline/internal/config"
)

// Config holds runtime configuration for the core application.
type Config struct {
	File config.FileConfig

	// Optional overrides, used by tests and embedded deployments.
	Store   store.Store
	Objects storage.ObjectStore
	Events  events.Publisher
	Catalog *catalog.Catalog
}

// App wires the document store, category catalog, review flow, and
// progress aggregation behind stage controllers.
type App struct {
	store         store.Store
	catalog       *catalog.Catalog
	objects       storage.ObjectStore
	events        events.Publisher
	agg           *progress.Aggregator
	presignExpiry time.Duration
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(
			cfg.File.MinioEndpoint,
			cfg.File.MinioAccessKey,
			cfg.File.MinioSecretKey,
			cfg.File.MinioBucket,
			cfg.File.MinioUseSSL,
		)
		if err != nil {
			return nil, err
		}
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.File.DatabaseURL == "" {
			dataStore = store.NewMemoryStore()
		} else {
			gormStore, err := store.NewGormStore(cfg.File.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gormStore
		}
	}

	cat := cfg.Catalog
	if cat == nil {
		if cfg.File.CatalogPath != "" {
			loaded, err := catalog.LoadFile(cfg.File.CatalogPath)
			if err != nil {
				return nil, err
			}
			cat = loaded
		} else {
			cat = catalog.Default()
		}
	}

	publisher := cfg.Events
	if publisher == nil {
		if cfg.File.EventsStream != "" {
			redisPublisher, err := events.NewRedisPublisher(events.RedisPublisherConfig{
				Addr:     cfg.File.RedisAddr,
				Password: cfg.File.RedisPassword,
				Stream:   cfg.File.EventsStream,
			})
			if err != nil {
				return nil, fmt.Errorf("init events publisher: %w", err)
			}
			publisher = redisPublisher
		} else {
			publisher = events.Nop{}
		}
	}

	presignExpiry := 15 * time.Minute
	if cfg.File.PresignExpiryMinutes > 0 {
		presignExpiry = time.Duration(cfg.File.PresignExpiryMinutes) * time.Minute
	}

	return &App{
		store:         dataStore,
		catalog:       cat,
		objects:       objects,
		events:        publisher,
		agg:           progress.NewAggregator(dataStore, cat),
		presignExpiry: presignExpiry,
	}, nil
}

// Catalog exposes the configured category catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }
