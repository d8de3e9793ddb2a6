// Package backend wires storage and event publishing from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"

	"spendbook/internal/config"
	"spendbook/internal/events"
	"spendbook/internal/storage"
	"spendbook/internal/storage/mongostore"

	"go.uber.org/zap"
)

// Result holds the opened store and event publisher.
type Result struct {
	Store  storage.Store
	Events events.Publisher
}

// Close releases the publisher and the store.
func (r *Result) Close() error {
	return errors.Join(r.Events.Close(), r.Store.Close())
}

// OpenStore opens the store selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Backend() {
	case config.BackendMongo:
		store, err := mongostore.New(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB store: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := storage.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL store: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		store, err := storage.NewDB(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Backend())
	}
}

// Open opens the store and, when AMQP is configured, the event publisher.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Result, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", zap.String("backend", cfg.Backend()))

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize AMQP publisher: %w", err)
		}
		publisher = amqpPublisher
		log.Info("publishing expense events", zap.String("exchange", cfg.AMQPExchange))
	}

	return &Result{Store: store, Events: publisher}, nil
}
