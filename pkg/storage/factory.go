package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// New creates a journal based on the configuration.
// A disabled journal is a NoOpStorage.
func New(cfg *Config, metrics MetricsRecorder, logger *slog.Logger) (Storage, error) {
	if cfg == nil {
		cfg = &Config{}
		*cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return NewNoOpStorage(), nil
	}

	s, err := NewSQLiteStorage(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NoOpStorage is a no-op storage that does nothing
// Used when the journal is disabled
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// LogQuery does nothing
func (n *NoOpStorage) LogQuery(ctx context.Context, query *QueryLog) error {
	return nil
}

// GetRecentQueries returns an empty slice
func (n *NoOpStorage) GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

// GetQueriesByStatus returns an empty slice
func (n *NoOpStorage) GetQueriesByStatus(ctx context.Context, status string, limit int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

// Cleanup does nothing
func (n *NoOpStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	return nil
}

// Close does nothing
func (n *NoOpStorage) Close() error {
	return nil
}

// Ping does nothing
func (n *NoOpStorage) Ping(ctx context.Context) error {
	return nil
}
