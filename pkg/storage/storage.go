package storage

import (
	"context"
	"time"
)

// Storage defines the interface for query journal backends
// Implementations must be thread-safe and support concurrent access
type Storage interface {
	// Journaling
	LogQuery(ctx context.Context, query *QueryLog) error
	GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error)
	GetQueriesByStatus(ctx context.Context, status string, limit int) ([]*QueryLog, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// Journal statuses
const (
	StatusQueued   = "queued"   // response pushed to the output queue
	StatusOversize = "oversize" // response exceeded the UDP limit and was discarded
)

// QueryLog is one finalized guest query
type QueryLog struct {
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	Questions      []string  `json:"questions"`
	Answers        []string  `json:"answers,omitempty"` // one per question, empty for failures
	ID             int64     `json:"id"`
	ClientPort     int       `json:"client_port"`
	TransactionID  int       `json:"transaction_id"`
	ResponseCode   int       `json:"response_code"`
	HostsHits      int       `json:"hosts_hits"`
	ResponseTimeMs float64   `json:"response_time_ms"`
}

// Config represents journal configuration
type Config struct {
	Path          string        `yaml:"path"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BusyTimeout   int           `yaml:"busy_timeout"` // milliseconds
	WALMode       bool          `yaml:"wal_mode"`
	Enabled       bool          `yaml:"enabled"`
}

// DefaultConfig returns a default journal configuration
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Path:          "./guest-dns.db",
		BusyTimeout:   5000,
		WALMode:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
	}
}

// Validate validates the configuration, filling in sizes that were left unset
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Path == "" {
		return ErrInvalidConfig
	}

	if c.BufferSize < 1 {
		c.BufferSize = 100
	}

	if c.BatchSize < 1 {
		c.BatchSize = 100
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}

	return nil
}
