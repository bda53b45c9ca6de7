// Package store persists access history, ModSecurity alerts and the per-URL
// registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
)

// ErrUnknownDriver is returned by Open for an unsupported backend name.
var ErrUnknownDriver = errors.New("unknown sink driver")

// AccessRecord is one row of raw per-request history.
type AccessRecord struct {
	ID        int64     `json:"id"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	Blocked   bool      `json:"blocked"`
}

// AlertRecord is a fragment attached to an access row.
type AlertRecord struct {
	AccessID int64 `json:"access_id"`
	model.Fragment
}

// RegistryEntry is one row of the deduplicated URL registry.
type RegistryEntry struct {
	Method         string    `json:"method"`
	URL            string    `json:"url"`               // decoded
	RawURL         string    `json:"raw_url,omitempty"` // as logged, when the backend keeps it
	IP             string    `json:"ip"`
	Timestamp      time.Time `json:"timestamp"`
	Classification string    `json:"classification"`
	Whitelisted    bool      `json:"whitelisted"`
}

// Sink is the persistence collaborator used by the pipeline writer.
type Sink interface {
	// RecordAccess stores a request and returns its row id.
	RecordAccess(ctx context.Context, rec AccessRecord) (int64, error)
	// RecordAlert stores a fragment for an access row; a second fragment with
	// the same rule id for the same row is ignored.
	RecordAlert(ctx context.Context, accessID int64, f model.Fragment) error
	// UpsertURL inserts the URL when it has never been seen (exact match);
	// otherwise it only flips an existing row to whitelisted.
	UpsertURL(ctx context.Context, e RegistryEntry) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver     string // memory | file | mysql
	DSN        string // mysql
	Path       string // file
	History    int    // memory and file: access and alert rows kept in memory
	MaxRetries int
	RetryDelay time.Duration
}

// Open connects to the configured backend, retrying up to MaxRetries times.
// Exhausting the budget is returned as an error; callers treat it as fatal.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Sink, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("store")
	switch cfg.Driver {
	case "", "memory", "file", "mysql":
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
	}

	connect := func() (Sink, error) {
		switch cfg.Driver {
		case "file":
			f, err := OpenFile(cfg.Path, cfg.History, log)
			if err != nil {
				return nil, err
			}
			return f, nil
		case "mysql":
			db, err := OpenMySQL(ctx, cfg.DSN)
			if err != nil {
				return nil, err
			}
			return db, nil
		}
		return NewMemoryLimit(cfg.History), nil
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		s, err := connect()
		if err == nil {
			if attempt > 1 {
				log.Info("sink connection recovered", zap.Int("attempt", attempt))
			}
			return s, nil
		}
		lastErr = err
		log.Error("sink connection failed",
			zap.String("driver", cfg.Driver), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("sink unreachable after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// Reclassifier is implemented by sinks that can relabel their registry after
// the attack catalogue changes. classify receives each stored row and returns
// its new label.
type Reclassifier interface {
	Reclassify(ctx context.Context, classify func(RegistryEntry) string) (int, error)
}
