// Package updater keeps the local attack catalogue in step with a remote
// authoritative copy.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atikulmunna/warden/internal/signature"
)

// DefaultURL is the upstream catalogue location.
const DefaultURL = "https://raw.githubusercontent.com/otofuserver/Edamame-NginxLog-Security-Analyzer/master/attack_patterns.json"

const maxCatalogueBytes = 4 << 20

// ErrThrottled is returned by Refresh when manual refreshes arrive too fast.
var ErrThrottled = errors.New("catalogue refresh throttled")

// Config controls where and how often the catalogue is fetched.
type Config struct {
	URL      string        // remote catalogue
	Path     string        // local copy rewritten on update; empty disables persistence
	Interval time.Duration // periodic check cadence
	Timeout  time.Duration // per-fetch deadline

	// OnUpdate, when set, runs after a new catalogue has been activated.
	OnUpdate func(ctx context.Context, c *signature.Catalogue)
}

// Updater fetches, validates and publishes catalogues into an Engine. It is
// the only writer of the engine's catalogue after startup.
type Updater struct {
	cfg     Config
	engine  *signature.Engine
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates an Updater. Zero durations fall back to hourly checks and a
// 10 second fetch timeout.
func New(engine *signature.Engine, cfg Config, logger *zap.Logger) *Updater {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		cfg:     cfg,
		engine:  engine,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		log:     logger.Named("updater"),
	}
}

// Run checks once immediately and then on every interval until ctx is done.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	u.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.check(ctx)
		}
	}
}

// Refresh performs an on-demand check, throttled to one per minute.
func (u *Updater) Refresh(ctx context.Context) (bool, error) {
	if !u.limiter.Allow() {
		return false, ErrThrottled
	}
	return u.Check(ctx)
}

func (u *Updater) check(ctx context.Context) {
	if _, err := u.Check(ctx); err != nil {
		u.log.Warn("catalogue update failed, keeping previous",
			zap.String("url", u.cfg.URL), zap.String("version", u.engine.Version()), zap.Error(err))
	}
}

// Check fetches the remote catalogue and activates it when its version
// differs from the active one. It reports whether a new catalogue was
// activated. On any error the active catalogue is untouched.
func (u *Updater) Check(ctx context.Context) (bool, error) {
	body, err := u.fetch(ctx)
	if err != nil {
		return false, err
	}
	remote, err := signature.ParseCatalogue(body)
	if err != nil {
		return false, err
	}

	local := u.engine.Version()
	if remote.Version() == local {
		u.log.Debug("catalogue is current", zap.String("version", local))
		return false, nil
	}

	if u.cfg.Path != "" {
		if err := writeFileAtomic(u.cfg.Path, body); err != nil {
			// The new catalogue is still activated; the next restart will
			// fetch it again.
			u.log.Warn("catalogue persist failed", zap.String("path", u.cfg.Path), zap.Error(err))
		}
	}
	u.engine.Swap(remote)
	u.log.Info("catalogue updated", zap.String("from", local), zap.String("to", remote.Version()))
	if u.cfg.OnUpdate != nil {
		u.cfg.OnUpdate(ctx, remote)
	}
	return true, nil
}

func (u *Updater) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalogue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalogue: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogueBytes))
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return body, nil
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
