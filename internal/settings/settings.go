// Package settings publishes the operator's whitelist settings to the
// ingestion path as an immutable snapshot.
package settings

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Whitelist is the whitelist mode and the single whitelisted client address.
type Whitelist struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	IP      string `yaml:"ip" json:"ip"`
}

// Allows reports whether requests from ip are whitelisted.
func (w Whitelist) Allows(ip string) bool {
	return w.Enabled && w.IP != "" && ip == w.IP
}

// Provider is the external settings collaborator.
type Provider interface {
	WhitelistSettings(ctx context.Context) (Whitelist, error)
}

// Static always returns the same settings.
type Static Whitelist

func (s Static) WhitelistSettings(context.Context) (Whitelist, error) {
	return Whitelist(s), nil
}

// FileProvider reads settings from a YAML document of the form
//
//	whitelist:
//	  enabled: true
//	  ip: 192.0.2.10
type FileProvider struct {
	Path string
}

func (p FileProvider) WhitelistSettings(context.Context) (Whitelist, error) {
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		return Whitelist{}, fmt.Errorf("read settings: %w", err)
	}
	var doc struct {
		Whitelist Whitelist `yaml:"whitelist"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Whitelist{}, fmt.Errorf("parse settings %s: %w", p.Path, err)
	}
	return doc.Whitelist, nil
}

// Snapshot holds the latest settings. Only a Refresher writes it; any number
// of goroutines read it.
type Snapshot struct {
	v atomic.Pointer[Whitelist]
}

// Load returns the latest settings, or the zero value before the first store.
func (s *Snapshot) Load() Whitelist {
	if w := s.v.Load(); w != nil {
		return *w
	}
	return Whitelist{}
}

// Store publishes w.
func (s *Snapshot) Store(w Whitelist) {
	s.v.Store(&w)
}

// Refresher polls a Provider into a Snapshot.
type Refresher struct {
	provider Provider
	snap     *Snapshot
	interval time.Duration
	log      *zap.Logger
}

// NewRefresher creates a Refresher; a zero interval means 10 seconds.
func NewRefresher(p Provider, snap *Snapshot, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{provider: p, snap: snap, interval: interval, log: logger.Named("settings")}
}

// Refresh loads the settings once. On error the previous snapshot is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	w, err := r.provider.WhitelistSettings(ctx)
	if err != nil {
		r.log.Warn("settings refresh failed, keeping previous", zap.Error(err))
		return err
	}
	if prev := r.snap.Load(); prev != w {
		r.log.Info("whitelist settings changed",
			zap.Bool("enabled", w.Enabled), zap.String("ip", w.IP))
	}
	r.snap.Store(w)
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_ = r.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}
