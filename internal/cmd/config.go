package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atikulmunna/warden/internal/settings"
	"github.com/atikulmunna/warden/internal/store"
	"github.com/atikulmunna/warden/internal/tailer"
	"github.com/atikulmunna/warden/internal/updater"
)

// Config is the resolved runtime configuration.
type Config struct {
	Paths []string

	CataloguePath     string
	CatalogueURL      string
	CatalogueInterval time.Duration
	CatalogueUpdates  bool

	SettingsSource   string // static | file | store
	SettingsFile     string
	SettingsInterval time.Duration
	Whitelist        settings.Whitelist

	Sink    store.Config
	Workers int
	Tail    tailer.Config

	DashboardAddr string
	Output        string
	AttacksOnly   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalogue.path", "attack_patterns.json")
	v.SetDefault("catalogue.url", updater.DefaultURL)
	v.SetDefault("catalogue.interval", time.Hour)
	v.SetDefault("catalogue.updates", true)
	v.SetDefault("settings.source", "static")
	v.SetDefault("settings.interval", 10*time.Second)
	v.SetDefault("whitelist.enabled", false)
	v.SetDefault("sink.driver", "memory")
	v.SetDefault("sink.path", "warden.jsonl")
	v.SetDefault("sink.history", store.DefaultHistory)
	v.SetDefault("sink.max_retries", 5)
	v.SetDefault("sink.retry_delay", 3*time.Second)
	v.SetDefault("sink.workers", 4)
	v.SetDefault("tail.poll_interval", 500*time.Millisecond)
	v.SetDefault("tail.retry_backoff", 5*time.Second)
	v.SetDefault("tail.start_window", 10*1024)
	v.SetDefault("output", "text")
	v.SetDefault("attacks_only", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// configFrom reads and validates the configuration held by v.
func configFrom(v *viper.Viper) (Config, error) {
	c := Config{
		Paths:             v.GetStringSlice("paths"),
		CataloguePath:     v.GetString("catalogue.path"),
		CatalogueURL:      v.GetString("catalogue.url"),
		CatalogueInterval: v.GetDuration("catalogue.interval"),
		CatalogueUpdates:  v.GetBool("catalogue.updates"),
		SettingsSource:    strings.ToLower(v.GetString("settings.source")),
		SettingsFile:      v.GetString("settings.file"),
		SettingsInterval:  v.GetDuration("settings.interval"),
		Whitelist: settings.Whitelist{
			Enabled: v.GetBool("whitelist.enabled"),
			IP:      v.GetString("whitelist.ip"),
		},
		Sink: store.Config{
			Driver:     strings.ToLower(v.GetString("sink.driver")),
			DSN:        v.GetString("sink.dsn"),
			Path:       v.GetString("sink.path"),
			History:    v.GetInt("sink.history"),
			MaxRetries: v.GetInt("sink.max_retries"),
			RetryDelay: v.GetDuration("sink.retry_delay"),
		},
		Workers: v.GetInt("sink.workers"),
		Tail: tailer.Config{
			PollInterval: v.GetDuration("tail.poll_interval"),
			RetryBackoff: v.GetDuration("tail.retry_backoff"),
			StartWindow:  v.GetInt64("tail.start_window"),
		},
		DashboardAddr: v.GetString("dashboard.addr"),
		Output:        v.GetString("output"),
		AttacksOnly:   v.GetBool("attacks_only"),
	}

	switch c.SettingsSource {
	case "static", "store":
	case "file":
		if c.SettingsFile == "" {
			return c, fmt.Errorf("settings.source is file but settings.file is empty")
		}
	default:
		return c, fmt.Errorf("settings.source %q: want static, file or store", c.SettingsSource)
	}
	if c.Sink.Driver == "mysql" && c.Sink.DSN == "" {
		return c, fmt.Errorf("sink.driver is mysql but sink.dsn is empty")
	}
	if c.Tail.PollInterval >= time.Second {
		return c, fmt.Errorf("tail.poll_interval %s: must be under one second", c.Tail.PollInterval)
	}
	return c, nil
}
