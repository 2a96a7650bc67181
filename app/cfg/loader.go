package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"feedtoot.db" description:"Path to the SQLite ledger database"`

	// Application configuration
	Port           string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl        string `long:"base-url" env:"BASE_URL" default:"http://localhost:8080" description:"Public base URL used in OAuth redirect URIs"`
	IntervalMins   int    `long:"interval" env:"RSS_INTERVAL_MINS" default:"30" description:"Feed check interval in minutes"`
	PostLimit      int    `long:"post-limit" env:"POST_LIMIT" default:"5" description:"Max new posts per feed/account pair per run"`
	PublishDelayMs int    `long:"publish-delay" env:"PUBLISH_DELAY_MS" default:"700" description:"Minimum delay between consecutive publish calls in milliseconds"`
	FeedsFile      string `long:"feeds-file" env:"FEEDS_FILE" description:"Optional YAML file of feeds to register at startup"`
	APIAccessKey   string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	AppName   string `long:"app-name" env:"APP_NAME" default:"feedtoot" description:"Application name used when registering with instances"`
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"feedtoot/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:         raw.DBPath,
		Port:           raw.Port,
		BaseUrl:        raw.BaseUrl,
		IntervalMins:   raw.IntervalMins,
		PostLimit:      raw.PostLimit,
		PublishDelayMs: raw.PublishDelayMs,
		FeedsFile:      raw.FeedsFile,
		APIAccessKey:   raw.APIAccessKey,
		AppName:        raw.AppName,
		UserAgent:      raw.UserAgent,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if cfg.IntervalMins <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", cfg.IntervalMins)
	}
	if cfg.PostLimit < 0 {
		return nil, fmt.Errorf("post limit must be non-negative, got %d", cfg.PostLimit)
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
