// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version        string
	Host           string `toml:"host" mapstructure:"host"`
	Port           int    `toml:"port" mapstructure:"port"`
	BaseURL        string `toml:"baseUrl" mapstructure:"baseUrl"`
	APIKey         string `toml:"apiKey" mapstructure:"apiKey"`
	LogLevel       string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize     int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups  int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir        string `toml:"dataDir" mapstructure:"dataDir"`
	PprofEnabled   bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// Search scheduling
	SearchFrequency   int  `toml:"searchFrequency" mapstructure:"searchFrequency"`
	SearchTimeHour    int  `toml:"searchTimeHour" mapstructure:"searchTimeHour"`
	SearchTimeMinute  int  `toml:"searchTimeMinute" mapstructure:"searchTimeMinute"`
	KeepSearching     bool `toml:"keepSearching" mapstructure:"keepSearching"`
	KeepSearchingDays int  `toml:"keepSearchingDays" mapstructure:"keepSearchingDays"`
	AutoGrab          bool `toml:"autoGrab" mapstructure:"autoGrab"`
	PredbEnabled      bool `toml:"predbEnabled" mapstructure:"predbEnabled"`

	// Post-processing
	RenamerEnabled bool   `toml:"renamerEnabled" mapstructure:"renamerEnabled"`
	RenamerString  string `toml:"renamerString" mapstructure:"renamerString"`
	MoverEnabled   bool   `toml:"moverEnabled" mapstructure:"moverEnabled"`
	MoverPath      string `toml:"moverPath" mapstructure:"moverPath"`
	CleanupEnabled bool   `toml:"cleanupEnabled" mapstructure:"cleanupEnabled"`
	CleanupFailed  bool   `toml:"cleanupFailed" mapstructure:"cleanupFailed"`
	ReplaceIllegal string `toml:"replaceIllegal" mapstructure:"replaceIllegal"`

	OMDBAPIKey        string   `toml:"omdbApiKey" mapstructure:"omdbApiKey"`
	IMDBWatchlistURLs []string `toml:"imdbWatchlistUrls" mapstructure:"imdbWatchlistUrls"`
	IMDBSyncFrequency int      `toml:"imdbSyncFrequency" mapstructure:"imdbSyncFrequency"`

	Indexers   []IndexerConfig  `toml:"indexers" mapstructure:"indexers"`
	Downloader DownloaderConfig `toml:"downloader" mapstructure:"downloader"`
	Quality    QualityConfig    `toml:"quality" mapstructure:"quality"`
}

// IndexerConfig describes a single newznab indexer.
type IndexerConfig struct {
	Name    string `toml:"name" mapstructure:"name"`
	URL     string `toml:"url" mapstructure:"url"`
	APIKey  string `toml:"apiKey" mapstructure:"apiKey"`
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
}

type DownloaderConfig struct {
	Type     string `toml:"type" mapstructure:"type"`
	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
	APIKey   string `toml:"apiKey" mapstructure:"apiKey"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Category string `toml:"category" mapstructure:"category"`
	Priority string `toml:"priority" mapstructure:"priority"`
}

// QualityConfig is the default quality profile applied to newly added movies.
type QualityConfig struct {
	Resolutions []string `toml:"resolutions" mapstructure:"resolutions"`
	Required    []string `toml:"required" mapstructure:"required"`
	Ignored     []string `toml:"ignored" mapstructure:"ignored"`
	Preferred   []string `toml:"preferred" mapstructure:"preferred"`
	MinSizeMB   int64    `toml:"minSizeMB" mapstructure:"minSizeMB"`
	MaxSizeMB   int64    `toml:"maxSizeMB" mapstructure:"maxSizeMB"`
}

// SearchInterval returns the configured search frequency, never less than one hour.
func (c *Config) SearchInterval() time.Duration {
	if c.SearchFrequency <= 0 {
		return time.Hour
	}
	return time.Duration(c.SearchFrequency) * time.Hour
}

// WatchlistSyncInterval returns the IMDB watchlist sync frequency, or zero when disabled.
func (c *Config) WatchlistSyncInterval() time.Duration {
	if c.IMDBSyncFrequency <= 0 || len(c.IMDBWatchlistURLs) == 0 {
		return 0
	}
	return time.Duration(c.IMDBSyncFrequency) * time.Hour
}

// EnabledIndexers returns indexers that are enabled and have a URL.
func (c *Config) EnabledIndexers() []IndexerConfig {
	out := make([]IndexerConfig, 0, len(c.Indexers))
	for _, idx := range c.Indexers {
		if !idx.Enabled || strings.TrimSpace(idx.URL) == "" {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// ConfigProvider hands out the live configuration. Services read it on every
// use so reloads apply to the next cycle or request.
type ConfigProvider interface {
	Current() Config
}

// StaticConfig is a ConfigProvider that never changes.
type StaticConfig Config

func (s StaticConfig) Current() Config {
	return Config(s)
}
