// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/watcher/internal/domain"
)

var envPrefix = "WATCHER__"

const apiKeySize = 16

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	mu          sync.RWMutex
	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(c.Config); err != nil {
		return nil, err
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	apiKey, err := generateSecureToken(apiKeySize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate api key, using fallback")
		apiKey = "change-me-" + fmt.Sprintf("%d", os.Getpid())
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 9090)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("apiKey", apiKey)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("pprofEnabled", false)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	c.viper.SetDefault("searchFrequency", 12)
	c.viper.SetDefault("searchTimeHour", 0)
	c.viper.SetDefault("searchTimeMinute", 0)
	c.viper.SetDefault("keepSearching", false)
	c.viper.SetDefault("keepSearchingDays", 7)
	c.viper.SetDefault("autoGrab", true)
	c.viper.SetDefault("predbEnabled", true)

	c.viper.SetDefault("renamerEnabled", false)
	c.viper.SetDefault("renamerString", "{title} ({year}) {resolution}")
	c.viper.SetDefault("moverEnabled", false)
	c.viper.SetDefault("moverPath", "")
	c.viper.SetDefault("cleanupEnabled", false)
	c.viper.SetDefault("cleanupFailed", false)
	c.viper.SetDefault("replaceIllegal", "")

	c.viper.SetDefault("omdbApiKey", "")
	c.viper.SetDefault("imdbWatchlistUrls", []string{})
	c.viper.SetDefault("imdbSyncFrequency", 6)

	c.viper.SetDefault("downloader.type", "sabnzbd")
	c.viper.SetDefault("downloader.host", "localhost")
	c.viper.SetDefault("downloader.port", 8080)
	c.viper.SetDefault("downloader.category", "movies")
	c.viper.SetDefault("downloader.priority", "normal")

	c.viper.SetDefault("quality.resolutions", []string{"2160p", "1080p", "720p"})
	c.viper.SetDefault("quality.minSizeMB", 500)
	c.viper.SetDefault("quality.maxSizeMB", 30000)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
			if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
				return err
			}
			c.viper.SetConfigFile(defaultConfigPath)
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
			c.dataDir = filepath.Dir(defaultConfigPath)
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

// envBindings maps viper keys to their WATCHER__ variable suffix. Secrets
// also honour a _FILE variant.
var envBindings = []struct {
	key    string
	env    string
	secret bool
}{
	{key: "host", env: "HOST"},
	{key: "port", env: "PORT"},
	{key: "baseUrl", env: "BASE_URL"},
	{key: "apiKey", env: "API_KEY", secret: true},
	{key: "logLevel", env: "LOG_LEVEL"},
	{key: "logPath", env: "LOG_PATH"},
	{key: "logMaxSize", env: "LOG_MAX_SIZE"},
	{key: "logMaxBackups", env: "LOG_MAX_BACKUPS"},
	{key: "dataDir", env: "DATA_DIR"},
	{key: "pprofEnabled", env: "PPROF_ENABLED"},
	{key: "metricsEnabled", env: "METRICS_ENABLED"},
	{key: "metricsHost", env: "METRICS_HOST"},
	{key: "metricsPort", env: "METRICS_PORT"},
	{key: "metricsBasicAuthUsers", env: "METRICS_BASIC_AUTH_USERS", secret: true},
	{key: "searchFrequency", env: "SEARCH_FREQUENCY"},
	{key: "keepSearching", env: "KEEP_SEARCHING"},
	{key: "keepSearchingDays", env: "KEEP_SEARCHING_DAYS"},
	{key: "autoGrab", env: "AUTO_GRAB"},
	{key: "moverPath", env: "MOVER_PATH"},
	{key: "omdbApiKey", env: "OMDB_API_KEY", secret: true},
	{key: "downloader.apiKey", env: "DOWNLOADER_API_KEY", secret: true},
	{key: "downloader.password", env: "DOWNLOADER_PASSWORD", secret: true},
}

func (c *AppConfig) loadFromEnv() {
	for _, b := range envBindings {
		if b.secret {
			c.bindOrReadFromFile(b.key, envPrefix+b.env)
			continue
		}
		c.viper.BindEnv(b.key, envPrefix+b.env)
	}
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		if err := Validate(next); err != nil {
			log.Error().Err(err).Msg("Rejected configuration reload, keeping previous settings")
			return
		}

		c.mu.Lock()
		*c.Config = *next
		c.mu.Unlock()

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.mu.Lock()
	c.Config.Version = c.version
	c.mu.Unlock()

	c.ApplyLogConfig()
	c.notifyListeners()
}

// Current returns a copy of the configuration that is safe to read while a
// reload is in progress.
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Current()
	for _, listener := range listeners {
		listener(&copied)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 9090
port = {{ .port }}

# Base URL
# Optional
#baseUrl = "/watcher/"

# API key
# Shared secret required by the api and postprocessing endpoints
apiKey = "{{ .apiKey }}"

# Log file path
# If not defined, logs to stdout
#logPath = "log/watcher.log"

# Log rotation
#logMaxSize = {{ .logMaxSize }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (watcher.db) will be created inside this directory
#dataDir = "/var/db/watcher"

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus Metrics
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9075
# Comma separated user:password pairs required to scrape /metrics
#metricsBasicAuthUsers = ""

# Search
# Hours between automatic searches, first run at searchTimeHour:searchTimeMinute
searchFrequency = {{ .searchFrequency }}
#searchTimeHour = 0
#searchTimeMinute = 0

# Keep searching for better releases after a movie finished
#keepSearching = false
#keepSearchingDays = 7

# Automatically grab the best result
#autoGrab = true

# Only search movies that have been verified on predb
#predbEnabled = true

# Post-processing
#renamerEnabled = false
#renamerString = "{title} ({year}) {resolution}"
#moverEnabled = false
#moverPath = "/library/{title} ({year})"
#cleanupEnabled = false
#cleanupFailed = false
#replaceIllegal = ""

# Metadata
#omdbApiKey = ""

# IMDB watchlists to sync
#imdbWatchlistUrls = []
#imdbSyncFrequency = 6

#[[indexers]]
#name = "indexer"
#url = "https://indexer.example.com"
#apiKey = ""
#enabled = true

#[downloader]
#type = "sabnzbd"
#host = "localhost"
#port = 8080
#apiKey = ""
#category = "movies"

#[quality]
#resolutions = ["2160p", "1080p", "720p"]
#required = []
#ignored = []
#preferred = []
#minSizeMB = 500
#maxSizeMB = 30000
`

	data := map[string]any{
		"host":            c.viper.GetString("host"),
		"port":            c.viper.GetInt("port"),
		"apiKey":          c.viper.GetString("apiKey"),
		"logLevel":        c.viper.GetString("logLevel"),
		"logMaxSize":      c.viper.GetInt("logMaxSize"),
		"logMaxBackups":   c.viper.GetInt("logMaxBackups"),
		"searchFrequency": c.viper.GetInt("searchFrequency"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "watcher")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "watcher")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "watcher")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "watcher")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "watcher.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile sets the viper key from the file named by the _FILE
// variant of envVar when present, otherwise binds envVar directly.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVar + "_FILE")
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
