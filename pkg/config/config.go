package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"streamgate/pkg/env"
	"streamgate/pkg/logger"
	"streamgate/pkg/paths"
)

// TorznabConfig is one torrent-index upstream.
type TorznabConfig struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
	APIPath string `json:"api_path"` // default "/api"
}

// DebridConfig is the caching/debrid upstream.
type DebridConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
}

// HostedConfig is the direct-hosted catalog upstream.
type HostedConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

// ScoringConfig collects all candidate ranking weights so the policy is
// auditable and testable in isolation. Larger weight tiers dominate smaller
// ones: cache state > container format > resolution.
//
// The defaults deliberately prefer 1080p over 4K (bandwidth and client
// compatibility over maximum fidelity) and mp4 over mkv; deployments that
// want different trade-offs override these maps in config.
type ScoringConfig struct {
	CacheWeights          map[string]int `json:"cache_weights"`
	FormatWeights         map[string]int `json:"format_weights"`
	QualityWeights        map[string]int `json:"quality_weights"`
	VisualTagPenalty      int            `json:"visual_tag_penalty"`
	PreferredQualityBoost int            `json:"preferred_quality_boost"`
	SeederWeight          float64        `json:"seeder_weight"`
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	ProviderSeconds    int `json:"provider_seconds"`     // per-adapter lookup
	DebridSeconds      int `json:"debrid_seconds"`       // multi-step caching-service calls
	ProbeSeconds       int `json:"probe_seconds"`        // manifest existence probe
	HLSPollDelayMillis int `json:"hls_poll_delay_millis"`
	HLSPollAttempts    int `json:"hls_poll_attempts"`
}

// SessionConfig bounds the resolved-session cache. The TTL must stay a
// conservative fraction of the upstream link lifetime; debrid links are
// typically advertised for several hours, so the default is one hour.
type SessionConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
	MaxEntries int `json:"max_entries"`
}

// PreloadConfig bounds the batched preload worker pool.
type PreloadConfig struct {
	Concurrency      int `json:"concurrency"`
	BatchPauseMillis int `json:"batch_pause_millis"`
	EpisodeWindow    int `json:"episode_window"` // default episodes resolved ahead
}

// ProxyConfig governs the manifest proxy and segment redirector.
type ProxyConfig struct {
	AllowedStreamHosts   []string `json:"allowed_stream_hosts"`
	ManifestCacheSeconds int      `json:"manifest_cache_seconds"`
}

// RateLimitConfig bounds resolve/preload request rates per device or IP.
type RateLimitConfig struct {
	RequestLimit  int `json:"request_limit"`
	WindowSeconds int `json:"window_seconds"`
}

// DeviceConfig is one known device token for rate-limit scoping.
type DeviceConfig struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Config holds application configuration.
type Config struct {
	Port     int    `json:"port"`
	BaseURL  string `json:"base_url"`
	LogLevel string `json:"log_level"`

	Torznab []TorznabConfig `json:"torznab"`
	Debrid  DebridConfig    `json:"debrid"`
	Hosted  HostedConfig    `json:"hosted"`

	Devices []DeviceConfig `json:"devices"`

	Scoring   ScoringConfig   `json:"scoring"`
	Timeouts  TimeoutConfig   `json:"timeouts"`
	Session   SessionConfig   `json:"session"`
	Preload   PreloadConfig   `json:"preload"`
	Proxy     ProxyConfig     `json:"proxy"`
	RateLimit RateLimitConfig `json:"rate_limit"`

	// TMDB key comes from the environment only and is never persisted.
	TMDBAPIKey string `json:"-"`

	// Internal - where was this config loaded from?
	LoadedPath string `json:"-"`
}

// Default returns a Config populated with the shipped defaults.
func Default() *Config {
	return &Config{
		Port:     7900,
		BaseURL:  "http://localhost:7900",
		LogLevel: "INFO",
		Scoring: ScoringConfig{
			CacheWeights: map[string]int{
				"cached":   2_000_000,
				"unknown":  1_000_000,
				"uncached": 0,
			},
			FormatWeights: map[string]int{
				"mp4": 300_000,
				"hls": 250_000,
				"mkv": 200_000,
			},
			QualityWeights: map[string]int{
				"1080p":   40_000,
				"720p":    30_000,
				"4K":      20_000,
				"480p":    10_000,
				"unknown": 5_000,
			},
			VisualTagPenalty:      15_000,
			PreferredQualityBoost: 50_000,
			SeederWeight:          0,
		},
		Timeouts: TimeoutConfig{
			ProviderSeconds:    15,
			DebridSeconds:      60,
			ProbeSeconds:       10,
			HLSPollDelayMillis: 2000,
			HLSPollAttempts:    15,
		},
		Session: SessionConfig{
			TTLSeconds: 3600,
			MaxEntries: 2048,
		},
		Preload: PreloadConfig{
			Concurrency:      4,
			BatchPauseMillis: 500,
			EpisodeWindow:    3,
		},
		Proxy: ProxyConfig{
			ManifestCacheSeconds: 5,
		},
		RateLimit: RateLimitConfig{
			RequestLimit:  60,
			WindowSeconds: 60,
		},
	}
}

// Load is intended for startup only. It loads configuration from
// config.json, applies environment variable overrides once, then saves the
// merged config. Priority: environment (if set) > config.json > defaults.
func Load() (*Config, error) {
	dataDir := paths.GetDataDir()
	configPath := filepath.Join(dataDir, "config.json")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Warn("Failed to create data directory", "dir", dataDir, "err", err)
	}

	cfg := Default()
	cfg.LoadedPath = configPath

	if err := cfg.LoadFile(configPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("No config found, creating new one", "path", configPath)
		} else {
			logger.Warn("Failed to load config, using defaults", "path", configPath, "err", err)
		}
	} else {
		logger.Info("Loaded configuration", "path", configPath)
	}

	overrides, keys := env.ReadConfigOverrides()
	ApplyEnvOverrides(cfg, overrides, keys)

	if err := cfg.Save(); err != nil {
		logger.Warn("Failed to save config on startup", "err", err)
	}

	if len(cfg.Torznab) == 0 && !cfg.Debrid.Enabled && !cfg.Hosted.Enabled {
		logger.Warn("No stream sources configured; resolve requests will always fail")
	}

	return cfg, nil
}

// LoadFile overrides config with values from a JSON file.
func (c *Config) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(c)
}

// Save saves the current configuration to the file it was loaded from.
func (c *Config) Save() error {
	path := c.LoadedPath
	if path == "" {
		path = "config.json"
	}
	return c.SaveFile(path)
}

// SaveFile saves the current configuration to a JSON file.
func (c *Config) SaveFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c)
}

// keySet returns true if s is in list.
func keySet(list []string, s string) bool {
	for _, k := range list {
		if k == s {
			return true
		}
	}
	return false
}

// ApplyEnvOverrides applies environment-derived overrides to cfg (used at
// startup only). Only fields present in keys are applied, so env vars
// override file values per setting.
func ApplyEnvOverrides(cfg *Config, o env.ConfigOverrides, keys []string) {
	if keySet(keys, env.KeyPort) {
		cfg.Port = o.Port
	}
	if keySet(keys, env.KeyBaseURL) {
		cfg.BaseURL = o.BaseURL
	}
	if keySet(keys, env.KeyLogLevel) {
		cfg.LogLevel = o.LogLevel
	}
	if keySet(keys, env.KeySessionTTL) {
		cfg.Session.TTLSeconds = o.SessionTTL
	}
	if keySet(keys, env.KeyAllowedHosts) {
		cfg.Proxy.AllowedStreamHosts = o.AllowedHosts
	}
	if keySet(keys, env.KeyDebridURL) {
		cfg.Debrid.URL = o.DebridURL
		cfg.Debrid.Enabled = true
	}
	if keySet(keys, env.KeyDebridAPIKey) {
		cfg.Debrid.APIKey = o.DebridAPIKey
	}
	if keySet(keys, env.KeyHostedURL) {
		cfg.Hosted.URL = o.HostedURL
		cfg.Hosted.Enabled = true
	}
	if keySet(keys, env.KeyTorznab) {
		cfg.Torznab = make([]TorznabConfig, len(o.Torznab))
		for i, t := range o.Torznab {
			cfg.Torznab[i] = TorznabConfig{Name: t.Name, URL: t.URL, APIKey: t.APIKey}
		}
	}
	if o.TMDBAPIKey != "" {
		cfg.TMDBAPIKey = o.TMDBAPIKey
	}
}

// GetEnvOverrideKeys returns config JSON keys that have environment variable
// overrides set. These values will be overwritten on next restart.
func GetEnvOverrideKeys() []string {
	return env.OverrideKeys()
}
