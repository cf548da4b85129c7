// Package env consolidates all environment variable reading for the
// application. Config overrides are applied only at startup (see config.Load).
package env

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names (single source of truth)
const (
	Port             = "PORT"
	BaseURL          = "BASE_URL"
	LogLevel         = "LOG_LEVEL"
	SessionTTL       = "SESSION_TTL_SECONDS"
	AllowedHosts     = "ALLOWED_STREAM_HOSTS"
	DebridURL        = "DEBRID_URL"
	DebridAPIKey     = "DEBRID_API_KEY"
	HostedURL        = "HOSTED_URL"
	TMDBAPIKey       = "TMDB_API_KEY"
	TorznabPrefix    = "TORZNAB_" // TORZNAB_1_URL, TORZNAB_1_API_KEY, TORZNAB_1_NAME, ...
	maxTorznabSlots  = 16
)

// Config JSON keys returned with overrides, so file values are only replaced
// for settings that were actually present in the environment.
const (
	KeyPort         = "port"
	KeyBaseURL      = "base_url"
	KeyLogLevel     = "log_level"
	KeySessionTTL   = "session_ttl_seconds"
	KeyAllowedHosts = "allowed_stream_hosts"
	KeyDebridURL    = "debrid_url"
	KeyDebridAPIKey = "debrid_api_key"
	KeyHostedURL    = "hosted_url"
	KeyTorznab      = "torznab"
)

// TorznabOverride is one indexer read from TORZNAB_{n}_* variables.
type TorznabOverride struct {
	Name   string
	URL    string
	APIKey string
}

// ConfigOverrides carries raw values read from the environment.
type ConfigOverrides struct {
	Port         int
	BaseURL      string
	LogLevel     string
	SessionTTL   int
	AllowedHosts []string
	DebridURL    string
	DebridAPIKey string
	HostedURL    string
	TMDBAPIKey   string
	Torznab      []TorznabOverride
}

// ReadConfigOverrides reads all supported environment variables once and
// returns the values plus the list of config keys that were set.
func ReadConfigOverrides() (ConfigOverrides, []string) {
	var o ConfigOverrides
	var keys []string

	if v := os.Getenv(Port); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.Port = n
			keys = append(keys, KeyPort)
		}
	}
	if v := os.Getenv(BaseURL); v != "" {
		o.BaseURL = strings.TrimRight(v, "/")
		keys = append(keys, KeyBaseURL)
	}
	if v := os.Getenv(LogLevel); v != "" {
		o.LogLevel = v
		keys = append(keys, KeyLogLevel)
	}
	if v := os.Getenv(SessionTTL); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.SessionTTL = n
			keys = append(keys, KeySessionTTL)
		}
	}
	if v := os.Getenv(AllowedHosts); v != "" {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				o.AllowedHosts = append(o.AllowedHosts, h)
			}
		}
		keys = append(keys, KeyAllowedHosts)
	}
	if v := os.Getenv(DebridURL); v != "" {
		o.DebridURL = strings.TrimRight(v, "/")
		keys = append(keys, KeyDebridURL)
	}
	if v := os.Getenv(DebridAPIKey); v != "" {
		o.DebridAPIKey = v
		keys = append(keys, KeyDebridAPIKey)
	}
	if v := os.Getenv(HostedURL); v != "" {
		o.HostedURL = strings.TrimRight(v, "/")
		keys = append(keys, KeyHostedURL)
	}
	// TMDB key is env-only and never written back to the config file.
	o.TMDBAPIKey = os.Getenv(TMDBAPIKey)

	if tz := readTorznab(); len(tz) > 0 {
		o.Torznab = tz
		keys = append(keys, KeyTorznab)
	}

	return o, keys
}

// readTorznab collects TORZNAB_{n}_URL / _API_KEY / _NAME triples. Slots may
// be sparse; a slot without a URL is skipped.
func readTorznab() []TorznabOverride {
	var out []TorznabOverride
	for i := 1; i <= maxTorznabSlots; i++ {
		prefix := TorznabPrefix + strconv.Itoa(i) + "_"
		url := strings.TrimRight(os.Getenv(prefix+"URL"), "/")
		if url == "" {
			continue
		}
		name := os.Getenv(prefix + "NAME")
		if name == "" {
			name = "Torznab " + strconv.Itoa(i)
		}
		out = append(out, TorznabOverride{
			Name:   name,
			URL:    url,
			APIKey: os.Getenv(prefix + "API_KEY"),
		})
	}
	return out
}

// OverrideKeys returns config JSON keys currently overridden by the
// environment. Used by the status API to warn that file edits to these
// settings will not survive a restart.
func OverrideKeys() []string {
	_, keys := ReadConfigOverrides()
	return keys
}
