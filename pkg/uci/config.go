// Package uci loads the daemon configuration from a UCI-style file
package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/satstat/satstat/pkg/logx"
)

// Config represents the satstat configuration
type Config struct {
	// Main configuration
	Enable              bool   `json:"enable"`
	LogLevel            string `json:"log_level"`
	PollIntervalMS      int    `json:"poll_interval_ms"`
	NetworkRefreshMS    int    `json:"network_refresh_ms"`
	NetworkPollAttempts int    `json:"network_poll_attempts"`
	HistorySize         int    `json:"history_size"`
	RetentionHours      int    `json:"retention_hours"`

	// Listeners
	APIListener    bool `json:"api_listener"`
	APIPort        int  `json:"api_port"`
	MetricsEnabled bool `json:"metrics_enabled"`

	// Telemetry publish
	MQTTEnabled bool   `json:"mqtt_enabled"`
	MQTTBroker  string `json:"mqtt_broker"`
	MQTTPort    int    `json:"mqtt_port"`
	MQTTTopic   string `json:"mqtt_topic"`

	// Storage and sources
	CellDBPath string `json:"celldb_path"`
	Source     string `json:"source"`
	ReplayFile string `json:"replay_file"`

	// Modem access, local unless an SSH host is set
	ModemCommand       string `json:"modem_command"`
	ModemSSHHost       string `json:"modem_ssh_host"`
	ModemSSHPort       int    `json:"modem_ssh_port"`
	ModemSSHUser       string `json:"modem_ssh_user"`
	ModemSSHKey        string `json:"modem_ssh_key"`
	ModemSSHKnownHosts string `json:"modem_ssh_known_hosts"`

	// Tower geolocation, disabled without an API key
	GeoAPIKey       string `json:"-"`
	GeoCacheMinutes int    `json:"geo_cache_minutes"`
}

// Observation sources
const (
	SourceModem  = "modem"
	SourceReplay = "replay"
)

// Default configuration values
const (
	DefaultLogLevel            = "info"
	DefaultPollIntervalMS      = 1000
	DefaultNetworkRefreshMS    = 1000
	DefaultNetworkPollAttempts = 60
	DefaultHistorySize         = 500
	DefaultRetentionHours      = 24
	DefaultAPIPort             = 9102
	DefaultMQTTBroker          = "localhost"
	DefaultMQTTPort            = 1883
	DefaultMQTTTopic           = "satstat"
	DefaultModemCommand        = "gsmctl -A"
	DefaultModemSSHPort        = 22
	DefaultModemSSHUser        = "root"
	DefaultGeoCacheMinutes     = 30
)

// LoadConfig loads and validates the satstat configuration file.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseUCI(path); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a config holding every default value
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// PollInterval returns poll_interval_ms as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// NetworkRefresh returns network_refresh_ms as a duration
func (c *Config) NetworkRefresh() time.Duration {
	return time.Duration(c.NetworkRefreshMS) * time.Millisecond
}

// GeoCacheTTL returns geo_cache_minutes as a duration
func (c *Config) GeoCacheTTL() time.Duration {
	return time.Duration(c.GeoCacheMinutes) * time.Minute
}

// Retention returns retention_hours as a duration
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) setDefaults() {
	c.Enable = true
	c.LogLevel = DefaultLogLevel
	c.PollIntervalMS = DefaultPollIntervalMS
	c.NetworkRefreshMS = DefaultNetworkRefreshMS
	c.NetworkPollAttempts = DefaultNetworkPollAttempts
	c.HistorySize = DefaultHistorySize
	c.RetentionHours = DefaultRetentionHours
	c.APIListener = true
	c.APIPort = DefaultAPIPort
	c.MetricsEnabled = true
	c.MQTTEnabled = false
	c.MQTTBroker = DefaultMQTTBroker
	c.MQTTPort = DefaultMQTTPort
	c.MQTTTopic = DefaultMQTTTopic
	c.CellDBPath = ""
	c.Source = SourceModem
	c.ReplayFile = ""
	c.ModemCommand = DefaultModemCommand
	c.ModemSSHPort = DefaultModemSSHPort
	c.ModemSSHUser = DefaultModemSSHUser
	c.GeoCacheMinutes = DefaultGeoCacheMinutes
}

// parseUCI reads `config satstat 'main'` sections and their options.
// Options outside the main section are ignored.
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	inMain := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "config":
			inMain = len(parts) >= 3 && parts[1] == "satstat" && unquote(parts[2]) == "main"
		case "option":
			if inMain && len(parts) >= 3 {
				c.parseMainOption(parts[1], unquote(strings.Join(parts[2:], " ")))
			}
		}
	}

	return nil
}

func unquote(s string) string {
	return strings.Trim(s, "'\"")
}

// parseMainOption applies one option; unparsable values keep the current value
func (c *Config) parseMainOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = value == "1"
	case "log_level":
		if logx.ValidLevel(value) {
			c.LogLevel = strings.ToLower(value)
		}
	case "poll_interval_ms":
		setInt(&c.PollIntervalMS, value)
	case "network_refresh_ms":
		setInt(&c.NetworkRefreshMS, value)
	case "network_poll_attempts":
		setInt(&c.NetworkPollAttempts, value)
	case "history_size":
		setInt(&c.HistorySize, value)
	case "retention_hours":
		setInt(&c.RetentionHours, value)
	case "api_listener":
		c.APIListener = value == "1"
	case "api_port":
		setInt(&c.APIPort, value)
	case "metrics_enabled":
		c.MetricsEnabled = value == "1"
	case "mqtt_enabled":
		c.MQTTEnabled = value == "1"
	case "mqtt_broker":
		if value != "" {
			c.MQTTBroker = value
		}
	case "mqtt_port":
		setInt(&c.MQTTPort, value)
	case "mqtt_topic":
		if value != "" {
			c.MQTTTopic = value
		}
	case "celldb_path":
		c.CellDBPath = value
	case "source":
		c.Source = strings.ToLower(value)
	case "replay_file":
		c.ReplayFile = value
	case "modem_command":
		if value != "" {
			c.ModemCommand = value
		}
	case "modem_ssh_host":
		c.ModemSSHHost = value
	case "modem_ssh_port":
		setInt(&c.ModemSSHPort, value)
	case "modem_ssh_user":
		if value != "" {
			c.ModemSSHUser = value
		}
	case "modem_ssh_key":
		c.ModemSSHKey = value
	case "modem_ssh_known_hosts":
		c.ModemSSHKnownHosts = value
	case "geo_api_key":
		c.GeoAPIKey = value
	case "geo_cache_minutes":
		setInt(&c.GeoCacheMinutes, value)
	}
}

func setInt(dst *int, value string) {
	if v, err := strconv.Atoi(value); err == nil {
		*dst = v
	}
}

// Validate checks that numeric options are in range
func (c *Config) Validate() error {
	if c.PollIntervalMS < 100 || c.PollIntervalMS > 60000 {
		return fmt.Errorf("poll_interval_ms must be between 100 and 60000")
	}

	if c.NetworkRefreshMS < 100 || c.NetworkRefreshMS > 10000 {
		return fmt.Errorf("network_refresh_ms must be between 100 and 10000")
	}

	if c.NetworkPollAttempts < 1 || c.NetworkPollAttempts > 3600 {
		return fmt.Errorf("network_poll_attempts must be between 1 and 3600")
	}

	if c.HistorySize < 1 {
		return fmt.Errorf("history_size must be positive")
	}

	if c.RetentionHours < 1 || c.RetentionHours > 168 {
		return fmt.Errorf("retention_hours must be between 1 and 168")
	}

	if !isValidPort(c.APIPort) {
		return fmt.Errorf("api_port must be between 1 and 65535")
	}

	if !isValidPort(c.MQTTPort) {
		return fmt.Errorf("mqtt_port must be between 1 and 65535")
	}

	switch c.Source {
	case SourceModem:
		if c.ModemSSHHost != "" && c.ModemSSHKey == "" {
			return fmt.Errorf("modem_ssh_key is required with modem_ssh_host")
		}
		if !isValidPort(c.ModemSSHPort) {
			return fmt.Errorf("modem_ssh_port must be between 1 and 65535")
		}
	case SourceReplay:
		if c.ReplayFile == "" {
			return fmt.Errorf("replay_file is required with source replay")
		}
	default:
		return fmt.Errorf("source must be %q or %q", SourceModem, SourceReplay)
	}

	if c.GeoCacheMinutes < 1 || c.GeoCacheMinutes > 1440 {
		return fmt.Errorf("geo_cache_minutes must be between 1 and 1440")
	}

	return nil
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
