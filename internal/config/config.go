// Package config resolves the daemon's configuration from, in ascending
// precedence: built-in defaults, the INI config file, and CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	valid "github.com/asaskevich/govalidator"
	"github.com/mvo5/goconfigparser"
	"github.com/spf13/pflag"
)

// Config is the fully resolved, immutable configuration for one run.
type Config struct {
	ConfigFile string
	LogFile    string
	LogLevel   string

	APIServerPort int

	DeviceRole     string
	DeviceHostname string

	WlanInterface        string
	WlanCountry          string
	WlanDisablePowerSave bool
	WlanDisableRoaming   bool

	ControlSwitchFailLimit   int
	ControlSwitchFailCommand string

	ClientTimeout      time.Duration
	ClientRestartDelay time.Duration

	HotspotPassword     string
	HotspotPeerTimeout  time.Duration
	HotspotStaticIP     string
	HotspotDHCPRange    string
	HotspotStartupDelay time.Duration

	SSDPEnabled    bool
	SSDPUSNPattern string
	SSDPSTPattern  string

	// MetricsPort, when non-zero, serves Prometheus metrics on that port.
	// Off by default.
	MetricsPort int
}

func defaults() Config {
	return Config{
		LogLevel:                 "info",
		APIServerPort:            8080,
		DeviceRole:               "device",
		DeviceHostname:           "{{.device_role}}-{{.cpu_serial}}",
		WlanCountry:              "US",
		ControlSwitchFailLimit:   5,
		ControlSwitchFailCommand: "reboot",
		ClientTimeout:            15 * time.Second,
		ClientRestartDelay:       5 * time.Second,
		HotspotPeerTimeout:       120 * time.Second,
		HotspotStaticIP:          "192.168.50.1",
		HotspotDHCPRange:         "192.168.50.50,192.168.50.150,12h",
		HotspotStartupDelay:      2 * time.Second,
		SSDPEnabled:              true,
		SSDPUSNPattern:           "{{.device_role}}-{{.cpu_serial}}",
		SSDPSTPattern:            "{{.device_role}}",
		MetricsPort:              0,
	}
}

// keyFor maps a long flag name to its INI key: identical, with underscores
// for dashes.
func keyFor(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// knownFlags is every flag name the config file may carry. The loader
// rejects anything else loudly rather than silently ignoring a typo.
var knownFlags = []string{
	"log-file", "log-level", "api-server-port", "device-role", "device-hostname",
	"wlan-interface", "wlan-country", "wlan-disable-power-save", "wlan-disable-roaming",
	"control-switch-fail-limit", "control-switch-fail-command",
	"client-timeout", "client-restart-delay",
	"hotspot-password", "hotspot-peer-timeout", "hotspot-static-ip", "hotspot-dhcp-range",
	"hotspot-startup-delay", "ssdp-enabled", "ssdp-usn-pattern", "ssdp-st-pattern",
	"metrics-port",
}

// rejectUnknownKeys fails loudly on a config key with no matching flag,
// rather than silently accepting a typo'd setting. Key names are taken from
// the raw file text (goconfigparser exposes lookups, not enumeration).
func rejectUnknownKeys(raw string) error {
	known := make(map[string]bool, len(knownFlags))
	for _, f := range knownFlags {
		known[keyFor(f)] = true
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") ||
			strings.HasPrefix(line, "[") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if !known[key] {
			return fmt.Errorf("unknown config key: %s", key)
		}
	}
	return nil
}

// Load resolves configuration: defaults, overlaid by the config file (if
// any), overlaid by any flags the caller actually set on flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg := defaults()

	path, _ := flags.GetString("config-file")
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	applyFlags(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	parser := goconfigparser.New()
	parser.AllowNoSectionHeader = true
	if err := parser.ReadString(string(raw)); err != nil {
		return err
	}
	if err := rejectUnknownKeys(string(raw)); err != nil {
		return err
	}

	// The file carries a single [DEFAULT] section; a headerless file lands
	// its keys in the "" section instead, so both are consulted.
	get := func(key string) (string, bool) {
		v, err := parser.Get("DEFAULT", key)
		if err != nil || v == "" {
			v, err = parser.Get("", key)
		}
		return v, err == nil && v != ""
	}
	if v, ok := get(keyFor("log-file")); ok {
		cfg.LogFile = v
	}
	if v, ok := get(keyFor("log-level")); ok {
		cfg.LogLevel = v
	}
	if v, ok := get(keyFor("api-server-port")); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIServerPort = n
		}
	}
	if v, ok := get(keyFor("device-role")); ok {
		cfg.DeviceRole = v
	}
	if v, ok := get(keyFor("device-hostname")); ok {
		cfg.DeviceHostname = v
	}
	if v, ok := get(keyFor("wlan-interface")); ok {
		cfg.WlanInterface = v
	}
	if v, ok := get(keyFor("wlan-country")); ok {
		cfg.WlanCountry = v
	}
	if v, ok := get(keyFor("wlan-disable-power-save")); ok {
		cfg.WlanDisablePowerSave = v == "true" || v == "1"
	}
	if v, ok := get(keyFor("wlan-disable-roaming")); ok {
		cfg.WlanDisableRoaming = v == "true" || v == "1"
	}
	if v, ok := get(keyFor("control-switch-fail-limit")); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ControlSwitchFailLimit = n
		}
	}
	if v, ok := get(keyFor("control-switch-fail-command")); ok {
		cfg.ControlSwitchFailCommand = v
	}
	if v, ok := get(keyFor("client-timeout")); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ClientTimeout = d
		}
	}
	if v, ok := get(keyFor("client-restart-delay")); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ClientRestartDelay = d
		}
	}
	if v, ok := get(keyFor("hotspot-password")); ok {
		cfg.HotspotPassword = v
	}
	if v, ok := get(keyFor("hotspot-peer-timeout")); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HotspotPeerTimeout = d
		}
	}
	if v, ok := get(keyFor("hotspot-static-ip")); ok {
		cfg.HotspotStaticIP = v
	}
	if v, ok := get(keyFor("hotspot-dhcp-range")); ok {
		cfg.HotspotDHCPRange = v
	}
	if v, ok := get(keyFor("hotspot-startup-delay")); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HotspotStartupDelay = d
		}
	}
	if v, ok := get(keyFor("ssdp-enabled")); ok {
		cfg.SSDPEnabled = v == "true" || v == "1"
	}
	if v, ok := get(keyFor("ssdp-usn-pattern")); ok {
		cfg.SSDPUSNPattern = v
	}
	if v, ok := get(keyFor("ssdp-st-pattern")); ok {
		cfg.SSDPSTPattern = v
	}
	if v, ok := get(keyFor("metrics-port")); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetricsPort = n
		}
	}
	return nil
}

func applyFlags(cfg *Config, flags *pflag.FlagSet) {
	changedString := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	changedBool := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}
	changedInt := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	changedDuration := func(name string, dst *time.Duration) {
		if flags.Changed(name) {
			*dst, _ = flags.GetDuration(name)
		}
	}

	changedString("log-file", &cfg.LogFile)
	changedString("log-level", &cfg.LogLevel)
	changedInt("api-server-port", &cfg.APIServerPort)
	changedString("device-role", &cfg.DeviceRole)
	changedString("device-hostname", &cfg.DeviceHostname)
	changedString("wlan-interface", &cfg.WlanInterface)
	changedString("wlan-country", &cfg.WlanCountry)
	changedBool("wlan-disable-power-save", &cfg.WlanDisablePowerSave)
	changedBool("wlan-disable-roaming", &cfg.WlanDisableRoaming)
	changedInt("control-switch-fail-limit", &cfg.ControlSwitchFailLimit)
	changedString("control-switch-fail-command", &cfg.ControlSwitchFailCommand)
	changedDuration("client-timeout", &cfg.ClientTimeout)
	changedDuration("client-restart-delay", &cfg.ClientRestartDelay)
	changedString("hotspot-password", &cfg.HotspotPassword)
	changedDuration("hotspot-peer-timeout", &cfg.HotspotPeerTimeout)
	changedString("hotspot-static-ip", &cfg.HotspotStaticIP)
	changedString("hotspot-dhcp-range", &cfg.HotspotDHCPRange)
	changedDuration("hotspot-startup-delay", &cfg.HotspotStartupDelay)
	changedBool("ssdp-enabled", &cfg.SSDPEnabled)
	changedString("ssdp-usn-pattern", &cfg.SSDPUSNPattern)
	changedString("ssdp-st-pattern", &cfg.SSDPSTPattern)
	changedInt("metrics-port", &cfg.MetricsPort)
}

func validate(cfg *Config) error {
	if !valid.InRange(cfg.APIServerPort, 1, 65535) {
		return fmt.Errorf("api-server-port out of range: %d", cfg.APIServerPort)
	}
	if cfg.HotspotStaticIP != "" && !valid.IsIPv4(cfg.HotspotStaticIP) {
		return fmt.Errorf("hotspot-static-ip is not a valid IPv4 address: %s", cfg.HotspotStaticIP)
	}
	if cfg.ControlSwitchFailLimit < 1 {
		return fmt.Errorf("control-switch-fail-limit must be at least 1")
	}
	if len(cfg.HotspotPassword) > 0 && len(cfg.HotspotPassword) < 8 {
		return fmt.Errorf("hotspot-password must be at least 8 characters")
	}
	if cfg.MetricsPort != 0 && !valid.InRange(cfg.MetricsPort, 1, 65535) {
		return fmt.Errorf("metrics-port out of range: %d", cfg.MetricsPort)
	}
	return nil
}
