package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config-file", "", "")
	flags.String("log-file", "", "")
	flags.String("log-level", "info", "")
	flags.Int("api-server-port", 8080, "")
	flags.String("device-role", "device", "")
	flags.String("device-hostname", "{{.device_role}}-{{.cpu_serial}}", "")
	flags.String("wlan-interface", "", "")
	flags.String("wlan-country", "US", "")
	flags.Bool("wlan-disable-power-save", false, "")
	flags.Bool("wlan-disable-roaming", false, "")
	flags.Int("control-switch-fail-limit", 5, "")
	flags.String("control-switch-fail-command", "reboot", "")
	flags.Duration("client-timeout", 15*time.Second, "")
	flags.Duration("client-restart-delay", 5*time.Second, "")
	flags.String("hotspot-password", "", "")
	flags.Duration("hotspot-peer-timeout", 120*time.Second, "")
	flags.String("hotspot-static-ip", "192.168.50.1", "")
	flags.String("hotspot-dhcp-range", "192.168.50.50,192.168.50.150,12h", "")
	flags.Duration("hotspot-startup-delay", 2*time.Second, "")
	flags.Bool("ssdp-enabled", true, "")
	flags.String("ssdp-usn-pattern", "{{.device_role}}-{{.cpu_serial}}", "")
	flags.String("ssdp-st-pattern", "{{.device_role}}", "")
	flags.Int("metrics-port", 0, "")
	return flags
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wifimgrd.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testFlags())
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.APIServerPort)
	require.Equal(t, 15*time.Second, cfg.ClientTimeout)
	require.Equal(t, "192.168.50.1", cfg.HotspotStaticIP)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "[DEFAULT]\nclient_timeout = 30s\nwlan_country = GB\n")
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--config-file", path}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.ClientTimeout)
	require.Equal(t, "GB", cfg.WlanCountry)
}

func TestLoadFlagOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "[DEFAULT]\nwlan_country = GB\n")
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--config-file", path, "--wlan-country", "DE"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	require.Equal(t, "DE", cfg.WlanCountry)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfigFile(t, "[DEFAULT]\nwlan_contry = GB\n")
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--config-file", path}))

	_, err := Load(flags)
	require.Error(t, err)
	require.Contains(t, err.Error(), "wlan_contry")
}

func TestLoadRejectsShortHotspotPassword(t *testing.T) {
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--hotspot-password", "short"}))

	_, err := Load(flags)
	require.Error(t, err)
}

func TestLoadRejectsBadStaticIP(t *testing.T) {
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--hotspot-static-ip", "not-an-ip"}))

	_, err := Load(flags)
	require.Error(t, err)
}
