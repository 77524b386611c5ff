package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"wifimgrd/cmd/logger"
	"wifimgrd/internal/config"
	"wifimgrd/internal/orchestrator"
)

var Version string

var (
	options opts

	rootCMD = &cobra.Command{
		Use:   "wifimgrd",
		Short: "single-interface wifi mode supervisor",
		RunE:  runRoot,
	}
)

// opts holds the values of the flags bound with *Var below: cobra owns flag
// parsing, config.Load resolves precedence (defaults, file, flags) from the
// flag set itself. The duration and SSDP flags are read only through
// config.Load and have no field here.
type opts struct {
	Version  bool
	NoDaemon bool
	Syslog   bool
	LogFile  string
	LogLevel string

	ConfigFile string

	APIServerPort int

	DeviceRole     string
	DeviceHostname string

	WlanInterface        string
	WlanCountry          string
	WlanDisablePowerSave bool
	WlanDisableRoaming   bool

	ControlSwitchFailLimit   int
	ControlSwitchFailCommand string

	HotspotPassword  string
	HotspotStaticIP  string
	HotspotDHCPRange string

	MetricsPort int
}

func cancelSignalContext(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		chSig := make(chan os.Signal, 2)
		signal.Notify(chSig, syscall.SIGINT, syscall.SIGTERM)

		s := <-chSig
		log.Ctx(ctx).Info().Msgf("caught signal %v, shutting down", s)
		cancel()
	}()

	return ctx
}

func printVersion() {
	fmt.Printf("version: %s\n", Version)
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if options.Version {
		printVersion()
		return nil
	}

	var (
		err error
		l   *zerolog.Logger
	)

	ctx, l, err = logger.New(ctx, options.Syslog, options.LogFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	l, err = logger.SetLogLevel(l, cfg.LogLevel, false)
	if err != nil {
		return err
	}

	ctx = cancelSignalContext(ctx)

	daemon, err := orchestrator.New(cfg)
	if err != nil {
		l.Err(err).Msg("failed to build daemon")
		return err
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGUSR1)
	go func() {
		for s := range sigChan {
			if s == syscall.SIGUSR1 {
				if err := logger.ReOpen(); err != nil {
					l.Err(err).Msg("rotate logs")
				}
			}
		}
	}()

	l.Info().Msgf("wifimgrd %v started successfully", Version)
	if err := daemon.Run(ctx); err != nil {
		l.Err(err).Msg("daemon exited with error")
		return err
	}
	l.Info().Msg("wifimgrd stopping")
	return nil
}

func init() {
	flags := rootCMD.PersistentFlags()
	flags.BoolVarP(&options.Version, "version", "v", false, "print version")
	flags.BoolVar(&options.NoDaemon, "nodaemon", true, "don't daemonize, don't use default umask of 0077")
	flags.BoolVar(&options.Syslog, "syslog", false, "log to syslog instead of stdout")
	flags.StringVar(&options.LogFile, "log-file", "", "path to file to log to, stdout if not supplied")
	flags.StringVar(&options.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flags.StringVar(&options.ConfigFile, "config-file", "", "path to INI config file")

	flags.IntVar(&options.APIServerPort, "api-server-port", 8080, "port the HTTP control plane listens on")
	flags.StringVar(&options.DeviceRole, "device-role", "device", "{{.device_role}} substitution for the hostname template")
	flags.StringVar(&options.DeviceHostname, "device-hostname", "{{.device_role}}-{{.cpu_serial}}", "hostname template, e.g. {{.device_role}}-{{.cpu_serial}}")

	flags.StringVar(&options.WlanInterface, "wlan-interface", "", "wireless interface to manage, autodetected if unset")
	flags.StringVar(&options.WlanCountry, "wlan-country", "US", "regulatory domain for the wireless interface")
	flags.BoolVar(&options.WlanDisablePowerSave, "wlan-disable-power-save", false, "disable the radio's power-save mode")
	flags.BoolVar(&options.WlanDisableRoaming, "wlan-disable-roaming", false, "disable brcmfmac roaming")

	flags.IntVar(&options.ControlSwitchFailLimit, "control-switch-fail-limit", 5, "consecutive mode-switch failures before the terminal-failure command runs")
	flags.StringVar(&options.ControlSwitchFailCommand, "control-switch-fail-command", "reboot", "shell command run once the switch-fail limit is reached")

	flags.Duration("client-timeout", 15*time.Second, "time to wait for the client to associate before falling back to hotspot mode")
	flags.Duration("client-restart-delay", 5*time.Second, "delay before switching from hotspot mode back to client mode")

	flags.StringVar(&options.HotspotPassword, "hotspot-password", "", "hotspot WPA2 passphrase")
	flags.Duration("hotspot-peer-timeout", 120*time.Second, "time to wait for a peer to connect to the hotspot before retrying client mode")
	flags.StringVar(&options.HotspotStaticIP, "hotspot-static-ip", "192.168.50.1", "hotspot interface static IP address")
	flags.StringVar(&options.HotspotDHCPRange, "hotspot-dhcp-range", "192.168.50.50,192.168.50.150,12h", "dnsmasq dhcp-range value for the hotspot subnet")
	flags.Duration("hotspot-startup-delay", 2*time.Second, "delay after the hotspot static IP is set before hostapd is started")

	flags.Bool("ssdp-enabled", true, "advertise the control plane over SSDP in client mode")
	flags.String("ssdp-usn-pattern", "{{.device_role}}-{{.cpu_serial}}", "SSDP unique service name template")
	flags.String("ssdp-st-pattern", "{{.device_role}}", "SSDP service type template")

	flags.IntVar(&options.MetricsPort, "metrics-port", 0, "port to serve Prometheus metrics on, disabled if 0")
}

func main() {
	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}
