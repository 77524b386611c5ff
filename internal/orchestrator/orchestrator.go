// Package orchestrator wires the supervisors, the mode controller, the
// event handler, the connection monitor and the HTTP control plane into one
// running daemon, and implements the startup reconciliation decision tree.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wifimgrd/internal/avahisvc"
	"wifimgrd/internal/client"
	"wifimgrd/internal/config"
	"wifimgrd/internal/connmon"
	"wifimgrd/internal/dhcpcdsvc"
	"wifimgrd/internal/eventhandler"
	"wifimgrd/internal/hotspot"
	"wifimgrd/internal/httpapi"
	"wifimgrd/internal/metrics"
	"wifimgrd/internal/modectl"
	"wifimgrd/internal/platform"
	"wifimgrd/internal/resolvedsvc"
	"wifimgrd/internal/service"
	"wifimgrd/internal/ssdp"
	"wifimgrd/internal/templates"
)

const hotspotSubnetMask = "/24"

// Daemon owns every supervisor and runtime component for one run.
type Daemon struct {
	cfg   *config.Config
	iface string

	clientSvc client.WifiClientService
	wpaSvc    *client.WPASupervisor
	nmSvc     *client.NetworkManagerSupervisor
	backend   platform.ClientBackend

	hostapdSvc  *hotspot.HostapdSupervisor
	dnsmasqSvc  *hotspot.DnsmasqSupervisor
	dhcpcdSvc   *dhcpcdsvc.DhcpcdSupervisor
	avahiSvc    *avahisvc.AvahiSupervisor
	resolvedSvc *resolvedsvc.ResolvedSupervisor

	controller *modectl.Controller
	handler    *eventhandler.Handler
	monitor    *connmon.Monitor
	http       *httpapi.Server
	ssdp       *ssdp.Server

	metricsReg  *metrics.Registry
	metricsSrv  *metrics.MetricsServer
	wifiMetrics *metrics.WifiMetrics

	subnetCIDR string
}

// New builds every supervisor and the wiring between them, but performs no
// I/O: call Run to bring the daemon up.
func New(cfg *config.Config) (*Daemon, error) {
	iface, err := platform.SelectInterface(cfg.WlanInterface)
	if err != nil {
		return nil, fmt.Errorf("selecting wireless interface: %w", err)
	}

	d := &Daemon{cfg: cfg, iface: iface}
	d.backend = platform.DetectClientBackend()
	d.subnetCIDR = cfg.HotspotStaticIP + hotspotSubnetMask

	mac, _ := platform.IfaceMAC(iface)

	// Both client variants are constructed regardless of which one is
	// active on this platform: the unused one still needs mask/disable/stop
	// reconciliation so it can't fight the active backend for the NIC.
	wpaConf := "/etc/wpa_supplicant/wpa_supplicant.conf"
	execStart := fmt.Sprintf("-i%s -Dnl80211,wext -c%s", iface, wpaConf)
	wpa := client.NewWPASupervisor(iface, wpaConf, cfg.WlanCountry, execStart, "/run/wpa_supplicant",
		d.backend != platform.BackendWPA, d.startDhcpcd)
	nm := client.NewNetworkManagerSupervisor(iface, "/etc/NetworkManager/system-connections",
		d.backend != platform.BackendNetworkManager)

	d.wpaSvc, d.nmSvc = wpa, nm
	if d.backend == platform.BackendWPA {
		d.clientSvc = wpa
	} else {
		d.clientSvc = nm
	}

	dnsmasqCfg := hotspot.DnsmasqConfig{
		Interface:  iface,
		HotspotIP:  cfg.HotspotStaticIP,
		DHCPRange:  cfg.HotspotDHCPRange,
		ServerPort: cfg.APIServerPort,
	}
	d.dnsmasqSvc = hotspot.NewDnsmasqSupervisor("/etc/dnsmasq.conf", dnsmasqCfg)

	serial, _ := platform.CPUSerial()
	hostname, err := renderPattern(cfg.DeviceHostname, cfg.DeviceRole, serial, mac)
	if err != nil {
		return nil, fmt.Errorf("rendering device-hostname template: %w", err)
	}

	hostapdCfg := hotspot.HostapdConfig{
		Interface:    iface,
		MACAddress:   mac,
		SSID:         hostname,
		Password:     cfg.HotspotPassword,
		Country:      cfg.WlanCountry,
		StaticCIDR:   d.subnetCIDR,
		StartupDelay: cfg.HotspotStartupDelay,
	}
	d.hostapdSvc = hotspot.NewHostapdSupervisor("/etc/hostapd/hostapd.conf", hostapdCfg, d.dnsmasqSvc)

	d.dhcpcdSvc = dhcpcdsvc.NewDhcpcdSupervisor("/etc/dhcpcd.conf", iface)

	d.avahiSvc = avahisvc.NewAvahiSupervisor(avahisvc.HostnameData{
		DeviceRole: cfg.DeviceRole,
		CPUSerial:  serial,
		MACAddress: mac,
		Pattern:    cfg.DeviceHostname,
	})
	d.resolvedSvc = resolvedsvc.NewResolvedSupervisor()

	d.controller = modectl.NewController(d.clientSvc, d.hostapdSvc, cfg.ControlSwitchFailLimit,
		d.runSwitchFailCommand, iface, cfg.HotspotStaticIP)

	if cfg.SSDPEnabled {
		usn, err := renderPattern(cfg.SSDPUSNPattern, cfg.DeviceRole, serial, mac)
		if err != nil {
			return nil, fmt.Errorf("rendering ssdp-usn-pattern template: %w", err)
		}
		st, err := renderPattern(cfg.SSDPSTPattern, cfg.DeviceRole, serial, mac)
		if err != nil {
			return nil, fmt.Errorf("rendering ssdp-st-pattern template: %w", err)
		}
		d.ssdp = ssdp.New(usn, st, iface)
	}

	if cfg.MetricsPort != 0 {
		d.metricsReg = metrics.NewRegistry("wifimgrd")
		d.wifiMetrics = metrics.NewWifiMetrics(d.metricsReg)
		srv, err := metrics.NewPrometheus("", cfg.MetricsPort, d.metricsReg)
		if err != nil {
			return nil, fmt.Errorf("starting metrics listener: %w", err)
		}
		d.metricsSrv = srv
	}

	return d, nil
}

// renderPattern executes one of the operator's identity templates
// (--device-hostname, --ssdp-usn-pattern, --ssdp-st-pattern) against the
// device's id context, so the hotspot SSID, the avahi hostname and the SSDP
// identity all derive from the same substitutions.
func renderPattern(pattern, deviceRole, cpuSerial, mac string) (string, error) {
	var buf bytes.Buffer
	data := map[string]string{
		"device_role": deviceRole,
		"cpu_serial":  cpuSerial,
		"mac_address": mac,
	}
	if err := templates.RenderString(&buf, data, pattern); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// startDhcpcd is the DHCPStarter the WPA variant invokes from prepare_start.
func (d *Daemon) startDhcpcd(ctx context.Context) error {
	return d.dhcpcdSvc.Start(ctx)
}

// runSwitchFailCommand is the terminal-failure action the mode controller
// runs once switch_fail_limit consecutive switch attempts have failed.
func (d *Daemon) runSwitchFailCommand(ctx context.Context) error {
	if d.wifiMetrics != nil {
		d.wifiMetrics.SwitchFailures.Inc()
	}
	_, _, err := platform.RunShellLine(ctx, d.cfg.ControlSwitchFailCommand)
	return err
}

func restartByGlob(ctx context.Context, glob string) error {
	return platform.RunCommand(ctx, "systemctl", "restart", glob)
}

// setupAll runs Setup on every supervisor: both client variants (so the
// unused one gets masked/disabled/stopped), the hotspot pair, dhcpcd, avahi
// and resolved.
func (d *Daemon) setupAll(ctx context.Context) error {
	supervisors := []*service.Supervisor{
		d.wpaSvc.Supervisor, d.nmSvc.Supervisor,
		d.dnsmasqSvc.Supervisor, d.hostapdSvc.Supervisor, d.dhcpcdSvc.Supervisor,
		d.avahiSvc.Supervisor, d.resolvedSvc.Supervisor,
	}
	for _, s := range supervisors {
		if err := s.Setup(ctx); err != nil {
			return fmt.Errorf("setting up %s: %w", s.Name(), err)
		}
	}

	var subscribeErr error
	if d.backend == platform.BackendWPA {
		subscribeErr = d.wpaSvc.SubscribeState(ctx)
	} else {
		subscribeErr = d.nmSvc.SubscribeDeviceState(ctx)
	}
	if subscribeErr != nil {
		log.Ctx(ctx).Err(subscribeErr).Msg("failed to subscribe active client backend's state signal")
	}
	if err := d.dnsmasqSvc.SubscribeLeases(ctx); err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to subscribe dnsmasq lease signal")
	}
	if err := d.dhcpcdSvc.SubscribeEvent(ctx); err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to subscribe dhcpcd event signal")
	}
	return nil
}

func (d *Daemon) clientSvcSupervisor() *service.Supervisor {
	if d.backend == platform.BackendWPA {
		return d.wpaSvc.Supervisor
	}
	return d.nmSvc.Supervisor
}

// registerEvents wires every supervisor's supported event kinds to the
// event handler, directly rather than through the mode controller's
// forwarding (which only knows about the client/hotspot pair, not dnsmasq's
// peer events or dhcpcd's IP-acquired event).
func (d *Daemon) registerEvents(h *eventhandler.Handler) {
	type source struct {
		name string
		sup  *service.Supervisor
	}
	sources := []source{
		{d.clientSvc.Name(), d.clientSvcSupervisor()},
		{d.hostapdSvc.Name(), d.hostapdSvc.Supervisor},
		{d.dnsmasqSvc.Name(), d.dnsmasqSvc.Supervisor},
		{d.dhcpcdSvc.Name(), d.dhcpcdSvc.Supervisor},
	}
	for _, src := range sources {
		for _, kind := range src.sup.SupportedEvents() {
			d.controller.RegisterEventSource(kind, src.name)
			if err := src.sup.RegisterCallback(kind, h.OnEvent); err != nil {
				log.Warn().Str("kind", kind.String()).Str("source", src.name).Err(err).
					Msg("failed to register event callback")
			}
		}
	}
}

// buildMonitor assembles the connection-health watchdog. The probe policy
// is fixed rather than operator-configurable.
func (d *Daemon) buildMonitor(ctx context.Context) *connmon.Monitor {
	actions := []connmon.RestoreAction{
		connmon.NewResetWirelessAction(d.controller.ResetWireless),
		connmon.NewRestartServiceAction(d.clientSvc.Name(), restartByGlob),
		connmon.NewExecuteCommandAction(d.cfg.ControlSwitchFailCommand),
	}
	return connmon.New(ctx, 30*time.Second, 5*time.Second, 3, actions)
}

// Run performs setup, the startup reconciliation decision, and blocks
// serving the HTTP control plane and connection monitor until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := platform.ReconcileBootConfig(); err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to reconcile /boot/config.txt")
	}
	if err := platform.ReconcileRoamingConfig("/etc/modprobe.d/brcmfmac.conf", d.cfg.WlanDisableRoaming); err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to reconcile roaming module config")
	}
	if d.cfg.WlanDisablePowerSave {
		if err := platform.SetPowerSave(ctx, d.iface, true); err != nil {
			log.Ctx(ctx).Err(err).Msg("failed to disable power save")
		}
	}

	if err := d.setupAll(ctx); err != nil {
		return err
	}

	d.monitor = d.buildMonitor(ctx)
	var advertiser eventhandler.Advertiser
	if d.ssdp != nil {
		advertiser = d.ssdp
	}
	d.handler = eventhandler.New(ctx, d.controller, d.monitor, platform.LoggingBlinker{}, advertiser,
		d.cfg.ClientTimeout, d.cfg.HotspotPeerTimeout, d.cfg.ClientRestartDelay)

	d.registerEvents(d.handler)

	d.http = httpapi.New(d.handler, d.cfg.APIServerPort, nil)

	if err := httpapi.InstallCaptivePortal(ctx, d.subnetCIDR, d.cfg.HotspotStaticIP, d.cfg.APIServerPort); err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to install captive portal rules")
	}

	if d.metricsSrv != nil {
		d.metricsSrv.Start(ctx)
		go d.sampleMetrics(ctx)
	}

	startMonitor, err := d.reconcile(ctx)
	if err != nil {
		log.Ctx(ctx).Err(err).Msg("startup reconciliation failed")
	}
	if startMonitor {
		d.monitor.Start()
	}
	// Harmless if the device isn't in client mode yet: the responder only
	// comes up once a non-hotspot address is held, and the IP-acquired
	// event refreshes it thereafter.
	d.handler.RefreshAdvertiser()

	errCh := make(chan error, 1)
	go func() { errCh <- d.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return d.shutdown(context.Background())
	case err := <-errCh:
		shutdownErr := d.shutdown(context.Background())
		if err != nil {
			return err
		}
		return shutdownErr
	}
}

// reconcile is the startup decision tree: no stored networks means there's
// nothing to join, so go straight to hotspot mode; otherwise prefer client
// mode unless the interface is already convincingly in client mode, in which
// case the connection monitor starts right away (no CLIENT_IP_ACQUIRED will
// arrive for an association that predates this process).
func (d *Daemon) reconcile(ctx context.Context) (startMonitor bool, err error) {
	count, err := d.controller.NetworkCount()
	if err != nil {
		return false, fmt.Errorf("reading network count: %w", err)
	}
	if count == 0 {
		return false, d.controller.StartHotspotMode(ctx)
	}

	state := d.controller.State(ctx)
	if state != modectl.ClientMode {
		return false, d.controller.StartClientMode(ctx)
	}

	status, err := d.controller.Status(ctx)
	if err != nil {
		return false, err
	}
	hotspotIPSet, err := d.controller.IsHotspotIPSet()
	if err != nil {
		return false, err
	}
	if status.SSID == "" || hotspotIPSet || status.IP == "" {
		return false, d.controller.StartClientMode(ctx)
	}
	return true, nil
}

func (d *Daemon) sampleMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.wifiMetrics.Mode.Set(float64(d.controller.State(ctx)))
			d.wifiMetrics.ConnMonFailures.Set(float64(d.monitor.Failures()))
		}
	}
}

func (d *Daemon) shutdown(ctx context.Context) error {
	if d.handler != nil {
		d.handler.Shutdown()
	}
	if d.ssdp != nil {
		d.ssdp.Shutdown()
	}
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.http != nil {
		if err := d.http.Shutdown(ctx); err != nil {
			log.Ctx(ctx).Err(err).Msg("http shutdown failed")
		}
	}
	if err := httpapi.FlushCaptivePortal(ctx, d.subnetCIDR, d.cfg.HotspotStaticIP, d.cfg.APIServerPort); err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to flush captive portal rules")
	}
	if d.metricsSrv != nil {
		d.metricsSrv.Stop()
	}
	for _, s := range []*service.Supervisor{
		d.wpaSvc.Supervisor, d.nmSvc.Supervisor, d.dnsmasqSvc.Supervisor,
		d.hostapdSvc.Supervisor, d.dhcpcdSvc.Supervisor, d.avahiSvc.Supervisor, d.resolvedSvc.Supervisor,
	} {
		s.Shutdown()
	}
	return nil
}
