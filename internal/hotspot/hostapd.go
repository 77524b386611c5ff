package hotspot

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"wifimgrd/internal/platform"
	"wifimgrd/internal/service"
	"wifimgrd/internal/templates"
	"wifimgrd/internal/wifievent"
)

// DHCPServer is the narrow contract hostapd needs from its paired dnsmasq
// supervisor: the lease server comes up before the AP, so the first peer to
// associate can acquire an address immediately.
type DHCPServer interface {
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
}

type HostapdConfig struct {
	Interface    string
	MACAddress   string
	SSID         string
	Password     string
	Country      string
	StaticCIDR   string
	StartupDelay time.Duration
}

// HostapdSupervisor drives hostapd. auto_start is always false: it is only
// ever started explicitly by the mode controller entering hotspot mode.
type HostapdSupervisor struct {
	*service.Supervisor

	confPath string
	cfg      HostapdConfig
	dhcp     DHCPServer
}

type hostapdHooks struct{ s *HostapdSupervisor }

func NewHostapdSupervisor(confPath string, cfg HostapdConfig, dhcp DHCPServer) *HostapdSupervisor {
	h := &HostapdSupervisor{confPath: confPath, cfg: cfg, dhcp: dhcp}
	unit := service.NewSystemdUnit("hostapd.service")
	h.Supervisor = service.NewSupervisor("hostapd.service", false, false, unit, &hostapdHooks{s: h})
	return h
}

func (hk *hostapdHooks) SupportedEvents() []wifievent.Kind {
	return []wifievent.Kind{wifievent.HotspotStarted, wifievent.HotspotStopped, wifievent.HotspotFailed}
}

func (hk *hostapdHooks) MapState(state service.ActiveState) (wifievent.Kind, bool) {
	switch state {
	case service.StateActive:
		return wifievent.HotspotStarted, true
	case service.StateInactive:
		return wifievent.HotspotStopped, true
	case service.StateFailed:
		return wifievent.HotspotFailed, true
	default:
		return wifievent.Unknown, false
	}
}

func (hk *hostapdHooks) NeedConfigSetup(ctx context.Context) (bool, error) {
	existing, err := os.ReadFile(hk.s.confPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var want bytes.Buffer
	if err := hk.s.render(&want); err != nil {
		return false, err
	}
	return !bytes.Equal(existing, want.Bytes()), nil
}

func (hk *hostapdHooks) SetupConfig(ctx context.Context) error {
	f, err := os.OpenFile(hk.s.confPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return hk.s.render(f)
}

func (hk *hostapdHooks) PrepareStart(ctx context.Context) error {
	if err := platform.SetStaticIP(ctx, hk.s.cfg.Interface, hk.s.cfg.StaticCIDR); err != nil {
		return err
	}
	time.Sleep(hk.s.cfg.StartupDelay)
	return nil
}

func (hk *hostapdHooks) CompleteStart(ctx context.Context) error { return nil }

func (h *HostapdSupervisor) render(w io.Writer) error {
	data := map[string]string{
		"interface":   h.cfg.Interface,
		"mac_address": h.cfg.MACAddress,
		"ssid":        h.cfg.SSID,
		"password":    h.cfg.Password,
		"country":     h.cfg.Country,
	}
	return templates.Render(w, data, "hostapd.conf.tmpl")
}

// SSID is the network name the hotspot advertises, surfaced in the mode
// controller's status aggregation.
func (h *HostapdSupervisor) SSID() string { return h.cfg.SSID }

// Start brings the DHCP server up first, then the AP: a peer that associates
// the instant the SSID appears must already have a lease server to talk to.
func (h *HostapdSupervisor) Start(ctx context.Context) error {
	if h.dhcp != nil {
		if err := h.dhcp.Start(ctx); err != nil {
			return err
		}
	}
	return h.Supervisor.Start(ctx)
}

func (h *HostapdSupervisor) Restart(ctx context.Context) error {
	if h.dhcp != nil {
		if err := h.dhcp.Restart(ctx); err != nil {
			return err
		}
	}
	return h.Supervisor.Restart(ctx)
}
