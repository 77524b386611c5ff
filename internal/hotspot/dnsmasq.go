package hotspot

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"

	"github.com/godbus/dbus/v5"

	"wifimgrd/internal/dbusx"
	"wifimgrd/internal/platform"
	"wifimgrd/internal/service"
	"wifimgrd/internal/templates"
	"wifimgrd/internal/wifievent"
)

const dnsmasqBusName = "uk.org.thekelleys.dnsmasq"
const dnsmasqPath = "/uk/org/thekelleys/dnsmasq"

type DnsmasqConfig struct {
	Interface  string
	HotspotIP  string
	DHCPRange  string
	ServerPort int
}

// DnsmasqSupervisor owns the hotspot's DHCP/DNS server. auto_start is
// false: only ever started by hostapd's Start/Restart, ahead of the AP unit.
type DnsmasqSupervisor struct {
	*service.Supervisor

	confPath string
	cfg      DnsmasqConfig
}

type dnsmasqHooks struct{ s *DnsmasqSupervisor }

func NewDnsmasqSupervisor(confPath string, cfg DnsmasqConfig) *DnsmasqSupervisor {
	d := &DnsmasqSupervisor{confPath: confPath, cfg: cfg}
	unit := service.NewSystemdUnit("dnsmasq.service")
	d.Supervisor = service.NewSupervisor("dnsmasq.service", false, false, unit, &dnsmasqHooks{s: d})
	return d
}

func (h *dnsmasqHooks) SupportedEvents() []wifievent.Kind {
	return []wifievent.Kind{
		wifievent.HotspotPeerConnected, wifievent.HotspotPeerReconnected, wifievent.HotspotPeerDisconnected,
	}
}

// dnsmasq's unit-level transitions carry no event of their own; only its
// lease signals (below) are fanned out.
func (h *dnsmasqHooks) MapState(service.ActiveState) (wifievent.Kind, bool) {
	return wifievent.Unknown, false
}

func (h *dnsmasqHooks) NeedConfigSetup(ctx context.Context) (bool, error) {
	existing, err := os.ReadFile(h.s.confPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	var want bytes.Buffer
	if err := h.s.render(&want); err != nil {
		return false, err
	}
	return !bytes.Equal(existing, want.Bytes()), nil
}

func (h *dnsmasqHooks) SetupConfig(ctx context.Context) error {
	f, err := os.OpenFile(h.s.confPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return h.s.render(f)
}

func (h *dnsmasqHooks) PrepareStart(ctx context.Context) error {
	return platform.SetStaticIP(ctx, h.s.cfg.Interface, h.s.cfg.HotspotIP+"/24")
}

func (h *dnsmasqHooks) CompleteStart(ctx context.Context) error { return nil }

func (d *DnsmasqSupervisor) render(w io.Writer) error {
	data := map[string]string{
		"interface":   d.cfg.Interface,
		"hotspot_ip":  d.cfg.HotspotIP,
		"dhcp_range":  d.cfg.DHCPRange,
		"server_port": strconv.Itoa(d.cfg.ServerPort),
	}
	return templates.Render(w, data, "dnsmasq.conf.tmpl")
}

// SubscribeLeases listens for DhcpLeaseAdded/Updated/Deleted signals and
// fans them out as HOTSPOT_PEER_* events carrying {name, ip, mac}.
func (d *DnsmasqSupervisor) SubscribeLeases(ctx context.Context) error {
	conn, err := dbusx.Conn()
	if err != nil {
		return err
	}
	path := dbus.ObjectPath(dnsmasqPath)
	subscribe := func(member string, kind wifievent.Kind) error {
		return dbusx.SubscribeSignal(ctx, conn, path, dnsmasqBusName, member, func(sig *dbus.Signal) {
			ev := wifievent.Event{Kind: kind, Source: d.Name(), Payload: map[string]string{}}
			if len(sig.Body) >= 3 {
				if ip, ok := sig.Body[0].(string); ok {
					ev.Payload["ip"] = ip
				}
				if mac, ok := sig.Body[1].(string); ok {
					ev.Payload["mac"] = mac
				}
				if name, ok := sig.Body[2].(string); ok {
					ev.Payload["name"] = name
				}
			}
			d.Emit(ev)
		})
	}
	if err := subscribe("DhcpLeaseAdded", wifievent.HotspotPeerConnected); err != nil {
		return err
	}
	if err := subscribe("DhcpLeaseUpdated", wifievent.HotspotPeerReconnected); err != nil {
		return err
	}
	return subscribe("DhcpLeaseDeleted", wifievent.HotspotPeerDisconnected)
}
