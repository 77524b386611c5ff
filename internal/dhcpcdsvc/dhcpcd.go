// Package dhcpcdsvc supervises dhcpcd, the DHCP client daemon wpa_supplicant
// hands off to once associated.
package dhcpcdsvc

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/godbus/dbus/v5"

	"wifimgrd/internal/dbusx"
	"wifimgrd/internal/service"
	"wifimgrd/internal/wifievent"
)

const dhcpcdBusName = "name.marples.roy.dhcpcd"
const dhcpcdPath = "/name/marples/roy/dhcpcd"

// DhcpcdSupervisor owns dhcpcd.
type DhcpcdSupervisor struct {
	*service.Supervisor

	confPath string
	iface    string
}

type dhcpcdHooks struct{ s *DhcpcdSupervisor }

func NewDhcpcdSupervisor(confPath, iface string) *DhcpcdSupervisor {
	d := &DhcpcdSupervisor{confPath: confPath, iface: iface}
	unit := service.NewSystemdUnit("dhcpcd.service")
	d.Supervisor = service.NewSupervisor("dhcpcd.service", true, false, unit, &dhcpcdHooks{s: d})
	return d
}

func (h *dhcpcdHooks) SupportedEvents() []wifievent.Kind {
	return []wifievent.Kind{wifievent.ClientIPAcquired}
}

func (h *dhcpcdHooks) MapState(service.ActiveState) (wifievent.Kind, bool) {
	return wifievent.Unknown, false
}

func expectedBlock(iface string) string {
	return fmt.Sprintf("interface %s\nnohook wpa_supplicant", iface)
}

func (h *dhcpcdHooks) NeedConfigSetup(ctx context.Context) (bool, error) {
	existing, err := os.ReadFile(h.s.confPath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return !strings.Contains(string(existing), expectedBlock(h.s.iface)), nil
}

func (h *dhcpcdHooks) SetupConfig(ctx context.Context) error {
	f, err := os.OpenFile(h.s.confPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("\n" + expectedBlock(h.s.iface) + "\n")
	return err
}

func (h *dhcpcdHooks) PrepareStart(ctx context.Context) error  { return nil }
func (h *dhcpcdHooks) CompleteStart(ctx context.Context) error { return nil }

// SubscribeEvent listens for dhcpcd's Event signal and emits
// CLIENT_IP_ACQUIRED when Reason=BOUND.
func (d *DhcpcdSupervisor) SubscribeEvent(ctx context.Context) error {
	conn, err := dbusx.Conn()
	if err != nil {
		return err
	}
	return dbusx.SubscribeSignal(ctx, conn, dbus.ObjectPath(dhcpcdPath), dhcpcdBusName, "Event", func(sig *dbus.Signal) {
		if len(sig.Body) == 0 {
			return
		}
		fields, ok := sig.Body[0].(map[string]dbus.Variant)
		if !ok {
			return
		}
		reason, _ := fields["Reason"].Value().(string)
		if reason != "BOUND" {
			return
		}
		d.Emit(wifievent.Event{Kind: wifievent.ClientIPAcquired, Source: d.Name()})
	})
}
