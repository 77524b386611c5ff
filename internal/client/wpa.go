package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"wifimgrd/internal/dbusx"
	"wifimgrd/internal/netstore"
	"wifimgrd/internal/platform"
	"wifimgrd/internal/service"
	"wifimgrd/internal/wifievent"
)

const wpaSupplicantBusName = "fi.w1.wpa_supplicant1"
const wpaSupplicantPath = "/fi/w1/wpa_supplicant1"

var ErrNetworkNotFound = errors.New("wpa_supplicant interface object not found")

// DHCPStarter lets the WPA specialization kick off the DHCP client
// supervisor during prepare_start, without importing it directly (dhcpcd is
// a sibling supervisor, not a dependency of the client package).
type DHCPStarter func(ctx context.Context) error

// WPASupervisor is the direct wpa_supplicant client variant (Debian 11 and
// earlier).
type WPASupervisor struct {
	*service.Supervisor

	iface     string
	runDir    string
	confPath  string
	execStart string
	dropInDir string
	store     *netstore.WPAStore
	dhcpStart DHCPStarter
}

type wpaHooks struct {
	s *WPASupervisor
}

func NewWPASupervisor(iface, confPath, country, execStartExpected, runDir string, forceStop bool, dhcpStart DHCPStarter) *WPASupervisor {
	unitName := "wpa_supplicant@" + iface + ".service"
	w := &WPASupervisor{
		iface:     iface,
		runDir:    runDir,
		confPath:  confPath,
		execStart: execStartExpected,
		dropInDir: "/etc/systemd/system/" + unitName + ".d",
		store:     netstore.NewWPAStore(confPath, country),
		dhcpStart: dhcpStart,
	}
	unit := service.NewSystemdUnit(unitName)
	w.Supervisor = service.NewSupervisor(unitName, !forceStop, forceStop, unit, &wpaHooks{s: w})
	return w
}

func (h *wpaHooks) SupportedEvents() []wifievent.Kind {
	return []wifievent.Kind{
		wifievent.ClientStarted, wifievent.ClientStopped, wifievent.ClientFailed,
		wifievent.ClientDisabled, wifievent.ClientInactive, wifievent.ClientScanning,
		wifievent.ClientConnecting, wifievent.ClientConnected, wifievent.ClientDisconnected,
	}
}

func (h *wpaHooks) MapState(state service.ActiveState) (wifievent.Kind, bool) {
	switch state {
	case service.StateActive:
		return wifievent.ClientStarted, true
	case service.StateInactive:
		return wifievent.ClientStopped, true
	case service.StateFailed:
		return wifievent.ClientFailed, true
	default:
		return wifievent.Unknown, false
	}
}

// dropInContent is the override pinning the unit's ExecStart to this
// daemon's interface and credential file.
func (h *wpaHooks) dropInContent() string {
	return "[Service]\nExecStart=\nExecStart=/sbin/wpa_supplicant " + h.s.execStart + "\n"
}

func (h *wpaHooks) dropInPath() string {
	return filepath.Join(h.s.dropInDir, "override.conf")
}

// NeedConfigSetup is true if the unit's ExecStart override doesn't match the
// expected `-i<iface> -c<conf>` form, or the credential file's preamble
// needs reconciling. Either mismatch rewrites both.
func (h *wpaHooks) NeedConfigSetup(ctx context.Context) (bool, error) {
	needsPreamble, err := h.s.store.NeedsReconcile()
	if err != nil {
		return false, err
	}
	if needsPreamble {
		return true, nil
	}
	existing, err := os.ReadFile(h.dropInPath())
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return string(existing) != h.dropInContent(), nil
}

func (h *wpaHooks) SetupConfig(ctx context.Context) error {
	if err := h.s.store.Reconcile(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(h.s.dropInDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(h.dropInPath(), []byte(h.dropInContent()), 0644)
}

func (h *wpaHooks) PrepareStart(ctx context.Context) error {
	sockPath := filepath.Join(h.s.runDir, h.s.iface)
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if h.s.dhcpStart != nil {
		return h.s.dhcpStart(ctx)
	}
	return nil
}

func (h *wpaHooks) CompleteStart(ctx context.Context) error { return nil }

// SubscribeState attaches to wpa_supplicant1's own State property-changed
// stream, which carries the richer sub-states (scanning, associating,
// completed, disconnected) the base systemd ActiveState never sees.
func (w *WPASupervisor) SubscribeState(ctx context.Context) error {
	conn, err := dbusx.Conn()
	if err != nil {
		return err
	}
	obj := conn.Object(wpaSupplicantBusName, dbus.ObjectPath(wpaSupplicantPath))
	var ifacePath dbus.ObjectPath
	if err := obj.CallWithContext(ctx, wpaSupplicantBusName+".GetInterface", 0, w.iface).Store(&ifacePath); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkNotFound, err)
	}
	return dbusx.SubscribePropertiesChanged(ctx, conn, ifacePath, func(changed map[string]dbus.Variant, _ []string) {
		v, ok := changed["State"]
		if !ok {
			return
		}
		state, ok := v.Value().(string)
		if !ok {
			return
		}
		kind, ok := map[string]wifievent.Kind{
			"interface_disabled": wifievent.ClientDisabled,
			"inactive":           wifievent.ClientInactive,
			"scanning":           wifievent.ClientScanning,
			"associating":        wifievent.ClientConnecting,
			"completed":          wifievent.ClientConnected,
			"disconnected":       wifievent.ClientDisconnected,
		}[state]
		if !ok {
			log.Debug().Str("state", state).Msg("unmapped wpa_supplicant state")
			return
		}
		w.Emit(wifievent.Event{Kind: kind, Source: w.Name()})
	})
}

func (w *WPASupervisor) AddNetwork(ctx context.Context, n netstore.WifiNetwork) error {
	return w.store.Add(ctx, n)
}

func (w *WPASupervisor) NetworkCount() (int, error) {
	networks, err := w.store.List()
	if err != nil {
		return 0, err
	}
	return len(networks), nil
}

// ResetWireless bounces the link (down, address flush, up) and restarts the
// supplicant so it re-associates on the clean interface.
func (w *WPASupervisor) ResetWireless(ctx context.Context) error {
	if err := platform.ResetWireless(ctx, w.iface); err != nil {
		return err
	}
	return w.Restart(ctx)
}

func (w *WPASupervisor) Status(ctx context.Context) (ssid, ip, mac string, err error) {
	if !w.IsActive(ctx) {
		return "", "", "", nil
	}
	ip, err = platform.IfaceIPv4(w.iface)
	if err != nil {
		return "", "", "", err
	}
	mac, err = platform.IfaceMAC(w.iface)
	if err != nil {
		return "", "", "", err
	}
	networks, err := w.store.List()
	if err != nil {
		return "", "", "", err
	}
	for _, n := range networks {
		if n.Enabled {
			ssid = n.SSID
			break
		}
	}
	return ssid, ip, mac, nil
}
