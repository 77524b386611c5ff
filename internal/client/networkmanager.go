package client

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"wifimgrd/internal/dbusx"
	"wifimgrd/internal/netstore"
	"wifimgrd/internal/platform"
	"wifimgrd/internal/service"
	"wifimgrd/internal/wifievent"
)

const nmBusName = "org.freedesktop.NetworkManager"

var nmStateMap = map[uint32]wifievent.Kind{
	10:  wifievent.ClientDisabled,      // NM_DEVICE_STATE_UNMANAGED
	20:  wifievent.ClientInactive,      // NM_DEVICE_STATE_UNAVAILABLE
	30:  wifievent.ClientDisconnected,  // NM_DEVICE_STATE_DISCONNECTED
	40:  wifievent.ClientScanning,      // NM_DEVICE_STATE_PREPARE
	50:  wifievent.ClientConnecting,    // NM_DEVICE_STATE_CONFIG
	60:  wifievent.ClientConnecting,    // NM_DEVICE_STATE_NEED_AUTH
	70:  wifievent.ClientConnecting,    // NM_DEVICE_STATE_IP_CONFIG
	80:  wifievent.ClientIPAcquired,    // NM_DEVICE_STATE_IP_CHECK
	100: wifievent.ClientConnected,     // NM_DEVICE_STATE_ACTIVATED
	110: wifievent.ClientDisconnecting, // NM_DEVICE_STATE_DEACTIVATING
	120: wifievent.ClientFailed,        // NM_DEVICE_STATE_FAILED
}

// NetworkManagerSupervisor is the NetworkManager client variant (Debian
// 12+).
type NetworkManagerSupervisor struct {
	*service.Supervisor

	iface     string
	store     *netstore.NMStore
	forceStop bool
}

type nmHooks struct{ s *NetworkManagerSupervisor }

func NewNetworkManagerSupervisor(iface, connectionsDir string, forceStop bool) *NetworkManagerSupervisor {
	n := &NetworkManagerSupervisor{
		iface:     iface,
		store:     netstore.NewNMStore(connectionsDir, iface),
		forceStop: forceStop,
	}
	unit := service.NewSystemdUnit("NetworkManager.service")
	n.Supervisor = service.NewSupervisor("NetworkManager.service", !forceStop, forceStop, unit, &nmHooks{s: n})
	return n
}

func (h *nmHooks) SupportedEvents() []wifievent.Kind {
	return []wifievent.Kind{
		wifievent.ClientStarted, wifievent.ClientStopped, wifievent.ClientFailed,
		wifievent.ClientDisabled, wifievent.ClientInactive, wifievent.ClientDisconnected,
		wifievent.ClientScanning, wifievent.ClientConnecting, wifievent.ClientIPAcquired,
		wifievent.ClientConnected, wifievent.ClientDisconnecting,
	}
}

func (h *nmHooks) MapState(state service.ActiveState) (wifievent.Kind, bool) {
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

func (h *nmHooks) NeedConfigSetup(ctx context.Context) (bool, error) { return false, nil }
func (h *nmHooks) SetupConfig(ctx context.Context) error             { return nil }
func (h *nmHooks) PrepareStart(ctx context.Context) error            { return nil }
func (h *nmHooks) CompleteStart(ctx context.Context) error           { return nil }

// SubscribeDeviceState retry-attaches a state-changed handler to the wlan
// device, bounded retries with 1s backoff, since the device object may not
// exist yet the instant NetworkManager itself becomes active.
func (n *NetworkManagerSupervisor) SubscribeDeviceState(ctx context.Context) error {
	conn, err := dbusx.Conn()
	if err != nil {
		return err
	}
	var devPath dbus.ObjectPath
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		obj := conn.Object(nmBusName, "/org/freedesktop/NetworkManager")
		if err := obj.CallWithContext(ctx, nmBusName+".GetDeviceByIpIface", 0, n.iface).Store(&devPath); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if devPath == "" {
		log.Warn().Str("iface", n.iface).Msg("gave up waiting for NetworkManager device object")
		return nil
	}
	return dbusx.SubscribeSignal(ctx, conn, devPath, "org.freedesktop.NetworkManager.Device", "StateChanged", func(sig *dbus.Signal) {
		if len(sig.Body) == 0 {
			return
		}
		newState, ok := sig.Body[0].(uint32)
		if !ok {
			return
		}
		kind, ok := nmStateMap[newState]
		if !ok {
			return
		}
		n.Emit(wifievent.Event{Kind: kind, Source: n.Name()})
	})
}

func (n *NetworkManagerSupervisor) AddNetwork(ctx context.Context, net netstore.WifiNetwork) error {
	return n.store.Add(ctx, net)
}

func (n *NetworkManagerSupervisor) NetworkCount() (int, error) {
	networks, err := n.store.List()
	if err != nil {
		return 0, err
	}
	return len(networks), nil
}

// ResetWireless bounces the link (down, address flush, up) and restarts
// NetworkManager so the device re-activates on the clean interface.
func (n *NetworkManagerSupervisor) ResetWireless(ctx context.Context) error {
	if err := platform.ResetWireless(ctx, n.iface); err != nil {
		return err
	}
	return n.Restart(ctx)
}

func (n *NetworkManagerSupervisor) Status(ctx context.Context) (ssid, ip, mac string, err error) {
	if !n.IsActive(ctx) {
		return "", "", "", nil
	}
	ip, err = platform.IfaceIPv4(n.iface)
	if err != nil {
		return "", "", "", err
	}
	mac, err = platform.IfaceMAC(n.iface)
	if err != nil {
		return "", "", "", err
	}
	networks, err := n.store.List()
	if err != nil {
		return "", "", "", err
	}
	for _, net := range networks {
		if net.Enabled {
			ssid = net.SSID
			break
		}
	}
	return ssid, ip, mac, nil
}
