// Package eventhandler wires the unified event stream to mode transitions
// using a single re-armable timer: no association within the client timeout
// falls back to hotspot mode, no peer within the hotspot timeout retries
// client mode.
package eventhandler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"wifimgrd/internal/modectl"
	"wifimgrd/internal/netstore"
	"wifimgrd/internal/platform"
	"wifimgrd/internal/wifievent"
)

// ConnectionMonitor is the narrow contract the event handler drives.
type ConnectionMonitor interface {
	Start()
	Stop()
}

// Controller is the narrow contract the event handler drives against the
// mode controller.
type Controller interface {
	StartClientMode(ctx context.Context) error
	StartHotspotMode(ctx context.Context) error
	State(ctx context.Context) modectl.Mode
	Status(ctx context.Context) (modectl.Status, error)
	IsHotspotIPSet() (bool, error)
	NetworkCount() (int, error)
	AddNetwork(ctx context.Context, n netstore.WifiNetwork) error
}

// Advertiser is the discovery responder refreshed whenever the device's
// address changes; nil disables advertisement.
type Advertiser interface {
	Start(location string)
	Location() string
}

type Handler struct {
	timer         ReusableTimer
	connMonitor   ConnectionMonitor
	controller    Controller
	blink         platform.Blinker
	advertiser    Advertiser
	clientTimeout time.Duration
	peerTimeout   time.Duration
	restartDelay  time.Duration
	ctx           context.Context
}

func New(ctx context.Context, controller Controller, connMonitor ConnectionMonitor, blink platform.Blinker, advertiser Advertiser, clientTimeout, peerTimeout, restartDelay time.Duration) *Handler {
	return &Handler{
		ctx:           ctx,
		controller:    controller,
		connMonitor:   connMonitor,
		blink:         blink,
		advertiser:    advertiser,
		clientTimeout: clientTimeout,
		peerTimeout:   peerTimeout,
		restartDelay:  restartDelay,
	}
}

// startClientAfterDelay waits client_restart_delay before reactivating
// client mode, giving the hotspot's units time to settle before hostapd is
// torn down. Used on peer disconnect and peer-connect timeout; the
// add_network completion path switches without this delay.
func (h *Handler) startClientAfterDelay() error {
	if h.restartDelay > 0 {
		select {
		case <-time.After(h.restartDelay):
		case <-h.ctx.Done():
			return h.ctx.Err()
		}
	}
	return h.controller.StartClientMode(h.ctx)
}

// OnEvent is the single entry point the orchestrator registers for every
// event kind sourced from the supervisors.
func (h *Handler) OnEvent(ev wifievent.Event) {
	switch ev.Kind {
	case wifievent.ClientStarted, wifievent.ClientDisabled, wifievent.ClientInactive,
		wifievent.ClientScanning, wifievent.ClientDisconnected:
		h.connMonitor.Stop()
		h.timer.Start(h.clientTimeout, h.onClientConnectTimeout)
	case wifievent.ClientConnected:
		h.timer.Cancel()
	case wifievent.ClientIPAcquired:
		h.connMonitor.Start()
		h.RefreshAdvertiser()
	case wifievent.HotspotStarted:
		h.connMonitor.Stop()
		count, err := h.controller.NetworkCount()
		if err != nil {
			log.Ctx(h.ctx).Err(err).Msg("failed to read network count on hotspot start")
			return
		}
		if count > 0 {
			h.timer.Start(h.peerTimeout, h.onPeerConnectTimeout)
		}
	case wifievent.HotspotPeerConnected, wifievent.HotspotPeerReconnected:
		h.timer.Cancel()
	case wifievent.HotspotPeerDisconnected:
		// A stale lease expiring after the device has already left hotspot
		// mode must not bounce an established client association.
		if h.controller.State(h.ctx) != modectl.HotspotMode {
			return
		}
		h.timer.Cancel()
		if err := h.startClientAfterDelay(); err != nil {
			log.Ctx(h.ctx).Err(err).Msg("start_client_mode failed after peer disconnect")
			h.timer.Restart()
		}
	}
}

// Shutdown disarms any pending timeout; invoked by the orchestrator during
// clean shutdown.
func (h *Handler) Shutdown() {
	h.timer.Cancel()
}

// RefreshAdvertiser restarts the discovery responder when the device's
// address has changed. The hotspot's own static address is never
// advertised: it would point peers at an address about to disappear.
func (h *Handler) RefreshAdvertiser() {
	if h.advertiser == nil {
		return
	}
	status, err := h.controller.Status(h.ctx)
	if err != nil || status.IP == "" {
		return
	}
	if set, err := h.controller.IsHotspotIPSet(); err != nil || set {
		return
	}
	if old := h.advertiser.Location(); old != status.IP {
		log.Ctx(h.ctx).Info().Str("old_ip", old).Str("new_ip", status.IP).
			Msg("address changed, restarting discovery responder")
		h.advertiser.Start(status.IP)
	}
}

func (h *Handler) onClientConnectTimeout() {
	if err := h.controller.StartHotspotMode(h.ctx); err != nil {
		log.Ctx(h.ctx).Err(err).Msg("start_hotspot_mode failed on client-connect timeout")
		h.timer.Restart()
	}
}

func (h *Handler) onPeerConnectTimeout() {
	if err := h.startClientAfterDelay(); err != nil {
		log.Ctx(h.ctx).Err(err).Msg("start_client_mode failed on peer-connect timeout")
		h.timer.Restart()
	}
}

// AddNetwork validates and stores an operator-provided network. completed is
// invoked after the caller (the HTTP layer) has flushed its response, and
// triggers start_client_mode.
func (h *Handler) AddNetwork(ctx context.Context, ssid, password string, priority *int) (ok bool, completed func()) {
	if len(password) < 8 {
		return false, nil
	}
	count, err := h.controller.NetworkCount()
	if err != nil {
		log.Ctx(ctx).Err(err).Msg("failed to read network count")
		return false, nil
	}
	p := count
	if priority != nil {
		p = *priority
	}
	n := netstore.WifiNetwork{SSID: ssid, Password: password, Enabled: true, Priority: p}
	if err := h.controller.AddNetwork(ctx, n); err != nil {
		log.Ctx(ctx).Err(err).Msg("add_network failed")
		return false, nil
	}
	return true, func() {
		if err := h.controller.StartClientMode(h.ctx); err != nil {
			log.Ctx(h.ctx).Err(err).Msg("start_client_mode failed after add_network_completed")
		}
	}
}

// Restart is the operator restart operation: restart client mode and cancel
// any pending timer.
func (h *Handler) Restart(ctx context.Context) bool {
	h.timer.Cancel()
	if err := h.controller.StartClientMode(ctx); err != nil {
		log.Ctx(ctx).Err(err).Msg("operator restart failed")
		return false
	}
	return true
}

// Identify triggers the blink driver.
func (h *Handler) Identify() bool {
	if h.blink == nil {
		return false
	}
	if err := platform.Identify(h.blink, 3, 2, time.Second, time.Second); err != nil {
		log.Ctx(h.ctx).Err(err).Msg("identify blink failed")
		return false
	}
	return true
}
