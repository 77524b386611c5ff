// Package modectl implements the mode controller: it enforces "exactly one
// of client/hotspot active" and is the single aggregation point for status.
package modectl

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"wifimgrd/internal/client"
	"wifimgrd/internal/hotspot"
	"wifimgrd/internal/netstore"
	"wifimgrd/internal/platform"
	"wifimgrd/internal/wifievent"
)

// Mode is the high-level arbitration state.
type Mode int

const (
	WifiOff Mode = iota
	ClientMode
	HotspotMode
	Ambiguous
)

func (m Mode) String() string {
	switch m {
	case ClientMode:
		return "CLIENT"
	case HotspotMode:
		return "HOTSPOT"
	case Ambiguous:
		return "AMBIGUOUS"
	default:
		return "WIFI_OFF"
	}
}

var ErrEventSourceAlreadyRegistered = errors.New("event source already registered for this kind")

// SwitchFailCommand runs the terminal-failure action (typically reboot).
type SwitchFailCommand func(ctx context.Context) error

type Controller struct {
	clientSvc  client.WifiClientService
	hotspotSvc hotspot.WifiHotspotService

	mu             sync.Mutex
	eventSources   map[wifievent.Kind]string
	switchFailures int
	failLimit      int
	failCommand    SwitchFailCommand

	iface         string
	hotspotStatic string
}

func NewController(clientSvc client.WifiClientService, hotspotSvc hotspot.WifiHotspotService, failLimit int, failCommand SwitchFailCommand, iface, hotspotStaticIP string) *Controller {
	return &Controller{
		clientSvc:     clientSvc,
		hotspotSvc:    hotspotSvc,
		eventSources:  make(map[wifievent.Kind]string),
		failLimit:     failLimit,
		failCommand:   failCommand,
		iface:         iface,
		hotspotStatic: hotspotStaticIP,
	}
}

// RegisterEventSource records which supervisor is the source of truth for a
// given event kind. First registrant wins; later attempts are logged, not
// fatal.
func (c *Controller) RegisterEventSource(kind wifievent.Kind, sourceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.eventSources[kind]; ok {
		log.Warn().Str("kind", kind.String()).Str("existing", existing).Str("attempted", sourceName).
			Msg("event source already registered, ignoring")
		return
	}
	c.eventSources[kind] = sourceName
}

// RegisterCallback forwards registration for kind once some source is
// registered for it: first to the client service, then, if that rejects the
// kind, to the hotspot service. The registered source's name is not used to
// pick the target, and sources other than these two (dnsmasq, dhcpcd) never
// receive the callback. Dropped (logged) if no source is registered.
func (c *Controller) RegisterCallback(kind wifievent.Kind, fn wifievent.Handler) {
	c.mu.Lock()
	_, ok := c.eventSources[kind]
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("kind", kind.String()).Msg("no registered event source, dropping callback registration")
		return
	}
	if err := c.clientSvc.RegisterCallback(kind, fn); err == nil {
		return
	}
	if err := c.hotspotSvc.RegisterCallback(kind, fn); err != nil {
		log.Warn().Str("kind", kind.String()).Msg("registered source doesn't support this callback")
	}
}

func (c *Controller) StartClientMode(ctx context.Context) error {
	return c.switchMode(ctx, true)
}

func (c *Controller) StartHotspotMode(ctx context.Context) error {
	return c.switchMode(ctx, false)
}

func (c *Controller) switchMode(ctx context.Context, toClient bool) (err error) {
	defer func() {
		if err != nil {
			err = c.accountFailure(ctx, err)
		} else {
			c.mu.Lock()
			c.switchFailures = 0
			c.mu.Unlock()
		}
	}()

	if toClient {
		if c.hotspotSvc.IsActive(ctx) {
			if err := c.hotspotSvc.Stop(ctx); err != nil {
				return err
			}
		}
		// A leftover hotspot static address would let the client come up
		// looking associated without ever acquiring a lease; flush it before
		// DHCP is re-issued.
		if set, err := c.IsHotspotIPSet(); err == nil && set {
			if err := platform.FlushAddr(ctx, c.iface); err != nil {
				log.Ctx(ctx).Err(err).Str("iface", c.iface).Msg("failed to flush stale hotspot address")
			}
		}
		if c.clientSvc.IsActive(ctx) {
			return c.clientSvc.Restart(ctx)
		}
		return c.clientSvc.Start(ctx)
	}

	if c.clientSvc.IsActive(ctx) {
		if err := c.clientSvc.Stop(ctx); err != nil {
			return err
		}
	}
	if c.hotspotSvc.IsActive(ctx) {
		return c.hotspotSvc.Restart(ctx)
	}
	return c.hotspotSvc.Start(ctx)
}

// accountFailure implements the bounded-retry terminal-failure policy:
// below the limit the original error is re-raised; at the limit the
// terminal command runs exactly once and the counter resets.
func (c *Controller) accountFailure(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.switchFailures++
	reachedLimit := c.switchFailures >= c.failLimit
	if reachedLimit {
		c.switchFailures = 0
	}
	c.mu.Unlock()

	if reachedLimit && c.failCommand != nil {
		if cmdErr := c.failCommand(ctx); cmdErr != nil {
			log.Ctx(ctx).Err(cmdErr).Msg("terminal switch-fail command failed")
		}
		return nil
	}
	return cause
}

func (c *Controller) State(ctx context.Context) Mode {
	clientActive := c.clientSvc.IsActive(ctx)
	hotspotActive := c.hotspotSvc.IsActive(ctx)
	switch {
	case clientActive && hotspotActive:
		return Ambiguous
	case clientActive:
		return ClientMode
	case hotspotActive:
		return HotspotMode
	default:
		return WifiOff
	}
}

type Status struct {
	SSID string
	IP   string
	MAC  string
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	switch c.State(ctx) {
	case ClientMode:
		ssid, ip, mac, err := c.clientSvc.Status(ctx)
		return Status{SSID: ssid, IP: ip, MAC: mac}, err
	case HotspotMode:
		ip, _ := platform.IfaceIPv4(c.iface)
		mac, _ := platform.IfaceMAC(c.iface)
		return Status{SSID: c.hotspotSvc.SSID(), IP: ip, MAC: mac}, nil
	default:
		return Status{}, nil
	}
}

func (c *Controller) NetworkCount() (int, error) {
	return c.clientSvc.NetworkCount()
}

func (c *Controller) AddNetwork(ctx context.Context, n netstore.WifiNetwork) error {
	return c.clientSvc.AddNetwork(ctx, n)
}

// IsHotspotIPSet is a self-diagnostic: true iff the iface's current IP
// equals the hotspot's static IP, meaning the client came up but inherited
// the hotspot address.
func (c *Controller) IsHotspotIPSet() (bool, error) {
	ip, err := platform.IfaceIPv4(c.iface)
	if err != nil {
		return false, err
	}
	return ip != "" && ip == c.hotspotStatic, nil
}

func (c *Controller) ResetWireless(ctx context.Context) error {
	return c.clientSvc.ResetWireless(ctx)
}
