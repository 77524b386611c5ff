// Package hotspot implements the hostapd and dnsmasq supervisors that back
// hotspot mode.
package hotspot

import (
	"context"

	"wifimgrd/internal/wifievent"
)

// WifiHotspotService is the contract the mode controller drives for
// hotspot mode.
type WifiHotspotService interface {
	Name() string
	Setup(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Shutdown()
	IsActive(ctx context.Context) bool
	RegisterCallback(kind wifievent.Kind, fn wifievent.Handler) error
	// SSID is the network name the hotspot advertises.
	SSID() string
}
