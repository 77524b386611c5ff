// Package client implements the two WifiClientService variants: direct
// wpa_supplicant control (Debian 11 and earlier) and NetworkManager
// (Debian 12+). The mode controller only ever sees this interface.
package client

import (
	"context"

	"wifimgrd/internal/netstore"
	"wifimgrd/internal/wifievent"
)

// WifiClientService is the contract the mode controller drives regardless
// of which concrete daemon is backing the client side.
type WifiClientService interface {
	Name() string
	Setup(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Shutdown()
	IsActive(ctx context.Context) bool
	RegisterCallback(kind wifievent.Kind, fn wifievent.Handler) error

	AddNetwork(ctx context.Context, n netstore.WifiNetwork) error
	NetworkCount() (int, error)
	// ResetWireless recovers the interface's link state: both variants
	// bounce the link (down, address flush, up) and restart the owning
	// unit so it re-associates.
	ResetWireless(ctx context.Context) error
	// Status returns {ssid, ip, mac} for the currently associated network,
	// or empty strings if not associated.
	Status(ctx context.Context) (ssid, ip, mac string, err error)
}
