package modectl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"wifimgrd/internal/netstore"
	"wifimgrd/internal/wifievent"
)

type mockClient struct {
	active     bool
	startErr   error
	restartErr error
	stopErr    error
	networks   int
}

func (m *mockClient) Name() string                    { return "client" }
func (m *mockClient) Setup(ctx context.Context) error { return nil }
func (m *mockClient) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.active = true
	return nil
}
func (m *mockClient) Stop(ctx context.Context) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.active = false
	return nil
}
func (m *mockClient) Restart(ctx context.Context) error {
	if m.restartErr != nil {
		return m.restartErr
	}
	m.active = true
	return nil
}
func (m *mockClient) Shutdown()                         {}
func (m *mockClient) IsActive(ctx context.Context) bool { return m.active }
func (m *mockClient) RegisterCallback(kind wifievent.Kind, fn wifievent.Handler) error {
	return nil
}
func (m *mockClient) AddNetwork(ctx context.Context, n netstore.WifiNetwork) error {
	m.networks++
	return nil
}
func (m *mockClient) NetworkCount() (int, error)              { return m.networks, nil }
func (m *mockClient) ResetWireless(ctx context.Context) error { return nil }
func (m *mockClient) Status(ctx context.Context) (string, string, string, error) {
	return "home", "192.168.1.5", "aa:bb:cc:dd:ee:ff", nil
}

type mockHotspot struct {
	active     bool
	startErr   error
	restartErr error
}

func (m *mockHotspot) Name() string                    { return "hotspot" }
func (m *mockHotspot) Setup(ctx context.Context) error { return nil }
func (m *mockHotspot) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.active = true
	return nil
}
func (m *mockHotspot) Stop(ctx context.Context) error { m.active = false; return nil }
func (m *mockHotspot) Restart(ctx context.Context) error {
	if m.restartErr != nil {
		return m.restartErr
	}
	m.active = true
	return nil
}
func (m *mockHotspot) Shutdown()                         {}
func (m *mockHotspot) IsActive(ctx context.Context) bool { return m.active }
func (m *mockHotspot) SSID() string                      { return "device-hotspot" }
func (m *mockHotspot) RegisterCallback(kind wifievent.Kind, fn wifievent.Handler) error {
	return nil
}

func TestStartClientModeStopsHotspotFirst(t *testing.T) {
	c := &mockClient{}
	h := &mockHotspot{active: true}
	ctrl := NewController(c, h, 3, nil, "wlan0", "192.168.4.1")

	require.NoError(t, ctrl.StartClientMode(context.Background()))
	require.True(t, c.active)
	require.False(t, h.active)
	require.Equal(t, ClientMode, ctrl.State(context.Background()))
}

func TestStartHotspotModeStopsClientFirst(t *testing.T) {
	c := &mockClient{active: true}
	h := &mockHotspot{}
	ctrl := NewController(c, h, 3, nil, "wlan0", "192.168.4.1")

	require.NoError(t, ctrl.StartHotspotMode(context.Background()))
	require.False(t, c.active)
	require.True(t, h.active)
	require.Equal(t, HotspotMode, ctrl.State(context.Background()))
}

func TestRegisterEventSourceFirstRegistrantWins(t *testing.T) {
	ctrl := NewController(&mockClient{}, &mockHotspot{}, 3, nil, "wlan0", "192.168.4.1")

	ctrl.RegisterEventSource(wifievent.ClientConnected, "wpa_supplicant")
	ctrl.RegisterEventSource(wifievent.ClientConnected, "networkmanager")

	require.Equal(t, "wpa_supplicant", ctrl.eventSources[wifievent.ClientConnected])
}

func TestAccountFailureRunsTerminalCommandAtLimit(t *testing.T) {
	c := &mockClient{startErr: errors.New("boom")}
	h := &mockHotspot{active: true}
	var fired int
	ctrl := NewController(c, h, 2, func(ctx context.Context) error {
		fired++
		return nil
	}, "wlan0", "192.168.4.1")

	err1 := ctrl.StartClientMode(context.Background())
	require.Error(t, err1)
	require.Equal(t, 0, fired)

	h.active = true
	err2 := ctrl.StartClientMode(context.Background())
	require.NoError(t, err2)
	require.Equal(t, 1, fired)
	require.Equal(t, 0, ctrl.switchFailures)
}

func TestStateDerivation(t *testing.T) {
	c := &mockClient{}
	h := &mockHotspot{}
	ctrl := NewController(c, h, 3, nil, "wlan0", "192.168.4.1")

	require.Equal(t, WifiOff, ctrl.State(context.Background()))
	c.active = true
	require.Equal(t, ClientMode, ctrl.State(context.Background()))
	h.active = true
	require.Equal(t, Ambiguous, ctrl.State(context.Background()))
	c.active = false
	require.Equal(t, HotspotMode, ctrl.State(context.Background()))
}

func TestIsHotspotIPSetRequiresPlatformLookup(t *testing.T) {
	ctrl := NewController(&mockClient{}, &mockHotspot{}, 3, nil, "nonexistent-iface0", "192.168.4.1")
	_, err := ctrl.IsHotspotIPSet()
	require.Error(t, err)
}
