package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wifimgrd/internal/modectl"
	"wifimgrd/internal/netstore"
	"wifimgrd/internal/wifievent"
)

type fakeController struct {
	mu            sync.Mutex
	mode          modectl.Mode
	status        modectl.Status
	hotspotIPSet  bool
	clientStarts  int
	hotspotStarts int
	networks      []netstore.WifiNetwork
	addErr        error
}

func (c *fakeController) StartClientMode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientStarts++
	c.mode = modectl.ClientMode
	return nil
}

func (c *fakeController) StartHotspotMode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotspotStarts++
	c.mode = modectl.HotspotMode
	return nil
}

func (c *fakeController) State(ctx context.Context) modectl.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *fakeController) Status(ctx context.Context) (modectl.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, nil
}

func (c *fakeController) IsHotspotIPSet() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hotspotIPSet, nil
}

func (c *fakeController) NetworkCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.networks), nil
}

func (c *fakeController) AddNetwork(ctx context.Context, n netstore.WifiNetwork) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return c.addErr
	}
	c.networks = append(c.networks, n)
	return nil
}

func (c *fakeController) starts() (client, hotspot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientStarts, c.hotspotStarts
}

type fakeMonitor struct {
	mu      sync.Mutex
	running bool
}

func (m *fakeMonitor) Start() { m.mu.Lock(); m.running = true; m.mu.Unlock() }
func (m *fakeMonitor) Stop()  { m.mu.Lock(); m.running = false; m.mu.Unlock() }
func (m *fakeMonitor) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

type fakeAdvertiser struct {
	location string
	starts   int
}

func (a *fakeAdvertiser) Start(location string) { a.location = location; a.starts++ }
func (a *fakeAdvertiser) Location() string      { return a.location }

func newTestHandler(ctrl *fakeController, mon *fakeMonitor) *Handler {
	return New(context.Background(), ctrl, mon, nil, nil, 50*time.Millisecond, 50*time.Millisecond, 0)
}

func TestClientStartedArmsTimerAndStopsMonitor(t *testing.T) {
	ctrl := &fakeController{mode: modectl.ClientMode}
	mon := &fakeMonitor{running: true}
	h := newTestHandler(ctrl, mon)

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientStarted})
	require.False(t, mon.isRunning())
	require.True(t, h.timer.IsAlive())
}

func TestClientConnectedCancelsTimer(t *testing.T) {
	ctrl := &fakeController{mode: modectl.ClientMode}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientScanning})
	h.OnEvent(wifievent.Event{Kind: wifievent.ClientConnected})
	require.False(t, h.timer.IsAlive())

	time.Sleep(80 * time.Millisecond)
	_, hotspotStarts := ctrl.starts()
	require.Equal(t, 0, hotspotStarts)
}

func TestClientConnectTimeoutFallsBackToHotspot(t *testing.T) {
	ctrl := &fakeController{mode: modectl.ClientMode}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientDisconnected})
	time.Sleep(120 * time.Millisecond)

	_, hotspotStarts := ctrl.starts()
	require.Equal(t, 1, hotspotStarts)
}

func TestClientIPAcquiredStartsMonitor(t *testing.T) {
	ctrl := &fakeController{mode: modectl.ClientMode}
	mon := &fakeMonitor{}
	h := newTestHandler(ctrl, mon)

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientIPAcquired})
	require.True(t, mon.isRunning())
}

func TestHotspotStartedArmsPeerTimerOnlyWithNetworks(t *testing.T) {
	ctrl := &fakeController{mode: modectl.HotspotMode}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.HotspotStarted})
	require.False(t, h.timer.IsAlive())

	ctrl.networks = []netstore.WifiNetwork{{SSID: "home", Password: "hunter2pw"}}
	h.OnEvent(wifievent.Event{Kind: wifievent.HotspotStarted})
	require.True(t, h.timer.IsAlive())
	h.timer.Cancel()
}

func TestPeerConnectedCancelsPeerTimer(t *testing.T) {
	ctrl := &fakeController{
		mode:     modectl.HotspotMode,
		networks: []netstore.WifiNetwork{{SSID: "home", Password: "hunter2pw"}},
	}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.HotspotStarted})
	h.OnEvent(wifievent.Event{Kind: wifievent.HotspotPeerConnected})
	require.False(t, h.timer.IsAlive())
}

func TestPeerDisconnectedOutsideHotspotModeIsIgnored(t *testing.T) {
	ctrl := &fakeController{mode: modectl.ClientMode}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.HotspotPeerDisconnected})
	clientStarts, _ := ctrl.starts()
	require.Equal(t, 0, clientStarts)
}

func TestPeerDisconnectedInHotspotModeRetriesClient(t *testing.T) {
	ctrl := &fakeController{mode: modectl.HotspotMode}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.HotspotPeerDisconnected})
	clientStarts, _ := ctrl.starts()
	require.Equal(t, 1, clientStarts)
}

func TestIPAcquiredRefreshesAdvertiser(t *testing.T) {
	ctrl := &fakeController{
		mode:   modectl.ClientMode,
		status: modectl.Status{SSID: "home", IP: "192.168.1.5"},
	}
	adv := &fakeAdvertiser{}
	h := New(context.Background(), ctrl, &fakeMonitor{}, nil, adv, 50*time.Millisecond, 50*time.Millisecond, 0)

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientIPAcquired})
	require.Equal(t, "192.168.1.5", adv.location)
	require.Equal(t, 1, adv.starts)

	// Same address again is not a restart.
	h.OnEvent(wifievent.Event{Kind: wifievent.ClientIPAcquired})
	require.Equal(t, 1, adv.starts)
}

func TestAdvertiserNotStartedOnHotspotAddress(t *testing.T) {
	ctrl := &fakeController{
		mode:         modectl.ClientMode,
		status:       modectl.Status{IP: "192.168.50.1"},
		hotspotIPSet: true,
	}
	adv := &fakeAdvertiser{}
	h := New(context.Background(), ctrl, &fakeMonitor{}, nil, adv, 50*time.Millisecond, 50*time.Millisecond, 0)

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientIPAcquired})
	require.Equal(t, 0, adv.starts)
}

func TestAddNetworkRejectsShortPassword(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestHandler(ctrl, &fakeMonitor{})

	ok, completed := h.AddNetwork(context.Background(), "home", "short", nil)
	require.False(t, ok)
	require.Nil(t, completed)
	count, _ := ctrl.NetworkCount()
	require.Equal(t, 0, count)
}

func TestAddNetworkDefaultsPriorityToCount(t *testing.T) {
	ctrl := &fakeController{networks: []netstore.WifiNetwork{{SSID: "existing", Password: "hunter2pw"}}}
	h := newTestHandler(ctrl, &fakeMonitor{})

	ok, completed := h.AddNetwork(context.Background(), "home", "hunter2pw", nil)
	require.True(t, ok)
	require.NotNil(t, completed)
	require.Equal(t, 1, ctrl.networks[1].Priority)
	require.True(t, ctrl.networks[1].Enabled)

	completed()
	clientStarts, _ := ctrl.starts()
	require.Equal(t, 1, clientStarts)
}

func TestAddNetworkStoreFailure(t *testing.T) {
	ctrl := &fakeController{addErr: errors.New("disk full")}
	h := newTestHandler(ctrl, &fakeMonitor{})

	ok, completed := h.AddNetwork(context.Background(), "home", "hunter2pw", nil)
	require.False(t, ok)
	require.Nil(t, completed)
}

func TestOperatorRestartCancelsTimer(t *testing.T) {
	ctrl := &fakeController{mode: modectl.ClientMode}
	h := newTestHandler(ctrl, &fakeMonitor{})

	h.OnEvent(wifievent.Event{Kind: wifievent.ClientScanning})
	require.True(t, h.timer.IsAlive())

	require.True(t, h.Restart(context.Background()))
	require.False(t, h.timer.IsAlive())
	clientStarts, _ := ctrl.starts()
	require.Equal(t, 1, clientStarts)
}
