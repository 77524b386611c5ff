package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"wifimgrd/internal/wifievent"
)

type mockUnit struct {
	state      ActiveState
	masked     bool
	enabled    bool
	startErr   error
	restartErr error
}

func (m *mockUnit) Mask(ctx context.Context) error         { m.masked = true; return nil }
func (m *mockUnit) Unmask(ctx context.Context) error       { m.masked = false; return nil }
func (m *mockUnit) ReloadDaemon(ctx context.Context) error { return nil }
func (m *mockUnit) Enable(ctx context.Context) error       { m.enabled = true; return nil }
func (m *mockUnit) Disable(ctx context.Context) error      { m.enabled = false; return nil }
func (m *mockUnit) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.state = StateActive
	return nil
}
func (m *mockUnit) Stop(ctx context.Context) error { m.state = StateInactive; return nil }
func (m *mockUnit) Restart(ctx context.Context) error {
	if m.restartErr != nil {
		return m.restartErr
	}
	m.state = StateActive
	return nil
}
func (m *mockUnit) ActiveState(ctx context.Context) (ActiveState, error) { return m.state, nil }
func (m *mockUnit) IsEnabled(ctx context.Context) (bool, error)          { return m.enabled, nil }
func (m *mockUnit) IsMasked(ctx context.Context) (bool, error)           { return m.masked, nil }
func (m *mockUnit) Subscribe(ctx context.Context, fn func(ActiveState)) error {
	return nil
}

type mockHooks struct {
	NoopHooks
	events       []wifievent.Kind
	needConfig   bool
	configWrites int
	mapState     func(ActiveState) (wifievent.Kind, bool)
}

func (h *mockHooks) SupportedEvents() []wifievent.Kind { return h.events }

func (h *mockHooks) NeedConfigSetup(ctx context.Context) (bool, error) { return h.needConfig, nil }

func (h *mockHooks) SetupConfig(ctx context.Context) error {
	h.configWrites++
	h.needConfig = false
	return nil
}

func (h *mockHooks) MapState(state ActiveState) (wifievent.Kind, bool) {
	if h.mapState == nil {
		return wifievent.Unknown, false
	}
	return h.mapState(state)
}

func TestSupervisorSetupStartsAutoStartUnit(t *testing.T) {
	u := &mockUnit{state: StateInactive}
	hooks := &mockHooks{events: []wifievent.Kind{wifievent.ClientStarted}}
	sup := NewSupervisor("wpa_supplicant.service", true, false, u, hooks)

	err := sup.Setup(context.Background())
	require.NoError(t, err)
	require.True(t, u.enabled)
	require.Equal(t, StateActive, u.state)
}

func TestSupervisorSetupStopsNonAutoStartUnit(t *testing.T) {
	u := &mockUnit{state: StateActive}
	hooks := &mockHooks{events: nil}
	sup := NewSupervisor("systemd-resolved.service", false, true, u, hooks)

	err := sup.Setup(context.Background())
	require.NoError(t, err)
	require.False(t, u.enabled)
	require.True(t, u.masked)
	require.Equal(t, StateInactive, u.state)
}

func TestSetupRewritesConfigAndWaitsForReload(t *testing.T) {
	u := &mockUnit{state: StateInactive}
	hooks := &mockHooks{needConfig: true}
	sup := NewSupervisor("dnsmasq.service", false, false, u, hooks)

	err := sup.Setup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, hooks.configWrites)
	require.True(t, sup.configReloaded.IsTripped())
}

func TestSetupSkipsConfigWriteWhenReconciled(t *testing.T) {
	u := &mockUnit{state: StateInactive}
	hooks := &mockHooks{needConfig: false}
	sup := NewSupervisor("dnsmasq.service", false, false, u, hooks)

	err := sup.Setup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, hooks.configWrites)
}

func TestRegisterCallbackRejectsUnsupportedKind(t *testing.T) {
	u := &mockUnit{state: StateInactive}
	hooks := &mockHooks{events: []wifievent.Kind{wifievent.ClientStarted}}
	sup := NewSupervisor("x", false, false, u, hooks)

	err := sup.RegisterCallback(wifievent.HotspotStarted, func(wifievent.Event) {})
	require.Error(t, err)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
}

func TestRegisterCallbackReplacesExisting(t *testing.T) {
	u := &mockUnit{state: StateInactive}
	hooks := &mockHooks{events: []wifievent.Kind{wifievent.ClientStarted}}
	sup := NewSupervisor("x", false, false, u, hooks)

	require.NoError(t, sup.RegisterCallback(wifievent.ClientStarted, func(wifievent.Event) {}))
	require.NoError(t, sup.RegisterCallback(wifievent.ClientStarted, func(wifievent.Event) {}))
}

func TestOnPropertiesChangedDedupesAgainstLastState(t *testing.T) {
	u := &mockUnit{state: StateInactive}
	var fired int
	hooks := &mockHooks{
		events: []wifievent.Kind{wifievent.ClientConnected},
		mapState: func(s ActiveState) (wifievent.Kind, bool) {
			if s == StateActive {
				return wifievent.ClientConnected, true
			}
			return wifievent.Unknown, false
		},
	}
	sup := NewSupervisor("x", false, false, u, hooks)
	require.NoError(t, sup.RegisterCallback(wifievent.ClientConnected, func(wifievent.Event) { fired++ }))

	sup.onPropertiesChanged(context.Background(), StateActive)
	sup.onPropertiesChanged(context.Background(), StateActive)
	require.Equal(t, 1, fired)
}
