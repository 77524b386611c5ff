package netstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNMStoreAddListRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "system-connections")
	s := NewNMStore(dir, "wlan0")

	n := WifiNetwork{SSID: "home", Password: "hunter2pw", Enabled: true, Priority: 3}
	require.NoError(t, s.Add(context.Background(), n))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, n, got[0])
}

func TestNMStoreUpdatePreservesUUID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "system-connections")
	s := NewNMStore(dir, "wlan0")

	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "home", Password: "hunter2pw", Enabled: true}))
	before, ok, err := s.Get("home")
	require.NoError(t, err)
	require.True(t, ok)

	cfg, err := s.readFile(s.pathFor("home"))
	require.NoError(t, err)
	uuidBefore, err := cfg.Get("connection", "uuid")
	require.NoError(t, err)
	require.NotEmpty(t, uuidBefore)

	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "home", Password: "newpassword", Enabled: true, Priority: 5}))

	after, ok, err := s.Get("home")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "newpassword", after.Password)
	require.NotEqual(t, before.Password, after.Password)

	cfg2, err := s.readFile(s.pathFor("home"))
	require.NoError(t, err)
	uuidAfter, err := cfg2.Get("connection", "uuid")
	require.NoError(t, err)
	require.Equal(t, uuidBefore, uuidAfter)
}

func TestNMStoreNeedsReconcileAlwaysFalse(t *testing.T) {
	s := NewNMStore(t.TempDir(), "wlan0")
	need, err := s.NeedsReconcile()
	require.NoError(t, err)
	require.False(t, need)
}

func TestNMStoreRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "system-connections")
	s := NewNMStore(dir, "wlan0")
	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "home", Password: "hunter2pw", Enabled: true}))

	require.NoError(t, s.Remove(context.Background(), "home"))

	_, ok, err := s.Get("home")
	require.NoError(t, err)
	require.False(t, ok)
}
