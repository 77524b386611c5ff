package netstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWPAStoreAddListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpa_supplicant.conf")
	s := NewWPAStore(path, "GB")

	n := WifiNetwork{SSID: "home", Password: "hunter2pw", Enabled: true, Priority: 1}
	require.NoError(t, s.Add(context.Background(), n))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, n, got[0])
}

func TestWPAStoreAddSameSSIDReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpa_supplicant.conf")
	s := NewWPAStore(path, "GB")

	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "home", Password: "hunter2pw", Enabled: true, Priority: 1}))
	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "home", Password: "newpassword", Enabled: false, Priority: 2}))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "newpassword", got[0].Password)
	require.False(t, got[0].Enabled)
	require.Equal(t, 2, got[0].Priority)
}

func TestWPAStoreNeedsReconcileOnCountryChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpa_supplicant.conf")
	s := NewWPAStore(path, "GB")
	require.NoError(t, s.Reconcile(context.Background()))

	need, err := s.NeedsReconcile()
	require.NoError(t, err)
	require.False(t, need)

	s2 := NewWPAStore(path, "US")
	need, err = s2.NeedsReconcile()
	require.NoError(t, err)
	require.True(t, need)
}

func TestWPAStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpa_supplicant.conf")
	s := NewWPAStore(path, "GB")
	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "home", Password: "hunter2pw", Enabled: true}))
	require.NoError(t, s.Add(context.Background(), WifiNetwork{SSID: "work", Password: "workworkwork", Enabled: true}))

	require.NoError(t, s.Remove(context.Background(), "home"))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "work", got[0].SSID)
}
