package connmon

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRestoreActions(t *testing.T) {
	lines := []string{
		"reset-wireless",
		"restart-service hostapd*",
		"execute-command /usr/bin/rfkill unblock wifi",
		"# comment is not a recognized keyword and is dropped",
	}
	actions := ParseRestoreActions(lines,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context, glob string) error { return nil })

	require.Len(t, actions, 3)
	require.Equal(t, "reset-wireless", actions[0].String())
	require.True(t, strings.HasPrefix(actions[1].String(), "restart-service"))
	require.True(t, strings.HasPrefix(actions[2].String(), "execute-command"))
}

func TestRestoreChainRunsOnceAtFailLimit(t *testing.T) {
	var resetCalls int
	reset := func(ctx context.Context) error { resetCalls++; return nil }
	actions := []RestoreAction{NewResetWirelessAction(reset)}

	m := New(context.Background(), 0, 0, 3, actions)
	for i := 0; i < 2; i++ {
		m.failures++
	}
	require.Equal(t, 2, m.Failures())

	m.failures++
	if m.failures >= m.FailLimit {
		m.failures = 0
		m.runRestoreChain()
	}
	require.Equal(t, 1, resetCalls)
	require.Equal(t, 0, m.Failures())
}

func TestTunGatewayFromAddr(t *testing.T) {
	require.Equal(t, "10.8.0.1", tunGatewayFromAddr("10.8.0.5"))
}
