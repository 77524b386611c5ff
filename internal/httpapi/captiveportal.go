package httpapi

import (
	"context"
	"strconv"

	"wifimgrd/internal/platform"
)

// InstallCaptivePortal redirects all TCP/80 traffic from the hotspot subnet
// to the local HTTP server and masquerades outbound traffic. subnetCIDR is
// e.g. "192.168.50.0/24"; hotspotIP is the server's own address on that
// subnet.
func InstallCaptivePortal(ctx context.Context, subnetCIDR, hotspotIP string, port int) error {
	portStr := strconv.Itoa(port)
	if err := platform.RunCommand(ctx, "iptables", "-t", "nat", "-A", "PREROUTING",
		"-s", subnetCIDR, "-p", "tcp", "--dport", "80",
		"-j", "DNAT", "--to-destination", hotspotIP+":"+portStr); err != nil {
		return err
	}
	return platform.RunCommand(ctx, "iptables", "-t", "nat", "-A", "POSTROUTING",
		"-s", subnetCIDR, "-j", "MASQUERADE")
}

// FlushCaptivePortal removes the rules InstallCaptivePortal added.
func FlushCaptivePortal(ctx context.Context, subnetCIDR, hotspotIP string, port int) error {
	portStr := strconv.Itoa(port)
	if err := platform.RunCommand(ctx, "iptables", "-t", "nat", "-D", "PREROUTING",
		"-s", subnetCIDR, "-p", "tcp", "--dport", "80",
		"-j", "DNAT", "--to-destination", hotspotIP+":"+portStr); err != nil {
		return err
	}
	return platform.RunCommand(ctx, "iptables", "-t", "nat", "-D", "POSTROUTING",
		"-s", subnetCIDR, "-j", "MASQUERADE")
}
