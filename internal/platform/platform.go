// Package platform wraps the OS primitives the daemon leans on
// (ip/iptables/ping/iw, /boot and /etc files, the GPIO blink driver) as
// thin wrappers. A few callers still run their own commands (avahisvc's
// hostname -F, service's journalctl).
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

var ErrNoWlanInterface = errors.New("no wlan interface found")

// SelectInterface returns preferred if set, else the first wlan* interface
// reported by the kernel.
func SelectInterface(preferred string) (string, error) {
	if preferred != "" {
		return preferred, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if strings.HasPrefix(iface.Name, "wlan") {
			return iface.Name, nil
		}
	}
	return "", ErrNoWlanInterface
}

// IfaceIPv4 returns the first IPv4 address assigned to iface, or "" if none.
func IfaceIPv4(iface string) (string, error) {
	ni, err := net.InterfaceByName(iface)
	if err != nil {
		return "", err
	}
	addrs, err := ni.Addrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", nil
}

// IfaceMAC returns iface's hardware address.
func IfaceMAC(iface string) (string, error) {
	ni, err := net.InterfaceByName(iface)
	if err != nil {
		return "", err
	}
	return ni.HardwareAddr.String(), nil
}

// FlushAddr removes all addresses from iface, so a subsequent DHCP
// acquisition can't observe a stale, inherited address.
func FlushAddr(ctx context.Context, iface string) error {
	return RunCommand(ctx, "ip", "addr", "flush", "dev", iface)
}

// ResetWireless bounces iface's link and clears its addresses, so the next
// association and DHCP acquisition start from a clean slate.
func ResetWireless(ctx context.Context, iface string) error {
	if err := RunCommand(ctx, "ip", "link", "set", iface, "down"); err != nil {
		return err
	}
	if err := FlushAddr(ctx, iface); err != nil {
		return err
	}
	return RunCommand(ctx, "ip", "link", "set", iface, "up")
}

// SetStaticIP assigns cidr (e.g. "192.168.50.1/24") to iface.
func SetStaticIP(ctx context.Context, iface, cidr string) error {
	if err := FlushAddr(ctx, iface); err != nil {
		return err
	}
	return RunCommand(ctx, "ip", "addr", "add", cidr, "dev", iface)
}

// Ping probes host once with timeout, returning nil on a reachable host.
func Ping(ctx context.Context, host string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return RunCommand(ctx, "ping", "-c", "1", "-W", fmt.Sprintf("%.0f", timeout.Seconds()), host)
}

// DefaultGateway shells out to `ip route` to find the current default
// gateway address.
func DefaultGateway(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "route", "show", "default").Output()
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "via" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", errors.New("no default route")
}

// TunInterfaceAddr returns the first IPv4 address of any tun* interface, or
// "" if none exists.
func TunInterfaceAddr(ifaceNames []string) (string, error) {
	for _, name := range ifaceNames {
		if !strings.HasPrefix(name, "tun") {
			continue
		}
		addr, err := IfaceIPv4(name)
		if err == nil && addr != "" {
			return addr, nil
		}
	}
	return "", nil
}

// ClientBackend names which of the two client variants owns the wireless
// interface on this platform.
type ClientBackend string

const (
	BackendWPA            ClientBackend = "wpa_supplicant"
	BackendNetworkManager ClientBackend = "network_manager"
)

// DetectClientBackend picks wpa_supplicant-direct on Debian 11 and earlier,
// NetworkManager on Debian 12+, per /etc/os-release's VERSION_ID.
func DetectClientBackend() ClientBackend {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return BackendNetworkManager
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.SplitN(line, "=", 2)
		if len(fields) != 2 || fields[0] != "VERSION_ID" {
			continue
		}
		v := strings.Trim(fields[1], `"`)
		major := 0
		fmt.Sscanf(v, "%d", &major)
		if major > 0 && major <= 11 {
			return BackendWPA
		}
	}
	return BackendNetworkManager
}

// SetPowerSave toggles the radio's power-save mode via iw.
func SetPowerSave(ctx context.Context, iface string, disable bool) error {
	state := "on"
	if disable {
		state = "off"
	}
	return RunCommand(ctx, "iw", "dev", iface, "set", "power_save", state)
}

// CPUSerial reads the board serial number from /proc/cpuinfo (the last
// "Serial" line), as used by the device-hostname template's {{cpu_serial}}.
func CPUSerial() (string, error) {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	serial := ""
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 || strings.TrimSpace(fields[0]) != "Serial" {
			continue
		}
		serial = strings.TrimSpace(fields[1])
	}
	return serial, nil
}

// InterfaceNames returns the names of all network interfaces present.
func InterfaceNames() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names, nil
}

// RunCommand runs name with args to completion, returning combined output on
// error for logging.
func RunCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, out.String())
	}
	return nil
}

// RunShellLine runs cmdLine through /bin/sh -c, as required by the
// execute-command restore action and the operator web execution endpoint.
func RunShellLine(ctx context.Context, cmdLine string) (stdout string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdLine)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	exitCode = -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return out.String(), exitCode, runErr
}
