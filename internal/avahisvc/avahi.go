// Package avahisvc supervises avahi-daemon, whose only job in this daemon
// is keeping /etc/hostname and /etc/hosts in sync with the configured
// device hostname template.
package avahisvc

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"wifimgrd/internal/service"
	"wifimgrd/internal/templates"
	"wifimgrd/internal/wifievent"
)

type HostnameData struct {
	DeviceRole string
	CPUSerial  string
	MACAddress string
	// Pattern is the operator-configured `--device-hostname` template
	// (Go text/template syntax: {{.device_role}}, {{.cpu_serial}}, {{.mac_address}}).
	Pattern string
}

type AvahiSupervisor struct {
	*service.Supervisor

	data HostnameData
}

type avahiHooks struct{ s *AvahiSupervisor }

func NewAvahiSupervisor(data HostnameData) *AvahiSupervisor {
	a := &AvahiSupervisor{data: data}
	unit := service.NewSystemdUnit("avahi-daemon.service")
	a.Supervisor = service.NewSupervisor("avahi-daemon.service", true, false, unit, &avahiHooks{s: a})
	return a
}

func (h *avahiHooks) SupportedEvents() []wifievent.Kind { return nil }
func (h *avahiHooks) MapState(service.ActiveState) (wifievent.Kind, bool) {
	return wifievent.Unknown, false
}

func (a *AvahiSupervisor) renderHostname() (string, error) {
	var buf bytes.Buffer
	data := map[string]string{
		"device_role": a.data.DeviceRole,
		"cpu_serial":  a.data.CPUSerial,
		"mac_address": a.data.MACAddress,
	}
	if err := templates.RenderString(&buf, data, a.data.Pattern); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (h *avahiHooks) NeedConfigSetup(ctx context.Context) (bool, error) {
	want, err := h.s.renderHostname()
	if err != nil {
		return false, err
	}
	current, err := os.ReadFile("/etc/hostname")
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return strings.TrimSpace(string(current)) != want, nil
}

func (h *avahiHooks) SetupConfig(ctx context.Context) error {
	want, err := h.s.renderHostname()
	if err != nil {
		return err
	}
	old, _ := os.ReadFile("/etc/hostname")
	if err := os.WriteFile("/etc/hostname", []byte(want+"\n"), 0644); err != nil {
		return err
	}
	if len(old) > 0 {
		hosts, err := os.ReadFile("/etc/hosts")
		if err == nil {
			updated := strings.ReplaceAll(string(hosts), strings.TrimSpace(string(old)), want)
			if updated != string(hosts) {
				if err := os.WriteFile("/etc/hosts", []byte(updated), 0644); err != nil {
					return err
				}
			}
		}
	}
	return exec.CommandContext(ctx, "hostname", "-F", "/etc/hostname").Run()
}

func (h *avahiHooks) PrepareStart(ctx context.Context) error  { return nil }
func (h *avahiHooks) CompleteStart(ctx context.Context) error { return nil }
