// Package resolvedsvc supervises systemd-resolved, which this daemon always
// disables: the hotspot's dnsmasq owns DNS while the device is in hotspot
// mode, and client mode relies on the upstream network's resolver.
package resolvedsvc

import (
	"context"

	"wifimgrd/internal/service"
	"wifimgrd/internal/wifievent"
)

type ResolvedSupervisor struct {
	*service.Supervisor
}

type resolvedHooks struct{}

func NewResolvedSupervisor() *ResolvedSupervisor {
	r := &ResolvedSupervisor{}
	unit := service.NewSystemdUnit("systemd-resolved.service")
	r.Supervisor = service.NewSupervisor("systemd-resolved.service", false, true, unit, resolvedHooks{})
	return r
}

func (resolvedHooks) SupportedEvents() []wifievent.Kind { return nil }
func (resolvedHooks) MapState(service.ActiveState) (wifievent.Kind, bool) {
	return wifievent.Unknown, false
}
func (resolvedHooks) NeedConfigSetup(ctx context.Context) (bool, error) { return false, nil }
func (resolvedHooks) SetupConfig(ctx context.Context) error             { return nil }
func (resolvedHooks) PrepareStart(ctx context.Context) error            { return nil }
func (resolvedHooks) CompleteStart(ctx context.Context) error           { return nil }
