// Package dbusx provides the raw system-bus signal subscription the
// wpa_supplicant1, dnsmasq and dhcpcd well-known names need, since none of
// them are systemd units whose property changes go-systemd already exposes.
package dbusx

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

// Conn opens a connection to the system (or session, if unprivileged) bus.
func Conn() (*dbus.Conn, error) {
	if os.Geteuid() == 0 {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

// SubscribeSignal registers for every signal matching iface/member on path
// and invokes fn with each received signal until ctx is done.
func SubscribeSignal(ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath, iface, member string, fn func(*dbus.Signal)) error {
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}
	if err := conn.AddMatchSignalContext(ctx, matchOpts...); err != nil {
		return err
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	go func() {
		defer conn.RemoveSignal(ch)
		for {
			select {
			case <-ctx.Done():
				_ = conn.RemoveMatchSignalContext(context.Background(), matchOpts...)
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Path != path || sig.Name != iface+"."+member {
					continue
				}
				fn(sig)
			}
		}
	}()
	return nil
}

// SubscribePropertiesChanged is the common case: iface's PropertiesChanged
// signal on path, delivering the changed and invalidated properties (the
// signal's interface-name argument is dropped).
func SubscribePropertiesChanged(ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath, fn func(changed map[string]dbus.Variant, invalidated []string)) error {
	return SubscribeSignal(ctx, conn, path, "org.freedesktop.DBus.Properties", "PropertiesChanged", func(sig *dbus.Signal) {
		if len(sig.Body) < 3 {
			log.Warn().Str("path", string(path)).Msg("malformed PropertiesChanged signal")
			return
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		invalidated, _ := sig.Body[2].([]string)
		fn(changed, invalidated)
	})
}
