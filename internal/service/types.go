package service

import (
	"context"
	"errors"

	"wifimgrd/internal/wifievent"
)

// ActiveState mirrors systemd's unit ActiveState property.
type ActiveState string

const (
	StateActive       ActiveState = "active"
	StateActivating   ActiveState = "activating"
	StateInactive     ActiveState = "inactive"
	StateDeactivating ActiveState = "deactivating"
	StateFailed       ActiveState = "failed"
	stateUnknown      ActiveState = ""
)

var (
	ErrUnsupportedEvent  = errors.New("event kind not supported by this unit")
	ErrAlreadyRegistered = errors.New("callback already registered for this kind, replacing")
	errLatchWaitCanceled = errors.New("wait for config_reloaded latch canceled")
)

// UnitBackend is the low-level D-Bus surface a Supervisor drives. SystemdUnit
// is the production implementation; tests supply a fake.
type UnitBackend interface {
	Mask(ctx context.Context) error
	Unmask(ctx context.Context) error
	ReloadDaemon(ctx context.Context) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	ActiveState(ctx context.Context) (ActiveState, error)
	IsEnabled(ctx context.Context) (bool, error)
	IsMasked(ctx context.Context) (bool, error)
	// Subscribe registers fn to be invoked on every ActiveState transition
	// observed for this unit, until ctx is done.
	Subscribe(ctx context.Context, fn func(ActiveState)) error
}

// Hooks customizes base Supervisor behavior per concrete OS service,
// matching the subclass hooks named in the supervisor's public contract.
type Hooks interface {
	// SupportedEvents lists the Kinds this unit may emit.
	SupportedEvents() []wifievent.Kind
	// MapState translates a base ActiveState transition into a high level
	// event, or ok=false if this transition has no direct mapping (the base
	// already handles bookkeeping for failed/active regardless).
	MapState(state ActiveState) (kind wifievent.Kind, ok bool)
	// NeedConfigSetup reports whether on-disk config/unit definition must be
	// (re)written before this unit can be considered reconciled.
	NeedConfigSetup(ctx context.Context) (bool, error)
	// SetupConfig writes config and/or the unit's ExecStart line, and must
	// leave the unit ready for a reload.
	SetupConfig(ctx context.Context) error
	// PrepareStart runs before Start/Restart issue the underlying command.
	PrepareStart(ctx context.Context) error
	// CompleteStart runs after the underlying command succeeds.
	CompleteStart(ctx context.Context) error
}

// NoopHooks can be embedded by a Hooks implementation that doesn't need one
// of the optional hooks, avoiding repeated empty method bodies.
type NoopHooks struct{}

func (NoopHooks) NeedConfigSetup(ctx context.Context) (bool, error) { return false, nil }
func (NoopHooks) SetupConfig(ctx context.Context) error             { return nil }
func (NoopHooks) PrepareStart(ctx context.Context) error            { return nil }
func (NoopHooks) CompleteStart(ctx context.Context) error           { return nil }
func (NoopHooks) MapState(ActiveState) (wifievent.Kind, bool)       { return wifievent.Unknown, false }
