package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wifimgrd/internal/wifievent"
)

// Supervisor is the shared composition struct every concrete OS-service
// specialization embeds. It owns one unit's lifecycle and translates its
// property-change stream into wifievent deliveries.
type Supervisor struct {
	name      string
	autoStart bool
	forceStop bool

	unit  UnitBackend
	hooks Hooks

	mu             sync.Mutex
	failed         bool
	lastState      ActiveState
	awaitingReload bool
	configReloaded *latch
	callbacks      map[wifievent.Kind]wifievent.Handler

	cancelSubscribe context.CancelFunc
}

// NewSupervisor constructs the base. unit and hooks are supplied by the
// concrete specialization (wpa, networkmanager, hostapd, ...).
func NewSupervisor(name string, autoStart, forceStop bool, unit UnitBackend, hooks Hooks) *Supervisor {
	return &Supervisor{
		name:           name,
		autoStart:      autoStart,
		forceStop:      forceStop,
		unit:           unit,
		hooks:          hooks,
		configReloaded: newLatch(),
		callbacks:      make(map[wifievent.Kind]wifievent.Handler),
	}
}

func (s *Supervisor) Name() string { return s.name }

func (s *Supervisor) IsActive(ctx context.Context) bool {
	state, err := s.unit.ActiveState(ctx)
	return err == nil && state == StateActive
}

func (s *Supervisor) IsEnabled(ctx context.Context) bool {
	enabled, err := s.unit.IsEnabled(ctx)
	return err == nil && enabled
}

func (s *Supervisor) IsInstalled(ctx context.Context) bool {
	_, err := s.unit.ActiveState(ctx)
	return err == nil
}

func (s *Supervisor) SupportedEvents() []wifievent.Kind { return s.hooks.SupportedEvents() }

// RegisterCallback registers exactly one handler per kind; replacing an
// existing handler is allowed (logged). Registering for an unsupported kind
// is rejected as a ServiceError.
func (s *Supervisor) RegisterCallback(kind wifievent.Kind, fn wifievent.Handler) error {
	if !s.supports(kind) {
		return newServiceError(s.name, "unsupported event kind "+kind.String(), ErrUnsupportedEvent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.callbacks[kind]; exists {
		log.Warn().Str("unit", s.name).Str("kind", kind.String()).Msg("replacing existing callback")
	}
	s.callbacks[kind] = fn
	return nil
}

func (s *Supervisor) supports(kind wifievent.Kind) bool {
	for _, k := range s.hooks.SupportedEvents() {
		if k == kind {
			return true
		}
	}
	return false
}

// Setup must be called exactly once before Start/Stop. It performs, in
// order, mask reconciliation, run-state reconciliation, the unit property
// subscription and config reconciliation, failing fast with a ServiceError
// on any of them. A specialization's own D-Bus signal subscriptions are not
// installed here; they are separate Subscribe* methods on the
// specialization.
func (s *Supervisor) Setup(ctx context.Context) error {
	if err := s.reconcileMaskState(ctx); err != nil {
		return newServiceError(s.name, "mask reconciliation failed", err)
	}

	if err := s.reconcileRunState(ctx); err != nil {
		return newServiceError(s.name, "run-state reconciliation failed", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.cancelSubscribe = cancel
	if err := s.unit.Subscribe(subCtx, func(state ActiveState) { s.onPropertiesChanged(ctx, state) }); err != nil {
		return newServiceError(s.name, "property subscription failed", err)
	}

	need, err := s.hooks.NeedConfigSetup(ctx)
	if err != nil {
		return newServiceError(s.name, "config inspection failed", err)
	}
	if need {
		if err := s.hooks.SetupConfig(ctx); err != nil {
			return newServiceError(s.name, "config write failed", err)
		}
		if err := s.unit.ReloadDaemon(ctx); err != nil {
			return newServiceError(s.name, "daemon-reload failed", err)
		}
		s.mu.Lock()
		s.awaitingReload = true
		s.mu.Unlock()
		if err := s.unit.Restart(ctx); err != nil {
			return newServiceError(s.name, "reload restart failed", err)
		}
		// The unit may already report active on the very next state read;
		// consult it directly in addition to the transition stream, so a
		// reload that completes between two polls still latches.
		if state, err := s.unit.ActiveState(ctx); err == nil && state == StateActive {
			s.configReloaded.Trip()
		}
		if err := s.waitConfigReloaded(ctx); err != nil {
			return newServiceError(s.name, "timed out waiting for config_reloaded latch", err)
		}
		s.mu.Lock()
		s.awaitingReload = false
		s.mu.Unlock()
	}

	return nil
}

const configReloadTimeout = 60 * time.Second

func (s *Supervisor) waitConfigReloaded(ctx context.Context) error {
	deadline := time.After(configReloadTimeout)
	done := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-deadline:
		case <-stop:
		}
		close(done)
	}()
	return s.configReloaded.Wait(done)
}

// reconcileMaskState keeps the unit's mask bit in sync with force_stop: a
// force_stop unit (the unused client variant, or systemd-resolved) is masked
// so nothing can pull it back in; any other unit is left unmasked.
func (s *Supervisor) reconcileMaskState(ctx context.Context) error {
	masked, err := s.unit.IsMasked(ctx)
	if err != nil {
		return err
	}
	switch {
	case s.forceStop && !masked:
		if err := s.unit.Mask(ctx); err != nil {
			return err
		}
		return s.unit.ReloadDaemon(ctx)
	case !s.forceStop && masked:
		if err := s.unit.Unmask(ctx); err != nil {
			return err
		}
		return s.unit.ReloadDaemon(ctx)
	}
	return nil
}

func (s *Supervisor) reconcileRunState(ctx context.Context) error {
	if s.autoStart {
		if err := s.unit.Enable(ctx); err != nil {
			return err
		}
		return s.startInternal(ctx)
	}
	if err := s.unit.Disable(ctx); err != nil {
		return err
	}
	return s.stopInternal(ctx)
}

// Start is idempotent from the caller's perspective.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.startInternal(ctx)
}

func (s *Supervisor) startInternal(ctx context.Context) error {
	if err := s.hooks.PrepareStart(ctx); err != nil {
		return err
	}
	if err := s.unit.Start(ctx); err != nil {
		return err
	}
	return s.hooks.CompleteStart(ctx)
}

// Stop is idempotent from the caller's perspective.
func (s *Supervisor) Stop(ctx context.Context) error {
	return s.stopInternal(ctx)
}

func (s *Supervisor) stopInternal(ctx context.Context) error {
	return s.unit.Stop(ctx)
}

// Restart tolerates a currently-inactive unit.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.hooks.PrepareStart(ctx); err != nil {
		return err
	}
	if err := s.unit.Restart(ctx); err != nil {
		return err
	}
	return s.hooks.CompleteStart(ctx)
}

// Shutdown releases the property subscription. Units are left in their last
// commanded state.
func (s *Supervisor) Shutdown() {
	if s.cancelSubscribe != nil {
		s.cancelSubscribe()
	}
}

func (s *Supervisor) onPropertiesChanged(ctx context.Context, newState ActiveState) {
	s.mu.Lock()
	if newState == s.lastState {
		s.mu.Unlock()
		return
	}
	prevState := s.lastState
	s.lastState = newState
	forceStop := s.forceStop
	s.mu.Unlock()

	switch newState {
	case StateFailed:
		s.mu.Lock()
		firstFailure := !s.failed
		s.failed = true
		s.mu.Unlock()
		if firstFailure {
			entries, err := LastJournalEntries(ctx, s.name, 5)
			if err != nil {
				log.Ctx(ctx).Err(err).Str("unit", s.name).Msg("failed to read journal")
			} else {
				for _, line := range entries {
					log.Ctx(ctx).Error().Str("unit", s.name).Msg(line)
				}
			}
			if !forceStop {
				if err := s.unit.Restart(ctx); err != nil {
					log.Ctx(ctx).Err(err).Str("unit", s.name).Msg("restart after failure did not succeed")
				}
			}
		}
	case StateActive:
		s.mu.Lock()
		s.failed = false
		shouldLatch := !s.configReloaded.IsTripped() &&
			(prevState == StateActivating || s.awaitingReload)
		s.mu.Unlock()
		if shouldLatch {
			s.configReloaded.Trip()
		}
		if forceStop {
			if err := s.unit.Stop(ctx); err != nil {
				log.Ctx(ctx).Err(err).Str("unit", s.name).Msg("force-stop after active did not succeed")
			}
		}
	}

	if kind, ok := s.hooks.MapState(newState); ok {
		s.dispatch(wifievent.Event{Kind: kind, Source: s.name})
	}
}

func (s *Supervisor) dispatch(ev wifievent.Event) {
	s.mu.Lock()
	fn, ok := s.callbacks[ev.Kind]
	s.mu.Unlock()
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("unit", s.name).Str("kind", ev.Kind.String()).Interface("panic", r).Msg("callback panicked")
		}
	}()
	fn(ev)
}

// Emit allows specializations to dispatch an event without going through
// onPropertiesChanged, for events sourced from a specialization's own D-Bus
// signal subscription (e.g. dnsmasq lease-added, dhcpcd Event).
func (s *Supervisor) Emit(ev wifievent.Event) { s.dispatch(ev) }
