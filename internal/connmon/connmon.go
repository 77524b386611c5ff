// Package connmon implements the connection-health watchdog: a periodic
// reachability probe and its ordered restore-action chain.
package connmon

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wifimgrd/internal/platform"
)

// RestoreAction is one recovery step, run in configured order once
// consecutive probe failures reach the configured limit.
type RestoreAction interface {
	Run(ctx context.Context) error
	String() string
}

type resetWirelessAction struct {
	reset func(ctx context.Context) error
}

func (a resetWirelessAction) Run(ctx context.Context) error { return a.reset(ctx) }
func (a resetWirelessAction) String() string                { return "reset-wireless" }

// NewResetWirelessAction wraps the client supervisor's ResetWireless.
func NewResetWirelessAction(reset func(ctx context.Context) error) RestoreAction {
	return resetWirelessAction{reset: reset}
}

type restartServiceAction struct {
	glob          string
	restartByGlob func(ctx context.Context, glob string) error
}

func (a restartServiceAction) Run(ctx context.Context) error {
	return a.restartByGlob(ctx, a.glob)
}
func (a restartServiceAction) String() string { return "restart-service " + a.glob }

func NewRestartServiceAction(glob string, restartByGlob func(ctx context.Context, glob string) error) RestoreAction {
	return restartServiceAction{glob: glob, restartByGlob: restartByGlob}
}

type executeCommandAction struct {
	line string
}

func (a executeCommandAction) Run(ctx context.Context) error {
	_, _, err := platform.RunShellLine(ctx, a.line)
	return err
}
func (a executeCommandAction) String() string { return "execute-command " + a.line }

func NewExecuteCommandAction(line string) RestoreAction {
	return executeCommandAction{line: line}
}

// ParseRestoreActions parses a line-per-action configuration.
func ParseRestoreActions(lines []string, reset func(ctx context.Context) error, restartByGlob func(ctx context.Context, glob string) error) []RestoreAction {
	var actions []RestoreAction
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		switch fields[0] {
		case "reset-wireless":
			actions = append(actions, NewResetWirelessAction(reset))
		case "restart-service":
			if len(fields) == 2 {
				actions = append(actions, NewRestartServiceAction(fields[1], restartByGlob))
			}
		case "execute-command":
			if len(fields) == 2 {
				actions = append(actions, NewExecuteCommandAction(fields[1]))
			}
		default:
			log.Warn().Str("line", line).Msg("unrecognized restore action, ignoring")
		}
	}
	return actions
}

// Monitor is the periodic reachability probe. Each tick re-arms itself, so
// monitoring survives transient probe errors.
type Monitor struct {
	Interval  time.Duration
	Timeout   time.Duration
	FailLimit int
	Actions   []RestoreAction

	mu       sync.Mutex
	failures int
	timer    *time.Timer
	running  bool
	ctx      context.Context
}

func New(ctx context.Context, interval, timeout time.Duration, failLimit int, actions []RestoreAction) *Monitor {
	return &Monitor{ctx: ctx, Interval: interval, Timeout: timeout, FailLimit: failLimit, Actions: actions}
}

// Start arms the probe loop. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.timer = time.AfterFunc(m.Interval, m.tick)
}

// Stop disarms the probe loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
	}
	m.failures = 0
}

func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ok := m.probe()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if ok {
		m.failures = 0
	} else {
		m.failures++
		if m.failures >= m.FailLimit {
			m.failures = 0
			go m.runRestoreChain()
		}
	}
	m.timer = time.AfterFunc(m.Interval, m.tick)
}

func (m *Monitor) probe() bool {
	gw, err := platform.DefaultGateway(m.ctx)
	if err != nil {
		log.Ctx(m.ctx).Err(err).Msg("could not determine default gateway")
		return false
	}
	if err := platform.Ping(m.ctx, gw, m.Timeout); err != nil {
		return false
	}
	ifaces, err := platform.InterfaceNames()
	if err != nil {
		return true
	}
	tunAddr, err := platform.TunInterfaceAddr(ifaces)
	if err == nil && tunAddr != "" {
		if err := platform.Ping(m.ctx, tunGatewayFromAddr(tunAddr), m.Timeout); err != nil {
			return false
		}
	}
	return true
}

// tunGatewayFromAddr derives X.X.X.1 from a tun interface's own address.
func tunGatewayFromAddr(addr string) string {
	idx := strings.LastIndexByte(addr, '.')
	if idx < 0 {
		return addr
	}
	return addr[:idx] + ".1"
}

func (m *Monitor) runRestoreChain() {
	for _, action := range m.Actions {
		if err := action.Run(m.ctx); err != nil {
			log.Ctx(m.ctx).Err(err).Str("action", action.String()).Msg("restore action failed")
		}
	}
}
