// Package correlation implements the four-state latched safety machine
// (§4.3): NORMAL -> WARNING -> CRITICAL -> EMERGENCY, with cycle-counted
// hysteresis re-synchronized to wall-clock hold windows each medium cycle,
// and a latched EMERGENCY that clears only via sustained nominal input
// over a recovery window (the source's "auto-recovery" variant, per
// spec.md §4.3 and §9: the full-pack variant is chosen because it is what
// the test suite exercises).
//
// Grounded on octoreflex's internal/escalation/state_machine.go: a small
// State enum with a String() method and a latch/decay vocabulary, adapted
// from six states with manual decay to four states with cycle-counted
// automatic hysteresis in both directions.
package correlation

import "fmt"

// State is one of the four safety states.
type State uint8

const (
	StateNormal State = iota
	StateWarning
	StateCritical
	StateEmergency
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateWarning:
		return "WARNING"
	case StateCritical:
		return "CRITICAL"
	case StateEmergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// HoldWindows holds the wall-clock durations the cycle counters are
// re-synchronized to each medium cycle (§4.3).
type HoldWindows struct {
	CriticalHoldMS     int64 // ~10s default
	DeescalationHoldMS int64 // ~5s default
	RecoveryHoldMS     int64 // ~5s default
}

// DefaultHoldWindows returns the §4.1 default hold windows.
func DefaultHoldWindows() HoldWindows {
	return HoldWindows{
		CriticalHoldMS:     10000,
		DeescalationHoldMS: 5000,
		RecoveryHoldMS:     5000,
	}
}

// Machine holds the mutable correlation state (§3 "CorrelationState").
// Owned exclusively by the scheduler; mutated only by the medium loop and
// the fast-loop emergency path, per §3's ownership rule.
type Machine struct {
	windows HoldWindows

	currentState State

	criticalCountdown      int
	criticalCountdownLimit int

	deescalationCounter int
	deescalationLimit   int

	emergencyRecoveryCounter int
	emergencyRecoveryLimit   int

	emergencyLatched bool
}

// New creates a Machine at boot defaults: NORMAL, unlatched, limits
// synchronized to the given initial medium-loop period.
func New(windows HoldWindows, initialMediumPeriodMS int64) *Machine {
	m := &Machine{windows: windows, currentState: StateNormal}
	m.SyncLimits(initialMediumPeriodMS)
	return m
}

// CurrentState returns the current safety state.
func (m *Machine) CurrentState() State { return m.currentState }

// EmergencyLatched reports whether the emergency latch is engaged.
func (m *Machine) EmergencyLatched() bool { return m.emergencyLatched }

// SyncLimits recomputes the cycle-count limits from the hold windows and
// the current medium-loop period, per §4.1/§4.3: ceil(window_ms /
// medium_period_ms), clamped to [1, 65535]. Called every medium cycle so
// the wall-clock hold stays stable when the scheduler accelerates into
// alert mode (§9 "Cycle-counted hysteresis vs wall-clock hold").
func (m *Machine) SyncLimits(mediumPeriodMS int64) {
	m.criticalCountdownLimit = cyclesForWindow(m.windows.CriticalHoldMS, mediumPeriodMS)
	m.deescalationLimit = cyclesForWindow(m.windows.DeescalationHoldMS, mediumPeriodMS)
	m.emergencyRecoveryLimit = cyclesForWindow(m.windows.RecoveryHoldMS, mediumPeriodMS)
}

// SetHoldWindows replaces the wall-clock hold windows a live config
// hot-reload supplies (§1 ambient stack: "non-destructive fields only").
// The cycle-count limits derived from them are recomputed on the next
// SyncLimits call, same as after any other period change.
func (m *Machine) SetHoldWindows(w HoldWindows) {
	m.windows = w
}

func cyclesForWindow(windowMS, periodMS int64) int {
	if periodMS <= 0 {
		periodMS = 1
	}
	n := (windowMS + periodMS - 1) / periodMS // ceil
	if n < 1 {
		n = 1
	}
	if n > 65535 {
		n = 65535
	}
	return int(n)
}

// Reset restores boot defaults: NORMAL, unlatched, all counters zeroed.
// Called on a scenario restart or external command (§3 lifecycle).
func (m *Machine) Reset() {
	m.currentState = StateNormal
	m.emergencyLatched = false
	m.criticalCountdown = 0
	m.deescalationCounter = 0
	m.emergencyRecoveryCounter = 0
}
