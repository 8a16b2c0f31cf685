package correlation

import "github.com/battsafe/battsafe-core/internal/anomaly"

// Update applies one medium-loop cycle of the transition rules (§4.3),
// given the latest anomaly result. It must be called after SyncLimits has
// already been re-synchronized for the current period, per the medium
// loop's fixed ordering (§5).
//
// Returns true if currentState changed this cycle (the caller logs a
// transition line only on change, per §4.1).
func (m *Machine) Update(result anomaly.Result) (changed bool) {
	before := m.currentState

	switch {
	case m.emergencyLatched:
		m.currentState = StateEmergency
		nominal := result.ActiveCount == 0 && !result.IsShortCircuit && !result.IsEmergencyDirect
		if nominal {
			m.emergencyRecoveryCounter++
			if m.emergencyRecoveryCounter >= m.emergencyRecoveryLimit {
				m.emergencyLatched = false
				m.Reset()
			}
		} else {
			m.emergencyRecoveryCounter = 0
		}

	case result.IsShortCircuit || result.IsEmergencyDirect || result.ActiveCount >= 3:
		m.currentState = StateEmergency
		m.emergencyLatched = true
		m.criticalCountdown = 0
		m.deescalationCounter = 0

	case result.ActiveCount >= 2:
		if before != StateCritical {
			m.criticalCountdown = 0
		}
		m.currentState = StateCritical
		m.criticalCountdown++
		m.deescalationCounter = 0
		if m.criticalCountdown >= m.criticalCountdownLimit {
			m.currentState = StateEmergency
			m.emergencyLatched = true
		}

	case result.ActiveCount == 1:
		m.currentState = StateWarning
		m.criticalCountdown = 0
		m.deescalationCounter = 0

	default: // active_count == 0
		if m.currentState != StateNormal {
			m.deescalationCounter++
			if m.deescalationCounter >= m.deescalationLimit {
				m.currentState = StateNormal
				m.deescalationCounter = 0
				m.criticalCountdown = 0
			}
		}
		m.criticalCountdown = 0
	}

	return m.currentState != before
}
