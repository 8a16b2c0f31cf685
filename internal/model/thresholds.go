package model

import (
	"fmt"
	"math"
)

// Thresholds holds the anomaly evaluator's configured trigger points
// (§4.2). Every field has a single documented physical meaning; defaults
// match the spec's default table exactly.
//
// Unit choice for rate-of-rise thresholds: this implementation fixes
// DtDtWarning/DtDtEmergency in °C/min (the full-pack unit), not °C/s (the
// prototype unit) — see DESIGN.md "Open Questions" for the rationale. All
// per-module MaxDTDt values are expected to already be expressed in °C/min
// by the scheduler's medium loop before the evaluator sees them.
type Thresholds struct {
	VoltageLowV        float64 // per-pack/prototype under-voltage
	CurrentWarningA    float64 // sustained overcurrent
	CurrentShortA      float64 // definite short signature
	CurrentEmergencyA  float64 // direct-emergency current spike
	RIntWarningMOhm    float64 // degraded internal resistance
	TempWarningC       float64 // absolute cell temperature warning
	TempCriticalC      float64 // severity marker
	TempEmergencyC     float64 // direct-emergency absolute temp
	DtDtWarning        float64 // rate-of-rise warning, °C/min
	DtDtEmergency      float64 // direct-emergency rate, °C/min (5 °C/min default)
	DeltaTAmbientWarn  float64 // ambient-compensated warning
	GasWarningRatio    float64 // gas anomaly (ratio below threshold)
	GasCriticalRatio   float64 // severity marker
	PressureWarningHPa float64 // enclosure pressure rise
	PressureCriticalHPa float64 // severity marker
	SwellingWarningPct float64 // mechanical deformation

	// RThermalCW is the calibration constant (°C/W) used in the
	// core-temperature thermal model (§4.2).
	RThermalCW float64

	// Full-pack-only tight limits (§4.2 "In the full-pack variant, pack-wide
	// checks also include..."). These have no spec-mandated default value;
	// the implementer chooses a tight band appropriate to the pack
	// chemistry. They are evaluated regardless of Geometry — there is no
	// code fork between prototype and full-pack, only a parameter choice
	// (on a 1-module prototype the inter-module spread is always zero and
	// the pack voltage stays far below VoltageHighV, so those two checks
	// never fire there; the group-voltage spread/deviation and intra-module
	// ΔT limits do apply to the prototype's single module).
	VoltageHighV        float64 // pack-wide voltage absolute upper band
	GroupVSpreadTightMV float64 // tight group-voltage spread limit, mV
	GroupDeviationTightMV float64 // tight single-group deviation limit, mV
	ThermalSpreadLimitC float64 // inter-module surface temp spread limit
	DeltaTIntraLimitC   float64 // per-module intra ΔT (NTC1 vs NTC2) limit
}

// DefaultThresholds returns the §4.2 default threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoltageLowV:         12.0,
		CurrentWarningA:     8.0,
		CurrentShortA:       15.0,
		CurrentEmergencyA:   20.0,
		RIntWarningMOhm:     100.0,
		TempWarningC:        55.0,
		TempCriticalC:       70.0,
		TempEmergencyC:      80.0,
		DtDtWarning:         2.0,
		DtDtEmergency:       5.0,
		DeltaTAmbientWarn:   20.0,
		GasWarningRatio:     0.70,
		GasCriticalRatio:    0.40,
		PressureWarningHPa:  5.0,
		PressureCriticalHPa: 15.0,
		SwellingWarningPct:  30.0,
		RThermalCW:          3.0,

		VoltageHighV:          450.0, // ~104S nominal-max ceiling
		GroupVSpreadTightMV:   50.0,
		GroupDeviationTightMV: 80.0,
		ThermalSpreadLimitC:   15.0,
		DeltaTIntraLimitC:     10.0,
	}
}

// Validate checks the ordering invariants §4.4's self-check asserts before
// arming the relay: temp_warning < temp_critical, gas_warning > gas_critical
// (ratios are "lower is worse"), pressure_warning < pressure_critical,
// current_warning < current_short.
func (t Thresholds) Validate() error {
	var errs []string
	if !(t.TempWarningC < t.TempCriticalC) {
		errs = append(errs, fmt.Sprintf("temp_warning_c (%.2f) must be < temp_critical_c (%.2f)", t.TempWarningC, t.TempCriticalC))
	}
	if !(t.GasWarningRatio > t.GasCriticalRatio) {
		errs = append(errs, fmt.Sprintf("gas_warning_ratio (%.2f) must be > gas_critical_ratio (%.2f)", t.GasWarningRatio, t.GasCriticalRatio))
	}
	if !(t.PressureWarningHPa < t.PressureCriticalHPa) {
		errs = append(errs, fmt.Sprintf("pressure_warning_hpa (%.2f) must be < pressure_critical_hpa (%.2f)", t.PressureWarningHPa, t.PressureCriticalHPa))
	}
	if !(t.CurrentWarningA < t.CurrentShortA) {
		errs = append(errs, fmt.Sprintf("current_warning_a (%.2f) must be < current_short_a (%.2f)", t.CurrentWarningA, t.CurrentShortA))
	}
	if len(errs) > 0 {
		return fmt.Errorf("model.Thresholds: %d ordering violation(s): %v", len(errs), errs)
	}
	return nil
}

// DerivativeHistory tracks the previous-cycle values the medium loop needs
// to compute first-difference derivatives (§3 "DerivativeHistory").
type DerivativeHistory struct {
	initialized bool
	prevRInt    float64
	prevNTC1    []float64
	prevNTC2    []float64
}

// NewDerivativeHistory allocates history slots sized for numModules.
func NewDerivativeHistory(numModules int) *DerivativeHistory {
	return &DerivativeHistory{
		prevNTC1: make([]float64, numModules),
		prevNTC2: make([]float64, numModules),
	}
}

// Step computes dR/dt (mΩ/s, written to s.DRDtMOhmPerS) from the previous
// internal resistance, and each module's rate-of-rise
// max(|ΔNTC1|, |ΔNTC2|) / periodSeconds * 60 (°C/min), written to
// s.Modules[i].MaxDTDt. On the very first call (no prior history) both
// derivatives are reported as zero, since there is no prior sample to
// difference against; the current values are still recorded for next call.
//
// NaN/Inf guard: a non-finite raw input is replaced by the last stored
// good value before differencing, so a single corrupt sample cannot
// propagate into the derivative or poison history for subsequent cycles.
func (h *DerivativeHistory) Step(s *PackSnapshot, periodSeconds float64) {
	if periodSeconds <= 0 {
		periodSeconds = 1
	}

	rInt := s.RInternalMOhm
	if !finite(rInt) {
		rInt = h.prevRInt
		s.RInternalMOhm = rInt
	}

	if len(h.prevNTC1) != len(s.Modules) {
		h.prevNTC1 = make([]float64, len(s.Modules))
		h.prevNTC2 = make([]float64, len(s.Modules))
		h.initialized = false
	}

	if !h.initialized {
		s.DRDtMOhmPerS = 0
		for i := range s.Modules {
			s.Modules[i].MaxDTDt = 0
			h.prevNTC1[i] = valueOr(s.Modules[i].NTC1C, 0)
			h.prevNTC2[i] = valueOr(s.Modules[i].NTC2C, 0)
		}
		h.prevRInt = rInt
		h.initialized = true
		return
	}

	s.DRDtMOhmPerS = (rInt - h.prevRInt) / periodSeconds

	for i := range s.Modules {
		n1 := valueOr(s.Modules[i].NTC1C, h.prevNTC1[i])
		n2 := valueOr(s.Modules[i].NTC2C, h.prevNTC2[i])
		s.Modules[i].NTC1C = n1
		s.Modules[i].NTC2C = n2

		d1 := math.Abs(n1-h.prevNTC1[i]) / periodSeconds * 60.0
		d2 := math.Abs(n2-h.prevNTC2[i]) / periodSeconds * 60.0
		if d1 > d2 {
			s.Modules[i].MaxDTDt = d1
		} else {
			s.Modules[i].MaxDTDt = d2
		}

		h.prevNTC1[i] = n1
		h.prevNTC2[i] = n2
	}

	h.prevRInt = rInt
}

// finite reports whether v is neither NaN nor +/-Inf.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// valueOr returns v if finite, else fallback.
func valueOr(v, fallback float64) float64 {
	if finite(v) {
		return v
	}
	return fallback
}
