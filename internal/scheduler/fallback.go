package scheduler

import "github.com/battsafe/battsafe-core/internal/model"

// applyFallback overwrites s with a fixed, deterministic nominal reading.
// Used whenever the scheduler has no external input (EXTERNAL_INPUT_TIMEOUT
// elapsed, or no input ever arrived) so that monitoring and telemetry
// keep running on a known-safe baseline instead of stale or zeroed data
// (§2 "the scheduler reverts to a deterministic fallback producer").
//
// The pack voltage, current, internal resistance, ambient, gas ratios,
// NTC1 and group voltages are the same nominal numbers selfcheck's
// encode/decode probe uses (the probe's NTC2 reads 25.1 °C rather than
// 25.0 °C, and it leaves coolant, humidity and isolation at zero).
func applyFallback(s *model.PackSnapshot) {
	s.PackVoltageV = 48.0
	s.PackCurrentA = 2.0
	s.RInternalMOhm = 30.0
	s.AmbientC = 25.0
	s.CoolantInletC = 24.0
	s.CoolantOutC = 26.0
	s.HumidityPct = 40.0
	s.IsolationMOhm = 2000.0
	s.GasRatio1 = 1.0
	s.GasRatio2 = 1.0
	s.PressureDelta1HPa = 0.0
	s.PressureDelta2HPa = 0.0
	s.ShortCircuit = false

	for i := range s.Modules {
		s.Modules[i].NTC1C = 25.0
		s.Modules[i].NTC2C = 25.0
		s.Modules[i].Swelling = 0.0
		for j := range s.Modules[i].GroupVoltagesV {
			s.Modules[i].GroupVoltagesV[j] = 3.2
		}
	}
}
