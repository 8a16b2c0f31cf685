package anomaly

import (
	"math"

	"github.com/battsafe/battsafe-core/internal/model"
)

// epsilonHotspot is the margin above ambient a module's surface temperature
// must exceed before it is eligible to be the hotspot module (§4.2
// "Hotspot selection").
const epsilonHotspot = 0.5

// Evaluate runs the derived-metric pre-pass (via snapshot.RecomputeDerived)
// and then the category rules, producing a Result. It is the single
// entry point the medium loop calls each cycle (§4.1, §5 ordering:
// "derivative update -> anomaly pre-pass -> category evaluation").
func Evaluate(s *model.PackSnapshot, t model.Thresholds) Result {
	s.RecomputeDerived(t.RThermalCW)

	var mask uint8
	var modulesMask uint64
	var isShort, isEmergencyDirect bool

	// ── ELECTRICAL ──────────────────────────────────────────────────────────
	electrical := s.PackVoltageV < t.VoltageLowV ||
		s.PackVoltageV > t.VoltageHighV ||
		s.PackCurrentA > t.CurrentWarningA ||
		s.RInternalMOhm > t.RIntWarningMOhm ||
		s.VSpreadMV > t.GroupVSpreadTightMV ||
		moduleGroupDeviationExceeds(s, t.GroupDeviationTightMV)

	if s.ShortCircuit || s.PackCurrentA > t.CurrentShortA {
		isShort = true
		electrical = true
	}
	if s.PackCurrentA > t.CurrentEmergencyA {
		isEmergencyDirect = true
		electrical = true
	}
	if electrical {
		mask |= uint8(CategoryElectrical)
	}

	// ── THERMAL ──────────────────────────────────────────────────────────────
	thermal := s.HotspotTempC > t.TempWarningC ||
		(s.HotspotTempC-s.AmbientC) >= t.DeltaTAmbientWarn ||
		s.DTDtMax > t.DtDtWarning ||
		s.TempSpreadC > t.ThermalSpreadLimitC

	for i := range s.Modules {
		m := &s.Modules[i]
		contributed := false
		if m.HotterNTC() > t.TempWarningC {
			thermal = true
			contributed = true
		}
		if m.DeltaTIntra > t.DeltaTIntraLimitC {
			thermal = true
			contributed = true
		}
		if m.HotterNTC() > t.TempEmergencyC || m.MaxDTDt > t.DtDtEmergency {
			isEmergencyDirect = true
			thermal = true
			contributed = true
		}
		if m.Swelling > t.SwellingWarningPct {
			contributed = true
		}
		if contributed {
			modulesMask |= 1 << uint(i)
		}
	}
	if s.DTDtMax > t.DtDtEmergency {
		isEmergencyDirect = true
	}
	if thermal {
		mask |= uint8(CategoryThermal)
	}

	// ── GAS ────────────────────────────────────────────────────────────────
	worstGas := math.Min(s.GasRatio1, s.GasRatio2)
	if worstGas < t.GasWarningRatio {
		mask |= uint8(CategoryGas)
	}

	// ── PRESSURE ─────────────────────────────────────────────────────────────
	worstPressure := math.Max(s.PressureDelta1HPa, s.PressureDelta2HPa)
	if worstPressure > t.PressureWarningHPa {
		mask |= uint8(CategoryPressure)
	}

	// ── SWELLING ─────────────────────────────────────────────────────────────
	for _, m := range s.Modules {
		if m.Swelling > t.SwellingWarningPct {
			mask |= uint8(CategorySwelling)
			break
		}
	}

	hotspot := selectHotspotModule(s)

	r := Result{
		ActiveMask:         mask,
		ActiveCount:        popcount(mask),
		IsShortCircuit:     isShort,
		IsEmergencyDirect:  isEmergencyDirect,
		HotspotModule:      hotspot,
		AnomalyModulesMask: modulesMask,
		CascadeStage:       cascadeStage(s.TCoreEstC),
	}
	r.RiskFactor = computeRiskFactor(s, t)
	return r
}

// selectHotspotModule returns the 1-based index of the module with the
// highest surface temperature, lower index wins ties, or 0 if no module
// exceeds ambient + epsilonHotspot (§4.2).
func selectHotspotModule(s *model.PackSnapshot) int {
	best := -1
	var bestTemp float64
	for i, m := range s.Modules {
		h := m.HotterNTC()
		if h <= s.AmbientC+epsilonHotspot {
			continue
		}
		if best == -1 || h > bestTemp {
			best = i
			bestTemp = h
		}
	}
	if best == -1 {
		return 0
	}
	return best + 1
}

// moduleGroupDeviationExceeds reports whether any single group voltage
// deviates from its module's mean by more than limitMV (full-pack-only
// pack-wide check, §4.2).
func moduleGroupDeviationExceeds(s *model.PackSnapshot, limitMV float64) bool {
	for _, m := range s.Modules {
		if len(m.GroupVoltagesV) == 0 {
			continue
		}
		mean := m.ModuleVoltage / float64(len(m.GroupVoltagesV))
		for _, v := range m.GroupVoltagesV {
			if math.Abs(v-mean)*1000.0 > limitMV {
				return true
			}
		}
	}
	return false
}

// cascadeStage maps core temperature to the 0..6 thermal cascade stage
// (§4.2 cascade table).
func cascadeStage(tCoreC float64) int {
	switch {
	case tCoreC <= 60:
		return 0
	case tCoreC <= 100:
		return 1
	case tCoreC <= 140:
		return 2
	case tCoreC <= 180:
		return 3
	case tCoreC <= 250:
		return 4
	case tCoreC <= 350:
		return 5
	default:
		return 6
	}
}
