package model

import "math"

// ModuleData is the per-module sensor block (§3 "ModuleData").
type ModuleData struct {
	NTC1C    float64 // surface temperature, sensor 1, °C
	NTC2C    float64 // surface temperature, sensor 2, °C
	Swelling float64 // swelling_pct, [0, 100]
	MaxDTDt  float64 // max_dt_dt, >= 0, °C/min (the rate-of-rise unit documented on Thresholds)

	// GroupVoltagesV holds one voltage per series group, each in ~[2.5, 3.7] V.
	// Length is always Geometry.GroupsPerModule for the snapshot this module
	// belongs to.
	GroupVoltagesV []float64

	// Derived fields, recomputed by PackSnapshot.RecomputeDerived (run by
	// anomaly.Evaluate) whenever the raw fields above change. Zero until the first pre-pass runs.
	DeltaTIntra   float64 // |NTC1C - NTC2C|
	ModuleVoltage float64 // sum of GroupVoltagesV
	VSpreadMV     float64 // (max-min) of GroupVoltagesV, in millivolts
}

// HotterNTC returns the higher of the module's two surface temperatures —
// the value used pack-wide for hotspot selection.
func (m *ModuleData) HotterNTC() float64 {
	if m.NTC1C > m.NTC2C {
		return m.NTC1C
	}
	return m.NTC2C
}

// recomputeDerived fills DeltaTIntra, ModuleVoltage and VSpreadMV from the
// raw fields. Called by the evaluator's derived-metric pre-pass.
func (m *ModuleData) recomputeDerived() {
	m.DeltaTIntra = math.Abs(m.NTC1C - m.NTC2C)

	var sum, lo, hi float64
	for i, v := range m.GroupVoltagesV {
		sum += v
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	m.ModuleVoltage = sum
	if len(m.GroupVoltagesV) > 0 {
		m.VSpreadMV = (hi - lo) * 1000.0
	} else {
		m.VSpreadMV = 0
	}
}

// PackSnapshot is one fully populated pack state for one medium cycle
// (§3 "PackSnapshot").
type PackSnapshot struct {
	Geometry Geometry

	// Electrical.
	PackVoltageV  float64 // >= 0
	PackCurrentA  float64 // signed
	RInternalMOhm float64 // >= 0
	DRDtMOhmPerS  float64 // signed; derived by the scheduler's medium loop

	// Environment.
	AmbientC      float64
	CoolantInletC float64
	CoolantOutC   float64
	HumidityPct   float64 // [0, 100]
	IsolationMOhm float64 // >= 0

	// Gas / pressure.
	GasRatio1         float64 // [0, ~1.2]
	GasRatio2         float64 // [0, ~1.2]
	PressureDelta1HPa float64 // signed
	PressureDelta2HPa float64 // signed

	Modules []ModuleData // length == Geometry.NumModules

	// Derived, filled by the evaluator's pre-pass.
	HotspotTempC  float64
	TempSpreadC   float64
	VSpreadMV     float64 // pack-wide group voltage spread, millivolts
	TCoreEstC     float64
	DTDtMax       float64

	// Transient flag, set by the fast loop from current magnitude or an
	// external signal, cleared each cycle before re-evaluation.
	ShortCircuit bool
}

// NewPackSnapshot allocates a zeroed snapshot with Modules sized for the
// given geometry, each module's GroupVoltagesV sized for GroupsPerModule.
func NewPackSnapshot(g Geometry) *PackSnapshot {
	mods := make([]ModuleData, g.NumModules)
	for i := range mods {
		mods[i].GroupVoltagesV = make([]float64, g.GroupsPerModule)
	}
	return &PackSnapshot{Geometry: g, Modules: mods}
}

// RecomputeDerived recomputes every derived field: per-module intra-ΔT,
// module voltage and spread, then the pack-wide hotspot/spread/core-temp
// values. It must run before category evaluation whenever raw fields
// change (§4.2 "Derived-metric pre-pass").
//
// rThermalCW (Thresholds.RThermalCW) and s.Geometry.Parallel feed the
// core-temperature estimate; see Thresholds for the calibration constant.
func (s *PackSnapshot) RecomputeDerived(rThermalCW float64) {
	for i := range s.Modules {
		s.Modules[i].recomputeDerived()
	}

	var hotspot, lo, hi float64
	for i, m := range s.Modules {
		h := m.HotterNTC()
		if i == 0 || h > hotspot {
			hotspot = h
		}
		if i == 0 || h < lo {
			lo = h
		}
		if i == 0 || h > hi {
			hi = h
		}
	}
	s.HotspotTempC = hotspot
	s.TempSpreadC = hi - lo

	var vlo, vhi float64
	first := true
	for _, m := range s.Modules {
		for _, v := range m.GroupVoltagesV {
			if first {
				vlo, vhi = v, v
				first = false
				continue
			}
			if v < vlo {
				vlo = v
			}
			if v > vhi {
				vhi = v
			}
		}
	}
	if !first {
		s.VSpreadMV = (vhi - vlo) * 1000.0
	} else {
		s.VSpreadMV = 0
	}

	var dtMax float64
	for i, m := range s.Modules {
		if i == 0 || m.MaxDTDt > dtMax {
			dtMax = m.MaxDTDt
		}
	}
	s.DTDtMax = dtMax

	// t_core_est_c = hotspot + I_cell^2 * R_int(ohm) * R_thermal_cw
	parallel := s.Geometry.Parallel
	if parallel < 1 {
		parallel = 1
	}
	iCell := s.PackCurrentA / float64(parallel)
	rIntOhm := s.RInternalMOhm / 1000.0
	s.TCoreEstC = s.HotspotTempC + iCell*iCell*rIntOhm*rThermalCW
}
