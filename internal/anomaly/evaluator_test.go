// Package anomaly — evaluator_test.go
//
// Test coverage:
//   - Evaluate(): nominal snapshot produces an empty active mask
//   - Electrical category: undervoltage, overcurrent, short-circuit and
//     direct-emergency current bypass flags
//   - Thermal category: warning threshold, emergency direct bypass,
//     hotspot-module selection with deterministic lower-index tie-break
//   - Gas/pressure/swelling category triggers
//   - RiskFactor: bounded [0,1], monotonic in hotspot temperature
//   - Result.Validate(): active_count/popcount and hotspot_module range
//     invariants
package anomaly_test

import (
	"testing"

	"github.com/battsafe/battsafe-core/internal/anomaly"
	"github.com/battsafe/battsafe-core/internal/model"
)

func nominalSnapshot(g model.Geometry) *model.PackSnapshot {
	s := model.NewPackSnapshot(g)
	s.PackVoltageV = 48.0
	s.PackCurrentA = 2.0
	s.RInternalMOhm = 30.0
	s.AmbientC = 25.0
	s.GasRatio1, s.GasRatio2 = 1.0, 1.0
	for i := range s.Modules {
		s.Modules[i].NTC1C = 25.0
		s.Modules[i].NTC2C = 25.2
		for j := range s.Modules[i].GroupVoltagesV {
			s.Modules[i].GroupVoltagesV[j] = 3.2
		}
	}
	return s
}

func TestEvaluate_NominalSnapshotHasNoActiveCategory(t *testing.T) {
	t0 := model.DefaultThresholds()
	s := nominalSnapshot(model.FullPackGeometry())
	r := anomaly.Evaluate(s, t0)

	if r.ActiveMask != 0 {
		t.Errorf("expected empty active mask, got 0x%02X", r.ActiveMask)
	}
	if r.IsShortCircuit || r.IsEmergencyDirect {
		t.Error("expected no short-circuit/emergency-direct flags on nominal input")
	}
	if r.HotspotModule != 0 {
		t.Errorf("expected hotspot_module=0 (no module exceeds ambient+epsilon), got %d", r.HotspotModule)
	}
}

func TestEvaluate_UndervoltageSetsElectrical(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.PackVoltageV = th.VoltageLowV - 1

	r := anomaly.Evaluate(s, th)
	if r.ActiveMask&uint8(anomaly.CategoryElectrical) == 0 {
		t.Error("expected ELECTRICAL category active on undervoltage")
	}
}

func TestEvaluate_ShortCircuitSetsFlagAndElectrical(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.PackCurrentA = th.CurrentShortA + 1

	r := anomaly.Evaluate(s, th)
	if !r.IsShortCircuit {
		t.Error("expected is_short_circuit true above current_short_a")
	}
	if r.ActiveMask&uint8(anomaly.CategoryElectrical) == 0 {
		t.Error("expected ELECTRICAL category active on short-circuit current")
	}
}

func TestEvaluate_EmergencyCurrentSetsDirectBypass(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.PackCurrentA = th.CurrentEmergencyA + 1

	r := anomaly.Evaluate(s, th)
	if !r.IsEmergencyDirect {
		t.Error("expected is_emergency_direct true above current_emergency_a")
	}
}

func TestEvaluate_ThermalEmergencyTemperatureSetsDirectBypass(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.Modules[0].NTC1C = th.TempEmergencyC + 1

	r := anomaly.Evaluate(s, th)
	if !r.IsEmergencyDirect {
		t.Error("expected is_emergency_direct true above temp_emergency_c")
	}
	if r.ActiveMask&uint8(anomaly.CategoryThermal) == 0 {
		t.Error("expected THERMAL category active")
	}
}

func TestEvaluate_HotspotSelection_HigherTempLowerIndexWinsTie(t *testing.T) {
	th := model.DefaultThresholds()
	g := model.FullPackGeometry()
	s := nominalSnapshot(g)
	s.Modules[2].NTC1C, s.Modules[2].NTC2C = 50.0, 50.0
	s.Modules[5].NTC1C, s.Modules[5].NTC2C = 50.0, 50.0 // tie with module 2

	r := anomaly.Evaluate(s, th)
	if r.HotspotModule != 3 { // 1-based: module index 2 -> hotspot_module 3
		t.Errorf("expected hotspot_module=3 (lower index wins tie), got %d", r.HotspotModule)
	}
}

func TestEvaluate_GasRatioBelowWarningSetsGasCategory(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.GasRatio1 = th.GasWarningRatio - 0.01
	s.GasRatio2 = 1.0

	r := anomaly.Evaluate(s, th)
	if r.ActiveMask&uint8(anomaly.CategoryGas) == 0 {
		t.Error("expected GAS category active when worst gas ratio drops below warning")
	}
}

func TestEvaluate_PressureDeltaAbovewarningSetsPressureCategory(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.PressureDelta1HPa = th.PressureWarningHPa + 1

	r := anomaly.Evaluate(s, th)
	if r.ActiveMask&uint8(anomaly.CategoryPressure) == 0 {
		t.Error("expected PRESSURE category active above pressure_warning_hpa")
	}
}

func TestEvaluate_SwellingAboveWarningSetsSwellingCategory(t *testing.T) {
	th := model.DefaultThresholds()
	s := nominalSnapshot(model.PrototypeGeometry())
	s.Modules[0].Swelling = th.SwellingWarningPct + 1

	r := anomaly.Evaluate(s, th)
	if r.ActiveMask&uint8(anomaly.CategorySwelling) == 0 {
		t.Error("expected SWELLING category active above swelling_warning_pct")
	}
}

func TestEvaluate_RiskFactorBoundedAndMonotonicInHotspotTemp(t *testing.T) {
	th := model.DefaultThresholds()
	cool := nominalSnapshot(model.PrototypeGeometry())
	hot := nominalSnapshot(model.PrototypeGeometry())
	hot.Modules[0].NTC1C, hot.Modules[0].NTC2C = 65.0, 65.0

	rCool := anomaly.Evaluate(cool, th)
	rHot := anomaly.Evaluate(hot, th)

	for _, v := range []float64{rCool.RiskFactor, rHot.RiskFactor} {
		if v < 0 || v > 1 {
			t.Fatalf("risk_factor out of [0,1] bounds: %v", v)
		}
	}
	if rHot.RiskFactor <= rCool.RiskFactor {
		t.Errorf("expected risk_factor to increase with hotspot temperature: cool=%v hot=%v", rCool.RiskFactor, rHot.RiskFactor)
	}
}

func TestResult_ValidateRejectsMismatchedActiveCount(t *testing.T) {
	r := anomaly.Result{ActiveMask: 0b011, ActiveCount: 1}
	if err := r.Validate(8); err == nil {
		t.Fatal("expected active_count/popcount mismatch error")
	}
}

func TestResult_ValidateRejectsOutOfRangeHotspot(t *testing.T) {
	r := anomaly.Result{HotspotModule: 9}
	if err := r.Validate(8); err == nil {
		t.Fatal("expected out-of-range hotspot_module error")
	}
}
