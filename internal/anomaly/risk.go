package anomaly

import (
	"math"

	"github.com/battsafe/battsafe-core/internal/model"
)

// riskWeights are the fixed coefficients of the bounded affine combination
// §4.2 requires for RiskFactor. They sum to 1.0 so the unclamped value is
// already a weighted average of five [0,1] sub-scores; clamping below only
// guards against pathological inputs (e.g. ambient > hotspot).
//
// Grounded on octoreflex's escalation.Weights / ComputeSeverity pattern
// (internal/escalation/severity.go): a small fixed-weight struct and a
// pure function combining independent normalized signals into one score.
type riskWeights struct {
	temperature float64
	rateOfRise  float64
	gas         float64
	pressure    float64
	swelling    float64
}

func defaultRiskWeights() riskWeights {
	return riskWeights{
		temperature: 0.35,
		rateOfRise:  0.25,
		gas:         0.15,
		pressure:    0.15,
		swelling:    0.10,
	}
}

// computeRiskFactor computes the bounded [0,1] risk factor from five
// normalized sub-scores (§4.2 "Risk factor").
func computeRiskFactor(s *model.PackSnapshot, t model.Thresholds) float64 {
	w := defaultRiskWeights()

	tempSpan := t.TempCriticalC - s.AmbientC
	tempNorm := 0.0
	if tempSpan > 0 {
		tempNorm = clamp01((s.HotspotTempC - s.AmbientC) / tempSpan)
	}

	dtdtNorm := 0.0
	if t.DtDtEmergency > 0 {
		dtdtNorm = clamp01(s.DTDtMax / t.DtDtEmergency)
	}

	worstGas := math.Min(s.GasRatio1, s.GasRatio2)
	gasNorm := 0.0
	if t.GasWarningRatio > 0 {
		gasNorm = clamp01(1.0 - worstGas/t.GasWarningRatio)
	}

	worstPressure := math.Max(s.PressureDelta1HPa, s.PressureDelta2HPa)
	pressureNorm := 0.0
	if t.PressureCriticalHPa > 0 {
		pressureNorm = clamp01(worstPressure / t.PressureCriticalHPa)
	}

	maxSwelling := 0.0
	for i, m := range s.Modules {
		if i == 0 || m.Swelling > maxSwelling {
			maxSwelling = m.Swelling
		}
	}
	swellingNorm := clamp01(maxSwelling / 100.0)

	risk := w.temperature*tempNorm +
		w.rateOfRise*dtdtNorm +
		w.gas*gasNorm +
		w.pressure*pressureNorm +
		w.swelling*swellingNorm

	return clamp01(risk)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
