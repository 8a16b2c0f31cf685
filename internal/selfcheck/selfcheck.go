// Package selfcheck implements the boot-time invariant validation that
// gates the relay safety-arm latch (§4.4): frame-size assertions,
// threshold ordering, and a functional encode/decode probe.
//
// Grounded on octoreflex's internal/bpf/events.go init()-time sizeof
// assertion (here: frame-size constant checks) and internal/config.go's
// Validate-then-fail-safe pattern (here: the arm latch stays cleared
// rather than the process exiting).
package selfcheck

import (
	"fmt"

	"github.com/battsafe/battsafe-core/internal/anomaly"
	"github.com/battsafe/battsafe-core/internal/correlation"
	"github.com/battsafe/battsafe-core/internal/model"
	"github.com/battsafe/battsafe-core/internal/wire"
)

// Report is the result of one self-check run.
type Report struct {
	Passed bool
	Errors []string
}

// Run executes every check in §4.4 against the given geometry and
// thresholds: frame-size self-assertion, threshold ordering, and a
// functional pack encode/decode round-trip probe. It never panics; every
// failure is collected into the returned Report.
func Run(g model.Geometry, t model.Thresholds) Report {
	var errs []string

	if err := g.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if wire.PackFrameSize != 38 {
		errs = append(errs, fmt.Sprintf("selfcheck: wire.PackFrameSize changed to %d, expected 38", wire.PackFrameSize))
	}
	if wire.ModuleFrameSize != 17 {
		errs = append(errs, fmt.Sprintf("selfcheck: wire.ModuleFrameSize changed to %d, expected 17", wire.ModuleFrameSize))
	}

	if err := t.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if err := probeEncodeDecode(g, t); err != nil {
		errs = append(errs, err.Error())
	}

	return Report{Passed: len(errs) == 0, Errors: errs}
}

// probeEncodeDecode encodes a nominal snapshot through the pack encoder
// and validates the resulting bytes through the decoder (§4.4 "A
// functional probe").
func probeEncodeDecode(g model.Geometry, t model.Thresholds) error {
	s := model.NewPackSnapshot(g)
	s.PackVoltageV = 48.0
	s.PackCurrentA = 2.0
	s.RInternalMOhm = 30.0
	s.AmbientC = 25.0
	s.GasRatio1, s.GasRatio2 = 1.0, 1.0
	for i := range s.Modules {
		s.Modules[i].NTC1C = 25.0
		s.Modules[i].NTC2C = 25.1
		for j := range s.Modules[i].GroupVoltagesV {
			s.Modules[i].GroupVoltagesV[j] = 3.2
		}
	}
	s.RecomputeDerived(t.RThermalCW)

	result := anomaly.Evaluate(s, t)

	frame := wire.EncodePack(wire.PackFields{
		TimestampMS: 0,
		Snapshot:    s,
		Anomaly:     result,
		State:       correlation.StateNormal,
	})
	if err := wire.Validate(frame, wire.OutputSync, wire.PackFrameSize); err != nil {
		return fmt.Errorf("selfcheck: probe frame failed validation: %w", err)
	}
	decoded, err := wire.DecodePack(frame)
	if err != nil {
		return fmt.Errorf("selfcheck: probe frame failed to decode: %w", err)
	}
	wantDV := uint16(s.PackVoltageV*10 + 0.5)
	if decoded.PackVoltageDV != wantDV {
		return fmt.Errorf("selfcheck: probe round-trip mismatch: pack_voltage_dv got %d want %d", decoded.PackVoltageDV, wantDV)
	}
	return nil
}

// ArmLatch is the process-wide relay safety-arm flag (§5): a write-once-
// at-boot latch gated by a passing self-check, with a single reset
// operation, readable from any component. There is exactly one instance
// per process; cmd/battsafe-agent owns it and threads a pointer to
// whatever component needs to read or reset it.
type ArmLatch struct {
	armed bool
}

// Arm sets the latch if report passed, else leaves it (or resets it to)
// disarmed. Safe to call multiple times; only a passing report can arm.
func (l *ArmLatch) Arm(report Report) {
	l.armed = report.Passed
}

// Armed reports whether the relay connect path is currently armed.
func (l *ArmLatch) Armed() bool { return l.armed }

// Reset disarms the latch unconditionally. The only externally exposed
// reset operation (§5); re-arming requires another passing self-check.
func (l *ArmLatch) Reset() { l.armed = false }
