// Package selfcheck — selfcheck_test.go
//
// Test coverage:
//   - Run() passes on a valid geometry + default thresholds
//   - Run() fails and reports an error on invalid geometry
//   - Run() fails and reports an error on out-of-order thresholds
//   - ArmLatch: Arm only engages on a passing report, Reset always clears
package selfcheck_test

import (
	"testing"

	"github.com/battsafe/battsafe-core/internal/model"
	"github.com/battsafe/battsafe-core/internal/selfcheck"
)

func TestRun_PassesOnValidGeometryAndDefaultThresholds(t *testing.T) {
	report := selfcheck.Run(model.FullPackGeometry(), model.DefaultThresholds())
	if !report.Passed {
		t.Fatalf("expected self-check to pass, got errors: %v", report.Errors)
	}
	if len(report.Errors) != 0 {
		t.Errorf("expected no errors on a passing report, got %v", report.Errors)
	}
}

func TestRun_PassesForPrototypeGeometry(t *testing.T) {
	report := selfcheck.Run(model.PrototypeGeometry(), model.DefaultThresholds())
	if !report.Passed {
		t.Fatalf("expected self-check to pass for the prototype geometry, got errors: %v", report.Errors)
	}
}

func TestRun_FailsOnInvalidGeometry(t *testing.T) {
	bad := model.Geometry{NumModules: 0, GroupsPerModule: 4, Parallel: 1}
	report := selfcheck.Run(bad, model.DefaultThresholds())
	if report.Passed {
		t.Fatal("expected self-check to fail on zero-module geometry")
	}
	if len(report.Errors) == 0 {
		t.Error("expected at least one error message on a failing report")
	}
}

func TestRun_FailsOnOutOfOrderThresholds(t *testing.T) {
	th := model.DefaultThresholds()
	th.TempCriticalC = th.TempWarningC - 1
	report := selfcheck.Run(model.FullPackGeometry(), th)
	if report.Passed {
		t.Fatal("expected self-check to fail on out-of-order thresholds")
	}
}

func TestArmLatch_ArmOnlyEngagesOnPassingReport(t *testing.T) {
	var latch selfcheck.ArmLatch

	latch.Arm(selfcheck.Report{Passed: false, Errors: []string{"boom"}})
	if latch.Armed() {
		t.Fatal("expected latch to stay disarmed after a failing report")
	}

	latch.Arm(selfcheck.Report{Passed: true})
	if !latch.Armed() {
		t.Fatal("expected latch to arm after a passing report")
	}
}

func TestArmLatch_ResetAlwaysDisarms(t *testing.T) {
	var latch selfcheck.ArmLatch
	latch.Arm(selfcheck.Report{Passed: true})
	latch.Reset()
	if latch.Armed() {
		t.Fatal("expected Reset to unconditionally disarm the latch")
	}
}
