// Package scheduler — scheduler_test.go
//
// Test coverage:
//   - New(): boot state runs on the fallback snapshot, in the NORMAL
//     correlation state, with no external input
//   - Tick(): fast/medium/slow loops fire in fixed-tick, cooperative
//     fashion; a slow-loop burst sends one pack frame + one frame per
//     module through the transport
//   - pollInput(): a completed external-input cycle overrides the
//     fallback producer, and EXTERNAL_INPUT_TIMEOUT reverts to it,
//     logged exactly once
//   - applyCorrelationSideEffects(): EMERGENCY drives relay disconnect
//     and a buzzer pulse
package scheduler_test

import (
	"testing"

	"github.com/battsafe/battsafe-core/internal/correlation"
	"github.com/battsafe/battsafe-core/internal/model"
	"github.com/battsafe/battsafe-core/internal/scheduler"
	"github.com/battsafe/battsafe-core/internal/transport"
	"github.com/battsafe/battsafe-core/internal/wire"
)

type fakeOutputs struct {
	ledState        uint8
	disconnectCalls int
	connectCalls    int
	buzzerPulses    []int
}

func (f *fakeOutputs) SetStateLEDs(state uint8) { f.ledState = state }
func (f *fakeOutputs) RelayDisconnect()         { f.disconnectCalls++ }
func (f *fakeOutputs) RelayConnect()            { f.connectCalls++ }
func (f *fakeOutputs) BuzzerPulse(ms int)       { f.buzzerPulses = append(f.buzzerPulses, ms) }

type fakeLogger struct {
	lines []string
}

func (f *fakeLogger) Line(s string) { f.lines = append(f.lines, s) }

type fakeClock struct{ ms uint64 }

func (c *fakeClock) UptimeMS() uint64 { return c.ms }

func testConfig(g model.Geometry, tr transport.Transport, out *fakeOutputs, log *fakeLogger) scheduler.Config {
	return scheduler.Config{
		Geometry:   g,
		Thresholds: model.DefaultThresholds(),
		TickMS:     10,
		Normal:     scheduler.Profile{FastMS: 100, MediumMS: 500, SlowMS: 5000},
		Alert:      scheduler.Profile{FastMS: 20, MediumMS: 100, SlowMS: 1000},
		ExternalActiveSlowMS:   1000,
		ExternalInputTimeoutMS: 1000,
		HoldWindows: correlation.HoldWindows{
			CriticalHoldMS:     1000,
			DeescalationHoldMS: 1000,
			RecoveryHoldMS:     1000,
		},
		RxBufSize: 256,
		Transport: tr,
		Clock:     &fakeClock{},
		Outputs:   out,
		Logger:    log,
	}
}

func TestScheduler_New_StartsOnFallbackDataInNormalProfile(t *testing.T) {
	g := model.PrototypeGeometry()
	tr := transport.NewMemoryTransport()
	out := &fakeOutputs{}
	log := &fakeLogger{}
	s := scheduler.New(testConfig(g, tr, out, log))

	if s.Snapshot().PackVoltageV != 48.0 {
		t.Errorf("expected fallback pack_voltage_v=48.0, got %v", s.Snapshot().PackVoltageV)
	}
	if s.CorrelationState() != correlation.StateNormal {
		t.Errorf("expected initial state NORMAL, got %s", s.CorrelationState())
	}
	if s.UsingExternalInput() {
		t.Error("expected UsingExternalInput=false before any input arrives")
	}
}

func TestScheduler_Tick_SlowLoopSendsPackThenOneFramePerModule(t *testing.T) {
	g := model.PrototypeGeometry()
	tr := transport.NewMemoryTransport()
	out := &fakeOutputs{}
	log := &fakeLogger{}
	s := scheduler.New(testConfig(g, tr, out, log))

	// Reset() arms every deadline at t=0, so the very next Tick() fires all
	// three loops (fast, medium, slow).
	s.Tick()

	sent := tr.Sent()
	wantFrames := 1 + g.NumModules
	if len(sent) != wantFrames {
		t.Fatalf("expected %d frames sent (1 pack + %d modules), got %d", wantFrames, g.NumModules, len(sent))
	}
	if sent[0][0] != wire.OutputSync || sent[0][2] != wire.TypePack {
		t.Errorf("expected first frame to be a pack frame, got sync=0x%02X type=0x%02X", sent[0][0], sent[0][2])
	}
	for i := 1; i < len(sent); i++ {
		if sent[i][2] != wire.TypeModule {
			t.Errorf("frame %d: expected module frame type, got 0x%02X", i, sent[i][2])
		}
	}
}

func TestScheduler_FastLoop_ShortCircuitEscalatesImmediately(t *testing.T) {
	g := model.PrototypeGeometry()
	tr := transport.NewMemoryTransport()
	out := &fakeOutputs{}
	log := &fakeLogger{}
	cfg := testConfig(g, tr, out, log)
	s := scheduler.New(cfg)

	tr.Feed(buildShortCircuitInputCycle(g)...)
	s.Tick() // fast/medium/slow all fire at t=10ms; input drained first

	if !s.LastAnomaly().IsShortCircuit {
		t.Fatal("expected short-circuit flag set after a short-circuit input cycle")
	}
	if s.CorrelationState() != correlation.StateEmergency {
		t.Fatalf("expected EMERGENCY on short-circuit, got %s", s.CorrelationState())
	}
	if out.disconnectCalls == 0 {
		t.Error("expected RelayDisconnect called on EMERGENCY")
	}
	if len(out.buzzerPulses) == 0 {
		t.Error("expected a buzzer pulse on EMERGENCY")
	}
}

func TestScheduler_PollInput_ExternalTimeoutRevertsToFallbackOnce(t *testing.T) {
	g := model.PrototypeGeometry()
	tr := transport.NewMemoryTransport()
	out := &fakeOutputs{}
	log := &fakeLogger{}
	cfg := testConfig(g, tr, out, log)
	cfg.ExternalInputTimeoutMS = 20
	s := scheduler.New(cfg)

	tr.Feed(buildNominalInputCycle(g)...)
	s.Tick()
	if !s.UsingExternalInput() {
		t.Fatal("expected UsingExternalInput=true right after a completed input cycle")
	}

	// Advance past the timeout with no further input.
	s.Tick()
	s.Tick()
	s.Tick()

	if s.UsingExternalInput() {
		t.Fatal("expected UsingExternalInput=false after EXTERNAL_INPUT_TIMEOUT elapses")
	}

	timeoutLines := 0
	for _, l := range log.lines {
		if l == "external input timeout: reverting to fallback producer" {
			timeoutLines++
		}
	}
	if timeoutLines != 1 {
		t.Errorf("expected the timeout transition logged exactly once, got %d", timeoutLines)
	}
}

func buildNominalInputCycle(g model.Geometry) []byte {
	var out []byte
	out = append(out, wire.EncodeInputPack(wire.InputPackFields{
		PackVoltageV: 48.0, PackCurrentA: 2.0, RInternalMOhm: 30.0, AmbientC: 25.0,
		GasRatio1: 1.0, GasRatio2: 1.0,
	})...)
	for i := 0; i < g.NumModules; i++ {
		m := model.ModuleData{NTC1C: 25.0, NTC2C: 25.1, GroupVoltagesV: make([]float64, g.GroupsPerModule)}
		for j := range m.GroupVoltagesV {
			m.GroupVoltagesV[j] = 3.2
		}
		out = append(out, wire.EncodeInputModule(i, m)...)
	}
	return out
}

func buildShortCircuitInputCycle(g model.Geometry) []byte {
	var out []byte
	out = append(out, wire.EncodeInputPack(wire.InputPackFields{
		PackVoltageV: 48.0, PackCurrentA: model.DefaultThresholds().CurrentShortA + 10, RInternalMOhm: 30.0,
		AmbientC: 25.0, GasRatio1: 1.0, GasRatio2: 1.0, ShortCircuit: true,
	})...)
	for i := 0; i < g.NumModules; i++ {
		m := model.ModuleData{NTC1C: 25.0, NTC2C: 25.1, GroupVoltagesV: make([]float64, g.GroupsPerModule)}
		for j := range m.GroupVoltagesV {
			m.GroupVoltagesV[j] = 3.2
		}
		out = append(out, wire.EncodeInputModule(i, m)...)
	}
	return out
}
