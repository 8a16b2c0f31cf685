// Package wire — encode_test.go
//
// Test coverage:
//   - EncodePack/DecodePack round-trip preserves every field, frame size
//     matches PackFrameSize exactly
//   - EncodeModule/DecodeModule round-trip, frame size matches
//     ModuleFrameSize exactly
//   - Validate(): bad sync byte, length mismatch, checksum mismatch
//   - Saturating clamp behaviour at the representable-range boundaries
//   - Input pack/module codec round-trip, including the geometry-
//     dependent module frame size
package wire_test

import (
	"testing"

	"github.com/battsafe/battsafe-core/internal/anomaly"
	"github.com/battsafe/battsafe-core/internal/correlation"
	"github.com/battsafe/battsafe-core/internal/model"
	"github.com/battsafe/battsafe-core/internal/wire"
)

func TestEncodePack_FrameSizeMatchesConstant(t *testing.T) {
	s := model.NewPackSnapshot(model.PrototypeGeometry())
	frame := wire.EncodePack(wire.PackFields{Snapshot: s})
	if len(frame) != wire.PackFrameSize {
		t.Fatalf("expected frame length %d, got %d", wire.PackFrameSize, len(frame))
	}
	if frame[1] != byte(wire.PackFrameSize) {
		t.Fatalf("expected length byte %d, got %d", wire.PackFrameSize, frame[1])
	}
}

func TestEncodePack_DecodePack_RoundTrip(t *testing.T) {
	s := model.NewPackSnapshot(model.PrototypeGeometry())
	s.PackVoltageV = 48.2
	s.PackCurrentA = -3.5
	s.RInternalMOhm = 32.75
	s.HotspotTempC = 61.0
	s.AmbientC = 24.0
	s.TCoreEstC = 70.0

	result := anomaly.Result{
		ActiveMask:         0b00101,
		ActiveCount:        2,
		AnomalyModulesMask: 1,
		HotspotModule:      1,
		RiskFactor:         0.42,
		CascadeStage:       3,
		IsEmergencyDirect:  true,
	}

	frame := wire.EncodePack(wire.PackFields{
		TimestampMS: 123456,
		Snapshot:    s,
		Anomaly:     result,
		State:       correlation.StateCritical,
	})

	if err := wire.Validate(frame, wire.OutputSync, wire.PackFrameSize); err != nil {
		t.Fatalf("expected frame to validate, got %v", err)
	}

	decoded, err := wire.DecodePack(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.TimestampMS != 123456 {
		t.Errorf("timestamp_ms: got %d, want 123456", decoded.TimestampMS)
	}
	if decoded.PackVoltageDV != 482 {
		t.Errorf("pack_voltage_dv: got %d, want 482", decoded.PackVoltageDV)
	}
	if decoded.PackCurrentDA != -35 {
		t.Errorf("pack_current_da: got %d, want -35", decoded.PackCurrentDA)
	}
	if decoded.SystemState != uint8(correlation.StateCritical) {
		t.Errorf("system_state: got %d, want %d", decoded.SystemState, correlation.StateCritical)
	}
	if decoded.AnomalyMask != 0b00101 {
		t.Errorf("anomaly_mask: got 0x%02X, want 0x05", decoded.AnomalyMask)
	}
	if decoded.Flags&1 == 0 {
		t.Error("expected flags bit0 (is_emergency_direct) set")
	}
}

func TestEncodeModule_DecodeModule_RoundTrip(t *testing.T) {
	m := model.ModuleData{
		NTC1C:          35.5,
		NTC2C:          36.0,
		Swelling:       4.0,
		DeltaTIntra:    0.5,
		MaxDTDt:        1.25,
		ModuleVoltage:  41.6,
		VSpreadMV:      12.0,
		GroupVoltagesV: []float64{3.2, 3.21, 3.2},
	}
	frame := wire.EncodeModule(2, m)
	if len(frame) != wire.ModuleFrameSize {
		t.Fatalf("expected frame length %d, got %d", wire.ModuleFrameSize, len(frame))
	}

	decoded, err := wire.DecodeModule(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.ModuleIndex != 2 {
		t.Errorf("module_index: got %d, want 2", decoded.ModuleIndex)
	}
	if decoded.NTC1DT != 355 {
		t.Errorf("ntc1_dt: got %d, want 355", decoded.NTC1DT)
	}
	if decoded.ModuleVoltDV != 416 {
		t.Errorf("module_voltage_dv: got %d, want 416", decoded.ModuleVoltDV)
	}
}

func TestValidate_BadSyncByte(t *testing.T) {
	frame := wire.EncodePack(wire.PackFields{Snapshot: model.NewPackSnapshot(model.PrototypeGeometry())})
	frame[0] = 0x00
	if err := wire.Validate(frame, wire.OutputSync, wire.PackFrameSize); err == nil {
		t.Fatal("expected error for bad sync byte")
	}
}

func TestValidate_LengthMismatch(t *testing.T) {
	frame := wire.EncodePack(wire.PackFields{Snapshot: model.NewPackSnapshot(model.PrototypeGeometry())})
	frame[1] = 0
	if err := wire.Validate(frame, wire.OutputSync, wire.PackFrameSize); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	frame := wire.EncodeModule(0, model.ModuleData{GroupVoltagesV: nil})
	frame[len(frame)-1] ^= 0xFF
	if err := wire.Validate(frame, wire.OutputSync, wire.ModuleFrameSize); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestEncodePack_SaturatesOutOfRangeVoltage(t *testing.T) {
	s := model.NewPackSnapshot(model.PrototypeGeometry())
	s.PackVoltageV = 10000.0 // far beyond u16/10 representable range
	frame := wire.EncodePack(wire.PackFields{Snapshot: s})
	decoded, err := wire.DecodePack(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.PackVoltageDV != 65535 {
		t.Errorf("expected saturated pack_voltage_dv=65535, got %d", decoded.PackVoltageDV)
	}
}

func TestEncodePack_SaturatesNegativeCurrentBelowI16Min(t *testing.T) {
	s := model.NewPackSnapshot(model.PrototypeGeometry())
	s.PackCurrentA = -5000.0
	frame := wire.EncodePack(wire.PackFields{Snapshot: s})
	decoded, err := wire.DecodePack(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.PackCurrentDA != -32768 {
		t.Errorf("expected saturated pack_current_da=-32768, got %d", decoded.PackCurrentDA)
	}
}

func TestInputPack_EncodeDecodeRoundTrip(t *testing.T) {
	f := wire.InputPackFields{
		PackVoltageV:  48.5,
		PackCurrentA:  2.2,
		RInternalMOhm: 28.0,
		AmbientC:      26.0,
		GasRatio1:     0.95,
		GasRatio2:     0.97,
		ShortCircuit:  true,
	}
	frame := wire.EncodeInputPack(f)
	if len(frame) != wire.InputPackFrameSize {
		t.Fatalf("expected frame length %d, got %d", wire.InputPackFrameSize, len(frame))
	}
	decoded, err := wire.DecodeInputPack(frame)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.PackVoltageV != 48.5 {
		t.Errorf("pack_voltage_v: got %v, want 48.5", decoded.PackVoltageV)
	}
	if !decoded.ShortCircuit {
		t.Error("expected short_circuit flag preserved")
	}
}

func TestInputModule_EncodeDecodeRoundTrip_VariesWithGeometry(t *testing.T) {
	m := model.ModuleData{
		NTC1C:          31.0,
		NTC2C:          31.5,
		Swelling:       2.0,
		GroupVoltagesV: []float64{3.30, 3.31, 3.29, 3.28},
	}
	frame := wire.EncodeInputModule(0, m)
	wantSize := wire.InputModuleFrameSize(4)
	if len(frame) != wantSize {
		t.Fatalf("expected frame length %d for 4 groups, got %d", wantSize, len(frame))
	}

	decoded, err := wire.DecodeInputModule(frame, 4)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(decoded.GroupVoltagesV) != 4 {
		t.Fatalf("expected 4 decoded group voltages, got %d", len(decoded.GroupVoltagesV))
	}
	if decoded.GroupVoltagesV[1] != 3.31 {
		t.Errorf("group_voltages[1]: got %v, want 3.31", decoded.GroupVoltagesV[1])
	}
}
