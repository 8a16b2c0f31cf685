package wire

import (
	"github.com/battsafe/battsafe-core/internal/anomaly"
	"github.com/battsafe/battsafe-core/internal/correlation"
	"github.com/battsafe/battsafe-core/internal/model"
)

// PackFields is the set of scaled/clamped inputs EncodePack needs. The
// scheduler's slow loop builds one of these from the working snapshot,
// the latest AnomalyResult and the correlation state each burst (§4.1).
type PackFields struct {
	TimestampMS uint32
	Snapshot    *model.PackSnapshot
	Anomaly     anomaly.Result
	State       correlation.State
}

// EncodePack encodes one pack summary frame (§4.6 field table). The
// result is always exactly PackFrameSize bytes.
func EncodePack(f PackFields) []byte {
	buf := make([]byte, 0, PackFrameSize)
	buf = append(buf, OutputSync, byte(PackFrameSize), TypePack)

	s := f.Snapshot
	buf = putU32LE(buf, f.TimestampMS)
	buf = putU16LE(buf, clampU16(s.PackVoltageV*10))
	buf = putI16LE(buf, clampI16(s.PackCurrentA*10))
	buf = putU16LE(buf, clampU16(s.RInternalMOhm*100))
	buf = putI16LE(buf, clampI16(s.HotspotTempC*10))
	buf = putI16LE(buf, clampI16(s.AmbientC*10))
	buf = putI16LE(buf, clampI16(s.TCoreEstC*10))
	buf = append(buf, clampU8(s.DTDtMax*100))
	buf = append(buf, clampU8(s.GasRatio1*100))
	buf = append(buf, clampU8(s.GasRatio2*100))
	buf = putI16LE(buf, clampI16(s.PressureDelta1HPa*100))
	buf = putI16LE(buf, clampI16(s.PressureDelta2HPa*100))
	buf = putU16LE(buf, clampU16(s.VSpreadMV*10))
	buf = append(buf, clampU8(s.TempSpreadC*10))
	buf = append(buf, byte(f.State))
	buf = append(buf, f.Anomaly.ActiveMask)
	buf = append(buf, clampU8(float64(f.Anomaly.ActiveCount)))
	buf = append(buf, byte(f.Anomaly.AnomalyModulesMask))
	buf = append(buf, clampU8(float64(f.Anomaly.HotspotModule)))
	buf = append(buf, clampU8(f.Anomaly.RiskFactor*100))
	buf = append(buf, clampU8(float64(f.Anomaly.CascadeStage)))

	var flags byte
	if f.Anomaly.IsEmergencyDirect {
		flags |= 1
	}
	buf = append(buf, flags)

	buf = append(buf, checksum(buf))
	return buf
}

// EncodeModule encodes one module detail frame (§4.6 field table). index
// is the 0-based module index. The result is always exactly
// ModuleFrameSize bytes.
func EncodeModule(index int, m model.ModuleData) []byte {
	buf := make([]byte, 0, ModuleFrameSize)
	buf = append(buf, OutputSync, byte(ModuleFrameSize), TypeModule)

	buf = append(buf, clampU8(float64(index)))
	buf = putI16LE(buf, clampI16(m.NTC1C*10))
	buf = putI16LE(buf, clampI16(m.NTC2C*10))
	buf = append(buf, clampU8(m.Swelling))
	buf = append(buf, clampU8(m.DeltaTIntra*10))
	buf = append(buf, clampU8(m.MaxDTDt*100))
	buf = putU16LE(buf, clampU16(m.ModuleVoltage*10))
	buf = putU16LE(buf, clampU16(m.VSpreadMV))
	buf = append(buf, 0) // reserved

	buf = append(buf, checksum(buf))
	return buf
}

// PackedFields is the decoded form of a validated pack frame, for use by
// the self-check's encode/decode round-trip probe (§4.4) and by tests.
type PackedFields struct {
	TimestampMS      uint32
	PackVoltageDV    uint16
	PackCurrentDA    int16
	RIntCMOhm        uint16
	MaxTempDT        int16
	AmbientTempDT    int16
	CoreTempEstDT    int16
	DTDtMaxCDPM      uint8
	GasRatio1CP      uint8
	GasRatio2CP      uint8
	PressureDelta1CH int16
	PressureDelta2CH int16
	VSpreadDMV       uint16
	TempSpreadDT     uint8
	SystemState      uint8
	AnomalyMask      uint8
	AnomalyCount     uint8
	AnomalyModules   uint8
	HotspotModule    uint8
	RiskFactorPct    uint8
	CascadeStage     uint8
	Flags            uint8
}

// DecodePack validates frame and decodes its payload into PackedFields.
func DecodePack(frame []byte) (PackedFields, error) {
	var p PackedFields
	if err := Validate(frame, OutputSync, PackFrameSize); err != nil {
		return p, err
	}
	b := frame[3:]
	p.TimestampMS = getU32LE(b[0:4])
	p.PackVoltageDV = getU16LE(b[4:6])
	p.PackCurrentDA = getI16LE(b[6:8])
	p.RIntCMOhm = getU16LE(b[8:10])
	p.MaxTempDT = getI16LE(b[10:12])
	p.AmbientTempDT = getI16LE(b[12:14])
	p.CoreTempEstDT = getI16LE(b[14:16])
	p.DTDtMaxCDPM = b[16]
	p.GasRatio1CP = b[17]
	p.GasRatio2CP = b[18]
	p.PressureDelta1CH = getI16LE(b[19:21])
	p.PressureDelta2CH = getI16LE(b[21:23])
	p.VSpreadDMV = getU16LE(b[23:25])
	p.TempSpreadDT = b[25]
	p.SystemState = b[26]
	p.AnomalyMask = b[27]
	p.AnomalyCount = b[28]
	p.AnomalyModules = b[29]
	p.HotspotModule = b[30]
	p.RiskFactorPct = b[31]
	p.CascadeStage = b[32]
	p.Flags = b[33]
	return p, nil
}

// DecodedModule is the decoded form of a validated module frame.
type DecodedModule struct {
	ModuleIndex    uint8
	NTC1DT         int16
	NTC2DT         int16
	SwellingPct    uint8
	DeltaTIntraDT  uint8
	MaxDTDtCDPM    uint8
	ModuleVoltDV   uint16
	VSpreadMV      uint16
}

// DecodeModule validates frame and decodes its payload into DecodedModule.
func DecodeModule(frame []byte) (DecodedModule, error) {
	var d DecodedModule
	if err := Validate(frame, OutputSync, ModuleFrameSize); err != nil {
		return d, err
	}
	b := frame[3:]
	d.ModuleIndex = b[0]
	d.NTC1DT = getI16LE(b[1:3])
	d.NTC2DT = getI16LE(b[3:5])
	d.SwellingPct = b[5]
	d.DeltaTIntraDT = b[6]
	d.MaxDTDtCDPM = b[7]
	d.ModuleVoltDV = getU16LE(b[8:10])
	d.VSpreadMV = getU16LE(b[10:12])
	// b[12] reserved
	return d, nil
}
