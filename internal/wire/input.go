package wire

import "github.com/battsafe/battsafe-core/internal/model"

// Input frame types (twin -> core), §4.5/§6. The field tables for the
// input protocol are not pinned by a byte-exact table the way the output
// protocol is (§4.6) — the source only fixes the common envelope (sync,
// length, type, payload, checksum) and leaves payload shape to the raw
// snapshot fields being carried. This implementation fixes a concrete
// layout (documented here and in DESIGN.md) so the receiver and its
// tests have one unambiguous wire shape to agree on.
const (
	InputTypePack   byte = 0x01
	InputTypeModule byte = 0x02
)

// InputPackFrameSize is the fixed total size of an input pack frame:
// 3-byte header + 22 payload bytes + 1 checksum byte. The pack frame
// never varies with geometry — only the module frame does (its payload
// grows with GroupsPerModule).
const InputPackFrameSize = 26

// InputModuleFrameSize returns the total size of an input module frame
// for a pack with the given number of series groups per module: 3-byte
// header + (6 + 2*groupsPerModule) payload bytes + 1 checksum byte.
func InputModuleFrameSize(groupsPerModule int) int {
	return 3 + 6 + 2*groupsPerModule + 1
}

// InputPackFields is the raw, unscaled subset of PackSnapshot carried by
// one input pack frame (everything except per-module data, which travels
// in separate module frames).
type InputPackFields struct {
	PackVoltageV      float64
	PackCurrentA      float64
	RInternalMOhm     float64
	AmbientC          float64
	CoolantInletC     float64
	CoolantOutC       float64
	HumidityPct       float64
	IsolationMOhm     float64
	GasRatio1         float64
	GasRatio2         float64
	PressureDelta1HPa float64
	PressureDelta2HPa float64
	ShortCircuit      bool
}

// EncodeInputPack encodes an input pack frame. Used by the digital-twin
// side of a loopback test fixture and by any in-process producer that
// exercises the receiver against the real wire format.
func EncodeInputPack(f InputPackFields) []byte {
	buf := make([]byte, 0, InputPackFrameSize)
	buf = append(buf, InputSync, byte(InputPackFrameSize), InputTypePack)

	buf = putU16LE(buf, clampU16(f.PackVoltageV*10))
	buf = putI16LE(buf, clampI16(f.PackCurrentA*10))
	buf = putU16LE(buf, clampU16(f.RInternalMOhm*100))
	buf = putI16LE(buf, clampI16(f.AmbientC*10))
	buf = putI16LE(buf, clampI16(f.CoolantInletC*10))
	buf = putI16LE(buf, clampI16(f.CoolantOutC*10))
	buf = append(buf, clampU8(f.HumidityPct))
	buf = putU16LE(buf, clampU16(f.IsolationMOhm))
	buf = append(buf, clampU8(f.GasRatio1*100))
	buf = append(buf, clampU8(f.GasRatio2*100))
	buf = putI16LE(buf, clampI16(f.PressureDelta1HPa*100))
	buf = putI16LE(buf, clampI16(f.PressureDelta2HPa*100))

	var flags byte
	if f.ShortCircuit {
		flags = 1
	}
	buf = append(buf, flags)

	buf = append(buf, checksum(buf))
	return buf
}

// DecodeInputPack validates frame against InputSync/InputPackFrameSize and
// decodes its payload back into the snapshot's raw pack fields.
func DecodeInputPack(frame []byte) (InputPackFields, error) {
	var f InputPackFields
	if err := Validate(frame, InputSync, InputPackFrameSize); err != nil {
		return f, err
	}
	b := frame[3:]
	f.PackVoltageV = float64(getU16LE(b[0:2])) / 10.0
	f.PackCurrentA = float64(getI16LE(b[2:4])) / 10.0
	f.RInternalMOhm = float64(getU16LE(b[4:6])) / 100.0
	f.AmbientC = float64(getI16LE(b[6:8])) / 10.0
	f.CoolantInletC = float64(getI16LE(b[8:10])) / 10.0
	f.CoolantOutC = float64(getI16LE(b[10:12])) / 10.0
	f.HumidityPct = float64(b[12])
	f.IsolationMOhm = float64(getU16LE(b[13:15]))
	f.GasRatio1 = float64(b[15]) / 100.0
	f.GasRatio2 = float64(b[16]) / 100.0
	f.PressureDelta1HPa = float64(getI16LE(b[17:19])) / 100.0
	f.PressureDelta2HPa = float64(getI16LE(b[19:21])) / 100.0
	f.ShortCircuit = b[21]&1 != 0
	return f, nil
}

// EncodeInputModule encodes one input module frame; the frame size follows
// len(m.GroupVoltagesV). index is 0-based, per §4.5/§6.
func EncodeInputModule(index int, m model.ModuleData) []byte {
	groups := len(m.GroupVoltagesV)
	size := InputModuleFrameSize(groups)
	buf := make([]byte, 0, size)
	buf = append(buf, InputSync, byte(size), InputTypeModule)

	buf = append(buf, clampU8(float64(index)))
	buf = putI16LE(buf, clampI16(m.NTC1C*10))
	buf = putI16LE(buf, clampI16(m.NTC2C*10))
	buf = append(buf, clampU8(m.Swelling))
	for _, v := range m.GroupVoltagesV {
		buf = putU16LE(buf, clampU16(v*1000))
	}

	buf = append(buf, checksum(buf))
	return buf
}

// DecodedInputModule is the decoded form of one validated input module
// frame.
type DecodedInputModule struct {
	ModuleIndex    int
	NTC1C          float64
	NTC2C          float64
	Swelling       float64
	GroupVoltagesV []float64
}

// DecodeInputModule validates frame against InputSync and the module
// frame size implied by groupsPerModule, then decodes its payload.
func DecodeInputModule(frame []byte, groupsPerModule int) (DecodedInputModule, error) {
	var d DecodedInputModule
	want := InputModuleFrameSize(groupsPerModule)
	if err := Validate(frame, InputSync, want); err != nil {
		return d, err
	}
	b := frame[3:]
	d.ModuleIndex = int(b[0])
	d.NTC1C = float64(getI16LE(b[1:3])) / 10.0
	d.NTC2C = float64(getI16LE(b[3:5])) / 10.0
	d.Swelling = float64(b[5])
	d.GroupVoltagesV = make([]float64, groupsPerModule)
	for i := 0; i < groupsPerModule; i++ {
		off := 6 + i*2
		d.GroupVoltagesV[i] = float64(getU16LE(b[off:off+2])) / 1000.0
	}
	return d, nil
}
