// Package receiver implements the input protocol's receiver state
// machine (§4.5): a bounded byte buffer that resyncs on sync-byte loss,
// validates length/type/checksum, assembles one pack frame and one
// module frame per module index into slots, and signals snapshot
// completion exactly once per cycle.
//
// Grounded on octoreflex's internal/bpf reader loop (byte-stream framing
// with an explicit resync-on-garbage discipline) generalized from a
// single fixed-size event struct to two frame types with a per-slot
// "received" bitmap.
package receiver

import (
	"github.com/battsafe/battsafe-core/internal/model"
	"github.com/battsafe/battsafe-core/internal/wire"
)

// DefaultRxBufSize is the bounded buffer capacity used when none is
// given explicitly (§3 "ReceiverState").
const DefaultRxBufSize = 256

// Receiver assembles pack + per-module input frames into a working
// snapshot. It holds no reference to the scheduler's snapshot; the
// caller copies LastPack/LastModule into its own snapshot on completion,
// per §3's ownership rule (the receiver only owns its own state).
type Receiver struct {
	geometry        model.Geometry
	moduleFrameSize int
	rxBufSize       int

	buf []byte

	packReceived    bool
	moduleReceived  []bool
	lastPack        wire.InputPackFields
	lastModules     []wire.DecodedInputModule
	signaled        bool

	checksumFailures uint64
	resyncCount      uint64
}

// New constructs a Receiver for the given geometry with a bounded buffer
// of rxBufSize bytes. Pass 0 for rxBufSize to use DefaultRxBufSize.
func New(geometry model.Geometry, rxBufSize int) *Receiver {
	if rxBufSize <= 0 {
		rxBufSize = DefaultRxBufSize
	}
	return &Receiver{
		geometry:        geometry,
		moduleFrameSize: wire.InputModuleFrameSize(geometry.GroupsPerModule),
		rxBufSize:       rxBufSize,
		moduleReceived:  make([]bool, geometry.NumModules),
		lastModules:     make([]wire.DecodedInputModule, geometry.NumModules),
	}
}

// PushByte appends one incoming byte and drives the resync/validate/
// assemble state machine (§4.5, steps 1-6). It returns true the one time
// a full snapshot first becomes complete (pack slot set and every module
// slot set); the caller is expected to apply the snapshot and then call
// ResetCycle.
func (r *Receiver) PushByte(b byte) bool {
	r.buf = append(r.buf, b)
	if len(r.buf) > r.rxBufSize-1 {
		r.buf = []byte{b}
	}

	for r.drainOnce() {
	}

	if !r.signaled && r.packReceived && r.allModulesReceived() {
		r.signaled = true
		return true
	}
	return false
}

// drainOnce performs one pass of discard-resync / length-type check /
// checksum validate / assemble. It returns true if it consumed or
// discarded a byte and the buffer may have more work to do.
func (r *Receiver) drainOnce() bool {
	for len(r.buf) > 0 && r.buf[0] != wire.InputSync {
		r.buf = r.buf[1:]
	}
	if len(r.buf) < 3 {
		return false
	}

	length := int(r.buf[1])
	typ := r.buf[2]

	expected := r.expectedLength(typ)
	if expected == 0 || length != expected {
		r.resyncCount++
		r.buf = r.buf[1:]
		return true
	}
	if len(r.buf) < length {
		return false
	}

	frame := r.buf[:length]
	if err := wire.Validate(frame, wire.InputSync, length); err != nil {
		r.checksumFailures++
		r.resyncCount++
		r.buf = r.buf[1:]
		return true
	}

	r.assemble(typ, frame)
	r.buf = r.buf[length:]
	return true
}

func (r *Receiver) expectedLength(typ byte) int {
	switch typ {
	case wire.InputTypePack:
		return wire.InputPackFrameSize
	case wire.InputTypeModule:
		return r.moduleFrameSize
	default:
		return 0
	}
}

func (r *Receiver) assemble(typ byte, frame []byte) {
	switch typ {
	case wire.InputTypePack:
		f, err := wire.DecodeInputPack(frame)
		if err != nil {
			return
		}
		r.lastPack = f
		r.packReceived = true

	case wire.InputTypeModule:
		d, err := wire.DecodeInputModule(frame, r.geometry.GroupsPerModule)
		if err != nil {
			return
		}
		if d.ModuleIndex < 0 || d.ModuleIndex >= r.geometry.NumModules {
			return
		}
		r.lastModules[d.ModuleIndex] = d
		r.moduleReceived[d.ModuleIndex] = true
	}
}

func (r *Receiver) allModulesReceived() bool {
	for _, ok := range r.moduleReceived {
		if !ok {
			return false
		}
	}
	return true
}

// ResetCycle clears the per-slot received flags and the one-shot
// completion signal, but retains the last-valid frames (§4.5 step 6): a
// module missing next cycle is a caller-policy decision, not the
// receiver's.
func (r *Receiver) ResetCycle() {
	for i := range r.moduleReceived {
		r.moduleReceived[i] = false
	}
	r.packReceived = false
	r.signaled = false
}

// LastPack returns the most recently assembled pack frame's fields.
func (r *Receiver) LastPack() wire.InputPackFields { return r.lastPack }

// LastModule returns the most recently assembled frame for module i.
func (r *Receiver) LastModule(i int) wire.DecodedInputModule { return r.lastModules[i] }

// ApplyTo copies the receiver's last-valid frames into snapshot s, which
// must already be sized for the receiver's geometry.
func (r *Receiver) ApplyTo(s *model.PackSnapshot) {
	p := r.lastPack
	s.PackVoltageV = p.PackVoltageV
	s.PackCurrentA = p.PackCurrentA
	s.RInternalMOhm = p.RInternalMOhm
	s.AmbientC = p.AmbientC
	s.CoolantInletC = p.CoolantInletC
	s.CoolantOutC = p.CoolantOutC
	s.HumidityPct = p.HumidityPct
	s.IsolationMOhm = p.IsolationMOhm
	s.GasRatio1 = p.GasRatio1
	s.GasRatio2 = p.GasRatio2
	s.PressureDelta1HPa = p.PressureDelta1HPa
	s.PressureDelta2HPa = p.PressureDelta2HPa
	s.ShortCircuit = p.ShortCircuit

	for i := range s.Modules {
		d := r.lastModules[i]
		s.Modules[i].NTC1C = d.NTC1C
		s.Modules[i].NTC2C = d.NTC2C
		s.Modules[i].Swelling = d.Swelling
		if len(d.GroupVoltagesV) == len(s.Modules[i].GroupVoltagesV) {
			copy(s.Modules[i].GroupVoltagesV, d.GroupVoltagesV)
		}
	}
}

// ChecksumFailures returns the running count of checksum mismatches
// observed, for the observability layer's resync counter (§7).
func (r *Receiver) ChecksumFailures() uint64 { return r.checksumFailures }

// ResyncCount returns the running count of resync events (checksum
// failures plus length/type rejections), for observability.
func (r *Receiver) ResyncCount() uint64 { return r.resyncCount }
