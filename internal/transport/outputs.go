package transport

import (
	"go.uber.org/zap"

	"github.com/battsafe/battsafe-core/internal/selfcheck"
)

// RelayOutputs drives status LEDs, the buzzer, and the safety relay
// through a zap logger, gating RelayConnect on the process-wide arm
// latch (§4.4, §5: "logically a write-once-at-boot latch ... read is
// permitted from any component"). Fail-safe polarity: the relay starts
// (and on any disarm, returns to) disconnected.
type RelayOutputs struct {
	log  *zap.Logger
	latch *selfcheck.ArmLatch

	connected bool
}

// NewRelayOutputs returns an Outputs bound to latch; RelayConnect is a
// no-op whenever latch is not armed.
func NewRelayOutputs(log *zap.Logger, latch *selfcheck.ArmLatch) *RelayOutputs {
	return &RelayOutputs{log: log, latch: latch}
}

// SetStateLEDs implements Outputs.
func (o *RelayOutputs) SetStateLEDs(state uint8) {
	o.log.Debug("state leds", zap.Uint8("state", state))
}

// RelayDisconnect implements Outputs: always honored, fail-safe direction.
func (o *RelayOutputs) RelayDisconnect() {
	o.connected = false
	o.log.Info("relay disconnected")
}

// RelayConnect implements Outputs: no-op unless the arm latch is armed.
func (o *RelayOutputs) RelayConnect() {
	if o.latch == nil || !o.latch.Armed() {
		o.log.Warn("relay connect refused: safety-arm latch not armed")
		return
	}
	o.connected = true
	o.log.Info("relay connected")
}

// BuzzerPulse implements Outputs.
func (o *RelayOutputs) BuzzerPulse(ms int) {
	o.log.Debug("buzzer pulse", zap.Int("ms", ms))
}

// Connected reports the last commanded relay state, for tests.
func (o *RelayOutputs) Connected() bool { return o.connected }

// ZapLogger adapts a *zap.Logger to the narrow Logger interface (§6).
type ZapLogger struct {
	log *zap.Logger
}

// NewZapLogger wraps log as a Logger.
func NewZapLogger(log *zap.Logger) *ZapLogger {
	return &ZapLogger{log: log}
}

// Line implements Logger.
func (l *ZapLogger) Line(s string) {
	l.log.Info(s)
}
