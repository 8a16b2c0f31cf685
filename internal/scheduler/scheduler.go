// Package scheduler implements the deterministic, cooperative multi-rate
// scheduler (§4.1, §5): fast/medium/slow loops advanced by a virtual
// clock in fixed ticks, an adaptive alert profile, deadline-driven
// dispatch, input assembly via the receiver, and the deterministic
// fallback producer.
//
// Grounded on octoreflex's event-processor + escalation-worker loop
// shape (cmd/octoreflex/main.go's runWorker: read input, score, drive a
// state machine, emit side effects) generalized from one goroutine per
// input channel to three cooperative loops sharing one owned aggregate,
// per spec.md §9's re-architecture of the source's process-wide mutable
// state into "an owning scheduler aggregate that holds these by value."
package scheduler

import (
	"fmt"
	"math"

	"github.com/battsafe/battsafe-core/internal/anomaly"
	"github.com/battsafe/battsafe-core/internal/correlation"
	"github.com/battsafe/battsafe-core/internal/model"
	"github.com/battsafe/battsafe-core/internal/observability"
	"github.com/battsafe/battsafe-core/internal/receiver"
	"github.com/battsafe/battsafe-core/internal/selfcheck"
	"github.com/battsafe/battsafe-core/internal/transport"
	"github.com/battsafe/battsafe-core/internal/wire"
)

// Period is one loop's dispatch period in milliseconds.
type Period = int64

// Profile is one sampling-rate profile's fast/medium/slow periods (§4.1
// table). ExternalActiveSlowMS is a slow-only override applied whenever
// the scheduler is currently driven by external input, independent of
// the normal/alert choice for fast and medium.
type Profile struct {
	FastMS   Period
	MediumMS Period
	SlowMS   Period
}

// Config collects everything the scheduler needs at construction. Metrics
// and ArmLatch may be nil; the scheduler allocates and owns its own working
// snapshot.
type Config struct {
	Geometry    model.Geometry
	Thresholds  model.Thresholds
	TickMS      int64
	Normal      Profile
	Alert       Profile
	ExternalActiveSlowMS   int64
	ExternalInputTimeoutMS int64
	HoldWindows            correlation.HoldWindows
	RxBufSize              int

	Transport transport.Transport
	Clock     transport.Clock
	Outputs   transport.Outputs
	Logger    transport.Logger
	Metrics   *observability.Metrics
	ArmLatch  *selfcheck.ArmLatch
}

// Scheduler owns the working snapshot, thresholds, correlation state,
// receiver state, and derivative histories exclusively (§3 "Ownership").
type Scheduler struct {
	geometry   model.Geometry
	thresholds model.Thresholds

	snapshot  *model.PackSnapshot
	derivHist *model.DerivativeHistory
	corr      *correlation.Machine
	recv      *receiver.Receiver

	transport transport.Transport
	clock     transport.Clock
	outputs   transport.Outputs
	logger    transport.Logger
	metrics   *observability.Metrics
	armLatch  *selfcheck.ArmLatch

	normal Profile
	alert  Profile
	externalActiveSlowMS   int64
	externalInputTimeoutMS int64
	tickMS                 int64

	virtualNowMS int64
	nextFastMS   int64
	nextMediumMS int64
	nextSlowMS   int64

	activeFastMS   int64
	activeMediumMS int64
	activeSlowMS   int64

	usingExternalInput bool
	lastInputMS        int64
	loggedTimeoutOnce  bool

	lastAnomaly     anomaly.Result
	lastLoggedState correlation.State

	lastResyncCount      uint64
	lastChecksumFailures uint64
}

// New constructs a Scheduler at boot defaults: NORMAL profile, all
// deadlines armed at t=0, correlation machine reset.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		geometry:   cfg.Geometry,
		thresholds: cfg.Thresholds,

		snapshot:  model.NewPackSnapshot(cfg.Geometry),
		derivHist: model.NewDerivativeHistory(cfg.Geometry.NumModules),
		recv:      receiver.New(cfg.Geometry, cfg.RxBufSize),

		transport: cfg.Transport,
		clock:     cfg.Clock,
		outputs:   cfg.Outputs,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		armLatch:  cfg.ArmLatch,

		normal:                 cfg.Normal,
		alert:                  cfg.Alert,
		externalActiveSlowMS:   cfg.ExternalActiveSlowMS,
		externalInputTimeoutMS: cfg.ExternalInputTimeoutMS,
		tickMS:                 cfg.TickMS,
	}
	s.corr = correlation.New(cfg.HoldWindows, cfg.Normal.MediumMS)
	applyFallback(s.snapshot)
	s.Reset()
	return s
}

// Reset sets all next-deadlines to now and restores the normal profile
// (§4.1 "reset()").
func (s *Scheduler) Reset() {
	s.activeFastMS = s.normal.FastMS
	s.activeMediumMS = s.normal.MediumMS
	s.activeSlowMS = s.normal.SlowMS
	s.nextFastMS = s.virtualNowMS
	s.nextMediumMS = s.virtualNowMS
	s.nextSlowMS = s.virtualNowMS
	s.corr.Reset()
	s.lastLoggedState = s.corr.CurrentState()
}

// UpdateLiveConfig swaps in a new set of thresholds and correlation hold
// windows without disturbing in-flight scheduler state (deadlines,
// snapshot, correlation counters). This is the only config hot-reload path
// (§1 ambient stack, config package doc: "Apply non-destructive changes
// only") — geometry and the metrics bind address remain fixed for the
// life of the process and require a restart to change.
func (s *Scheduler) UpdateLiveConfig(thresholds model.Thresholds, holdWindows correlation.HoldWindows) {
	s.thresholds = thresholds
	s.corr.SetHoldWindows(holdWindows)
}

// isAlertCondition implements §4.1's alert condition: short_circuit OR
// active_count > 0 OR current_state != NORMAL.
func (s *Scheduler) isAlertCondition() bool {
	return s.snapshot.ShortCircuit ||
		s.lastAnomaly.ActiveCount > 0 ||
		s.corr.CurrentState() != correlation.StateNormal
}

func (s *Scheduler) wantPeriods() (fast, medium, slow int64) {
	if s.isAlertCondition() {
		fast, medium = s.alert.FastMS, s.alert.MediumMS
	} else {
		fast, medium = s.normal.FastMS, s.normal.MediumMS
	}
	switch {
	case s.usingExternalInput:
		slow = s.externalActiveSlowMS
	case s.isAlertCondition():
		slow = s.alert.SlowMS
	default:
		slow = s.normal.SlowMS
	}
	return
}

// ApplySamplingRates selects a profile and, if any period shortened,
// pulls that loop's next deadline inward so the acceleration is visible
// within one tick (§4.1 "apply_sampling_rates()").
func (s *Scheduler) ApplySamplingRates() {
	fast, medium, slow := s.wantPeriods()

	if fast < s.activeFastMS {
		s.nextFastMS = minInt64(s.nextFastMS, s.virtualNowMS+fast)
	}
	if medium < s.activeMediumMS {
		s.nextMediumMS = minInt64(s.nextMediumMS, s.virtualNowMS+medium)
	}
	if slow < s.activeSlowMS {
		s.nextSlowMS = minInt64(s.nextSlowMS, s.virtualNowMS+slow)
	}

	s.activeFastMS, s.activeMediumMS, s.activeSlowMS = fast, medium, slow

	if s.metrics != nil {
		if s.isAlertCondition() {
			s.metrics.AlertModeActive.Set(1)
		} else {
			s.metrics.AlertModeActive.Set(0)
		}
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Tick advances virtual time by one SCHED_TICK and runs every loop whose
// deadline has arrived (§4.1 "tick()").
func (s *Scheduler) Tick() {
	s.virtualNowMS += s.tickMS

	s.pollInput()

	if s.virtualNowMS >= s.nextFastMS {
		s.fastLoop()
		s.nextFastMS = s.virtualNowMS + s.activeFastMS
	}
	if s.virtualNowMS >= s.nextMediumMS {
		s.mediumLoop()
		s.nextMediumMS = s.virtualNowMS + s.activeMediumMS
	}
	if s.virtualNowMS >= s.nextSlowMS {
		s.slowLoop()
		s.nextSlowMS = s.virtualNowMS + s.activeSlowMS
	}
}

// pollInput drains every currently available transport byte into the
// receiver, applies a completed snapshot, and enforces
// EXTERNAL_INPUT_TIMEOUT (§5 "Cancellation and timeouts").
func (s *Scheduler) pollInput() {
	for {
		b, ok := s.transport.RecvByte()
		if !ok {
			break
		}
		if s.recv.PushByte(b) {
			s.recv.ApplyTo(s.snapshot)
			s.recv.ResetCycle()
			s.usingExternalInput = true
			s.lastInputMS = s.virtualNowMS
			s.loggedTimeoutOnce = false
			if s.metrics != nil {
				s.metrics.SnapshotsCompletedTotal.Inc()
			}
		}
	}
	if s.metrics != nil {
		resync := s.recv.ResyncCount()
		checksum := s.recv.ChecksumFailures()
		s.metrics.ReceiverResyncTotal.Add(float64(resync - s.lastResyncCount))
		s.metrics.ReceiverChecksumFailuresTotal.Add(float64(checksum - s.lastChecksumFailures))
		s.lastResyncCount = resync
		s.lastChecksumFailures = checksum
	}

	if s.usingExternalInput && s.virtualNowMS-s.lastInputMS >= s.externalInputTimeoutMS {
		s.usingExternalInput = false
		if !s.loggedTimeoutOnce {
			s.logger.Line("external input timeout: reverting to fallback producer")
			if s.metrics != nil {
				s.metrics.InputTimeoutsTotal.Inc()
			}
			s.loggedTimeoutOnce = true
		}
	}
	if !s.usingExternalInput {
		applyFallback(s.snapshot)
	}
}

// fastLoop runs the cheap overcurrent/short-circuit pre-check (§4.1).
func (s *Scheduler) fastLoop() {
	if s.metrics != nil {
		s.metrics.CyclesTotal.WithLabelValues("fast").Inc()
	}

	sentinel := s.thresholds.CurrentShortA
	if math.Abs(s.snapshot.PackCurrentA) > sentinel {
		s.snapshot.ShortCircuit = true
		result := anomaly.Evaluate(s.snapshot, s.thresholds)
		s.lastAnomaly = result
		changed := s.corr.Update(result)
		s.applyCorrelationSideEffects(changed, result)
	}
	s.ApplySamplingRates()
}

// mediumLoop runs the fixed-order medium cycle (§4.1, §5 ordering):
// derivative update -> anomaly pre-pass -> category evaluation ->
// correlation counter re-sync -> correlation update -> side effects.
func (s *Scheduler) mediumLoop() {
	if s.metrics != nil {
		s.metrics.CyclesTotal.WithLabelValues("medium").Inc()
	}

	periodSeconds := float64(s.activeMediumMS) / 1000.0
	s.derivHist.Step(s.snapshot, periodSeconds)

	result := anomaly.Evaluate(s.snapshot, s.thresholds)
	s.lastAnomaly = result

	s.corr.SyncLimits(s.activeMediumMS)
	changed := s.corr.Update(result)
	s.applyCorrelationSideEffects(changed, result)

	s.ApplySamplingRates()
}

// applyCorrelationSideEffects logs a transition line only on change, sets
// status indicators, and drives disconnect/alarm outputs on EMERGENCY
// (§4.1).
func (s *Scheduler) applyCorrelationSideEffects(changed bool, result anomaly.Result) {
	state := s.corr.CurrentState()

	if changed {
		s.logger.Line(fmt.Sprintf("correlation state %s -> %s", s.lastLoggedState, state))
		if s.metrics != nil {
			s.metrics.StateTransitionsTotal.WithLabelValues(s.lastLoggedState.String(), state.String()).Inc()
		}
		s.lastLoggedState = state
	}

	s.outputs.SetStateLEDs(uint8(state))
	if state == correlation.StateEmergency {
		s.outputs.RelayDisconnect()
		s.outputs.BuzzerPulse(500)
	}

	if s.metrics != nil {
		s.metrics.RiskFactor.Set(result.RiskFactor)
		s.metrics.CascadeStage.Set(float64(result.CascadeStage))
		for _, c := range []anomaly.Category{
			anomaly.CategoryElectrical, anomaly.CategoryThermal,
			anomaly.CategoryGas, anomaly.CategoryPressure, anomaly.CategorySwelling,
		} {
			active := 0.0
			if result.ActiveMask&uint8(c) != 0 {
				active = 1.0
			}
			s.metrics.AnomalyCategoryActive.WithLabelValues(c.String()).Set(active)
		}
		latched := 0.0
		if s.corr.EmergencyLatched() {
			latched = 1.0
		}
		s.metrics.EmergencyLatched.Set(latched)
		armed := 0.0
		if s.armLatch != nil && s.armLatch.Armed() {
			armed = 1.0
		}
		s.metrics.RelayArmed.Set(armed)
	}
}

// slowLoop emits one pack frame followed by one module frame per module
// in index order, as a single logical burst (§4.1).
func (s *Scheduler) slowLoop() {
	if s.metrics != nil {
		s.metrics.CyclesTotal.WithLabelValues("slow").Inc()
	}

	packFrame := wire.EncodePack(wire.PackFields{
		TimestampMS: uint32(s.clock.UptimeMS()),
		Snapshot:    s.snapshot,
		Anomaly:     s.lastAnomaly,
		State:       s.corr.CurrentState(),
	})
	s.sendFrame("pack", packFrame)

	for i := range s.snapshot.Modules {
		moduleFrame := wire.EncodeModule(i, s.snapshot.Modules[i])
		s.sendFrame("module", moduleFrame)
	}
}

// sendFrame sends one frame, treating a transport error as transient and
// non-fatal: the current cycle drops the affected output, the next cycle
// retries (§7).
func (s *Scheduler) sendFrame(kind string, frame []byte) {
	if err := s.transport.Send(frame); err != nil {
		s.logger.Line(fmt.Sprintf("transport send failed (%s frame): %v", kind, err))
		if s.metrics != nil {
			s.metrics.TransportSendFailuresTotal.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.FramesEncodedTotal.WithLabelValues(kind).Inc()
	}
}

// Snapshot returns the scheduler's working snapshot for read-only
// inspection (tests, diagnostics).
func (s *Scheduler) Snapshot() *model.PackSnapshot { return s.snapshot }

// CorrelationState returns the current correlation state.
func (s *Scheduler) CorrelationState() correlation.State { return s.corr.CurrentState() }

// LastAnomaly returns the most recent anomaly evaluation result.
func (s *Scheduler) LastAnomaly() anomaly.Result { return s.lastAnomaly }

// UsingExternalInput reports whether the scheduler is currently driven by
// the receiver rather than the fallback producer.
func (s *Scheduler) UsingExternalInput() bool { return s.usingExternalInput }
