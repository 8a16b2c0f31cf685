// Package config provides configuration loading, validation, and
// hot-reload for the battsafe-agent process.
//
// Configuration file: /etc/battsafe/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes live: thresholds and correlation hold
//     windows are swapped into the running scheduler via
//     scheduler.Scheduler.UpdateLiveConfig.
//   - Everything else (geometry, scheduler periods, log level, metrics bind
//     address) is destructive or read once at startup and requires a
//     process restart to take effect.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present and physically sane.
//   - Threshold ordering enforced per §4.4.
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
//
// Grounded on octoreflex's internal/config/config.go: the same
// Defaults/Load/Validate shape, the same "collect every violation into
// one error" pattern, and the same SIGHUP-driven non-destructive-reload
// policy described in its header comment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/battsafe/battsafe-core/internal/correlation"
	"github.com/battsafe/battsafe-core/internal/model"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// SchedulerPeriods holds one profile's fast/medium/slow loop periods.
type SchedulerPeriods struct {
	FastMS   int64 `yaml:"fast_ms"`
	MediumMS int64 `yaml:"medium_ms"`
	SlowMS   int64 `yaml:"slow_ms"`
}

// Config is the root configuration structure for battsafe-agent. All
// fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this core instance in log lines.
	NodeID string `yaml:"node_id"`

	// Geometry selects the pack layout: "full_pack" or "prototype".
	GeometryName string `yaml:"geometry"`

	Thresholds ThresholdsConfig `yaml:"thresholds"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	HoldWindows HoldWindowsConfig `yaml:"hold_windows"`

	Receiver ReceiverConfig `yaml:"receiver"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// ThresholdsConfig mirrors model.Thresholds for YAML (de)serialization.
type ThresholdsConfig struct {
	VoltageLowV           float64 `yaml:"voltage_low_v"`
	VoltageHighV          float64 `yaml:"voltage_high_v"`
	CurrentWarningA       float64 `yaml:"current_warning_a"`
	CurrentShortA         float64 `yaml:"current_short_a"`
	CurrentEmergencyA     float64 `yaml:"current_emergency_a"`
	RIntWarningMOhm       float64 `yaml:"r_int_warning_mohm"`
	TempWarningC          float64 `yaml:"temp_warning_c"`
	TempCriticalC         float64 `yaml:"temp_critical_c"`
	TempEmergencyC        float64 `yaml:"temp_emergency_c"`
	DtDtWarning           float64 `yaml:"dt_dt_warning"`
	DtDtEmergency         float64 `yaml:"dt_dt_emergency"`
	DeltaTAmbientWarn     float64 `yaml:"delta_t_ambient_warning"`
	GasWarningRatio       float64 `yaml:"gas_warning_ratio"`
	GasCriticalRatio      float64 `yaml:"gas_critical_ratio"`
	PressureWarningHPa    float64 `yaml:"pressure_warning_hpa"`
	PressureCriticalHPa   float64 `yaml:"pressure_critical_hpa"`
	SwellingWarningPct    float64 `yaml:"swelling_warning_pct"`
	RThermalCW            float64 `yaml:"r_thermal_cw"`
	GroupVSpreadTightMV   float64 `yaml:"group_v_spread_tight_mv"`
	GroupDeviationTightMV float64 `yaml:"group_deviation_tight_mv"`
	ThermalSpreadLimitC   float64 `yaml:"thermal_spread_limit_c"`
	DeltaTIntraLimitC     float64 `yaml:"delta_t_intra_limit_c"`
}

// ToModel converts ThresholdsConfig to a model.Thresholds value.
func (t ThresholdsConfig) ToModel() model.Thresholds {
	return model.Thresholds{
		VoltageLowV:           t.VoltageLowV,
		VoltageHighV:          t.VoltageHighV,
		CurrentWarningA:       t.CurrentWarningA,
		CurrentShortA:         t.CurrentShortA,
		CurrentEmergencyA:     t.CurrentEmergencyA,
		RIntWarningMOhm:       t.RIntWarningMOhm,
		TempWarningC:          t.TempWarningC,
		TempCriticalC:         t.TempCriticalC,
		TempEmergencyC:        t.TempEmergencyC,
		DtDtWarning:           t.DtDtWarning,
		DtDtEmergency:         t.DtDtEmergency,
		DeltaTAmbientWarn:     t.DeltaTAmbientWarn,
		GasWarningRatio:       t.GasWarningRatio,
		GasCriticalRatio:      t.GasCriticalRatio,
		PressureWarningHPa:    t.PressureWarningHPa,
		PressureCriticalHPa:   t.PressureCriticalHPa,
		SwellingWarningPct:    t.SwellingWarningPct,
		RThermalCW:            t.RThermalCW,
		GroupVSpreadTightMV:   t.GroupVSpreadTightMV,
		GroupDeviationTightMV: t.GroupDeviationTightMV,
		ThermalSpreadLimitC:   t.ThermalSpreadLimitC,
		DeltaTIntraLimitC:     t.DeltaTIntraLimitC,
	}
}

func thresholdsConfigFromModel(t model.Thresholds) ThresholdsConfig {
	return ThresholdsConfig{
		VoltageLowV:           t.VoltageLowV,
		VoltageHighV:          t.VoltageHighV,
		CurrentWarningA:       t.CurrentWarningA,
		CurrentShortA:         t.CurrentShortA,
		CurrentEmergencyA:     t.CurrentEmergencyA,
		RIntWarningMOhm:       t.RIntWarningMOhm,
		TempWarningC:          t.TempWarningC,
		TempCriticalC:         t.TempCriticalC,
		TempEmergencyC:        t.TempEmergencyC,
		DtDtWarning:           t.DtDtWarning,
		DtDtEmergency:         t.DtDtEmergency,
		DeltaTAmbientWarn:     t.DeltaTAmbientWarn,
		GasWarningRatio:       t.GasWarningRatio,
		GasCriticalRatio:      t.GasCriticalRatio,
		PressureWarningHPa:    t.PressureWarningHPa,
		PressureCriticalHPa:   t.PressureCriticalHPa,
		SwellingWarningPct:    t.SwellingWarningPct,
		RThermalCW:            t.RThermalCW,
		GroupVSpreadTightMV:   t.GroupVSpreadTightMV,
		GroupDeviationTightMV: t.GroupDeviationTightMV,
		ThermalSpreadLimitC:   t.ThermalSpreadLimitC,
		DeltaTIntraLimitC:     t.DeltaTIntraLimitC,
	}
}

// SchedulerConfig holds the three sampling-rate profiles (§4.1).
type SchedulerConfig struct {
	TickMS              int64            `yaml:"tick_ms"`
	Normal              SchedulerPeriods `yaml:"normal"`
	Alert               SchedulerPeriods `yaml:"alert"`
	ExternalActiveSlow  int64            `yaml:"external_active_slow_ms"`
	ExternalInputTimeoutMS int64         `yaml:"external_input_timeout_ms"`
}

// HoldWindowsConfig mirrors correlation.HoldWindows for YAML.
type HoldWindowsConfig struct {
	CriticalHoldMS     int64 `yaml:"critical_hold_ms"`
	DeescalationHoldMS int64 `yaml:"deescalation_hold_ms"`
	RecoveryHoldMS     int64 `yaml:"recovery_hold_ms"`
}

func (h HoldWindowsConfig) ToModel() correlation.HoldWindows {
	return correlation.HoldWindows{
		CriticalHoldMS:     h.CriticalHoldMS,
		DeescalationHoldMS: h.DeescalationHoldMS,
		RecoveryHoldMS:     h.RecoveryHoldMS,
	}
}

// ReceiverConfig holds the input receiver's bounded-buffer size.
type ReceiverConfig struct {
	RxBufSize int `yaml:"rx_buf_size"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Defaults returns a Config populated with every default from §4.1/§4.2/
// §4.3 and a sensible ambient-stack baseline.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		GeometryName:  "full_pack",
		Thresholds:    thresholdsConfigFromModel(model.DefaultThresholds()),
		Scheduler: SchedulerConfig{
			TickMS: 10,
			Normal: SchedulerPeriods{FastMS: 100, MediumMS: 500, SlowMS: 5000},
			Alert:  SchedulerPeriods{FastMS: 20, MediumMS: 100, SlowMS: 1000},
			ExternalActiveSlow:     1000,
			ExternalInputTimeoutMS: 10000,
		},
		HoldWindows: HoldWindowsConfig{
			CriticalHoldMS:     10000,
			DeescalationHoldMS: 5000,
			RecoveryHoldMS:     5000,
		},
		Receiver: ReceiverConfig{
			RxBufSize: 256,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Geometry resolves GeometryName into a model.Geometry value.
func (c Config) Geometry() (model.Geometry, error) {
	switch c.GeometryName {
	case "full_pack", "":
		return model.FullPackGeometry(), nil
	case "prototype":
		return model.PrototypeGeometry(), nil
	default:
		return model.Geometry{}, fmt.Errorf("config: unknown geometry %q (want full_pack or prototype)", c.GeometryName)
	}
}

// Load reads and validates a config file from the given path. Returns
// the merged config (defaults overridden by file values). Returns an
// error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks every config field for correctness, collecting all
// violations into one error (octoreflex's Validate pattern).
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if _, err := cfg.Geometry(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := cfg.Thresholds.ToModel().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Scheduler.TickMS < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.tick_ms must be >= 1, got %d", cfg.Scheduler.TickMS))
	}
	if cfg.Scheduler.Normal.FastMS < cfg.Scheduler.TickMS || cfg.Scheduler.Alert.FastMS < cfg.Scheduler.TickMS {
		errs = append(errs, "scheduler fast periods must be >= tick_ms")
	}
	if cfg.Scheduler.ExternalInputTimeoutMS < 1 {
		errs = append(errs, "scheduler.external_input_timeout_ms must be >= 1")
	}
	if cfg.HoldWindows.CriticalHoldMS < 1 || cfg.HoldWindows.DeescalationHoldMS < 1 || cfg.HoldWindows.RecoveryHoldMS < 1 {
		errs = append(errs, "all hold_windows values must be >= 1ms")
	}
	if cfg.Receiver.RxBufSize < 16 {
		errs = append(errs, fmt.Sprintf("receiver.rx_buf_size must be >= 16, got %d", cfg.Receiver.RxBufSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}

// DefaultConfigPath is the on-disk location battsafe-agent reads unless
// overridden by the -config flag.
const DefaultConfigPath = "/etc/battsafe/config.yaml"
