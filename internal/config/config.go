// Package config holds the full knob set of the gate-security pipeline
// (§6.3 of the design spec): one struct per component concern, loaded
// from YAML with environment-variable overrides, mirroring the upstream
// backend's ServerConfig/DatabaseConfig/... split.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full configuration tree for one gate-supervisor process.
// A process may run many independent Pipelines (one per stream); all of
// them share the same Config unless a caller clones and edits it.
type Config struct {
	Tracking   TrackingConfig   `yaml:"tracking"`
	Filter     FilterConfig     `yaml:"filter"`
	Group      GroupConfig      `yaml:"group"`
	Presence   PresenceConfig   `yaml:"presence"`
	Guard      GuardConfig      `yaml:"guard"`
	Queue      QueueConfig      `yaml:"queue"`
	Pose       PoseConfig       `yaml:"pose"`
	Score      ScoreConfig      `yaml:"score"`
	Hysteresis HysteresisConfig `yaml:"hysteresis"`
	Session    SessionConfig    `yaml:"session"`
	Zones      ZonesConfig      `yaml:"zones"`
	Sink       SinkConfig       `yaml:"sink"`
}

// TrackingConfig configures the two-pass ByteTrack-like matcher (§4.3).
type TrackingConfig struct {
	HighConf     float64 `yaml:"high_conf"`
	LowConf      float64 `yaml:"low_conf"`
	IoUThreshold float64 `yaml:"iou_threshold"`
	LowIoUThreshold float64 `yaml:"low_iou_threshold"`
	MinHits      int     `yaml:"min_hits"`
	MaxAgeFrames int     `yaml:"max_age_frames"`
	CenterDistWeight float64 `yaml:"center_dist_weight"`
}

// FilterConfig configures the position smoother (§4.2).
type FilterConfig struct {
	JitterWindow int `yaml:"jitter_window"`
}

// GroupConfig configures group formation/break (§4.6).
type GroupConfig struct {
	TGroup time.Duration `yaml:"t_group"`
	DMax   float64       `yaml:"d_max"`
	TLock  time.Duration `yaml:"t_lock"`
	TBreak time.Duration `yaml:"t_break"`
	IoUMin float64       `yaml:"iou_min"`
}

// PresenceConfig configures dwell/proximity/check timers (§4.8, §4.10).
type PresenceConfig struct {
	PresenceToCheck    time.Duration `yaml:"presence_to_check"`
	ProximityMin       time.Duration `yaml:"proximity_min"`
	CheckMinIndividual time.Duration `yaml:"check_min_individual"`
	CheckMinBatch      time.Duration `yaml:"check_min_batch"`
	OcclusionGrace     time.Duration `yaml:"occlusion_grace"`
	// InteractionMin isn't in the published knob table but is used by the
	// CHECK_COMPLETED completion criteria; kept configurable like every
	// other timer rather than hardcoded.
	InteractionMin time.Duration `yaml:"interaction_min"`
}

// GuardAnchorLogic selects how GuardClassifier computes qualification (§4.7).
type GuardAnchorLogic string

const (
	AnchorLogicStrict GuardAnchorLogic = "strict_anchor"
	AnchorLogicEither GuardAnchorLogic = "either"
	AnchorLogicNone   GuardAnchorLogic = "no_anchor"
)

// GuardConfig configures guard promotion/qualification (§4.7).
type GuardConfig struct {
	GuardReady time.Duration    `yaml:"guard_ready"`
	TVacate    time.Duration    `yaml:"t_vacate"`
	TRejoin    time.Duration    `yaml:"t_rejoin"`
	AnchorLogic GuardAnchorLogic `yaml:"anchor_logic"`
}

// QueueConfig configures ticket escalation timing (§4.10).
type QueueConfig struct {
	TWarn    time.Duration `yaml:"t_warn"`
	TMaxWait time.Duration `yaml:"t_max_wait"`
}

// PoseConfig configures the optional pose predicates (§4.5).
type PoseConfig struct {
	HandToTorsoMargin  float64       `yaml:"hand_to_torso_margin"`
	ReachVelocityThresh float64      `yaml:"reach_velocity_thresh"`
	ReachMinDuration   time.Duration `yaml:"reach_min_duration"`
}

// ScoreConfig configures the explainable score (§4.9).
type ScoreConfig struct {
	Base          float64 `yaml:"base"`
	ContactBonus  float64 `yaml:"contact_bonus"`
	PoseBonus     float64 `yaml:"pose_bonus"`
	PersistBonus  float64 `yaml:"persist_bonus"`
	Threshold     float64 `yaml:"threshold"`
	CenterDistScale float64 `yaml:"center_dist_scale"`
}

// HysteresisConfig configures frame-consensus gating (§4.8).
type HysteresisConfig struct {
	MinConsensus int `yaml:"min_consensus"`
}

// SessionConfig configures FSM session lifetime (§4.8).
type SessionConfig struct {
	SessionTimeout          time.Duration `yaml:"session_timeout"`
	CheckCompletedCooldown  time.Duration `yaml:"check_completed_cooldown"`
}

// ExaminationMode selects how a group ticket is examined (§3).
type ExaminationMode string

const (
	ExaminationBatch      ExaminationMode = "batch"
	ExaminationSequential ExaminationMode = "sequential"
)

// ZonesConfig holds the two named zone polygons, both normalized to [0,1].
// Zones are configuration, not pipeline state (§4.4); this struct seeds
// the zone model at start-up. UpdateZones validates new polygons and
// replaces them in the zone model; it does not write back to this struct.
type ZonesConfig struct {
	GateAreaPolygon   []Point         `yaml:"gate_area_polygon"`
	GuardAnchorPolygon []Point        `yaml:"guard_anchor_polygon"`
	ExaminationMode   ExaminationMode `yaml:"examination_mode"`
}

// Point is config's plain (de)serializable coordinate pair; it is mapped
// to geometry.Point at the boundary so the config package stays free of
// a geometry import cycle concern and remains trivially YAML-decodable.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// SinkConfig configures the observer sink adapters (see internal/sink).
type SinkConfig struct {
	RedisAddr         string `yaml:"redis_addr"`
	RedisChannelPrefix string `yaml:"redis_channel_prefix"`
	WebSocketAddr     string `yaml:"websocket_addr"`
}

// Default returns the full configuration from the §6.3 default table.
func Default() *Config {
	return &Config{
		Tracking: TrackingConfig{
			HighConf:         0.5,
			LowConf:          0.2,
			IoUThreshold:     0.3,
			LowIoUThreshold:  0.4,
			MinHits:          3,
			MaxAgeFrames:     30,
			CenterDistWeight: 0.1,
		},
		Filter: FilterConfig{JitterWindow: 5},
		Group: GroupConfig{
			TGroup: 2 * time.Second,
			DMax:   0.15,
			TLock:  1 * time.Second,
			TBreak: 2 * time.Second,
			IoUMin: 0.02,
		},
		Presence: PresenceConfig{
			PresenceToCheck:    6 * time.Second,
			ProximityMin:       2 * time.Second,
			CheckMinIndividual: 3 * time.Second,
			CheckMinBatch:      4 * time.Second,
			OcclusionGrace:     500 * time.Millisecond,
			InteractionMin:     1200 * time.Millisecond,
		},
		Guard: GuardConfig{
			GuardReady:  3 * time.Second,
			TVacate:     2 * time.Second,
			TRejoin:     10 * time.Second,
			AnchorLogic: AnchorLogicEither,
		},
		Queue: QueueConfig{
			TWarn:    30 * time.Second,
			TMaxWait: 45 * time.Second,
		},
		Pose: PoseConfig{
			HandToTorsoMargin:   0.12,
			ReachVelocityThresh: 0.6,
			ReachMinDuration:    250 * time.Millisecond,
		},
		Score: ScoreConfig{
			Base:            0.6,
			ContactBonus:    0.2,
			PoseBonus:       0.15,
			PersistBonus:    0.05,
			Threshold:       0.9,
			CenterDistScale: 0.3,
		},
		Hysteresis: HysteresisConfig{MinConsensus: 3},
		Session: SessionConfig{
			SessionTimeout:         8 * time.Second,
			CheckCompletedCooldown: 10 * time.Second,
		},
		Zones: ZonesConfig{ExaminationMode: ExaminationBatch},
		Sink: SinkConfig{
			RedisChannelPrefix: "gatesupervisor:",
		},
	}
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton, loaded once from CONFIG_PATH
// (defaulting to config.yaml) and overlaid with environment variables.
func Get() *Config {
	once.Do(func() {
		cfg, err := Load(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load file, using defaults", "error", err)
			cfg = Default()
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// Load reads a YAML config file on top of the §6.3 defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := getEnvFloat("GATE_HIGH_CONF", 0); v > 0 {
		c.Tracking.HighConf = v
	}
	if v := getEnvFloat("GATE_LOW_CONF", 0); v > 0 {
		c.Tracking.LowConf = v
	}
	if v := getEnvInt("GATE_MIN_HITS", 0); v > 0 {
		c.Tracking.MinHits = v
	}
	if v := getEnvInt("GATE_MAX_AGE_FRAMES", 0); v > 0 {
		c.Tracking.MaxAgeFrames = v
	}
	if v := getEnvDuration("GATE_MAX_WAIT", 0); v > 0 {
		c.Queue.TMaxWait = v
	}
	if v := getEnvDuration("GATE_WARN_WAIT", 0); v > 0 {
		c.Queue.TWarn = v
	}
	if v := getEnv("GATE_ANCHOR_LOGIC", ""); v != "" {
		c.Guard.AnchorLogic = GuardAnchorLogic(v)
	}
	if v := getEnv("GATE_EXAMINATION_MODE", ""); v != "" {
		c.Zones.ExaminationMode = ExaminationMode(v)
	}
	c.Sink.RedisAddr = getEnv("GATE_REDIS_ADDR", c.Sink.RedisAddr)
	c.Sink.WebSocketAddr = getEnv("GATE_WEBSOCKET_ADDR", c.Sink.WebSocketAddr)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
