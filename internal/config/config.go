package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. GUNLAYER_TICK_HZ.
const EnvPrefix = "GUNLAYER"

const (
	// DefaultAddr is the default TCP address for HTTP and websocket traffic.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is the default listener for the lead RPC service.
	DefaultGRPCAddr = ":43128"
	// DefaultPingInterval controls the keepalive cadence for websocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound websocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultCommandMaxAge drops gunnery commands sent longer ago than this.
	DefaultCommandMaxAge = 500 * time.Millisecond
	// DefaultCommandMinInterval spaces a session's accepted fire and track commands.
	DefaultCommandMinInterval = 10 * time.Millisecond

	// DefaultTickHz is the simulation tick rate.
	DefaultTickHz = 20.0
	// DefaultLatencyTicks is the extra lead on top of flight time.
	DefaultLatencyTicks = 2.0
	// DefaultMaxIters bounds the lead iteration.
	DefaultMaxIters = 8
	// DefaultMaxSimDistance caps how far a shot is simulated, in blocks.
	DefaultMaxSimDistance = 512.0
	// DefaultFireDelayTicks is the actuation delay between command and spawn.
	DefaultFireDelayTicks = 0
	// DefaultDrag toggles the simulator's linear damping.
	DefaultDrag = true
	// DefaultLeadModel ignores reported accelerations unless configured otherwise.
	DefaultLeadModel = LeadModelVelocity

	// DefaultCannon is the catalogue entry mounted at startup.
	DefaultCannon = "bronze"
	// DefaultProjectile is the catalogue entry loaded at startup.
	DefaultProjectile = "solid-shot"
	// DefaultCharges is the propellant loaded at startup.
	DefaultCharges = 2
	// DefaultDimension names the world the mount lives in.
	DefaultDimension = "overworld"
	// DefaultMountPosition is the controller block of the mount.
	DefaultMountPosition = "0,64,0"

	// DefaultStatePath is the SQLite database for persisted trigger state. Empty keeps it in memory.
	DefaultStatePath = "gunlayer.db"
	// DefaultReplayDir is where engagement recordings are written. ReplayDisabled turns recording off.
	DefaultReplayDir = "replays"
	// DefaultReplayMaxBundles caps how many engagement recordings are retained.
	DefaultReplayMaxBundles = 50
	// DefaultReplayMaxAge removes recordings older than this.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultSolveRateLimit caps /solve calls per second. Zero disables the limit.
	DefaultSolveRateLimit = 200

	// DefaultLogLevel controls verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "gunlayer.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the gunlayer service.
type Config struct {
	Address         string
	GRPCAddress     string
	GRPCSecret      string
	GRPCCertPath    string
	GRPCKeyPath     string
	GRPCClientCA    string
	AdminToken      string
	SolveRateLimit  int
	AllowedOrigins  []string
	WSAuthSecret    string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	Commands        CommandConfig
	TickHz          float64
	Lead            LeadConfig
	Mount           MountConfig
	StatePath       string
	Replay          ReplayConfig
	Logging         LoggingConfig
}

// Lead model names accepted by lead.model. They match the solver's wire names.
const (
	LeadModelVelocity     = "velocity"
	LeadModelAcceleration = "acceleration"
)

// ReplayDisabled is the replay directory value that turns recording off.
const ReplayDisabled = "-"

// CommandConfig tunes the websocket command gate. Zero disables a check.
type CommandConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// ReplayConfig controls engagement recording and retention.
type ReplayConfig struct {
	Dir        string
	MaxBundles int
	MaxAge     time.Duration
}

// LeadConfig holds the solver tunables.
type LeadConfig struct {
	LatencyTicks   float64
	MaxIters       int
	MaxSimDistance float64
	FireDelayTicks int
	Drag           bool

	// Model is the default extrapolation, LeadModelVelocity or LeadModelAcceleration.
	Model string
}

// MountConfig describes the cannon served by this process.
type MountConfig struct {
	ID         string
	Cannon     string
	Projectile string
	Charges    int
	Dimension  string
	X, Y, Z    int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads configuration from GUNLAYER_* environment variables, optionally layered over
// the file named by GUNLAYER_CONFIG, applying defaults and returning every invalid
// override in one error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var problems []string

	//1.- A config file is optional; environment variables still win over it.
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			problems = append(problems, fmt.Sprintf("GUNLAYER_CONFIG could not be read: %v", err))
		}
	}

	p := parser{v: v}
	cfg := &Config{
		Address:         strings.TrimSpace(v.GetString("addr")),
		GRPCAddress:     strings.TrimSpace(v.GetString("grpc.addr")),
		GRPCSecret:      strings.TrimSpace(v.GetString("grpc.secret")),
		GRPCCertPath:    strings.TrimSpace(v.GetString("grpc.tls.cert")),
		GRPCKeyPath:     strings.TrimSpace(v.GetString("grpc.tls.key")),
		GRPCClientCA:    strings.TrimSpace(v.GetString("grpc.tls.client_ca")),
		AdminToken:      strings.TrimSpace(v.GetString("admin.token")),
		SolveRateLimit:  p.nonNegativeInt("http.solve_rate_limit"),
		AllowedOrigins:  parseList(v.GetString("allowed_origins")),
		WSAuthSecret:    strings.TrimSpace(v.GetString("ws.auth_secret")),
		MaxPayloadBytes: p.positiveInt64("ws.max_payload_bytes"),
		PingInterval:    p.positiveDuration("ws.ping_interval"),
		Commands: CommandConfig{
			MaxAge:      p.nonNegativeDuration("ws.command_max_age"),
			MinInterval: p.nonNegativeDuration("ws.command_min_interval"),
		},
		TickHz: p.positiveFloat("tick.hz"),
		Lead: LeadConfig{
			LatencyTicks:   p.nonNegativeFloat("lead.latency_ticks"),
			MaxIters:       p.positiveInt("lead.max_iters"),
			MaxSimDistance: p.positiveFloat("lead.max_sim_distance"),
			FireDelayTicks: p.nonNegativeInt("lead.fire_delay_ticks"),
			Drag:           p.boolean("lead.drag"),
			Model:          p.oneOf("lead.model", LeadModelVelocity, LeadModelAcceleration),
		},
		Mount: MountConfig{
			ID:         strings.TrimSpace(v.GetString("mount.id")),
			Cannon:     strings.TrimSpace(v.GetString("mount.cannon")),
			Projectile: strings.TrimSpace(v.GetString("mount.projectile")),
			Charges:    p.nonNegativeInt("mount.charges"),
			Dimension:  strings.TrimSpace(v.GetString("mount.dimension")),
		},
		StatePath: strings.TrimSpace(v.GetString("state.path")),
		Replay: ReplayConfig{
			Dir:        strings.TrimSpace(v.GetString("replay.dir")),
			MaxBundles: p.nonNegativeInt("replay.max_bundles"),
			MaxAge:     p.nonNegativeDuration("replay.max_age"),
		},
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(v.GetString("log.level")),
			Path:       strings.TrimSpace(v.GetString("log.path")),
			MaxSizeMB:  p.positiveInt("log.max_size_mb"),
			MaxBackups: p.nonNegativeInt("log.max_backups"),
			MaxAgeDays: p.nonNegativeInt("log.max_age_days"),
			Compress:   p.boolean("log.compress"),
		},
	}
	cfg.Mount.X, cfg.Mount.Y, cfg.Mount.Z = p.blockPosition("mount.position")
	if cfg.Mount.ID == "" {
		cfg.Mount.ID = fmt.Sprintf("%s@%d,%d,%d", cfg.Mount.Dimension, cfg.Mount.X, cfg.Mount.Y, cfg.Mount.Z)
	}
	problems = append(problems, p.problems...)

	//2.- Cross-field checks run after the individual values parsed.
	if cfg.Address == "" {
		problems = append(problems, "GUNLAYER_ADDR must not be empty")
	}
	if cfg.Mount.Cannon == "" || cfg.Mount.Projectile == "" {
		problems = append(problems, "GUNLAYER_MOUNT_CANNON and GUNLAYER_MOUNT_PROJECTILE must be provided")
	}
	if (cfg.GRPCCertPath == "") != (cfg.GRPCKeyPath == "") {
		problems = append(problems, "GUNLAYER_GRPC_TLS_CERT and GUNLAYER_GRPC_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("grpc.addr", DefaultGRPCAddr)
	v.SetDefault("grpc.secret", "")
	v.SetDefault("grpc.tls.cert", "")
	v.SetDefault("grpc.tls.key", "")
	v.SetDefault("grpc.tls.client_ca", "")
	v.SetDefault("admin.token", "")
	v.SetDefault("http.solve_rate_limit", DefaultSolveRateLimit)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("ws.auth_secret", "")
	v.SetDefault("ws.max_payload_bytes", DefaultMaxPayloadBytes)
	v.SetDefault("ws.ping_interval", DefaultPingInterval.String())
	v.SetDefault("ws.command_max_age", DefaultCommandMaxAge.String())
	v.SetDefault("ws.command_min_interval", DefaultCommandMinInterval.String())
	v.SetDefault("tick.hz", DefaultTickHz)
	v.SetDefault("lead.latency_ticks", DefaultLatencyTicks)
	v.SetDefault("lead.max_iters", DefaultMaxIters)
	v.SetDefault("lead.max_sim_distance", DefaultMaxSimDistance)
	v.SetDefault("lead.fire_delay_ticks", DefaultFireDelayTicks)
	v.SetDefault("lead.drag", DefaultDrag)
	v.SetDefault("lead.model", DefaultLeadModel)
	v.SetDefault("mount.id", "")
	v.SetDefault("mount.cannon", DefaultCannon)
	v.SetDefault("mount.projectile", DefaultProjectile)
	v.SetDefault("mount.charges", DefaultCharges)
	v.SetDefault("mount.dimension", DefaultDimension)
	v.SetDefault("mount.position", DefaultMountPosition)
	v.SetDefault("state.path", DefaultStatePath)
	v.SetDefault("replay.dir", DefaultReplayDir)
	v.SetDefault("replay.max_bundles", DefaultReplayMaxBundles)
	v.SetDefault("replay.max_age", DefaultReplayMaxAge.String())
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.path", DefaultLogPath)
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("log.compress", DefaultLogCompress)
}

// parser reads raw viper values so malformed overrides are reported instead of zeroed.
type parser struct {
	v        *viper.Viper
	problems []string
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) fail(key, want, raw string) {
	p.problems = append(p.problems, fmt.Sprintf("%s must be %s, got %q", envName(key), want, raw))
}

func (p *parser) positiveInt(key string) int {
	raw := p.raw(key)
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		p.fail(key, "a positive integer", raw)
		return 0
	}
	return value
}

func (p *parser) nonNegativeInt(key string) int {
	raw := p.raw(key)
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		p.fail(key, "a non-negative integer", raw)
		return 0
	}
	return value
}

func (p *parser) positiveInt64(key string) int64 {
	raw := p.raw(key)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		p.fail(key, "a positive integer", raw)
		return 0
	}
	return value
}

func (p *parser) positiveFloat(key string) float64 {
	raw := p.raw(key)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) {
		p.fail(key, "a positive number", raw)
		return 0
	}
	return value
}

func (p *parser) nonNegativeFloat(key string) float64 {
	raw := p.raw(key)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value >= 0) {
		p.fail(key, "a non-negative number", raw)
		return 0
	}
	return value
}

func (p *parser) positiveDuration(key string) time.Duration {
	raw := p.raw(key)
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		p.fail(key, "a positive duration", raw)
		return 0
	}
	return value
}

func (p *parser) nonNegativeDuration(key string) time.Duration {
	raw := p.raw(key)
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		p.fail(key, "a non-negative duration", raw)
		return 0
	}
	return value
}

func (p *parser) boolean(key string) bool {
	raw := p.raw(key)
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, "a boolean value", raw)
		return false
	}
	return value
}

func (p *parser) oneOf(key string, allowed ...string) string {
	raw := strings.ToLower(p.raw(key))
	for _, option := range allowed {
		if raw == option {
			return raw
		}
	}
	p.fail(key, "one of "+strings.Join(allowed, ", "), raw)
	return ""
}

func (p *parser) blockPosition(key string) (int, int, int) {
	raw := p.raw(key)
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		p.fail(key, "three comma separated integers", raw)
		return 0, 0, 0
	}
	var coords [3]int
	for i, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			p.fail(key, "three comma separated integers", raw)
			return 0, 0, 0
		}
		coords[i] = value
	}
	return coords[0], coords[1], coords[2]
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
