// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/probe"
	"firestige.xyz/netmon/internal/render"
)

// EnvPrefix is the environment variable prefix (e.g. NETMON_CAPTURE_INTERFACE).
const EnvPrefix = "NETMON"

// Config represents the top-level configuration.
// Maps to the `netmon:` root key in YAML.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Display DisplayConfig `mapstructure:"display"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`

	filterSpec filter.Spec
	mode       render.Mode
	settings   map[string]any
}

// ─── Capture ───

// CaptureConfig selects the capture backend and the probe settings.
type CaptureConfig struct {
	Interface    string         `mapstructure:"interface"`
	Backend      string         `mapstructure:"backend"`       // xdp | afpacket | pcap
	PayloadBytes int            `mapstructure:"payload_bytes"` // [1, 256]
	RingCapacity int            `mapstructure:"ring_capacity"` // records per CPU, user-space rings
	XDP          XDPConfig      `mapstructure:"xdp"`
	AFPacket     AFPacketConfig `mapstructure:"afpacket"`
	Pcap         PcapConfig     `mapstructure:"pcap"`
}

// XDPConfig configures the XDP probe.
type XDPConfig struct {
	Object     string `mapstructure:"object"`      // compiled probe ELF
	AttachMode string `mapstructure:"attach_mode"` // auto | native | generic | offload
	RingBytes  int    `mapstructure:"ring_bytes"`  // per-CPU BPF ring buffer size
}

// AFPacketConfig configures the AF_PACKET fallback backend.
type AFPacketConfig struct {
	Workers     int           `mapstructure:"workers"` // 0 = one per CPU
	FanoutID    uint16        `mapstructure:"fanout_id"`
	RingMB      int           `mapstructure:"ring_mb"`
	SnapLen     int           `mapstructure:"snap_len"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// PcapConfig configures offline replay.
type PcapConfig struct {
	Path string `mapstructure:"path"`
}

// ─── Filter ───

// FilterConfig holds the optional filter predicates. Zero values mean "any".
type FilterConfig struct {
	Protocol string     `mapstructure:"protocol"` // tcp | udp | icmp | all
	SrcIP    netip.Addr `mapstructure:"src_ip"`
	DstIP    netip.Addr `mapstructure:"dst_ip"`
	SrcPort  uint16     `mapstructure:"src_port"`
	DstPort  uint16     `mapstructure:"dst_port"`
	MinSize  uint32     `mapstructure:"min_size"`
	MaxSize  uint32     `mapstructure:"max_size"`
}

// ─── Display ───

// DisplayConfig selects the presentation mode.
type DisplayConfig struct {
	Mode string `mapstructure:"mode"` // basic | hex | text | protocol | json
}

// ─── Output ───

// OutputConfig selects the event sink.
type OutputConfig struct {
	Type  string          `mapstructure:"type"` // stdout | file | kafka
	File  FileSinkConfig  `mapstructure:"file"`
	Kafka KafkaSinkConfig `mapstructure:"kafka"`
}

// FileSinkConfig writes events to a rotated file.
type FileSinkConfig struct {
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// KafkaSinkConfig publishes one message per event.
type KafkaSinkConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings. Logs always go to stderr.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // trace / debug / info / warn / error
	Format  string           `mapstructure:"format"`  // pattern / text / json
	Pattern string           `mapstructure:"pattern"` // used by the pattern format
	Time    string           `mapstructure:"time"`    // time layout of the pattern format
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains extra log destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Daemon ───

// DaemonConfig contains process lifecycle settings.
type DaemonConfig struct {
	PIDFile         string        `mapstructure:"pid_file"` // empty = none
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"` // 0 = disabled
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netmon: ...`.
type configRoot struct {
	Netmon Config `mapstructure:"netmon"`
}

// Load loads configuration. The file is optional; when path is empty only
// defaults, NETMON_* environment variables and flags apply. Flags registered
// by RegisterFlags take precedence over everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %w", core.ErrConfigInvalid, err)
		}
	}

	// The `netmon.` key prefix maps to NETMON_ via the key replacer
	// (e.g. "netmon.filter.dst_port" -> NETMON_FILTER_DST_PORT).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var root configRoot
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToAddrHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hooks); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %w", core.ErrConfigInvalid, err)
	}
	cfg := root.Netmon
	cfg.settings = v.AllSettings()

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default values. All keys use the "netmon." prefix to
// match the YAML root wrapper; AutomaticEnv only sees keys viper knows about.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("netmon.capture.interface", "eth0")
	v.SetDefault("netmon.capture.backend", "xdp")
	v.SetDefault("netmon.capture.payload_bytes", core.DefaultPayloadBytes)
	v.SetDefault("netmon.capture.ring_capacity", 4096)
	v.SetDefault("netmon.capture.xdp.object", "/usr/lib/netmon/probe.o")
	v.SetDefault("netmon.capture.xdp.attach_mode", "auto")
	v.SetDefault("netmon.capture.xdp.ring_bytes", 1<<20)
	v.SetDefault("netmon.capture.afpacket.workers", 0)
	v.SetDefault("netmon.capture.afpacket.fanout_id", 42)
	v.SetDefault("netmon.capture.afpacket.ring_mb", 8)
	v.SetDefault("netmon.capture.afpacket.snap_len", 65535)
	v.SetDefault("netmon.capture.afpacket.poll_timeout", "100ms")
	v.SetDefault("netmon.capture.pcap.path", "")

	// Filter defaults
	v.SetDefault("netmon.filter.protocol", "all")
	v.SetDefault("netmon.filter.src_ip", "")
	v.SetDefault("netmon.filter.dst_ip", "")
	v.SetDefault("netmon.filter.src_port", 0)
	v.SetDefault("netmon.filter.dst_port", 0)
	v.SetDefault("netmon.filter.min_size", 0)
	v.SetDefault("netmon.filter.max_size", 0)

	// Display defaults
	v.SetDefault("netmon.display.mode", "basic")

	// Output defaults
	v.SetDefault("netmon.output.type", "stdout")
	v.SetDefault("netmon.output.file.path", "/var/log/netmon/events.log")
	v.SetDefault("netmon.output.file.rotation.max_size_mb", 100)
	v.SetDefault("netmon.output.file.rotation.max_age_days", 7)
	v.SetDefault("netmon.output.file.rotation.max_backups", 5)
	v.SetDefault("netmon.output.file.rotation.compress", true)
	v.SetDefault("netmon.output.kafka.brokers", []string{})
	v.SetDefault("netmon.output.kafka.topic", "netmon-events")
	v.SetDefault("netmon.output.kafka.batch_size", 100)
	v.SetDefault("netmon.output.kafka.batch_timeout", "100ms")
	v.SetDefault("netmon.output.kafka.compression", "snappy")
	v.SetDefault("netmon.output.kafka.max_attempts", 3)

	// Metrics defaults
	v.SetDefault("netmon.metrics.enabled", false)
	v.SetDefault("netmon.metrics.listen", ":9091")
	v.SetDefault("netmon.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("netmon.log.level", "info")
	v.SetDefault("netmon.log.format", "pattern")
	v.SetDefault("netmon.log.pattern", "%time [%level] %caller: %msg %field")
	v.SetDefault("netmon.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("netmon.log.outputs.file.enabled", false)
	v.SetDefault("netmon.log.outputs.file.path", "/var/log/netmon/netmon.log")
	v.SetDefault("netmon.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netmon.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netmon.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netmon.log.outputs.file.rotation.compress", true)

	// Daemon defaults
	v.SetDefault("netmon.daemon.pid_file", "")
	v.SetDefault("netmon.daemon.shutdown_timeout", "5s")
	v.SetDefault("netmon.daemon.stats_interval", "0s")
}

// ValidateAndApplyDefaults validates the configuration and derives the typed
// values returned by FilterSpec and Mode. Every failure wraps
// core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Capture ──
	switch cfg.Capture.Backend {
	case "xdp", "afpacket":
		if cfg.Capture.Interface == "" {
			return invalid("capture.interface is required for the %s backend", cfg.Capture.Backend)
		}
	case "pcap":
		if cfg.Capture.Pcap.Path == "" {
			return invalid("capture.pcap.path is required for the pcap backend")
		}
	default:
		return invalid("unknown capture.backend %q (must be xdp/afpacket/pcap)", cfg.Capture.Backend)
	}
	if cfg.Capture.PayloadBytes == 0 {
		cfg.Capture.PayloadBytes = core.DefaultPayloadBytes
	}
	if cfg.Capture.PayloadBytes < 1 || cfg.Capture.PayloadBytes > core.PayloadCapacity {
		return invalid("capture.payload_bytes %d out of range [1, %d]", cfg.Capture.PayloadBytes, core.PayloadCapacity)
	}
	if cfg.Capture.RingCapacity <= 0 {
		return invalid("capture.ring_capacity must be positive")
	}
	switch cfg.Capture.XDP.AttachMode {
	case "auto", "native", "generic", "offload":
	default:
		return invalid("unknown capture.xdp.attach_mode %q (must be auto/native/generic/offload)", cfg.Capture.XDP.AttachMode)
	}
	if cfg.Capture.AFPacket.Workers < 0 {
		return invalid("capture.afpacket.workers must not be negative")
	}

	// ── Filter ──
	proto, err := core.ParseProtocol(cfg.Filter.Protocol)
	if err != nil {
		return err
	}
	spec := filter.Spec{
		Protocol: proto,
		SrcIP:    cfg.Filter.SrcIP,
		DstIP:    cfg.Filter.DstIP,
		SrcPort:  cfg.Filter.SrcPort,
		DstPort:  cfg.Filter.DstPort,
		MinSize:  cfg.Filter.MinSize,
		MaxSize:  cfg.Filter.MaxSize,
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	cfg.filterSpec = spec

	// ── Display ──
	mode, err := render.ParseMode(cfg.Display.Mode)
	if err != nil {
		return err
	}
	cfg.mode = mode

	// ── Output ──
	switch cfg.Output.Type {
	case "stdout":
	case "file":
		if cfg.Output.File.Path == "" {
			return invalid("output.file.path is required when output.type=file")
		}
	case "kafka":
		if len(cfg.Output.Kafka.Brokers) == 0 {
			return invalid("output.kafka.brokers is required when output.type=kafka")
		}
		if cfg.Output.Kafka.Topic == "" {
			return invalid("output.kafka.topic is required when output.type=kafka")
		}
		switch cfg.Output.Kafka.Compression {
		case "", "none", "gzip", "snappy", "lz4":
		default:
			return invalid("invalid output.kafka.compression %q (must be none/gzip/snappy/lz4)", cfg.Output.Kafka.Compression)
		}
	default:
		return invalid("unknown output.type %q (must be stdout/file/kafka)", cfg.Output.Type)
	}

	// ── Log ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return invalid("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "pattern", "text", "json":
	default:
		return invalid("invalid log format: %s (must be pattern/text/json)", cfg.Log.Format)
	}

	// ── Daemon ──
	if cfg.Daemon.ShutdownTimeout <= 0 {
		return invalid("daemon.shutdown_timeout must be positive")
	}
	if cfg.Daemon.StatsInterval < 0 {
		return invalid("daemon.stats_interval must not be negative")
	}
	return nil
}

// FilterSpec returns the validated filter predicates.
func (cfg *Config) FilterSpec() filter.Spec { return cfg.filterSpec }

// Mode returns the validated display mode.
func (cfg *Config) Mode() render.Mode { return cfg.mode }

// Settings returns the merged settings (file, environment, flags and
// defaults) keyed like the YAML file.
func (cfg *Config) Settings() map[string]any { return cfg.settings }

// ProbeConfig returns the capture probe settings.
func (cfg *Config) ProbeConfig() probe.Config {
	return probe.Config{PayloadBytes: cfg.Capture.PayloadBytes}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrConfigInvalid}, args...)...)
}

// stringToAddrHook decodes IPv4 filter addresses. The empty string is the
// zero Addr, meaning "any".
func stringToAddrHook() mapstructure.DecodeHookFuncType {
	addrType := reflect.TypeOf(netip.Addr{})
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != addrType {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return netip.Addr{}, nil
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad address %q: %w", core.ErrConfigInvalid, s, err)
		}
		return addr, nil
	}
}
