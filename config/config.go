// Package config loads the decoder's YAML configuration, fills defaults for
// anything left out, and rejects combinations that cannot run.
package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceMulticast = "multicast"
	SourceTCP       = "tcp"
	SourceTelnet    = "telnet"
	SourceFile      = "file"
	SourceStdin     = "stdin"
)

// UI modes.
const (
	UIHeadless = "headless"
	UITview    = "tview"
)

// Config represents the complete decoder configuration
type Config struct {
	Station    string        `yaml:"station"`
	Source     SourceConfig  `yaml:"source"`
	Decoder    DecoderConfig `yaml:"decoder"`
	Output     OutputConfig  `yaml:"output"`
	Forward    ForwardConfig `yaml:"forward"`
	Telnet     TelnetConfig  `yaml:"telnet"`
	Archive    ArchiveConfig `yaml:"archive"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	UI         UIConfig      `yaml:"ui"`
	Logging    LoggingConfig `yaml:"logging"`
	Stats      StatsConfig   `yaml:"stats"`
	LoadedFrom string        `yaml:"-"`
}

// SourceConfig selects where samples come from.
type SourceConfig struct {
	Kind               string `yaml:"kind"`
	Group              string `yaml:"group"`
	Port               int    `yaml:"port"`
	Interface          string `yaml:"interface"`
	Address            string `yaml:"address"`
	Path               string `yaml:"path"`
	ReadTimeoutSeconds int    `yaml:"read_timeout_seconds"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
	Reconnect          bool   `yaml:"reconnect"`
	ReadSize           int    `yaml:"read_size"`
}

// DecoderConfig tunes the decode loop.
type DecoderConfig struct {
	LogAmbiguous bool `yaml:"log_ambiguous"`
}

// OutputConfig controls the console writer.
type OutputConfig struct {
	Console      bool `yaml:"console"`
	FlushAll     bool `yaml:"flush_all"`
	FlushNewline bool `yaml:"flush_newline"`
}

// ForwardConfig sends decoded text to one downstream TCP listener.
type ForwardConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
}

// TelnetConfig contains telnet server settings
type TelnetConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	WelcomeMessage string `yaml:"welcome_message"`
	ReplayLines    int    `yaml:"replay_lines"`
	HistoryLines   int    `yaml:"history_lines"`
	ClientBuffer   int    `yaml:"client_buffer"`
	// Transport selects the connection wrapper: "ziutek" strips telnet
	// negotiation with github.com/ziutek/telnet, "native" writes raw.
	Transport string `yaml:"transport"`
}

// ArchiveConfig controls the SQLite line archive.
type ArchiveConfig struct {
	Enabled                bool   `yaml:"enabled"`
	DBPath                 string `yaml:"db_path"`
	QueueSize              int    `yaml:"queue_size"`
	BatchSize              int    `yaml:"batch_size"`
	BatchIntervalMS        int    `yaml:"batch_interval_ms"`
	RetentionDays          int    `yaml:"retention_days"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	DedupeWindowSeconds    int    `yaml:"dedupe_window_seconds"`
	BusyTimeoutMS          int    `yaml:"busy_timeout_ms"`
	PreflightTimeoutMS     int    `yaml:"preflight_timeout_ms"`
}

// MQTTConfig publishes completed lines to a broker.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// UIConfig selects the local console surface.
type UIConfig struct {
	Mode      string `yaml:"mode"`
	TextLines int    `yaml:"text_lines"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatsConfig controls periodic counter output.
type StatsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Default returns the configuration used when a field is absent: the DWD
// multicast feed of the GNU Radio flowgraph printed to the console.
func Default() Config {
	return Config{
		Station: "RTTY",
		Source: SourceConfig{
			Kind:               SourceMulticast,
			Group:              "225.0.0.1",
			Port:               10000,
			DialTimeoutSeconds: 30,
			ReadSize:           4096,
		},
		Output: OutputConfig{
			Console:      true,
			FlushAll:     true,
			FlushNewline: true,
		},
		Forward: ForwardConfig{
			DialTimeoutSeconds: 10,
		},
		Telnet: TelnetConfig{
			Port:           7300,
			MaxConnections: 50,
			WelcomeMessage: "Connected to <STATION> RTTY decoder.",
			ReplayLines:    20,
			HistoryLines:   500,
			ClientBuffer:   1024,
			Transport:      "ziutek",
		},
		Archive: ArchiveConfig{
			DBPath:                 "data/archive/rttydec.db",
			QueueSize:              1000,
			BatchSize:              50,
			BatchIntervalMS:        1000,
			RetentionDays:          30,
			CleanupIntervalSeconds: 3600,
			DedupeWindowSeconds:    600,
			BusyTimeoutMS:          2000,
			PreflightTimeoutMS:     2000,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "rttydec/lines",
			ClientID: "rttydec",
		},
		UI: UIConfig{
			Mode:      UIHeadless,
			TextLines: 200,
		},
		Logging: LoggingConfig{
			Dir:           "data/logs",
			RetentionDays: 7,
		},
		Stats: StatsConfig{
			IntervalSeconds: 60,
		},
	}
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	cfg.LoadedFrom = filename
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Station = strings.TrimSpace(c.Station)
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	c.Source.Group = strings.TrimSpace(c.Source.Group)
	c.Source.Address = strings.TrimSpace(c.Source.Address)
	c.Forward.Address = strings.TrimSpace(c.Forward.Address)
	c.Telnet.Transport = strings.ToLower(strings.TrimSpace(c.Telnet.Transport))
	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = UIHeadless
	}
	if c.Output.FlushAll {
		c.Output.FlushNewline = true
	}
	if c.Source.ReadSize <= 0 {
		c.Source.ReadSize = 4096
	}
	if c.Telnet.ReplayLines > c.Telnet.HistoryLines {
		c.Telnet.HistoryLines = c.Telnet.ReplayLines
	}
}

// Validate reports the first setting that prevents startup.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceMulticast:
		ip := net.ParseIP(c.Source.Group)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("source.group %q is not an IPv4 multicast address", c.Source.Group)
		}
		if c.Source.Port <= 0 || c.Source.Port > 65535 {
			return fmt.Errorf("source.port %d out of range", c.Source.Port)
		}
	case SourceTCP, SourceTelnet:
		if _, _, err := net.SplitHostPort(c.Source.Address); err != nil {
			return fmt.Errorf("source.address %q: %w", c.Source.Address, err)
		}
	case SourceFile:
		if strings.TrimSpace(c.Source.Path) == "" {
			return fmt.Errorf("source.path is required for kind %q", SourceFile)
		}
	case SourceStdin:
	default:
		return fmt.Errorf("source.kind %q not recognized", c.Source.Kind)
	}
	if c.Forward.Enabled {
		if _, _, err := net.SplitHostPort(c.Forward.Address); err != nil {
			return fmt.Errorf("forward.address %q: %w", c.Forward.Address, err)
		}
	}
	if c.Telnet.Enabled {
		if c.Telnet.Port <= 0 || c.Telnet.Port > 65535 {
			return fmt.Errorf("telnet.port %d out of range", c.Telnet.Port)
		}
		if c.Telnet.Transport != "ziutek" && c.Telnet.Transport != "native" {
			return fmt.Errorf("telnet.transport %q must be ziutek or native", c.Telnet.Transport)
		}
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.DBPath) == "" {
		return fmt.Errorf("archive.db_path is required when the archive is enabled")
	}
	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.Broker) == "" || strings.TrimSpace(c.MQTT.Topic) == "" {
			return fmt.Errorf("mqtt.broker and mqtt.topic are required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
		}
	}
	if c.UI.Mode != UIHeadless && c.UI.Mode != UITview {
		return fmt.Errorf("ui.mode %q must be %s or %s", c.UI.Mode, UIHeadless, UITview)
	}
	return nil
}

// SourceLabel describes the configured source for logs.
func (c *Config) SourceLabel() string {
	switch c.Source.Kind {
	case SourceMulticast:
		return fmt.Sprintf("multicast %s:%d", c.Source.Group, c.Source.Port)
	case SourceTCP, SourceTelnet:
		return fmt.Sprintf("%s %s", c.Source.Kind, c.Source.Address)
	case SourceFile:
		return "file " + c.Source.Path
	default:
		return c.Source.Kind
	}
}

// Print displays the configuration
func (c *Config) Print(w io.Writer) {
	fmt.Fprintf(w, "Station: %s\n", c.Station)
	fmt.Fprintf(w, "Source: %s\n", c.SourceLabel())
	if c.Output.Console {
		fmt.Fprintf(w, "Console: flush_all=%t flush_newline=%t\n", c.Output.FlushAll, c.Output.FlushNewline)
	}
	if c.Forward.Enabled {
		fmt.Fprintf(w, "Forward: %s\n", c.Forward.Address)
	}
	if c.Telnet.Enabled {
		fmt.Fprintf(w, "Telnet: port %d (max %d clients, replay %d lines, transport=%s)\n",
			c.Telnet.Port, c.Telnet.MaxConnections, c.Telnet.ReplayLines, c.Telnet.Transport)
	}
	if c.Archive.Enabled {
		fmt.Fprintf(w, "Archive: %s (retention %d days)\n", c.Archive.DBPath, c.Archive.RetentionDays)
	}
	if c.MQTT.Enabled {
		fmt.Fprintf(w, "MQTT: %s topic %s (qos %d)\n", c.MQTT.Broker, c.MQTT.Topic, c.MQTT.QoS)
	}
	if c.Logging.Enabled {
		fmt.Fprintf(w, "Logging: %s (retention %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
}
