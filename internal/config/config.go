// Package config loads the agent's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"edge-telemetry-agent/internal/sensor"
	"edge-telemetry-agent/internal/utils"
)

type Config struct {
	Device  Device           `yaml:"device"`
	Network Network          `yaml:"network"`
	Server  Server           `yaml:"server"`
	Storage Storage          `yaml:"storage"`
	Cadence Cadence          `yaml:"cadence"`
	Bus     sensor.BusConfig `yaml:"bus"`
	Bench   Bench            `yaml:"bench"`
	Display Display          `yaml:"display"`
	Log     Log              `yaml:"log"`
	Status  Status           `yaml:"status"`
}

// Device is how the agent presents itself at registration.
type Device struct {
	Name      string   `yaml:"name"`
	Status    string   `yaml:"status"`
	Sensors   []string `yaml:"sensors"`
	Actuators []string `yaml:"actuators"`
}

type Network struct {
	Associator   string        `yaml:"associator"` // nmcli | static
	SSID         string        `yaml:"ssid"`
	Password     string        `yaml:"password"`
	Interface    string        `yaml:"interface"`
	JoinAttempts int           `yaml:"join_attempts"`
	JoinInterval time.Duration `yaml:"join_interval"`
	// Hotspot is shown on the display when the wireless network cannot be joined.
	HotspotSSID     string `yaml:"hotspot_ssid"`
	HotspotPassword string `yaml:"hotspot_password"`
}

type Server struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Storage struct {
	Dir              string  `yaml:"dir"`
	QueueFile        string  `yaml:"queue_file"`
	RegistrationFile string  `yaml:"registration_file"`
	Archive          Archive `yaml:"archive"`
}

type Archive struct {
	Enabled  bool          `yaml:"enabled"`
	FileType string        `yaml:"file_type"`
	DBPath   string        `yaml:"db_path"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Cadence holds the timing and retry policy of the mode controller.
type Cadence struct {
	SampleInterval      time.Duration `yaml:"sample_interval"`
	CacheBatchSize      int           `yaml:"cache_batch_size"`
	ProbeInterval       time.Duration `yaml:"probe_interval"`
	MaxUploadFailures   int           `yaml:"max_upload_failures"`
	RelayCooldownCycles int           `yaml:"relay_cooldown_cycles"`
}

// Bench configures the CSV-driven bench bus used in place of a sensor board.
type Bench struct {
	Listen         string            `yaml:"listen"`
	CSVFile        string            `yaml:"csv_file"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
	Columns        map[string]string `yaml:"columns"` // channel -> csv column, default the channel name
}

type Display struct {
	Types  []string           `yaml:"type"` // log | serial | mqtt
	Width  int                `yaml:"width"`
	Serial utils.SerialParams `yaml:"serial"`
	MQTT   MQTT               `yaml:"mqtt"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Status struct {
	Listen string `yaml:"listen"`
}

// LoadYAML reads path, applies defaults and validates the result.
func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Name == "" {
		if h, err := os.Hostname(); err == nil {
			c.Device.Name = h
		} else {
			c.Device.Name = "edge-agent"
		}
	}
	if c.Device.Status == "" {
		c.Device.Status = "active"
	}
	if c.Network.Associator == "" {
		c.Network.Associator = "static"
	}
	if c.Network.JoinAttempts <= 0 {
		c.Network.JoinAttempts = 20
	}
	if c.Network.JoinInterval <= 0 {
		c.Network.JoinInterval = time.Second
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 10 * time.Second
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.QueueFile == "" {
		c.Storage.QueueFile = "queue.json"
	}
	if c.Storage.RegistrationFile == "" {
		c.Storage.RegistrationFile = "registration.json"
	}
	if c.Storage.Archive.FileType == "" {
		c.Storage.Archive.FileType = "jsonl"
	}
	if c.Storage.Archive.CacheTTL <= 0 {
		c.Storage.Archive.CacheTTL = time.Hour
	}
	if c.Cadence.SampleInterval == 0 {
		c.Cadence.SampleInterval = time.Second
	}
	if c.Cadence.CacheBatchSize <= 0 {
		c.Cadence.CacheBatchSize = 5
	}
	if c.Cadence.ProbeInterval <= 0 {
		c.Cadence.ProbeInterval = 5 * time.Second
	}
	if c.Cadence.MaxUploadFailures <= 0 {
		c.Cadence.MaxUploadFailures = 5
	}
	if c.Cadence.RelayCooldownCycles < 0 {
		c.Cadence.RelayCooldownCycles = 0
	} else if c.Cadence.RelayCooldownCycles == 0 {
		c.Cadence.RelayCooldownCycles = 3
	}
	if c.Bus.Protocol == "" {
		c.Bus.Protocol = "simulated"
	}
	if c.Bench.Listen == "" {
		c.Bench.Listen = ":1502"
	}
	if c.Bench.UpdateInterval <= 0 {
		c.Bench.UpdateInterval = 5 * time.Second
	}
	if len(c.Display.Types) == 0 {
		c.Display.Types = []string{"log"}
	}
	if c.Display.Width <= 0 {
		c.Display.Width = 16
	}
	if c.Display.MQTT.Topic == "" {
		c.Display.MQTT.Topic = "edge/" + c.Device.Name + "/display"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports configuration the agent cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	}
	if len(c.Device.Sensors) == 0 {
		errs = append(errs, errors.New("device.sensors must list at least one sensor"))
	}
	if c.Cadence.SampleInterval < 0 {
		errs = append(errs, errors.New("cadence.sample_interval must be positive"))
	}
	seen := map[string]bool{}
	for _, n := range append(append([]string{}, c.Device.Sensors...), c.Device.Actuators...) {
		if seen[n] {
			errs = append(errs, fmt.Errorf("channel %q listed twice", n))
		}
		seen[n] = true
	}
	switch strings.ToLower(c.Bus.Protocol) {
	case "simulated":
	case "modbus-tcp", "tcp", "modbus-rtu", "rtu":
		points := map[string]bool{}
		for _, p := range c.Bus.Points {
			points[p.Name] = true
		}
		for n := range seen {
			if !points[n] {
				errs = append(errs, fmt.Errorf("channel %q has no bus point", n))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus.protocol %q", c.Bus.Protocol))
	}
	switch c.Network.Associator {
	case "static":
	case "nmcli":
		if c.Network.SSID == "" {
			errs = append(errs, errors.New("network.ssid is required for the nmcli associator"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown network.associator %q", c.Network.Associator))
	}
	for _, t := range c.Display.Types {
		switch t {
		case "log", "serial", "mqtt":
		default:
			errs = append(errs, fmt.Errorf("unknown display type %q", t))
		}
	}
	return errors.Join(errs...)
}

// QueuePath is the absolute or storage-relative queue file.
func (c Config) QueuePath() string { return c.storagePath(c.Storage.QueueFile) }

// RegistrationPath is the absolute or storage-relative registration file.
func (c Config) RegistrationPath() string { return c.storagePath(c.Storage.RegistrationFile) }

// ArchivePath is the archive database, archive.sqlite under the storage dir by default.
func (c Config) ArchivePath() string {
	if c.Storage.Archive.DBPath == "" {
		return c.storagePath("archive.sqlite")
	}
	return c.storagePath(c.Storage.Archive.DBPath)
}

func (c Config) storagePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.Dir, name)
}
