// Package config loads the daemon configuration: where to listen, where to
// store readings and which sensors to poll.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/particulate/internal/frame"
	"github.com/banshee-data/particulate/internal/serialport"
)

// DefaultConfigPath is where the daemon looks when --config is not given.
const DefaultConfigPath = "config/particulate.yaml"

const (
	DefaultListen = ":8080"
	DefaultDBPath = "particulate.db"

	// PresetCustom takes the whole frame layout from the frame section.
	PresetCustom = "custom"
)

// Config is the root of the configuration file.
type Config struct {
	Listen  string         `json:"listen" yaml:"listen"`
	DBPath  string         `json:"db_path" yaml:"db_path"`
	Sensors []SensorConfig `json:"sensors" yaml:"sensors"`
}

// SensorConfig describes one sensor. Zero values take the preset's defaults.
type SensorConfig struct {
	Name   string `json:"name" yaml:"name"`
	Port   string `json:"port" yaml:"port"`
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`

	BaudRate int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`   // duration string like "100ms"
	PollInterval string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"` // duration string like "15s"

	Frame *FrameConfig `json:"frame,omitempty" yaml:"frame,omitempty"`
}

// FrameConfig overrides parts of the preset's frame layout. Pointer fields
// distinguish "unset" from a legitimate zero offset.
type FrameConfig struct {
	Length    int             `json:"length,omitempty" yaml:"length,omitempty"`
	Header    string          `json:"header,omitempty" yaml:"header,omitempty"` // hex, e.g. "42 4D"
	Checksum  *ChecksumConfig `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	ValueHigh *int            `json:"value_high,omitempty" yaml:"value_high,omitempty"`
	ValueLow  *int            `json:"value_low,omitempty" yaml:"value_low,omitempty"`
}

type ChecksumConfig struct {
	Width  int    `json:"width,omitempty" yaml:"width,omitempty"`
	Order  string `json:"order,omitempty" yaml:"order,omitempty"` // "big" or "little"
	Start  *int   `json:"start,omitempty" yaml:"start,omitempty"`
	End    *int   `json:"end,omitempty" yaml:"end,omitempty"`
	Offset *int   `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// presetUART is the UART setting each preset's sensor speaks. A config that
// asks for anything else is rejected rather than silently reading garbage.
var presetUART = map[string]serialport.PortOptions{
	"pms5003":        {BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
	"makerfabs_pm25": {BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
	"ssap10":         {BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
}

// Default returns a configuration with no sensors.
func Default() *Config {
	return &Config{Listen: DefaultListen, DBPath: DefaultDBPath}
}

// Load reads a .json, .yaml or .yml configuration file, applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Normalise fills in defaults for unset top-level fields and presets.
func (c *Config) Normalise() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = DefaultDBPath
	}
	for i := range c.Sensors {
		s := &c.Sensors[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Preset = strings.ToLower(strings.TrimSpace(s.Preset))
		if s.Preset == "" {
			s.Preset = "pms5003"
		}
	}
}

// Validate reports every problem in the configuration, not just the first.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, s := range c.Sensors {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sensors[%d]: name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sensors[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		if _, err := s.Layout(); err != nil {
			errs = append(errs, fmt.Errorf("sensor %q: %w", s.Name, err))
		}
		if _, err := s.PortOptions(); err != nil {
			errs = append(errs, fmt.Errorf("sensor %q: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Layout builds the frame layout: the preset, then any frame overrides.
func (s SensorConfig) Layout() (frame.Layout, error) {
	var l frame.Layout
	if s.Preset == PresetCustom {
		if s.Frame == nil {
			return l, errors.New("custom preset needs a frame section")
		}
		l.PollInterval = frame.DefaultPollInterval
	} else {
		var err error
		if l, err = frame.Preset(s.Preset); err != nil {
			return l, err
		}
	}

	if s.PollInterval != "" {
		d, err := time.ParseDuration(s.PollInterval)
		if err != nil {
			return l, fmt.Errorf("invalid poll_interval '%s': %w", s.PollInterval, err)
		}
		l.PollInterval = d
	}

	if f := s.Frame; f != nil {
		if f.Length != 0 {
			l.Length = f.Length
		}
		if f.Header != "" {
			h, err := parseHex(f.Header)
			if err != nil {
				return l, fmt.Errorf("invalid frame header %q: %w", f.Header, err)
			}
			l.Header = h
		}
		if f.ValueHigh != nil {
			l.ValueHigh = *f.ValueHigh
		}
		if f.ValueLow != nil {
			l.ValueLow = *f.ValueLow
		}
		if c := f.Checksum; c != nil {
			if c.Width != 0 {
				l.Checksum.Width = c.Width
			}
			switch strings.ToLower(c.Order) {
			case "":
			case "big", "big-endian", "be":
				l.Checksum.Order = frame.BigEndian
			case "little", "little-endian", "le":
				l.Checksum.Order = frame.LittleEndian
			default:
				return l, fmt.Errorf("unknown checksum order %q", c.Order)
			}
			if c.Start != nil {
				l.Checksum.Start = *c.Start
			}
			if c.End != nil {
				l.Checksum.End = *c.End
			}
			if c.Offset != nil {
				l.Checksum.Offset = *c.Offset
			}
		}
	}

	return l, l.Validate()
}

// PortOptions returns the normalised UART settings. For the named presets
// they must match what the sensor transmits.
func (s SensorConfig) PortOptions() (serialport.PortOptions, error) {
	opts := serialport.PortOptions{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		StopBits: s.StopBits,
		Parity:   s.Parity,
	}
	if s.ReadTimeout != "" {
		d, err := time.ParseDuration(s.ReadTimeout)
		if err != nil {
			return opts, fmt.Errorf("invalid read_timeout '%s': %w", s.ReadTimeout, err)
		}
		opts.ReadTimeout = d
	}

	opts, err := opts.Normalise()
	if err != nil {
		return opts, err
	}

	if want, ok := presetUART[s.Preset]; ok {
		got := opts
		got.ReadTimeout = 0
		if got != want {
			return opts, fmt.Errorf("%s sensors require %s UART settings, got %s", s.Preset, want, got)
		}
	}
	return opts, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", "0x", "", "0X", "", ",", "").Replace(s)
	return hex.DecodeString(s)
}
