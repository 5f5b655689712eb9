// Package config loads the simulator's YAML configuration.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	VariantEtha  = "etha"
	VariantIPsec = "ipsec"
	VariantRohc  = "rohc"

	MediumLoopback = "loopback"
	MediumTap      = "tap"
	MediumPcap     = "pcap"
	MediumSwitch   = "switch"
)

type Config struct {
	Variant string `yaml:"variant"`
	// CoreAffinity pins the run loop to a CPU. -1 leaves it unpinned.
	CoreAffinity int `yaml:"core_affinity"`

	Memory Memory `yaml:"memory"`
	Medium Medium `yaml:"medium"`

	SocketPath      string        `yaml:"socket_path"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// Memory is the device's address window, used when it is not fed a
// memory table by a driver.
type Memory struct {
	Base uint64 `yaml:"base"`
	Size int    `yaml:"size"`
}

// Medium is where an etha device sends and receives frames.
type Medium struct {
	Kind    string `yaml:"kind"`
	TapName string `yaml:"tap_name"`
	PcapIn  string `yaml:"pcap_in"`
	PcapOut string `yaml:"pcap_out"`
	Buffer  int    `yaml:"buffer"`
}

func Default() *Config {
	return &Config{
		Variant:      VariantEtha,
		CoreAffinity: -1,
		Memory: Memory{
			Base: 0x10000,
			Size: 16 << 20,
		},
		Medium: Medium{
			Kind:   MediumLoopback,
			Buffer: 256,
		},
		MetricsInterval: 10 * time.Second,
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config")
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}

	return cfg, nil
}

// Parse reads a config document over the defaults. Unknown keys are an
// error.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func ParseString(raw string) (*Config, error) {
	return Parse(bytes.NewBufferString(raw))
}

func (c *Config) Validate() error {
	switch c.Variant {
	case VariantEtha, VariantIPsec, VariantRohc:
	default:
		return errors.Errorf("unknown variant %q", c.Variant)
	}

	if c.CoreAffinity < -1 {
		return errors.Errorf("core_affinity must be -1 or a cpu, got %d", c.CoreAffinity)
	}

	if c.Memory.Base == 0 {
		return errors.New("memory.base must not be zero")
	}
	if c.Memory.Size <= 0 {
		return errors.Errorf("memory.size must be positive, got %d", c.Memory.Size)
	}

	if c.Medium.Buffer <= 0 {
		return errors.Errorf("medium.buffer must be positive, got %d", c.Medium.Buffer)
	}

	if c.Variant != VariantEtha {
		return nil
	}

	switch c.Medium.Kind {
	case MediumLoopback, MediumSwitch:
	case MediumTap:
		if c.Medium.TapName == "" {
			return errors.New("medium.tap_name is required for a tap medium")
		}
	case MediumPcap:
		if c.Medium.PcapIn == "" && c.Medium.PcapOut == "" {
			return errors.New("a pcap medium needs medium.pcap_in or medium.pcap_out")
		}
	default:
		return errors.Errorf("unknown medium %q", c.Medium.Kind)
	}

	return nil
}
