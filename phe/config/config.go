// Package config loads the TOML configuration shared by the phe commands.
package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/TheusHen/phe/phe/elgamal"
)

const (
	PresetRFC3526 = "rfc3526-2048"
	PresetToy     = "toy-7919"
)

var (
	ErrUnknownPreset = errors.New("config: unknown group preset")
	ErrUnknownKeys   = errors.New("config: unknown keys")
)

var presets = map[string]func() elgamal.GroupParameters{
	PresetRFC3526: elgamal.RFC3526Group2048,
	PresetToy:     elgamal.ToyGroup,
}

// Presets lists the preset names in sorted order.
func Presets() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Config is the on-disk configuration.
type Config struct {
	Group   GroupConfig   `toml:"group"`
	Relay   RelayConfig   `toml:"relay"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// GroupConfig selects the ElGamal group. Explicit P and G (hex) take
// precedence over Preset.
type GroupConfig struct {
	Preset string `toml:"preset"`
	P      string `toml:"p,omitempty"`
	G      string `toml:"g,omitempty"`
}

type RelayConfig struct {
	Listen  string `toml:"listen"`
	Store   string `toml:"store"`
	Workers int    `toml:"workers"`
	Queue   int    `toml:"queue"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Group: GroupConfig{Preset: PresetRFC3526},
		Relay: RelayConfig{
			Listen:  "[::1]:4433",
			Store:   "relay.db",
			Workers: 4,
			Queue:   64,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path on top of Default. Keys the file sets that Config does not
// know about are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path.
func (c *Config) Save(path string) error {
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.Encode(fd); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks the group and the relay sizing.
func (c *Config) Validate() error {
	if _, err := c.Group.Parameters(); err != nil {
		return err
	}
	if c.Relay.Workers <= 0 {
		return fmt.Errorf("config: relay.workers must be positive, got %d", c.Relay.Workers)
	}
	if c.Relay.Queue < 0 {
		return fmt.Errorf("config: relay.queue must not be negative, got %d", c.Relay.Queue)
	}
	return nil
}

// Parameters resolves and validates the configured group.
func (g GroupConfig) Parameters() (elgamal.GroupParameters, error) {
	if g.P != "" || g.G != "" {
		p, ok := new(big.Int).SetString(strings.TrimPrefix(g.P, "0x"), 16)
		if !ok {
			return elgamal.GroupParameters{}, fmt.Errorf("config: group.p is not hex")
		}
		gen, ok := new(big.Int).SetString(strings.TrimPrefix(g.G, "0x"), 16)
		if !ok {
			return elgamal.GroupParameters{}, fmt.Errorf("config: group.g is not hex")
		}
		return elgamal.NewGroupParameters(p, gen)
	}

	preset, ok := presets[g.Preset]
	if !ok {
		return elgamal.GroupParameters{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownPreset, g.Preset, strings.Join(Presets(), ", "))
	}
	gp := preset()
	return gp, gp.Validate()
}
