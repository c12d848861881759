// Package config handles vmkit.toml host configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"vmkit/internal/bytecode"
	"vmkit/internal/code"
	"vmkit/internal/vm"
)

const FileName = "vmkit.toml"

// Config is a vmkit.toml file. Zero values mean defaults.
type Config struct {
	VM     VMConfig     `toml:"vm"`
	Format FormatConfig `toml:"format"`
	Log    LogConfig    `toml:"log"`
	Store  StoreConfig  `toml:"store"`

	// Dir is the directory containing the vmkit.toml file (set at load time).
	Dir string `toml:"-"`
}

type VMConfig struct {
	StackSize   int   `toml:"stack_size"`
	GlobalsSize int   `toml:"globals_size"`
	MaxFrames   int   `toml:"max_frames"`
	MaxSteps    int64 `toml:"max_steps"`
}

type FormatConfig struct {
	// Compat is exact, patch or minor.
	Compat string `toml:"compat"`
}

type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// Default is the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Format: FormatConfig{Compat: bytecode.CompatPatch.String()},
		Store:  StoreConfig{Path: "vmkit.db"},
	}
}

// Load parses path. Keys it does not know are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if _, err := bytecode.ParseCompat(c.Format.Compat); err != nil {
		return err
	}
	if c.VM.StackSize < 0 || c.VM.GlobalsSize < 0 || c.VM.MaxFrames < 0 || c.VM.MaxSteps < 0 {
		return fmt.Errorf("vm sizes must not be negative")
	}
	if c.VM.GlobalsSize > 65536 {
		return fmt.Errorf("globals_size %d exceeds the 16-bit global index space", c.VM.GlobalsSize)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a vmkit.toml file, then loads
// it. Without one it returns Default().
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func (c *Config) VMConfig() vm.Config {
	return vm.Config{
		StackSize:   c.VM.StackSize,
		GlobalsSize: c.VM.GlobalsSize,
		MaxFrames:   c.VM.MaxFrames,
		MaxSteps:    c.VM.MaxSteps,
	}
}

// ReadOptions is how strictly program files are accepted. Instruction
// regions are checked against the standard catalog.
func (c *Config) ReadOptions() bytecode.Options {
	compat, _ := bytecode.ParseCompat(c.Format.Compat)
	return bytecode.Options{Compat: compat, Catalog: code.Standard()}
}

// StorePath resolves the store path against the config file's directory.
func (c *Config) StorePath() string {
	if c.Store.Path == "" || filepath.IsAbs(c.Store.Path) || c.Dir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}

// Encode writes c as vmkit.toml text.
func Encode(w io.Writer, c *Config) error {
	return toml.NewEncoder(w).Encode(c)
}
