// Package presets loads named flag combinations from YAML and applies them to the flag store.
// A preset lists the flags to switch on, every other flag is switched off.
package presets

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/umputun/hypercart/app/flags"
)

// ErrUnknownPreset returned for a preset name not in the config
var ErrUnknownPreset = errors.New("unknown preset")

//go:embed defaults.yml
var defaultsData []byte

// Preset is a named set of flags to switch on
type Preset struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"required,minLength=1,description=unique preset name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"description=what the preset demonstrates"`
	Flags       []string `yaml:"flags" json:"flags" jsonschema:"description=flags switched on by the preset"`
}

// Config is the presets file
type Config struct {
	Presets []Preset `yaml:"presets" json:"presets" jsonschema:"required,minItems=1,description=list of presets"`
}

// Setter changes a single flag
type Setter interface {
	Set(name flags.Name, value bool)
}

// Defaults returns the embedded baseline, optimized and pathological presets
func Defaults() *Config {
	cfg, err := Load(bytes.NewReader(defaultsData))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded presets: %v", err))
	}
	return cfg
}

// Load parses and validates presets from r
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("can't parse presets: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads presets from a file and merges them over the embedded defaults
func LoadFile(path string) (*Config, error) {
	fh, err := os.Open(path) //nolint:gosec // path is from the command line
	if err != nil {
		return nil, fmt.Errorf("can't open presets file: %w", err)
	}
	defer fh.Close()

	cfg, err := Load(fh)
	if err != nil {
		return nil, fmt.Errorf("presets file %s: %w", path, err)
	}
	res := Defaults()
	for _, p := range cfg.Presets {
		res.put(p)
	}
	log.Printf("[INFO] loaded %d presets from %s", len(cfg.Presets), path)
	return res, nil
}

// Validate checks that names are unique and every flag is known
func (c *Config) Validate() error {
	if len(c.Presets) == 0 {
		return errors.New("at least one preset is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Presets {
		if p.Name == "" {
			return fmt.Errorf("preset %d: name is required", i+1)
		}
		if seen[p.Name] {
			return fmt.Errorf("preset %d: duplicate name %q", i+1, p.Name)
		}
		seen[p.Name] = true
		for _, f := range p.Flags {
			if _, err := flags.ParseName(f); err != nil {
				return fmt.Errorf("preset %q: %w", p.Name, err)
			}
		}
	}
	return nil
}

// Get returns a preset by name
func (c *Config) Get(name string) (Preset, error) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// Names lists preset names in file order
func (c *Config) Names() []string {
	res := make([]string, 0, len(c.Presets))
	for _, p := range c.Presets {
		res = append(res, p.Name)
	}
	return res
}

// FlagSet returns the full flag set the preset produces
func (p Preset) FlagSet() flags.FlagSet {
	res := flags.Defaults()
	for _, f := range p.Flags {
		res[flags.Name(f)] = true
	}
	return res
}

// Apply switches on the preset flags and switches off all others
func (c *Config) Apply(s Setter, name string) error {
	p, err := c.Get(name)
	if err != nil {
		return err
	}
	for _, f := range flags.All {
		s.Set(f, slices.Contains(p.Flags, string(f)))
	}
	log.Printf("[INFO] preset %q applied, %d flags on", p.Name, len(p.Flags))
	return nil
}

// GenerateSchema generates a JSON schema for the presets file
func GenerateSchema() *jsonschema.Schema {
	schema := jsonschema.Reflect(&Config{})
	schema.Title = "Hypercart Presets Schema"
	schema.Description = "Schema for hypercart flag presets file"
	return schema
}

func (c *Config) put(p Preset) {
	for i := range c.Presets {
		if c.Presets[i].Name == p.Name {
			c.Presets[i] = p
			return
		}
	}
	c.Presets = append(c.Presets, p)
}
