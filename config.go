package contentarea

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultConfigYAML = `# content area configuration
version: 1

# Register extra_content_area for every post type.
register_default_meta: true

# Variant inserted into an empty area whose filter names none. Leave empty
# to show nothing.
default_variant: core/paragraph

# Variants the editor knows about; disallow filters start from this list.
known_variants:
  - core/paragraph
  - core/heading
  - core/list
  - core/image
  - core/quote
  - core/group

debug:
  display: false

log_level: info
`

// DebugConfig controls diagnostics visible in rendered output.
type DebugConfig struct {
	Display bool `yaml:"display"`
}

// InstanceConfig names a preconfigured content area.
type InstanceConfig struct {
	Name       string          `yaml:"name"`
	Attributes BlockAttributes `yaml:",inline"`
}

// Config models contentarea.yaml.
type Config struct {
	Version             int              `yaml:"version"`
	RegisterDefaultMeta bool             `yaml:"register_default_meta"`
	DefaultVariant      string           `yaml:"default_variant"`
	KnownVariants       []string         `yaml:"known_variants"`
	Debug               DebugConfig      `yaml:"debug"`
	LogLevel            string           `yaml:"log_level"`
	Instances           []InstanceConfig `yaml:"instances,omitempty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg, err := ParseConfig([]byte(defaultConfigYAML))
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults: %v", err))
	}
	return cfg
}

// ParseConfig decodes YAML over the zero config and validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads path, using the defaults when the file does not exist.
// Keys absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks filter modes and instance names. All problems are
// reported together.
func (c *Config) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Name == "" {
			result = multierror.Append(result, fmt.Errorf("config: instance %d: name is required", i))
			continue
		}
		if seen[inst.Name] {
			result = multierror.Append(result, fmt.Errorf("config: duplicate instance %q", inst.Name))
		}
		seen[inst.Name] = true
		if err := inst.Attributes.Filter.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("config: instance %q: %w", inst.Name, err))
		}
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			result = multierror.Append(result, fmt.Errorf("config: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Instance returns the attributes of a named instance.
func (c *Config) Instance(name string) (BlockAttributes, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst.Attributes, true
		}
	}
	return BlockAttributes{}, false
}

// NewLogger builds a logrus logger at the configured level.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
