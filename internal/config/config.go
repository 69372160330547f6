// Package config loads the daemon configuration file and turns its
// input sections into registered instances.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"sluice/internal/input"
)

// Config is the complete configuration file. Input sections stay raw
// yaml nodes so property order and repeated keys survive into the
// instance property table.
type Config struct {
	System System      `yaml:"System"`
	Inputs []yaml.Node `yaml:"Inputs"`
}

// System holds daemon-wide settings.
type System struct {
	LogLevel     string `yaml:"logLevel"`
	LogFile      string `yaml:"logFile"`
	FlushSeconds int    `yaml:"flushSeconds"`
	DBFile       string `yaml:"dbFile"`
}

const defaultFlushSeconds = 5

func (s *System) GetLogLevel() logrus.Level {
	switch strings.ToUpper(s.LogLevel) {
	case "TRACE":
		return logrus.TraceLevel
	case "DEBUG":
		return logrus.DebugLevel
	case "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// FlushInterval is the engine flush period, defaulted when unset.
func (s *System) FlushInterval() time.Duration {
	if s.FlushSeconds <= 0 {
		return defaultFlushSeconds * time.Second
	}
	return time.Duration(s.FlushSeconds) * time.Second
}

// SetupLogging applies the system log settings to the process logger.
func (s *System) SetupLogging() error {
	writers := []io.Writer{os.Stderr}

	if s.LogFile != "" {
		file, err := os.OpenFile(s.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	logrus.SetLevel(s.GetLogLevel())
	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	return nil
}

// Load reads and parses the configuration at path. Environment
// references in the System section are expanded here; input property
// values are translated later, when they reach the instance.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.System.LogFile = os.ExpandEnv(cfg.System.LogFile)
	cfg.System.DBFile = os.ExpandEnv(cfg.System.DBFile)
	return &cfg, nil
}

// BuildInputs creates one instance per input section. Each section is a
// mapping whose "name" key is the instance spec; every other pair is
// applied as a property in document order.
func (c *Config) BuildInputs(reg *input.Registry) error {
	for i := range c.Inputs {
		if err := c.buildInput(reg, &c.Inputs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) buildInput(reg *input.Registry, node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("input section must be a mapping (line %d)", node.Line)
	}

	spec := ""
	type pair struct{ key, value string }
	var props []pair
	hasDB := false

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("input property %q must be a scalar (line %d)", key.Value, value.Line)
		}
		if strings.EqualFold(key.Value, "name") {
			spec = value.Value
			continue
		}
		if strings.EqualFold(key.Value, "db") {
			hasDB = true
		}
		props = append(props, pair{key.Value, value.Value})
	}
	if spec == "" {
		return fmt.Errorf("input section without a name (line %d)", node.Line)
	}

	ins, err := reg.NewInstance(spec, nil)
	if err != nil {
		return fmt.Errorf("input %q: %w", spec, err)
	}
	for _, p := range props {
		if err := ins.SetProperty(p.key, p.value); err != nil {
			return fmt.Errorf("input %q: property %q: %w", spec, p.key, err)
		}
	}

	// File tailing inputs fall back to the shared offset db.
	if c.System.DBFile != "" && !hasDB && strings.HasPrefix(strings.ToLower(spec), "tail") {
		if err := ins.SetProperty("db", c.System.DBFile); err != nil {
			return fmt.Errorf("input %q: property \"db\": %w", spec, err)
		}
	}
	return nil
}
