// Package config centralizes node configuration loading, grounded in the
// teacher's env-override-over-defaults pattern and its YAML-with-fallback
// file loader.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/observability"
)

// NodeConfig is the node-level configuration of §6: the comm module to
// load, the log verbosity, and the archive scan directory.
type NodeConfig struct {
	// CommModule names the comm-layer implementation: "loopback" or "udp".
	CommModule string `yaml:"comm_module"`
	// LoggerLevel is one of "debug", "info", "error".
	LoggerLevel string `yaml:"logger_level"`
	// AppsDir is the directory scanned for *.s4r archives.
	AppsDir string `yaml:"apps_dir"`
	// OTLPEndpoint, when set, enables metrics export (ADDED ambient stack).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultNodeConfig returns the node's built-in defaults.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		CommModule:  "loopback",
		LoggerLevel: "info",
		AppsDir:     "apps",
	}
}

// LoadNodeConfig loads node configuration from path (YAML), falling back to
// a "node.example.yaml" sibling when path is absent, per the teacher's
// fallback-file convention, then applies environment-variable overrides.
// A ConfigError is returned when an opened file cannot be read or parsed, or
// when the resulting configuration fails Validate — startup failures here are
// fatal per §7. A file that cannot be opened at all is treated like a missing
// one: the defaults are used.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("FLOW_NODE_CONFIG"))
	}
	if path == "" {
		path = "config/node.yaml"
	}

	reader, closeFn, err := openNodeFile(path)
	if err == nil {
		defer closeFn()
		raw, err := io.ReadAll(reader)
		if err != nil {
			return NodeConfig{}, errs.New("config/load", errs.CodeConfig, errs.WithCause(err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return NodeConfig{}, errs.New("config/load", errs.CodeConfig, errs.WithCause(err))
		}
	} else {
		observability.Log().Info("no node config file found, using built-in defaults", observability.Field{Key: "path", Value: path})
	}

	applyNodeEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func applyNodeEnvOverrides(cfg *NodeConfig) {
	if v := strings.TrimSpace(os.Getenv("FLOW_COMM_MODULE")); v != "" {
		cfg.CommModule = v
	}
	if v := strings.TrimSpace(os.Getenv("FLOW_LOGGER_LEVEL")); v != "" {
		cfg.LoggerLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("FLOW_APPS_DIR")); v != "" {
		cfg.AppsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("FLOW_OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
}

// Validate performs semantic validation, per §7's ConfigError contract.
func (c NodeConfig) Validate() error {
	switch c.CommModule {
	case "loopback", "udp":
	default:
		return errs.New("config/validate", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("unknown comm.module %q", c.CommModule)))
	}
	if strings.TrimSpace(c.AppsDir) == "" {
		return errs.New("config/validate", errs.CodeConfig, errs.WithMessage("appsDir must not be empty"))
	}
	return nil
}

func openNodeFile(path string) (io.Reader, func(), error) {
	safePath := filepath.Clean(path)
	file, err := os.Open(safePath)
	if err == nil {
		return file, func() { _ = file.Close() }, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("open node config: %w", err)
	}

	fallback := filepath.Join(filepath.Dir(safePath), "node.example.yaml")
	file, err = os.Open(fallback)
	if err != nil {
		return nil, nil, fmt.Errorf("open node config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
