package config

import (
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RoundIntervalSeconds int      `yaml:"round_interval_seconds"`
	PayloadSizeBytes     int      `yaml:"payload_size_bytes"`
	DynamicMsgSize       bool     `yaml:"dynamic_msg_size"`
	Hosts                []string `yaml:"hosts"`
}

// NewFromFilename creates a new Config from a file by the given filename
func NewFromFilename(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Trace(err)
	}
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("settings list no hosts")
	}
	if cfg.RoundIntervalSeconds <= 0 {
		return nil, errors.New("round_interval_seconds must be positive")
	}
	if cfg.PayloadSizeBytes <= 0 {
		return nil, errors.New("payload_size_bytes must be positive")
	}
	return cfg, nil
}
