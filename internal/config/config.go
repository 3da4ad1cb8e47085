// Package config holds the optional YAML configuration file schema: a
// lower-precedence layer underneath cmd/webm-relay-server's flags. Flags
// always win; the file only fills in values a flag wasn't given.
//
// Grounded on vinq1911-nonchalant's internal/config/config.go: a single
// Config struct and strict decoding via yaml.v3's KnownFields(true). There is
// no defaults pass: a field left out of the file stays at its zero value.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the flag surface documented in cmd/webm-relay-server's
// flags.go, so a deployment can keep its settings in a file instead of a
// long command line.
type Config struct {
	Listen               string        `yaml:"listen"`
	LogLevel             string        `yaml:"log_level"`
	ReapWindow           time.Duration `yaml:"reap_window"`
	MaxHeaderBytes       int           `yaml:"max_header_bytes"`
	PublishChunkBytes    int           `yaml:"publish_chunk_bytes"`
	SubscriberQueueDepth int           `yaml:"subscriber_queue_depth"`
}

// Load reads and strictly decodes a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
