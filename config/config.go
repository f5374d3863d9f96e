// Package config loads and validates the gateway's YAML configuration file:
// read once at startup, parsed with goccy/go-yaml.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Data is the recognized top-level shape of the gateway's config file,
// plus the passthrough fields the ambient stack (TLS, dev file-store)
// needs.
type Data struct {
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`

	Port          int `yaml:"port"`
	MaxWorkers    int `yaml:"max_workers"`
	QueueCapacity int `yaml:"queue_capacity"`

	// DevStorePath, when set, loads queries/connectors from a local YAML
	// file (metastore.FileStore) instead of dialing Supabase: a dev/test
	// escape hatch alongside the metadata store interface.
	DevStorePath string `yaml:"dev_store_path"`

	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

const (
	defaultPort          = 8080
	defaultMaxWorkers    = 3
	defaultQueueCapacity = 100
	defaultMaxFrameBytes = 64 * 1024
)

// Load reads and parses the YAML file at path, applying defaults for any
// field left unset.
func Load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	data := &Data{}
	if err := yaml.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	data.applyDefaults()
	return data, nil
}

func (d *Data) applyDefaults() {
	if d.Port == 0 {
		d.Port = defaultPort
	}
	if d.MaxWorkers == 0 {
		d.MaxWorkers = defaultMaxWorkers
	}
	if d.QueueCapacity == 0 {
		d.QueueCapacity = defaultQueueCapacity
	}
	if d.MaxFrameBytes == 0 {
		d.MaxFrameBytes = defaultMaxFrameBytes
	}
}

// Validate reports an actionable error for a config that cannot start a
// gateway.
func (d *Data) Validate() error {
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", d.Port)
	}
	if d.MaxWorkers <= 0 {
		return fmt.Errorf("config: max_workers must be positive, got %d", d.MaxWorkers)
	}
	if d.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be positive, got %d", d.QueueCapacity)
	}
	if d.DevStorePath == "" && (d.SupabaseURL == "" || d.SupabaseKey == "") {
		return fmt.Errorf("config: supabase_url and supabase_key are required unless dev_store_path is set")
	}
	if (d.TLSCert == "") != (d.TLSKey == "") {
		return fmt.Errorf("config: tls_cert and tls_key must both be set or both be empty")
	}
	return nil
}
