// Package warehouse implements a job-based "warehouse" driver family
// against Google BigQuery: submit a query as a job, poll its status on a
// bounded interval, then page through the result set.
package warehouse

import "fmt"

// Config is the connector configBlob shape for the warehouse backend.
type Config struct {
	ProjectID       string
	Dataset         string
	CredentialsJSON []byte
	KeyFilePath     string
	Location        string
	MaxBillingTier  int
}

func parseConfig(blob map[string]any) (Config, error) {
	cfg := Config{}

	if v, ok := blob["project_id"].(string); ok {
		cfg.ProjectID = v
	}
	if v, ok := blob["dataset"].(string); ok {
		cfg.Dataset = v
	}
	switch v := blob["credentials-json"].(type) {
	case string:
		cfg.CredentialsJSON = []byte(v)
	case []byte:
		cfg.CredentialsJSON = v
	}
	if v, ok := blob["key-file-path"].(string); ok {
		cfg.KeyFilePath = v
	}
	if v, ok := blob["location"].(string); ok {
		cfg.Location = v
	}
	if v, ok := blob["max_billing_tier"].(int); ok {
		cfg.MaxBillingTier = v
	}

	if cfg.ProjectID == "" {
		return Config{}, fmt.Errorf("warehouse: project_id is required")
	}
	if cfg.Dataset == "" {
		return Config{}, fmt.Errorf("warehouse: dataset is required")
	}
	if len(cfg.CredentialsJSON) == 0 && cfg.KeyFilePath == "" {
		return Config{}, fmt.Errorf("warehouse: one of credentials-json or key-file-path is required")
	}

	return cfg, nil
}
