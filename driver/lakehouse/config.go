// Package lakehouse implements a job-based "lakehouse" driver family
// against AWS Athena: submit a query as an execution, poll it until a
// terminal state, then paginate results out of the configured output
// location.
package lakehouse

import "fmt"

// Config is the connector configBlob shape for the lakehouse backend.
type Config struct {
	Region          string
	Database        string
	OutputLocation  string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Workgroup       string
	Catalog         string
}

func parseConfig(blob map[string]any) (Config, error) {
	cfg := Config{
		Workgroup: "primary",
		Catalog:   "AwsDataCatalog",
	}

	if v, ok := blob["region"].(string); ok {
		cfg.Region = v
	}
	if v, ok := blob["database"].(string); ok {
		cfg.Database = v
	}
	if v, ok := blob["output_location"].(string); ok {
		cfg.OutputLocation = v
	}
	if v, ok := blob["access_key_id"].(string); ok {
		cfg.AccessKeyID = v
	}
	if v, ok := blob["secret_access_key"].(string); ok {
		cfg.SecretAccessKey = v
	}
	if v, ok := blob["session_token"].(string); ok {
		cfg.SessionToken = v
	}
	if v, ok := blob["workgroup"].(string); ok && v != "" {
		cfg.Workgroup = v
	}
	if v, ok := blob["catalog"].(string); ok && v != "" {
		cfg.Catalog = v
	}

	if cfg.Region == "" {
		return Config{}, fmt.Errorf("lakehouse: region is required")
	}
	if cfg.Database == "" {
		return Config{}, fmt.Errorf("lakehouse: database is required")
	}
	if cfg.OutputLocation == "" {
		return Config{}, fmt.Errorf("lakehouse: output_location is required")
	}

	return cfg, nil
}
