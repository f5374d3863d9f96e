// Package relational implements a relational driver family over
// database/sql, backed by mattn/go-sqlite3 for the local/dev/test path and
// jackc/pgx's stdlib adapter for the production Postgres-wire path.
package relational

import (
	"fmt"
	"time"
)

// SSLMode mirrors Postgres' sslmode values.
type SSLMode string

const (
	SSLDisable    SSLMode = "disable"
	SSLRequire    SSLMode = "require"
	SSLVerifyCA   SSLMode = "verify-ca"
	SSLVerifyFull SSLMode = "verify-full"
)

// Config is the connector configBlob shape for the relational backend.
type Config struct {
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	SSLMode           SSLMode
	SSLCert           string
	SSLKey            string
	SSLRootCert       string
	SearchPath        string
	ApplicationName   string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
}

func parseConfig(blob map[string]any) (Config, error) {
	cfg := Config{
		Port:            5432,
		SSLMode:         SSLDisable,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}

	if v, ok := blob["host"].(string); ok {
		cfg.Host = v
	}
	if v, ok := asInt(blob["port"]); ok {
		cfg.Port = v
	}
	if v, ok := blob["database"].(string); ok {
		cfg.Database = v
	}
	if v, ok := blob["username"].(string); ok {
		cfg.Username = v
	}
	if v, ok := blob["password"].(string); ok {
		cfg.Password = v
	}
	if v, ok := blob["ssl_mode"].(string); ok {
		cfg.SSLMode = SSLMode(v)
	}
	if v, ok := blob["ssl_cert"].(string); ok {
		cfg.SSLCert = v
	}
	if v, ok := blob["ssl_key"].(string); ok {
		cfg.SSLKey = v
	}
	if v, ok := blob["ssl_root_cert"].(string); ok {
		cfg.SSLRootCert = v
	}
	if v, ok := blob["search_path"].(string); ok {
		cfg.SearchPath = v
	}
	if v, ok := blob["application_name"].(string); ok {
		cfg.ApplicationName = v
	}
	if v, ok := asInt(blob["max_open_conns"]); ok {
		cfg.MaxOpenConns = v
	}
	if v, ok := asInt(blob["max_idle_conns"]); ok {
		cfg.MaxIdleConns = v
	}
	if v, ok := asInt(blob["conn_max_lifetime"]); ok {
		cfg.ConnMaxLifetime = time.Duration(v) * time.Second
	}

	switch cfg.SSLMode {
	case SSLDisable, SSLRequire, SSLVerifyCA, SSLVerifyFull:
	default:
		return Config{}, fmt.Errorf("relational: invalid ssl_mode %q", cfg.SSLMode)
	}

	if cfg.Database == "" {
		return Config{}, fmt.Errorf("relational: database is required")
	}

	return cfg, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// usesSQLite reports whether this config should be served by the in-process
// sqlite3 backend rather than dialing a real Postgres-wire server: no host
// configured means there is nothing to dial, so the driver falls back to an
// in-memory database named after Database, for local development.
func (c Config) usesSQLite() bool {
	return c.Host == ""
}
