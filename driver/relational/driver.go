package relational

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/logging"
)

// BackendType is the ConnectorConfig.type tag this package registers under.
const BackendType = "relational"

// Register adds the relational factory to reg, logging through log.
func Register(reg *driver.Registry, log logging.Func) {
	if log == nil {
		log = logging.Discard
	}
	reg.Register(BackendType, func(blob map[string]any) (driver.Driver, error) {
		cfg, err := parseConfig(blob)
		if err != nil {
			return nil, err
		}
		return &Driver{cfg: cfg, log: log, stmts: make(map[string]*sql.Stmt)}, nil
	})
}

// Driver is a database/sql-backed relational driver. It owns one *sql.DB
// (sqlite3 for local/dev/test, pgx for a real Postgres-wire server) for the
// lifetime of a single streaming query, with prepared-statement caching
// keyed by SQL text.
type Driver struct {
	cfg   Config
	log   logging.Func
	db    *sql.DB
	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Connect opens the backend database/sql.DB and validates connectivity
// with a ping that honors ctx.
func (d *Driver) Connect(ctx context.Context) error {
	driverName, dsn, err := d.dial()
	if err != nil {
		return fmt.Errorf("relational: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("relational: open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(d.cfg.MaxOpenConns)
	db.SetMaxIdleConns(d.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("relational: ping: %w", err)
	}

	d.db = db
	return nil
}

func (d *Driver) dial() (driverName, dsn string, err error) {
	if d.cfg.usesSQLite() {
		name := d.cfg.Database
		if name == "" {
			name = ":memory:"
		}
		return "sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name), nil
	}

	dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.cfg.Username, d.cfg.Password, d.cfg.Host, d.cfg.Port, d.cfg.Database, d.cfg.SSLMode)
	if d.cfg.SearchPath != "" {
		dsn += "&search_path=" + d.cfg.SearchPath
	}
	if d.cfg.ApplicationName != "" {
		dsn += "&application_name=" + d.cfg.ApplicationName
	}

	if d.cfg.SSLMode != SSLDisable && (d.cfg.SSLCert != "" || d.cfg.SSLRootCert != "") {
		if _, err := buildTLSConfig(d.cfg); err != nil {
			return "", "", fmt.Errorf("build tls config: %w", err)
		}
		// pgx's stdlib connector reads PEM material from the DSN's sslcert/
		// sslkey/sslrootcert fields directly; buildTLSConfig above only
		// validates that material, and its result is not used.
		if d.cfg.SSLCert != "" {
			dsn += "&sslcert=" + d.cfg.SSLCert
		}
		if d.cfg.SSLKey != "" {
			dsn += "&sslkey=" + d.cfg.SSLKey
		}
		if d.cfg.SSLRootCert != "" {
			dsn += "&sslrootcert=" + d.cfg.SSLRootCert
		}
	}

	return "pgx", dsn, nil
}

// buildTLSConfig constructs a *tls.Config from PEM-encoded root/client pair
// paths.
func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{ServerName: cfg.Host}

	if cfg.SSLRootCert != "" {
		pem, err := os.ReadFile(cfg.SSLRootCert)
		if err != nil {
			return nil, fmt.Errorf("read ssl_root_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("bad ssl_root_cert")
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.SSLMode == SSLVerifyCA {
		tlsCfg.InsecureSkipVerify = true
	}

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// Query begins streaming execution. Statements are prepared once per SQL
// text and cached for the lifetime of the Driver.
func (d *Driver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	stmt, err := d.prepare(ctx, sqlText)
	if err != nil {
		return nil, classify(err)
	}

	return func(ctx context.Context, consume driver.Consumer) error {
		rows, err := stmt.QueryContext(ctx)
		if err != nil {
			return classify(err)
		}
		return drain(ctx, rows, consume)
	}, nil
}

func (d *Driver) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if stmt, ok := d.stmts[sqlText]; ok {
		return stmt, nil
	}

	stmt, err := d.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	d.stmts[sqlText] = stmt
	return stmt, nil
}

// Close releases every cached statement and the underlying *sql.DB. Safe to
// call multiple times and after a failed Connect.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for text, stmt := range d.stmts {
		stmt.Close()
		delete(d.stmts, text)
	}

	if d.db == nil {
		return nil
	}
	db := d.db
	d.db = nil
	return db.Close()
}
