package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Tables names the tables the pipeline touches. All names must match
// tableNamePattern; they are interpolated into statements directly because
// drivers cannot bind identifiers.
type Tables struct {
	Orders    string
	Customers string
	Segments  string
	Rejects   string
	Claims    string
}

func (t Tables) validate() error {
	for _, name := range []string{t.Orders, t.Customers, t.Segments, t.Rejects, t.Claims} {
		if !tableNamePattern.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Store is the storage boundary: raw-row source, segment sink and run claims,
// all hosted by one database/sql handle so the overwrite and the claim share
// a single engine.
type Store struct {
	db     *sql.DB
	tables Tables
}

// NewStore wraps an open handle. The caller owns the handle's lifetime.
func NewStore(db *sql.DB, tables Tables) (*Store, error) {
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &Store{db: db, tables: tables}, nil
}

// Open accepts mysql:// or mariadb:// URLs (production), sqlite://path URLs
// (local runs), or a native MySQL DSN passed through unchanged. Returns the
// handle and the DSN actually used.
func Open(dsn string) (*sql.DB, string, error) {
	if path, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, "", err
		}
		// modernc.org/sqlite serializes writes; one connection avoids
		// SQLITE_BUSY on the overwrite transaction.
		db.SetMaxOpenConns(1)
		return db, path, nil
	}

	mysqlDSN, err := toMySQLDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, mysqlDSN, nil
}

func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		user := ""
		pass := ""
		if u.User != nil {
			user = u.User.Username()
			pw, _ := u.User.Password()
			pass = pw
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", fmt.Errorf("incomplete dsn (user/host/db)")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db), nil
	}
	return dsn, nil
}

// Migrate creates the output and claim tables if they are missing. Source
// tables are owned by the upstream system and never created here. order_ts
// is deliberately text: timestamps must reach validation unparsed.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id VARCHAR(64) NOT NULL,
			customer_id VARCHAR(191) NOT NULL,
			segment_label INTEGER NOT NULL,
			recency INTEGER NOT NULL,
			frequency INTEGER NOT NULL,
			monetary_value DOUBLE PRECISION NOT NULL,
			avg_order_value DOUBLE PRECISION NOT NULL,
			distance_to_centroid DOUBLE PRECISION NOT NULL,
			run_timestamp VARCHAR(40) NOT NULL,
			PRIMARY KEY (run_id, customer_id)
		)`, s.tables.Segments),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id VARCHAR(64) NOT NULL,
			raw_row TEXT NOT NULL,
			reason VARCHAR(40) NOT NULL
		)`, s.tables.Rejects),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id VARCHAR(64) NOT NULL,
			claimed_at VARCHAR(40) NOT NULL,
			PRIMARY KEY (run_id)
		)`, s.tables.Claims),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
