package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures what differs between the supported databases: the
// database/sql driver, DDL, DSN normalization and how a unique constraint
// violation is reported.
type Dialect struct {
	Name       string
	DriverName string

	// bootstrap creates schema_migrations when it does not exist.
	bootstrap string
	// migrations[i] holds the statements of schema version i+1.
	migrations [][]string

	prepareDSN        func(dsn string) (string, error)
	isUniqueViolation func(err error) bool
}

var (
	dialects = map[string]*Dialect{}
	aliases  = map[string]string{
		"sqlite3":    "sqlite",
		"postgresql": "postgres",
		"pgx":        "postgres",
		"mssql":      "sqlserver",
	}
)

func registerDialect(d *Dialect) {
	dialects[d.Name] = d
}

// LookupDialect returns the dialect registered under name or one of its
// aliases.
func LookupDialect(name string) (*Dialect, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnsupportedDriver, name, Drivers())
	}
	return d, nil
}

// Drivers returns the canonical names of all registered dialects.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func identityDSN(dsn string) (string, error) { return dsn, nil }

func init() {
	registerDialect(&Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		bootstrap: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)`,
		migrations: [][]string{{
			`CREATE TABLE IF NOT EXISTS tokens (
				token_id INTEGER PRIMARY KEY AUTOINCREMENT,
				token_hash TEXT NOT NULL UNIQUE,
				token_link TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				account_id TEXT,
				service_external_id TEXT,
				service_mode TEXT,
				token_type TEXT NOT NULL DEFAULT 'CARD',
				token_source TEXT NOT NULL DEFAULT 'API',
				created_by TEXT NOT NULL DEFAULT '',
				issued DATETIME NOT NULL,
				last_used DATETIME,
				revoked DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tokens_account_id ON tokens(account_id)`,
			`CREATE INDEX IF NOT EXISTS idx_tokens_service ON tokens(service_external_id, service_mode)`,
		}},
		prepareDSN: identityDSN,
		isUniqueViolation: func(err error) bool {
			var se *sqlite.Error
			if !errors.As(err, &se) {
				return false
			}
			switch se.Code() {
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				return true
			}
			return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
		},
	})

	registerDialect(&Dialect{
		Name:       "postgres",
		DriverName: "pgx",
		bootstrap: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)`,
		migrations: [][]string{{
			`CREATE TABLE IF NOT EXISTS tokens (
				token_id BIGSERIAL PRIMARY KEY,
				token_hash VARCHAR(255) NOT NULL UNIQUE,
				token_link VARCHAR(64) NOT NULL UNIQUE,
				description VARCHAR(255) NOT NULL DEFAULT '',
				account_id VARCHAR(255),
				service_external_id VARCHAR(255),
				service_mode VARCHAR(16),
				token_type VARCHAR(32) NOT NULL DEFAULT 'CARD',
				token_source VARCHAR(32) NOT NULL DEFAULT 'API',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				issued TIMESTAMPTZ NOT NULL,
				last_used TIMESTAMPTZ,
				revoked TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tokens_account_id ON tokens(account_id)`,
			`CREATE INDEX IF NOT EXISTS idx_tokens_service ON tokens(service_external_id, service_mode)`,
		}},
		prepareDSN: identityDSN,
		isUniqueViolation: func(err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == "23505"
		},
	})

	registerDialect(&Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		bootstrap: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT NOT NULL PRIMARY KEY,
			applied_at DATETIME(6) NOT NULL
		)`,
		migrations: [][]string{{
			`CREATE TABLE IF NOT EXISTS tokens (
				token_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				token_hash VARCHAR(255) NOT NULL,
				token_link VARCHAR(64) NOT NULL,
				description VARCHAR(255) NOT NULL DEFAULT '',
				account_id VARCHAR(255) NULL,
				service_external_id VARCHAR(255) NULL,
				service_mode VARCHAR(16) NULL,
				token_type VARCHAR(32) NOT NULL DEFAULT 'CARD',
				token_source VARCHAR(32) NOT NULL DEFAULT 'API',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				issued DATETIME(6) NOT NULL,
				last_used DATETIME(6) NULL,
				revoked DATETIME(6) NULL,
				UNIQUE KEY uq_tokens_token_hash (token_hash),
				UNIQUE KEY uq_tokens_token_link (token_link),
				KEY idx_tokens_account_id (account_id),
				KEY idx_tokens_service (service_external_id, service_mode)
			)`,
		}},
		// Timestamps must scan into time.Time, and RowsAffected must count
		// matched rows so an unchanged description still reports success.
		prepareDSN: func(dsn string) (string, error) {
			cfg, err := mysql.ParseDSN(dsn)
			if err != nil {
				return "", fmt.Errorf("parse mysql dsn: %w", err)
			}
			cfg.ParseTime = true
			cfg.ClientFoundRows = true
			return cfg.FormatDSN(), nil
		},
		isUniqueViolation: func(err error) bool {
			var me *mysql.MySQLError
			return errors.As(err, &me) && me.Number == 1062
		},
	})

	registerDialect(&Dialect{
		Name:       "sqlserver",
		DriverName: "sqlserver",
		bootstrap: `IF OBJECT_ID(N'schema_migrations', N'U') IS NULL
			CREATE TABLE schema_migrations (
				version INT NOT NULL PRIMARY KEY,
				applied_at DATETIME2 NOT NULL
			)`,
		migrations: [][]string{{
			`CREATE TABLE tokens (
				token_id BIGINT IDENTITY(1,1) PRIMARY KEY,
				token_hash NVARCHAR(255) NOT NULL CONSTRAINT uq_tokens_token_hash UNIQUE,
				token_link NVARCHAR(64) NOT NULL CONSTRAINT uq_tokens_token_link UNIQUE,
				description NVARCHAR(255) NOT NULL DEFAULT '',
				account_id NVARCHAR(255) NULL,
				service_external_id NVARCHAR(255) NULL,
				service_mode NVARCHAR(16) NULL,
				token_type NVARCHAR(32) NOT NULL DEFAULT 'CARD',
				token_source NVARCHAR(32) NOT NULL DEFAULT 'API',
				created_by NVARCHAR(255) NOT NULL DEFAULT '',
				issued DATETIME2 NOT NULL,
				last_used DATETIME2 NULL,
				revoked DATETIME2 NULL
			)`,
			`CREATE INDEX idx_tokens_account_id ON tokens(account_id)`,
			`CREATE INDEX idx_tokens_service ON tokens(service_external_id, service_mode)`,
		}},
		prepareDSN: identityDSN,
		isUniqueViolation: func(err error) bool {
			// 2627: unique constraint, 2601: unique index.
			var numbered interface{ SQLErrorNumber() int32 }
			if !errors.As(err, &numbered) {
				return false
			}
			n := numbered.SQLErrorNumber()
			return n == 2627 || n == 2601
		},
	})
}
