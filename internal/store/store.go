// Package store persists token records in a SQL database. Every mutation is a
// single statement guarded by "revoked IS NULL", so concurrent requests are
// coordinated by the database rather than in process.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/paycore/tokend/internal/model"
)

// Config selects the database and sizes its connection pool.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the clock used for issued, last_used and revoked.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for swallowed last_used update failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is the token repository.
type Store struct {
	db      *sqlx.DB
	dialect *Dialect
	now     func() time.Time
	logger  *slog.Logger
}

func defaultClock() time.Time {
	// Postgres and MySQL keep microseconds; truncating keeps returned
	// timestamps equal to what a later read sees.
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "tokend.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return Open(Config{Driver: "sqlite", DSN: dsn}, opts...)
}

// Open connects to the configured database and applies pending migrations.
func Open(cfg Config, opts ...Option) (*Store, error) {
	dialect, err := LookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := dialect.prepareDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Name, err)
	}

	if dialect.Name == "sqlite" {
		// SQLite doesn't support concurrent writes, and every connection to
		// :memory: would see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		now:     defaultClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", dialect.Name, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the canonical dialect name.
func (s *Store) Driver() string {
	return s.dialect.Name
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

const tokenColumns = `token_id, token_hash, token_link, description, account_id,
	service_external_id, service_mode, token_type, token_source, created_by,
	issued, last_used, revoked`

// tokenRow maps 1:1 to the tokens table. Scoping columns are nullable.
type tokenRow struct {
	ID                int64      `db:"token_id"`
	Hash              string     `db:"token_hash"`
	Link              string     `db:"token_link"`
	Description       string     `db:"description"`
	AccountID         *string    `db:"account_id"`
	ServiceExternalID *string    `db:"service_external_id"`
	ServiceMode       *string    `db:"service_mode"`
	TokenType         string     `db:"token_type"`
	Source            string     `db:"token_source"`
	CreatedBy         string     `db:"created_by"`
	Issued            time.Time  `db:"issued"`
	LastUsed          *time.Time `db:"last_used"`
	Revoked           *time.Time `db:"revoked"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func tokenRowFromModel(t *model.Token) tokenRow {
	return tokenRow{
		Hash:              string(t.Hash),
		Link:              string(t.Link),
		Description:       t.Description,
		AccountID:         nullable(t.AccountID),
		ServiceExternalID: nullable(t.ServiceExternalID),
		ServiceMode:       nullable(string(t.ServiceMode)),
		TokenType:         string(t.PaymentType),
		Source:            string(t.Source),
		CreatedBy:         t.CreatedBy,
		Issued:            t.Issued,
	}
}

func (r tokenRow) toModel() model.Token {
	return model.Token{
		ID:                r.ID,
		Hash:              model.TokenHash(r.Hash),
		Link:              model.TokenLink(r.Link),
		Description:       r.Description,
		AccountID:         deref(r.AccountID),
		ServiceExternalID: deref(r.ServiceExternalID),
		ServiceMode:       model.ServiceMode(deref(r.ServiceMode)),
		PaymentType:       model.ParsePaymentType(r.TokenType),
		Source:            model.ParseTokenSource(r.Source),
		CreatedBy:         r.CreatedBy,
		Issued:            r.Issued.UTC(),
		LastUsed:          utcPtr(r.LastUsed),
		Revoked:           utcPtr(r.Revoked),
	}
}

// scope returns the WHERE fragment and arguments restricting a query to the
// tenant's rows.
func scope(tenant model.Tenant) (string, []interface{}, error) {
	if err := tenant.Validate(); err != nil {
		return "", nil, err
	}
	if tenant.IsService() {
		return "service_external_id = ? AND service_mode = ?",
			[]interface{}{tenant.ServiceExternalID, string(tenant.ServiceMode)}, nil
	}
	return "account_id = ?", []interface{}{tenant.AccountID}, nil
}

// getOne runs a single-row query. A missing row is ok == false, not an error.
func (s *Store) getOne(ctx context.Context, op, query string, args ...interface{}) (model.Token, bool, error) {
	var row tokenRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Token{}, false, nil
		}
		return model.Token{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return row.toModel(), true, nil
}

// ---------------------------------------------------------------------------
// Token operations
// ---------------------------------------------------------------------------

// Insert persists a new token. Issued is set to now, LastUsed and Revoked
// are cleared, and a link is generated when none is set. t is updated with
// those values only when the insert succeeds. A unique constraint violation
// returns an error wrapping ErrDuplicateToken.
func (s *Store) Insert(ctx context.Context, t *model.Token) error {
	if err := t.Tenant().Validate(); err != nil {
		return err
	}
	if t.Hash == "" {
		return errors.New("insert token: empty token hash")
	}

	rec := *t
	if rec.Link == "" {
		rec.Link = model.NewTokenLink()
	}
	if rec.PaymentType == "" {
		rec.PaymentType = model.PaymentTypeCard
	}
	if rec.Source == "" {
		rec.Source = model.TokenSourceAPI
	}
	rec.Issued = s.now()
	rec.LastUsed = nil
	rec.Revoked = nil

	const q = `INSERT INTO tokens
		(token_hash, token_link, description, account_id, service_external_id,
		 service_mode, token_type, token_source, created_by, issued)
		VALUES
		(:token_hash, :token_link, :description, :account_id, :service_external_id,
		 :service_mode, :token_type, :token_source, :created_by, :issued)`

	if _, err := s.db.NamedExecContext(ctx, q, tokenRowFromModel(&rec)); err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("insert token %s: %w: %v", rec.Link, ErrDuplicateToken, err)
		}
		return fmt.Errorf("insert token: %w", err)
	}
	*t = rec
	return nil
}

// FindActiveTenantByHash returns the unrevoked token with the given hash and
// records the lookup in last_used. Failing to record last_used is logged and
// does not fail the lookup.
func (s *Store) FindActiveTenantByHash(ctx context.Context, hash model.TokenHash) (model.Token, bool, error) {
	t, ok, err := s.getOne(ctx, "find active token by hash",
		"SELECT "+tokenColumns+" FROM tokens WHERE token_hash = ? AND revoked IS NULL", string(hash))
	if err != nil || !ok {
		return t, ok, err
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE tokens SET last_used = ? WHERE token_hash = ? AND revoked IS NULL"),
		now, string(hash)); err != nil {
		s.logger.Warn("update token last used", "token_link", t.Link, "error", err)
	} else {
		t.LastUsed = &now
	}
	return t, true, nil
}

// FindByHash returns the token with the given hash whether or not it has been
// revoked.
func (s *Store) FindByHash(ctx context.Context, hash model.TokenHash) (model.Token, bool, error) {
	return s.getOne(ctx, "find token by hash",
		"SELECT "+tokenColumns+" FROM tokens WHERE token_hash = ?", string(hash))
}

// ListByTenant returns the tenant's tokens in the given state, newest first.
// An empty source matches every source.
func (s *Store) ListByTenant(ctx context.Context, tenant model.Tenant, state model.TokenState, source model.TokenSource) ([]model.Token, error) {
	where, args, err := scope(tenant)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT " + tokenColumns + " FROM tokens WHERE " + where)
	if state == model.TokenStateRevoked {
		b.WriteString(" AND revoked IS NOT NULL")
	} else {
		b.WriteString(" AND revoked IS NULL")
	}
	if source != "" {
		b.WriteString(" AND token_source = ?")
		args = append(args, string(source))
	}
	b.WriteString(" ORDER BY issued DESC, token_link ASC")

	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("list tokens for %s: %w", tenant, err)
	}
	tokens := make([]model.Token, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, r.toModel())
	}
	return tokens, nil
}

// FindByLink returns the tenant's token with the given link, in any state.
func (s *Store) FindByLink(ctx context.Context, tenant model.Tenant, link model.TokenLink) (model.Token, bool, error) {
	where, args, err := scope(tenant)
	if err != nil {
		return model.Token{}, false, err
	}
	args = append([]interface{}{string(link)}, args...)
	return s.getOne(ctx, "find token by link",
		"SELECT "+tokenColumns+" FROM tokens WHERE token_link = ? AND "+where, args...)
}

// FindByLinkUnscoped returns the token with the given link regardless of
// tenant. Administrative use only.
func (s *Store) FindByLinkUnscoped(ctx context.Context, link model.TokenLink) (model.Token, bool, error) {
	return s.getOne(ctx, "find token by link",
		"SELECT "+tokenColumns+" FROM tokens WHERE token_link = ?", string(link))
}

// UpdateDescription sets the description of an active token. It reports
// false when no active token has the link.
func (s *Store) UpdateDescription(ctx context.Context, link model.TokenLink, description string) (bool, error) {
	return s.execOne(ctx, "update token description",
		"UPDATE tokens SET description = ? WHERE token_link = ? AND revoked IS NULL",
		description, string(link))
}

// UpdateDescriptionForTenant is UpdateDescription restricted to the tenant's
// tokens.
func (s *Store) UpdateDescriptionForTenant(ctx context.Context, tenant model.Tenant, link model.TokenLink, description string) (bool, error) {
	where, args, err := scope(tenant)
	if err != nil {
		return false, err
	}
	args = append([]interface{}{description, string(link)}, args...)
	return s.execOne(ctx, "update token description",
		"UPDATE tokens SET description = ? WHERE token_link = ? AND "+where+" AND revoked IS NULL",
		args...)
}

// RevokeByLink revokes the tenant's active token with the given link. Of any
// number of concurrent calls for the same token, exactly one succeeds.
func (s *Store) RevokeByLink(ctx context.Context, tenant model.Tenant, link model.TokenLink) (time.Time, bool, error) {
	return s.revoke(ctx, tenant, "token_link = ?", string(link))
}

// RevokeByHash revokes the tenant's active token with the given hash and
// returns the link of the revoked token.
func (s *Store) RevokeByHash(ctx context.Context, tenant model.Tenant, hash model.TokenHash) (model.TokenLink, time.Time, bool, error) {
	at, ok, err := s.revoke(ctx, tenant, "token_hash = ?", string(hash))
	if err != nil || !ok {
		return "", at, ok, err
	}
	// A revoked row never changes again, so this read sees what was revoked.
	var link string
	if err := s.db.GetContext(ctx, &link,
		s.db.Rebind("SELECT token_link FROM tokens WHERE token_hash = ?"), string(hash)); err != nil {
		return "", at, true, fmt.Errorf("read revoked token link: %w", err)
	}
	return model.TokenLink(link), at, true, nil
}

func (s *Store) revoke(ctx context.Context, tenant model.Tenant, match string, id string) (time.Time, bool, error) {
	where, args, err := scope(tenant)
	if err != nil {
		return time.Time{}, false, err
	}
	now := s.now()
	args = append([]interface{}{now, id}, args...)
	ok, err := s.execOne(ctx, "revoke token",
		"UPDATE tokens SET revoked = ? WHERE "+match+" AND "+where+" AND revoked IS NULL",
		args...)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return now, true, nil
}

// RevokeAll revokes every active token of the tenant and returns how many
// were revoked.
func (s *Store) RevokeAll(ctx context.Context, tenant model.Tenant) (int64, error) {
	where, args, err := scope(tenant)
	if err != nil {
		return 0, err
	}
	args = append([]interface{}{s.now()}, args...)
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE tokens SET revoked = ? WHERE "+where+" AND revoked IS NULL"), args...)
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens for %s: %w", tenant, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens rows affected: %w", err)
	}
	return n, nil
}

// execOne runs a guarded update and reports whether exactly one row changed.
func (s *Store) execOne(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n == 1, nil
}
