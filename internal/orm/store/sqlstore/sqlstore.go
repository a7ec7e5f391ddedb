// Package sqlstore implements store.Store on database/sql. It speaks to
// PostgreSQL through the pgx or lib/pq drivers and to SQLite through
// go-sqlite3.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

// Store is a relational store backed by a *sql.DB
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects with a database/sql driver: "pgx", "postgres" or "sqlite3".
// SQLite connections enforce foreign keys and are limited to a single
// connection so in-memory databases are shared.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		dsn = withForeignKeys(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, ormerrors.Wrap(ormerrors.StoreUnavailable, err, "open %s", driver)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	return New(db, dialect, logger), nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// New wraps an existing connection pool
func New(db *sql.DB, dialect Dialect, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, dialect: dialect, logger: logger}
}

// Pool holds connection pool limits; zero values keep the driver defaults
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConfigurePool applies pool limits. SQLite keeps its single long-lived
// connection, which in-memory databases live on.
func (s *Store) ConfigurePool(p Pool) {
	if s.dialect == SQLite {
		return
	}
	if p.MaxOpenConns > 0 {
		s.db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		s.db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		s.db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return ormerrors.Wrap(ormerrors.StoreUnavailable, err, "ping")
	}
	return nil
}

// Exec runs raw statements, used to apply generated DDL
func (s *Store) Exec(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		s.logger.Debug("exec", zap.String("sql", stmt))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify(err, "")
		}
	}
	return nil
}

// Query reads rows of et matching q
func (s *Store) Query(ctx context.Context, et *schema.EntityType, q store.Query) ([]store.Row, error) {
	q, err := q.Normalize(et)
	if err != nil {
		return nil, err
	}

	b := newBuilder(s.dialect)
	b.printf("SELECT %s FROM %s", selectList(et), quote(et.TableName()))
	b.where(et, q.Where)
	b.orderBy(et, q.OrderBy)
	b.sql.WriteString(s.dialect.Paging(q.Limit, q.Offset))

	query := b.sql.String()
	s.logger.Debug("query", zap.String("entity", et.Name), zap.String("sql", query), zap.Int("args", len(b.args)))

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, classify(err, et.Name)
	}
	defer rows.Close()
	return scanRows(rows, et)
}

// Begin starts a transaction
func (s *Store) Begin(ctx context.Context, opts transaction.Options) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, opts.ToSQLOptions())
	if err != nil {
		return nil, classify(err, "")
	}
	return &sqlTx{tx: tx, dialect: s.dialect, logger: s.logger}, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func column(et *schema.EntityType, property string) string {
	return quote(et.Property(property).ColumnName())
}

func selectList(et *schema.EntityType) string {
	cols := make([]string, len(et.Properties))
	for i, p := range et.Properties {
		cols[i] = quote(p.ColumnName())
	}
	return strings.Join(cols, ", ")
}

// builder accumulates SQL text and bind arguments
type builder struct {
	dialect Dialect
	sql     strings.Builder
	args    []any
}

func newBuilder(d Dialect) *builder {
	return &builder{dialect: d}
}

func (b *builder) printf(format string, args ...any) {
	fmt.Fprintf(&b.sql, format, args...)
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// equals renders col = value, or IS NULL for a nil value
func (b *builder) equals(col string, v any) string {
	if v == nil {
		return col + " IS NULL"
	}
	return col + " = " + b.bind(v)
}

func (b *builder) where(et *schema.EntityType, preds []store.Predicate) {
	if len(preds) == 0 {
		return
	}
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		col := column(et, p.Property)
		var marks []string
		hasNull := false
		for _, v := range p.Values {
			if v == nil {
				hasNull = true
				continue
			}
			marks = append(marks, b.bind(v))
		}

		var alts []string
		if len(marks) > 0 {
			alts = append(alts, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
		}
		if hasNull {
			alts = append(alts, col+" IS NULL")
		}
		switch len(alts) {
		case 0:
			clauses = append(clauses, "1 = 0")
		case 1:
			clauses = append(clauses, alts[0])
		default:
			clauses = append(clauses, "("+strings.Join(alts, " OR ")+")")
		}
	}
	b.printf(" WHERE %s", strings.Join(clauses, " AND "))
}

// orderBy always ends with the key so paging is stable
func (b *builder) orderBy(et *schema.EntityType, orders []store.Order) {
	var terms []string
	seen := make(map[string]bool)
	for _, o := range orders {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		terms = append(terms, column(et, o.Property)+" "+dir)
		seen[o.Property] = true
	}
	for _, k := range et.Keys {
		if !seen[k] {
			terms = append(terms, column(et, k)+" ASC")
		}
	}
	b.printf(" ORDER BY %s", strings.Join(terms, ", "))
}

// matchKey renders the key and optional concurrency guard of a WHERE clause
func (b *builder) matchKey(et *schema.EntityType, key store.Row, guard *store.Guard) {
	clauses := make([]string, 0, len(et.Keys)+1)
	for _, k := range et.Keys {
		clauses = append(clauses, b.equals(column(et, k), key[k]))
	}
	if guard != nil {
		clauses = append(clauses, b.equals(column(et, guard.Property), guard.Value))
	}
	b.printf(" WHERE %s", strings.Join(clauses, " AND "))
}
