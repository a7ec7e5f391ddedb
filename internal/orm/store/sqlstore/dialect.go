package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/codegen"
)

// Dialect captures the SQL differences between supported backends
type Dialect interface {
	Name() codegen.Dialect
	// Placeholder returns the bind marker for the n-th argument, starting at 1
	Placeholder(n int) string
	// Returning is true if INSERT ... RETURNING yields generated keys;
	// otherwise LastInsertId is used
	Returning() bool
	// Paging renders LIMIT/OFFSET; limit of zero means unbounded
	Paging(limit, offset int) string
}

type postgres struct{}

func (postgres) Name() codegen.Dialect { return codegen.Postgres }

func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgres) Returning() bool { return true }

func (postgres) Paging(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

type sqlite struct{}

func (sqlite) Name() codegen.Dialect { return codegen.SQLite }

func (sqlite) Placeholder(int) string { return "?" }

func (sqlite) Returning() bool { return false }

// SQLite only accepts OFFSET after a LIMIT clause
func (sqlite) Paging(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

var (
	// Postgres serves both the pgx and lib/pq drivers
	Postgres Dialect = postgres{}
	SQLite   Dialect = sqlite{}
)

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	d, err := codegen.ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if d == codegen.SQLite {
		return SQLite, nil
	}
	return Postgres, nil
}
