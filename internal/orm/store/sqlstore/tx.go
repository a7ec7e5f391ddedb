package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
)

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
	logger  *zap.Logger
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify(err, "")
	}
	return nil
}

// Rollback is a no-op once the transaction has finished
func (t *sqlTx) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return classify(err, "")
}

func (t *sqlTx) Insert(ctx context.Context, et *schema.EntityType, row store.Row) (any, error) {
	generated := store.GeneratesKey(et)

	var cols, marks []string
	b := newBuilder(t.dialect)
	for _, p := range et.Properties {
		if generated && et.IsKey(p.Name) {
			continue
		}
		v, ok := row[p.Name]
		if !ok {
			continue
		}
		cols = append(cols, quote(p.ColumnName()))
		marks = append(marks, b.bind(v))
	}

	if len(cols) == 0 {
		b.printf("INSERT INTO %s DEFAULT VALUES", quote(et.TableName()))
	} else {
		b.printf("INSERT INTO %s (%s) VALUES (%s)", quote(et.TableName()), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}

	if !generated {
		if _, err := t.exec(ctx, et, b); err != nil {
			return nil, err
		}
		return nil, nil
	}

	keyCol := column(et, et.Keys[0])
	if t.dialect.Returning() {
		b.printf(" RETURNING %s", keyCol)
		t.log(et, b)
		var id int64
		if err := t.tx.QueryRowContext(ctx, b.sql.String(), b.args...).Scan(&id); err != nil {
			return nil, classify(err, et.Name)
		}
		return id, nil
	}

	res, err := t.exec(ctx, et, b)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, ormerrors.Wrap(ormerrors.StoreUnavailable, err, "read generated key").ForEntity(et.Name, nil)
	}
	return id, nil
}

func (t *sqlTx) Update(ctx context.Context, et *schema.EntityType, key store.Row, set store.Row, guard *store.Guard) (int64, error) {
	b := newBuilder(t.dialect)

	var assigns []string
	for _, p := range et.Properties {
		if et.IsKey(p.Name) {
			continue
		}
		v, ok := set[p.Name]
		if !ok {
			continue
		}
		assigns = append(assigns, quote(p.ColumnName())+" = "+b.bind(v))
	}
	// A no-op assignment still reports whether the row matched
	if len(assigns) == 0 {
		k := column(et, et.Keys[0])
		assigns = append(assigns, k+" = "+k)
	}

	b.printf("UPDATE %s SET %s", quote(et.TableName()), strings.Join(assigns, ", "))
	b.matchKey(et, key, guard)
	return t.affected(ctx, et, b)
}

func (t *sqlTx) Delete(ctx context.Context, et *schema.EntityType, key store.Row, guard *store.Guard) (int64, error) {
	b := newBuilder(t.dialect)
	b.printf("DELETE FROM %s", quote(et.TableName()))
	b.matchKey(et, key, guard)
	return t.affected(ctx, et, b)
}

func (t *sqlTx) affected(ctx context.Context, et *schema.EntityType, b *builder) (int64, error) {
	res, err := t.exec(ctx, et, b)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ormerrors.Wrap(ormerrors.StoreUnavailable, err, "read affected rows").ForEntity(et.Name, nil)
	}
	return n, nil
}

func (t *sqlTx) exec(ctx context.Context, et *schema.EntityType, b *builder) (sql.Result, error) {
	t.log(et, b)
	res, err := t.tx.ExecContext(ctx, b.sql.String(), b.args...)
	if err != nil {
		return nil, classify(err, et.Name)
	}
	return res, nil
}

func (t *sqlTx) log(et *schema.EntityType, b *builder) {
	t.logger.Debug("exec", zap.String("entity", et.Name), zap.String("sql", b.sql.String()), zap.Int("args", len(b.args)))
}
