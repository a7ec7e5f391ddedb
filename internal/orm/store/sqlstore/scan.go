package sqlstore

import (
	"database/sql"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
)

// scanRows scans rows selected with selectList into property-keyed rows,
// coercing driver values to each property's canonical form
func scanRows(rows *sql.Rows, et *schema.EntityType) ([]store.Row, error) {
	results := make([]store.Row, 0)
	for rows.Next() {
		values := make([]any, len(et.Properties))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err, et.Name)
		}

		row := make(store.Row, len(et.Properties))
		for i, p := range et.Properties {
			v, err := p.Kind.Coerce(values[i])
			if err != nil {
				return nil, ormerrors.Wrap(ormerrors.SchemaInconsistency, err, "column %s", p.ColumnName()).
					ForEntity(et.Name, nil).ForProperty(p.Name)
			}
			row[p.Name] = v
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, et.Name)
	}
	return results, nil
}
