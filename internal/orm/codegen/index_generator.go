package codegen

import (
	"fmt"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// IndexGenerator generates CREATE INDEX statements
type IndexGenerator struct{}

// NewIndexGenerator creates a new index generator
func NewIndexGenerator() *IndexGenerator {
	return &IndexGenerator{}
}

// GenerateForeignKeyIndexes indexes the foreign key columns of et so
// principal deletes and relationship expansion avoid full scans. Foreign
// keys that coincide with a key prefix are already covered.
func (g *IndexGenerator) GenerateForeignKeyIndexes(et *schema.EntityType, reg *schema.Registry) []string {
	var indexes []string
	table := et.TableName()
	for _, fk := range reg.ForeignKeysOf(et.Name) {
		if isKeyPrefix(et, fk.Properties) {
			continue
		}
		cols := make([]string, len(fk.Properties))
		for i, name := range fk.Properties {
			cols[i] = et.Property(name).ColumnName()
		}
		indexName := fmt.Sprintf("idx_%s_%s", table, strings.Join(cols, "_"))
		indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			QuoteIdentifier(indexName), QuoteIdentifier(table), quoteColumns(et, fk.Properties)))
	}
	return indexes
}

func isKeyPrefix(et *schema.EntityType, props []string) bool {
	if len(props) > len(et.Keys) {
		return false
	}
	for i, p := range props {
		if et.Keys[i] != p {
			return false
		}
	}
	return true
}
