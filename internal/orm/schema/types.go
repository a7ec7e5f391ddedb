// Package schema describes the entity types the gateway exposes: their scalar
// properties, keys, concurrency column and relationships. Types are described
// dynamically so any registered shape can be validated uniformly.
package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScalarKind represents the storage kind of a property
type ScalarKind int

const (
	KindInteger ScalarKind = iota
	KindString
	KindDecimal
	KindBoolean
	KindDateTime
	KindGUID
	KindBinary
)

// String returns the string representation of the scalar kind
func (k ScalarKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindDateTime:
		return "datetime"
	case KindGUID:
		return "guid"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ParseScalarKind converts a string to a ScalarKind
func ParseScalarKind(s string) (ScalarKind, error) {
	switch strings.ToLower(s) {
	case "integer", "int":
		return KindInteger, nil
	case "string":
		return KindString, nil
	case "decimal":
		return KindDecimal, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "datetime":
		return KindDateTime, nil
	case "guid", "uuid":
		return KindGUID, nil
	case "binary":
		return KindBinary, nil
	default:
		return 0, fmt.Errorf("unknown scalar kind: %s", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (k ScalarKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ScalarKind) UnmarshalText(text []byte) error {
	parsed, err := ParseScalarKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Coerce normalises a decoded value to the canonical Go representation of
// the kind: int64, string, decimal text, bool, time.Time, uuid.UUID or []byte.
// A nil value is returned unchanged.
func (k ScalarKind) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindInteger:
		return coerceInteger(v)
	case KindString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindDecimal:
		return coerceDecimal(v)
	case KindBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case string:
			return strconv.ParseBool(b)
		}
	case KindDateTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			return parseTime(t)
		case []byte:
			return parseTime(string(t))
		}
	case KindGUID:
		switch g := v.(type) {
		case uuid.UUID:
			return g, nil
		case [16]byte:
			return uuid.UUID(g), nil
		case string:
			return uuid.Parse(g)
		case []byte:
			if len(g) == 16 {
				return uuid.FromBytes(g)
			}
			return uuid.ParseBytes(g)
		}
	case KindBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return base64.StdEncoding.DecodeString(b)
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, k)
}

func coerceInteger(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func coerceDecimal(v any) (any, error) {
	var text string
	switch n := v.(type) {
	case string:
		text = n
	case []byte:
		text = string(n)
	case json.Number:
		text = n.String()
	case float64:
		text = strconv.FormatFloat(n, 'f', -1, 64)
	case int64:
		text = strconv.FormatInt(n, 10)
	case int:
		text = strconv.Itoa(n)
	default:
		return nil, fmt.Errorf("cannot use %T as decimal", v)
	}
	if _, ok := new(big.Rat).SetString(text); !ok {
		return nil, fmt.Errorf("%q is not a decimal", text)
	}
	return text, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a datetime", s)
}

// Property is a scalar column of an entity type
type Property struct {
	Name     string
	Kind     ScalarKind
	Nullable bool
	// Column overrides the store column name (defaults to snake_case of Name)
	Column string
}

// ColumnName returns the store column for the property
func (p *Property) ColumnName() string {
	if p.Column != "" {
		return p.Column
	}
	return toSnakeCase(p.Name)
}

// Cardinality is the multiplicity of a relationship's far end
type Cardinality int

const (
	// One is a reference navigation; foreign keys live on the declaring type
	One Cardinality = iota
	// Many is a collection navigation; foreign keys live on the target type
	Many
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return "unknown"
	}
}

// ParseCardinality converts a string to a Cardinality
func ParseCardinality(s string) (Cardinality, error) {
	switch strings.ToLower(s) {
	case "one":
		return One, nil
	case "many":
		return Many, nil
	default:
		return 0, fmt.Errorf("unknown cardinality: %s", s)
	}
}

// Relationship is a directional navigation to another entity type
type Relationship struct {
	Name        string
	Target      string
	Cardinality Cardinality
	// ForeignKeys are dependent-side properties, positionally matching the principal's keys
	ForeignKeys []string
	// Inverse names the navigation on Target pointing back, if any
	Inverse string
}

// KeyGeneration says who assigns key values for new entities
type KeyGeneration int

const (
	// Identity keys are generated by the store; clients submit temporary values
	Identity KeyGeneration = iota
	// ClientSupplied keys are permanent as submitted
	ClientSupplied
)

// String returns the string representation of the key generation strategy
func (g KeyGeneration) String() string {
	switch g {
	case Identity:
		return "Identity"
	case ClientSupplied:
		return "ClientSupplied"
	default:
		return "unknown"
	}
}

// ParseKeyGeneration converts a string to a KeyGeneration
func ParseKeyGeneration(s string) (KeyGeneration, error) {
	switch strings.ToLower(s) {
	case "identity", "":
		return Identity, nil
	case "clientsupplied", "client_supplied", "client":
		return ClientSupplied, nil
	default:
		return 0, fmt.Errorf("unknown key generation: %s", s)
	}
}

// EntityType describes one entity shape
type EntityType struct {
	Name      string
	Namespace string
	// Table overrides the store table name (defaults to snake_case plural of Name)
	Table         string
	Properties    []*Property
	Keys          []string
	KeyGeneration KeyGeneration
	// Concurrency names the optimistic concurrency property, if any
	Concurrency   string
	Relationships []*Relationship
}

// TableName returns the store table for the type
func (t *EntityType) TableName() string {
	if t.Table != "" {
		return t.Table
	}
	return pluralize(toSnakeCase(t.Name))
}

// Property returns the named property, or nil
func (t *EntityType) Property(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Relationship returns the named relationship, or nil
func (t *EntityType) Relationship(name string) *Relationship {
	for _, r := range t.Relationships {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// KeyProperties returns the key properties in key order
func (t *EntityType) KeyProperties() []*Property {
	props := make([]*Property, 0, len(t.Keys))
	for _, k := range t.Keys {
		if p := t.Property(k); p != nil {
			props = append(props, p)
		}
	}
	return props
}

// IsKey returns true if name is one of the key properties
func (t *EntityType) IsKey(name string) bool {
	for _, k := range t.Keys {
		if k == name {
			return true
		}
	}
	return false
}

// ConcurrencyProperty returns the concurrency property, or nil
func (t *EntityType) ConcurrencyProperty() *Property {
	if t.Concurrency == "" {
		return nil
	}
	return t.Property(t.Concurrency)
}

// HasGeneratedKey returns true if the store assigns this type's key
func (t *EntityType) HasGeneratedKey() bool {
	return t.KeyGeneration == Identity && len(t.Keys) == 1
}

// ForeignKey is a dependent-to-principal key reference, derived from relationships
type ForeignKey struct {
	Dependent  string
	Principal  string
	Properties []string
	// Nullable is true when every foreign key property is nullable
	Nullable bool
	// Navigation is the relationship that declared the reference
	Navigation string
}

// KeyString renders key values as a comparable map key
func KeyString(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case time.Time:
			parts[i] = t.UTC().Format(time.RFC3339Nano)
		case []byte:
			parts[i] = base64.StdEncoding.EncodeToString(t)
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, "\x1f")
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// pluralize adds simple pluralization
func pluralize(s string) string {
	if strings.HasSuffix(s, "s") ||
		strings.HasSuffix(s, "x") ||
		strings.HasSuffix(s, "z") {
		return s + "es"
	}
	if strings.HasSuffix(s, "y") {
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}
