// Package metadata renders a schema registry as a portable document for
// client-side type generators.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// Document describes every registered entity type in registration order
type Document struct {
	EntityTypes []EntityType `json:"entityTypes" yaml:"entityTypes"`
}

// EntityType describes one entity type
type EntityType struct {
	Name          string         `json:"name" yaml:"name"`
	Namespace     string         `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	KeyGeneration string         `json:"keyGeneration" yaml:"keyGeneration"`
	Keys          []string       `json:"keys" yaml:"keys"`
	Concurrency   string         `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Properties    []Property     `json:"properties" yaml:"properties"`
	Relationships []Relationship `json:"relationships" yaml:"relationships"`
}

// Property describes a scalar property
type Property struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// Relationship describes a navigation
type Relationship struct {
	Name        string   `json:"name" yaml:"name"`
	Target      string   `json:"target" yaml:"target"`
	Cardinality string   `json:"cardinality" yaml:"cardinality"`
	ForeignKeys []string `json:"foreignKeys" yaml:"foreignKeys"`
	Inverse     string   `json:"inverse,omitempty" yaml:"inverse,omitempty"`
}

// Describe walks the registry. The result depends only on registration
// order and type shapes, so repeated calls produce identical documents.
func Describe(reg *schema.Registry) *Document {
	doc := &Document{EntityTypes: make([]EntityType, 0, reg.Count())}
	for _, t := range reg.Types() {
		et := EntityType{
			Name:          t.Name,
			Namespace:     t.Namespace,
			KeyGeneration: t.KeyGeneration.String(),
			Keys:          append([]string{}, t.Keys...),
			Concurrency:   t.Concurrency,
			Properties:    make([]Property, 0, len(t.Properties)),
			Relationships: make([]Relationship, 0, len(t.Relationships)),
		}
		for _, p := range t.Properties {
			et.Properties = append(et.Properties, Property{Name: p.Name, Kind: p.Kind.String(), Nullable: p.Nullable})
		}
		for _, r := range t.Relationships {
			et.Relationships = append(et.Relationships, Relationship{
				Name:        r.Name,
				Target:      r.Target,
				Cardinality: r.Cardinality.String(),
				ForeignKeys: append([]string{}, r.ForeignKeys...),
				Inverse:     r.Inverse,
			})
		}
		doc.EntityTypes = append(doc.EntityTypes, et)
	}
	return doc
}

// Lookup returns the description of the named type, or nil
func (d *Document) Lookup(name string) *EntityType {
	for i := range d.EntityTypes {
		if d.EntityTypes[i].Name == name {
			return &d.EntityTypes[i]
		}
	}
	return nil
}

// JSON renders the document as indented JSON
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// YAML renders the document as YAML
func (d *Document) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// ETag returns a strong entity tag derived from the JSON rendering
func (d *Document) ETag() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}
