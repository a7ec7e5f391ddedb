package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

// Definition is the static schema document loaded at startup
type Definition struct {
	Namespace string           `yaml:"namespace"`
	Types     []TypeDefinition `yaml:"types"`
}

// TypeDefinition describes one entity type in a definition file
type TypeDefinition struct {
	Name          string                   `yaml:"name"`
	Namespace     string                   `yaml:"namespace"`
	Table         string                   `yaml:"table"`
	KeyGeneration string                   `yaml:"keyGeneration"`
	Keys          []string                 `yaml:"keys"`
	Concurrency   string                   `yaml:"concurrency"`
	Properties    []PropertyDefinition     `yaml:"properties"`
	Relationships []RelationshipDefinition `yaml:"relationships"`
}

// PropertyDefinition describes one property in a definition file
type PropertyDefinition struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Nullable bool   `yaml:"nullable"`
	Column   string `yaml:"column"`
}

// RelationshipDefinition describes one navigation in a definition file
type RelationshipDefinition struct {
	Name        string   `yaml:"name"`
	Target      string   `yaml:"target"`
	Cardinality string   `yaml:"cardinality"`
	ForeignKeys []string `yaml:"foreignKeys"`
	Inverse     string   `yaml:"inverse"`
}

// LoadDefinitionFile reads a YAML schema file into a sealed registry
func LoadDefinitionFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	return LoadDefinition(f)
}

// LoadDefinition reads a YAML schema document into a sealed registry
func LoadDefinition(r io.Reader) (*Registry, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, ormerrors.Wrap(ormerrors.SchemaInconsistency, err, "failed to parse schema definition")
	}
	return def.Build()
}

// Build converts the definition into a sealed registry
func (d *Definition) Build() (*Registry, error) {
	reg := NewRegistry()
	for i := range d.Types {
		t, err := d.Types[i].entityType(d.Namespace)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (td *TypeDefinition) entityType(namespace string) (*EntityType, error) {
	inconsistent := func(err error) error {
		return ormerrors.Wrap(ormerrors.SchemaInconsistency, err, "invalid definition").ForEntity(td.Name, nil)
	}

	gen, err := ParseKeyGeneration(td.KeyGeneration)
	if err != nil {
		return nil, inconsistent(err)
	}

	t := &EntityType{
		Name:          td.Name,
		Namespace:     td.Namespace,
		Table:         td.Table,
		Keys:          td.Keys,
		KeyGeneration: gen,
		Concurrency:   td.Concurrency,
	}
	if t.Namespace == "" {
		t.Namespace = namespace
	}

	for _, pd := range td.Properties {
		kind, err := ParseScalarKind(pd.Kind)
		if err != nil {
			return nil, inconsistent(fmt.Errorf("property %s: %w", pd.Name, err))
		}
		t.Properties = append(t.Properties, &Property{
			Name:     pd.Name,
			Kind:     kind,
			Nullable: pd.Nullable,
			Column:   pd.Column,
		})
	}

	for _, rd := range td.Relationships {
		card, err := ParseCardinality(rd.Cardinality)
		if err != nil {
			return nil, inconsistent(fmt.Errorf("relationship %s: %w", rd.Name, err))
		}
		t.Relationships = append(t.Relationships, &Relationship{
			Name:        rd.Name,
			Target:      rd.Target,
			Cardinality: card,
			ForeignKeys: rd.ForeignKeys,
			Inverse:     rd.Inverse,
		})
	}

	return t, nil
}
