package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestFormatError(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	tests := []struct {
		name     string
		opts     ErrorOptions
		contains []string
	}{
		{
			name: "error with suggestions",
			opts: ErrorOptions{
				Level:       ErrorLevelError,
				Context:     "ENTITY TYPE NOT FOUND",
				Problem:     "Cannot find entity type 'Ordr'.",
				Suggestions: []string{"Order", "OrderDetail"},
			},
			contains: []string{"❌", "ENTITY TYPE NOT FOUND", "Did you mean: Order, OrderDetail?"},
		},
		{
			name: "warning with consequence",
			opts: ErrorOptions{
				Level:       ErrorLevelWarning,
				Context:     "CACHE",
				Problem:     "Redis unreachable",
				Consequence: "Queries are served uncached",
			},
			contains: []string{"⚠️", "Redis unreachable", "Queries are served uncached"},
		},
		{
			name: "info",
			opts: ErrorOptions{Level: ErrorLevelInfo, Problem: "Schema applied"},
			contains: []string{"ℹ️", "Schema applied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatError(tt.opts)
			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("FormatError() output missing %q\nGot: %q", expected, result)
				}
			}
		})
	}
}

func TestEntityTypeNotFoundError(t *testing.T) {
	result := EntityTypeNotFoundError("Ordr", []string{"Order"}, true)
	for _, exp := range []string{"ENTITY TYPE NOT FOUND", "Cannot find entity type 'Ordr'.", "northwind types"} {
		if !strings.Contains(result, exp) {
			t.Errorf("EntityTypeNotFoundError() missing %q", exp)
		}
	}
}

func TestSchemaError(t *testing.T) {
	result := SchemaError("schema.yaml", errors.New("yaml: line 3: mapping values are not allowed"), true)
	if !strings.Contains(result, "SCHEMA ERROR") || !strings.Contains(result, "line 3") {
		t.Errorf("SchemaError() = %q", result)
	}
}

func TestWriteSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "wrote 6 tables", true)
	if buf.String() != "✓ wrote 6 tables\n" {
		t.Errorf("WriteSuccess() = %q", buf.String())
	}
}

func TestWarning(t *testing.T) {
	result := Warning("database.driver is memory", nil, true)
	if !strings.HasPrefix(result, "⚠") || !strings.Contains(result, "database.driver is memory") {
		t.Errorf("Warning() = %q", result)
	}
}
