// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest schema, for editor integration in
// plugin.yaml files.
const SchemaID = "https://holomush.dev/schemas/launcher-plugin.schema.json"

// SchemaError reports a manifest that does not match the schema.
type SchemaError struct {
	// Fields lists the offending manifest keys as dotted paths; "(root)"
	// stands for the manifest itself.
	Fields []string
	err    error
}

func (e *SchemaError) Error() string {
	return "schema validation failed: " + e.err.Error()
}

func (e *SchemaError) Unwrap() error { return e.err }

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Launcher Plugin Manifest"
	schema.Description = "Schema for plugin.yaml files discovered by the launcher plugin host"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// compiledSchema compiles the generated schema once per process.
var compiledSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(SchemaID, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return c.Compile(SchemaID)
})

// ValidateSchema validates plugin.yaml data against the manifest schema.
// Mismatches are reported as *SchemaError.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("manifest data is empty")
	}

	instance, err := yamlToJSON(data)
	if err != nil {
		return err
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := sch.Validate(instance); err != nil {
		se := &SchemaError{err: err}
		var ve *jschema.ValidationError
		if errors.As(err, &ve) {
			se.Fields = failedFields(ve)
		}
		return se
	}
	return nil
}

// yamlToJSON decodes YAML into the value model the validator expects by
// passing it through JSON.
func yamlToJSON(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("manifest is not representable as JSON: %w", err)
	}
	v, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("manifest is not representable as JSON: %w", err)
	}
	return v, nil
}

// failedFields collects the instance locations of the leaf causes of ve.
func failedFields(ve *jschema.ValidationError) []string {
	seen := make(map[string]bool)
	var walk func(*jschema.ValidationError)
	walk = func(e *jschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.Join(e.InstanceLocation, ".")
			if field == "" {
				field = "(root)"
			}
			seen[field] = true
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// FormatSchemaError formats a validation error for console output.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	var se *SchemaError
	if errors.As(err, &se) && len(se.Fields) > 0 {
		return fmt.Sprintf("invalid %s: %v", strings.Join(se.Fields, ", "), se.err)
	}
	return err.Error()
}
