package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.schema.yaml
var schemaFS embed.FS

// Validator handles JSON schema validation
type Validator struct {
	pipelineSchema   *jsonschema.Schema
	datastoresSchema *jsonschema.Schema
}

// NewValidator compiles the embedded schemas
func NewValidator() (*Validator, error) {
	v := &Validator{}

	pipelineSchema, err := loadSchema("schemas/pipeline.schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline schema: %w", err)
	}
	v.pipelineSchema = pipelineSchema

	datastoresSchema, err := loadSchema("schemas/datastores.schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load datastores schema: %w", err)
	}
	v.datastoresSchema = datastoresSchema

	return v, nil
}

// ValidatePipeline validates a pipeline document against the schema
func (v *Validator) ValidatePipeline(data interface{}) error {
	if v.pipelineSchema == nil {
		return fmt.Errorf("pipeline schema not loaded")
	}
	return validate(v.pipelineSchema, data)
}

// ValidateDatastoreSet validates a datastore registration document
func (v *Validator) ValidateDatastoreSet(data interface{}) error {
	if v.datastoresSchema == nil {
		return fmt.Errorf("datastores schema not loaded")
	}
	return validate(v.datastoresSchema, data)
}

// validate round-trips data through JSON so YAML-decoded values match the
// types the schema compiler expects.
func validate(schema *jsonschema.Schema, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return schema.Validate(doc)
}

// loadSchema loads and compiles an embedded schema file (JSON or YAML)
func loadSchema(path string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	// Parse YAML to interface{} (supports both YAML and JSON)
	var schemaData map[string]interface{}
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	id, _ := schemaData["$id"].(string)
	if id == "" {
		return nil, fmt.Errorf("schema %s has no $id", path)
	}

	// Convert to JSON for schema compiler
	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	schema, err := jsonschema.CompileString(id, string(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return schema, nil
}
