package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/normalize"
	"github.com/sourceplane/mlpipe/internal/schema"
)

// Loader reads declarative documents, validates them against the embedded
// schemas and returns normalized, typed configs.
type Loader struct {
	validator *schema.Validator
}

// New creates a loader with the embedded schemas compiled.
func New() (*Loader, error) {
	v, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{validator: v}, nil
}

// LoadPipelineConfig loads a pipeline document from a JSON or YAML file.
func LoadPipelineConfig(path string) (*model.PipelineConfig, error) {
	l, err := New()
	if err != nil {
		return nil, err
	}
	return l.LoadPipeline(path)
}

// LoadPipeline loads, validates and normalizes a pipeline document.
func (l *Loader) LoadPipeline(path string) (*model.PipelineConfig, error) {
	raw, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if err := l.validator.ValidatePipeline(raw); err != nil {
		return nil, model.ErrConfiguration("%s: schema validation failed: %v", path, err)
	}

	var cfg model.PipelineConfig
	if err := decodeStrict(raw, &cfg); err != nil {
		return nil, model.ErrConfiguration("%s: failed to decode pipeline config: %v", path, err)
	}

	return normalize.NormalizePipeline(&cfg)
}

// LoadDatastoreSet loads, validates and normalizes a datastore registration document.
func (l *Loader) LoadDatastoreSet(path string) (*model.DatastoreSet, error) {
	raw, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if err := l.validator.ValidateDatastoreSet(raw); err != nil {
		return nil, model.ErrConfiguration("%s: schema validation failed: %v", path, err)
	}

	var set model.DatastoreSet
	if err := decodeStrict(raw, &set); err != nil {
		return nil, model.ErrConfiguration("%s: failed to decode datastore set: %v", path, err)
	}

	return normalize.NormalizeDatastoreSet(&set)
}

// readDocument parses a file into generic values, choosing the format by extension.
func readDocument(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrConfiguration("failed to read config file %s: %v", path, err)
	}

	var doc interface{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, model.ErrConfiguration("failed to parse YAML config %s: %v", path, err)
		}
	case ".json":
		if doc, err = decodeJSON(data); err != nil {
			return nil, model.ErrConfiguration("failed to parse JSON config %s: %v", path, err)
		}
	default:
		if doc, err = decodeJSON(data); err != nil {
			if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
				return nil, model.ErrConfiguration("failed to parse config file %s as JSON or YAML: %v", path, err)
			}
		}
	}

	if doc == nil {
		return nil, model.ErrConfiguration("config file %s is empty", path)
	}
	return doc, nil
}

// decodeJSON parses a single JSON document, keeping numbers as their
// literal text.
func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after the JSON document")
	}
	return doc, nil
}

// plainNumbers replaces JSON numbers with plain YAML scalars carrying the
// original literal, so large integers survive the YAML round trip.
func plainNumbers(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v.String()}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = plainNumbers(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = plainNumbers(item)
		}
		return out
	}
	return v
}

// decodeStrict re-encodes generic values as YAML and decodes them into out,
// rejecting unknown fields. Scalars of any type decode into string fields.
func decodeStrict(raw interface{}, out interface{}) error {
	data, err := yaml.Marshal(plainNumbers(raw))
	if err != nil {
		return fmt.Errorf("failed to re-encode document: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
