package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

//go:embed policy.schema.json
var schemaJSON string

const schemaURL = "https://actsafe.schemas.local/policy.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("policy schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Load reads a policy from a JSON or YAML file. An empty path yields the empty,
// allow-all document.
func Load(path string) (*Document, error) {
	if path == "" {
		return &Document{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, "policy.Load", "unreadable_policy", fmt.Errorf("read %s: %w", path, err))
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseYAML converts YAML to JSON and parses it with ParseJSON.
func ParseYAML(data []byte) (*Document, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, "policy.ParseYAML", "invalid_policy", err)
	}
	if generic == nil {
		generic = map[string]any{}
	}
	js, err := json.Marshal(generic)
	if err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, "policy.ParseYAML", "invalid_policy", err)
	}
	return ParseJSON(js)
}

// ParseJSON validates data against the policy schema, decodes it strictly and
// checks the semver version.
func ParseJSON(data []byte) (*Document, error) {
	const op = "policy.ParseJSON"

	schema, err := documentSchema()
	if err != nil {
		return nil, err
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_policy", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_policy", err)
	}

	var doc Document
	strict := json.NewDecoder(bytes.NewReader(data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(&doc); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_policy", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_policy", err)
	}
	return &doc, nil
}
