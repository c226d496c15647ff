package envelope

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

//go:embed envelope.schema.json
var schemaJSON string

const schemaURL = "https://actsafe.schemas.local/envelope.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("envelope schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Decode validates data against the envelope schema and decodes it. Unknown
// fields, params among them, are rejected. Missing mandatory fields are left
// to the verifier so that it can report them by reason code.
func Decode(data []byte) (*Envelope, error) {
	const op = "envelope.Decode"

	schema, err := envelopeSchema()
	if err != nil {
		return nil, err
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_envelope", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_envelope", err)
	}

	var env Envelope
	strict := json.NewDecoder(bytes.NewReader(data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(&env); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, op, "invalid_envelope", err)
	}
	return &env, nil
}

// DecodeAll accepts either a single envelope object or an array of them.
func DecodeAll(data []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		env, err := Decode(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Envelope{env}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, acterr.Wrap(acterr.KindValidation, "envelope.DecodeAll", "invalid_envelope", err)
	}
	out := make([]*Envelope, 0, len(raws))
	for i, raw := range raws {
		env, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("envelope[%d]: %w", i, err)
		}
		out = append(out, env)
	}
	return out, nil
}
