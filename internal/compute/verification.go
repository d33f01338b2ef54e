package compute

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verificationSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status", "verdict", "overall_confidence"],
  "properties": {
    "status": {"type": "string"},
    "verdict": {"type": "string", "minLength": 1},
    "overall_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "recommendation": {"type": ["string", "null"]},
    "report": {"type": ["object", "null"]}
  }
}`

type verificationSchema struct {
	schema *jsonschema.Schema
}

func compileVerificationSchema() (*verificationSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("verification.json", bytes.NewReader([]byte(verificationSchemaJSON))); err != nil {
		return nil, fmt.Errorf("add verification schema: %w", err)
	}
	schema, err := compiler.Compile("verification.json")
	if err != nil {
		return nil, fmt.Errorf("compile verification schema: %w", err)
	}
	return &verificationSchema{schema: schema}, nil
}

// decode validates body and unmarshals it.
func (v *verificationSchema) decode(body []byte) (*models.Verification, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding verification: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: verification does not match schema: %w", remote.ErrRequestFailed, err)
	}

	var out models.Verification
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding verification: %w", err)
	}
	return &out, nil
}
