package mcpservice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	reflected "github.com/invopop/jsonschema"
)

// argumentValidator checks raw tool arguments against a tool's input schema.
// A nil resolved schema limits validation to the object and required checks.
type argumentValidator struct {
	required []string
	resolved *jsonschema.Resolved
}

// newArgumentValidator compiles the reflected schema into a validating
// schema. The reflected form is carried over through its JSON encoding.
func newArgumentValidator(s *reflected.Schema) *argumentValidator {
	v := &argumentValidator{}
	if s == nil {
		return v
	}
	v.required = append([]string(nil), s.Required...)

	b, err := json.Marshal(s)
	if err != nil {
		return v
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return v
	}
	schema.ID = ""
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return v
	}
	v.resolved = resolved
	return v
}

// validate reports the first problem with raw. Absent or null arguments
// are treated as an empty object.
func (v *argumentValidator) validate(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("arguments must be a JSON object")
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %v", err)
	}

	var missing []string
	for _, name := range v.required {
		if val, ok := fields[name]; !ok || val == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}

	if v.resolved == nil {
		return nil
	}
	if err := v.resolved.Validate(fields); err != nil {
		return err
	}
	return nil
}
