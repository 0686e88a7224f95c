package annotation

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed labels.schema.json
var schemaText string

var documentSchema = jsonschema.MustCompileString("labels.schema.json", schemaText)

// validateDocument checks data against the label file schema before any
// typed decoding happens.
func validateDocument(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}
	if err := documentSchema.Validate(v); err != nil {
		return err
	}
	return nil
}
