package types

import (
	"encoding/json"
	"fmt"

	"github.com/eino-contrib/jsonschema"
)

// FormJSONSchema describes the Form document for the model prompt.
func FormJSONSchema() (string, error) {
	schema := jsonschema.Reflect(&Form{})
	schema.Title = "Form"
	schema.Description = "A form document made of a title, an optional description and an ordered list of fields."
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON schema: %w", err)
	}
	return string(schemaBytes), nil
}
