package transfer

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// archiveSchema is the contract every imported archive must satisfy before a
// single row is replayed. Cross references (a project naming a tag absent
// from the tag list) are resolved at replay time, not here.
const archiveSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "projects"],
  "properties": {
    "version": {"type": "integer", "minimum": 1, "maximum": 1},
    "exported_at": {"type": "integer"},
    "tags": {"type": "array", "items": {"$ref": "#/$defs/tag"}},
    "projects": {"type": "array", "items": {"$ref": "#/$defs/project"}}
  },
  "$defs": {
    "tag": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "color": {"type": ["string", "null"]}
      }
    },
    "project": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": ["string", "null"]},
        "created_at": {"type": "integer"},
        "tags": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "features": {"type": "array", "items": {"$ref": "#/$defs/feature"}}
      }
    },
    "feature": {
      "type": "object",
      "required": ["description"],
      "properties": {
        "description": {"type": "string", "minLength": 1},
        "completed": {"type": "boolean"},
        "created_at": {"type": "integer"}
      }
    }
  }
}`

// validateArchive checks raw archive bytes against the schema.
func validateArchive(data []byte) error {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("parse archive: %w", err)
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(archiveSchema))
	if err != nil {
		return fmt.Errorf("parse archive schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("archive.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("archive.json")
	if err != nil {
		return fmt.Errorf("compile archive schema: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("archive does not match schema: %w", err)
	}
	return nil
}
