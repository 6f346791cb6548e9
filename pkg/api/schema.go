package api

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// submitSchemaJSON constrains claim submissions before they reach the engine.
// The provider is never part of the body; it is the authenticated caller.
const submitSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["patient", "code", "year"],
  "additionalProperties": false,
  "properties": {
    "patient": {
      "type": "string",
      "pattern": "^(0x)?[0-9a-fA-F]{64}$",
      "description": "Pseudonymous 32-byte patient token, hex encoded"
    },
    "code": {"type": "integer", "minimum": 0, "maximum": 65535},
    "year": {"type": "integer", "minimum": 0, "maximum": 65535}
  }
}`

var submitSchema = mustCompileSchema("https://veris.schemas.local/claim-submit.schema.json", submitSchemaJSON)

func mustCompileSchema(url, source string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(source)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}
