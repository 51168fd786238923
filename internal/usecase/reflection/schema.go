package reflection

import (
	"github.com/xeipuuv/gojsonschema"
)

const SchemaName = "reflection_verdict"

// Schema constrains the structured reflection reply.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["decision", "instruction"],
  "properties": {
    "decision": {"type": "string", "enum": ["DONE", "CONTINUE", "USER_INPUT"]},
    "instruction": {"type": "string"}
  }
}`

var verdictSchema = mustSchema(Schema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic("reflection: invalid verdict schema: " + err.Error())
	}
	return schema
}
