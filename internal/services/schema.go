package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// managementSchema accepts an ADD with all four fields, or any other action
// carrying an id. Numbers may arrive as JSON numbers or numeric strings.
const managementSchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action":  {"type": "string"},
    "id":      {"type": "string", "minLength": 1},
    "hour":    {"$ref": "#/definitions/int"},
    "minute":  {"$ref": "#/definitions/int"},
    "weekday": {"$ref": "#/definitions/int"},
    "concept": {"$ref": "#/definitions/int"}
  },
  "anyOf": [
    {
      "properties": {"action": {"enum": ["ADD"]}},
      "required": ["hour", "minute", "weekday", "concept"]
    },
    {
      "properties": {"action": {"not": {"enum": ["ADD"]}}},
      "required": ["id"]
    }
  ],
  "definitions": {
    "int": {"type": ["integer", "string"], "pattern": "^\\s*[-+]?[0-9]+\\s*$"}
  }
}`

var errInvalidMessage = errors.New("invalid message")

type validator struct {
	schema *gojsonschema.Schema
}

func newValidator(schema string) (*validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &validator{schema: s}, nil
}

func (v *validator) validate(payload []byte) error {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidMessage, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", errInvalidMessage, strings.Join(msgs, "; "))
}
