package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Known schema types, in the order the detection heuristic tries them.
const (
	TypeInvoice = "invoice"
	TypeReport  = "report"
	TypeForm    = "form"
)

const invoiceSchema = `{
  "type": "object",
  "properties": {
    "invoice_number": {"type": "string"},
    "date": {"type": "string"},
    "vendor": {"type": "string"},
    "total_amount": {"type": ["number", "string"]},
    "currency": {"type": "string"},
    "line_items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "quantity": {"type": ["number", "string"]},
          "unit_price": {"type": ["number", "string"]},
          "amount": {"type": ["number", "string"]}
        }
      }
    }
  },
  "required": ["invoice_number", "date", "total_amount"]
}`

const reportSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "date": {"type": "string"},
    "author": {"type": "string"},
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "heading": {"type": "string"},
          "content": {}
        }
      }
    },
    "summary": {"type": "string"}
  },
  "required": ["title"]
}`

const formSchema = `{
  "type": "object",
  "minProperties": 1
}`

func compile(name, source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// DetermineSchemaType picks the schema to validate against from the shape of
// the extracted data. Invoice markers win over report markers; anything else
// is treated as a generic form.
func DetermineSchemaType(data map[string]any) string {
	if hasAnyKey(data, "invoice_number", "total_amount", "line_items") {
		return TypeInvoice
	}
	if hasAnyKey(data, "title") && hasAnyKey(data, "sections", "summary") {
		return TypeReport
	}
	return TypeForm
}

func hasAnyKey(data map[string]any, keys ...string) bool {
	for _, key := range keys {
		if _, ok := data[key]; ok {
			return true
		}
	}
	return false
}
