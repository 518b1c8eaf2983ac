package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"grist/internal/pipeline"
)

// Validator checks extracted data against the built-in document schemas.
// All validation is local; invalid data yields an annotated result, not an
// error.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schemas := make(map[string]*jsonschema.Schema, 3)
	for name, source := range map[string]string{
		TypeInvoice: invoiceSchema,
		TypeReport:  reportSchema,
		TypeForm:    formSchema,
	} {
		compiled, err := compile(name+".json", source)
		if err != nil {
			return nil, err
		}
		schemas[name] = compiled
	}
	return &Validator{schemas: schemas}, nil
}

func (v *Validator) Validate(ctx context.Context, data json.RawMessage) (*pipeline.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &pipeline.ValidationResult{
			Valid:      false,
			SchemaType: TypeForm,
			Errors:     []pipeline.FieldError{{Path: "$", Message: "extracted data is not valid JSON"}},
		}, nil
	}

	object, ok := decoded.(map[string]any)
	if !ok {
		return &pipeline.ValidationResult{
			Valid:      false,
			SchemaType: TypeForm,
			Errors:     []pipeline.FieldError{{Path: "$", Message: "extracted data is not a JSON object"}},
		}, nil
	}

	schemaType := DetermineSchemaType(object)
	schema, exists := v.schemas[schemaType]
	if !exists {
		return nil, fmt.Errorf("no compiled schema for type %q", schemaType)
	}

	result := &pipeline.ValidationResult{Valid: true, SchemaType: schemaType}
	if err := schema.Validate(decoded); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("validate against %s schema: %w", schemaType, err)
		}
		result.Valid = false
		result.Errors = flatten(verr)
	}
	return result, nil
}

// flatten collects the leaf causes of a validation error as path/message
// pairs. The root error only summarizes its causes, so it is reported alone
// just when it has none.
func flatten(verr *jsonschema.ValidationError) []pipeline.FieldError {
	if len(verr.Causes) == 0 {
		return []pipeline.FieldError{{
			Path:    "$" + verr.InstanceLocation,
			Message: verr.Message,
		}}
	}
	var fields []pipeline.FieldError
	for _, cause := range verr.Causes {
		fields = append(fields, flatten(cause)...)
	}
	return fields
}
