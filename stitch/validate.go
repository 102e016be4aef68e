package stitch

import (
	"context"

	"jst/value"
)

// Validator checks document against schema. Location is the schema file path,
// it is used to resolve relative references inside the schema.
type Validator interface {
	Validate(ctx context.Context, location string, schema, doc value.Value) error
}

// ValidatorFunc adapts ordinary function to Validator.
type ValidatorFunc func(ctx context.Context, location string, schema, doc value.Value) error

func (f ValidatorFunc) Validate(ctx context.Context, location string, schema, doc value.Value) error {
	return f(ctx, location, schema, doc)
}
