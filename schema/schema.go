// Package schema validates stitched documents against JSON Schema.
package schema

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"jst/value"
)

// ValidationError carries detailed validator output.
type ValidationError struct {
	Location string
	Err      *jsonschema.ValidationError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("document does not match schema %s: %v", e.Location, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validator compiles schema on every call: schemas are attached to individual
// resources and every resource is visited once per resolution.
type Validator struct {
	draft *jsonschema.Draft
}

// New creates validator. Schemas which do not declare "$schema" are treated
// as draft 2020-12.
func New() *Validator {
	return &Validator{draft: jsonschema.Draft2020}
}

// Validate implements stitch.Validator.
func (v *Validator) Validate(ctx context.Context, location string, schema, doc value.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sch, err := v.compile(location, schema)
	if err != nil {
		return err
	}
	inst, err := value.ToNative(doc)
	if err != nil {
		return fmt.Errorf("unable to prepare document for validation: %w", err)
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Location: location, Err: ve}
	}
	return err
}

func (v *Validator) compile(location string, schema value.Value) (*jsonschema.Schema, error) {
	doc, err := value.ToNative(schema)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare schema: %w", err)
	}

	url := location
	if len(url) == 0 {
		url = "schema.json"
	} else if abs, err := filepath.Abs(url); err == nil {
		// relative $ref are resolved against schema file location
		url = abs
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(v.draft)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("unable to add schema %s: %w", location, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("unable to compile schema %s: %w", location, err)
	}
	return sch, nil
}

// Noop accepts every document.
type Noop struct{}

func (Noop) Validate(context.Context, string, value.Value, value.Value) error {
	return nil
}
