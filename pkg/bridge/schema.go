package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaError reports params that do not satisfy a capability's schema.
type SchemaError struct {
	Method     string
	Violations []Violation
}

// Violation is one schema failure.
type Violation struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Description)
	}
	return fmt.Sprintf("Invalid params for %s: %s", e.Method, strings.Join(parts, "; "))
}

// ErrorDetails exposes the violations in the failure envelope.
func (e *SchemaError) ErrorDetails() any {
	return map[string]any{"violations": e.Violations}
}

type paramValidator struct {
	schema *gojsonschema.Schema
}

func compileSchema(src string) (*paramValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compile params schema: %w", err)
	}
	return &paramValidator{schema: schema}, nil
}

func (v *paramValidator) validate(method string, params json.RawMessage) error {
	doc := []byte(params)
	if isNull(params) {
		doc = []byte("{}")
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate params: %w", err)
	}
	if result.Valid() {
		return nil
	}
	se := &SchemaError{Method: method}
	for _, re := range result.Errors() {
		se.Violations = append(se.Violations, Violation{Field: re.Field(), Description: re.Description()})
	}
	return se
}

func (v *paramValidator) wrap(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		if err := v.validate(MethodFromContext(ctx), params); err != nil {
			return nil, err
		}
		return next(ctx, params)
	}
}
