// Package validation checks patched records before they are staged. Rules are
// declared per field in go-playground/validator syntax.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// ErrInvalidRules is returned when a field's rule string cannot be evaluated
var ErrInvalidRules = errors.New("invalid validation rules")

// Engine validates records against the nullability and rules of their model
type Engine struct {
	validate *validator.Validate
}

// NewEngine creates a validation engine with the built-in custom rules
func NewEngine() *Engine {
	v := validator.New()

	// notblank rejects strings made only of whitespace
	_ = v.RegisterValidation("notblank", validateNotBlank)

	return &Engine{validate: v}
}

// RegisterValidation adds a custom rule usable in field rule strings
func (e *Engine) RegisterValidation(tag string, fn validator.Func) error {
	return e.validate.RegisterValidation(tag, fn)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate checks every scalar field of the record. It returns
// *ValidationErrors when any field fails.
func (e *Engine) Validate(ctx context.Context, m *schema.Model, rec schema.Record) error {
	errs := NewValidationErrors(m.Name)

	for _, field := range m.Scalars() {
		if err := e.ValidateField(ctx, field, rec[field.Name]); err != nil {
			if fieldErrs, ok := err.(*ValidationErrors); ok {
				for name, messages := range fieldErrs.Fields {
					for _, msg := range messages {
						errs.Add(name, msg)
					}
				}
				continue
			}
			return err
		}
	}

	if errs.HasErrors() {
		return errs
	}

	return nil
}

// ValidateField validates a single field value
// This is useful for partial validation or field-level feedback
func (e *Engine) ValidateField(ctx context.Context, field *schema.Field, value interface{}) error {
	errs := NewValidationErrors("")

	if value == nil {
		if !field.Nullable {
			errs.Add(field.Name, "is required")
			return errs
		}
		// Skip further validation for nil values
		return nil
	}

	if field.Rules == "" {
		return nil
	}

	err := e.check(ctx, value, field.Rules)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w %q for %s: %v", ErrInvalidRules, field.Rules, field.Name, err)
	}
	for _, fe := range fieldErrs {
		errs.Add(field.Name, message(fe))
	}
	return errs
}

// check runs the rules. The validator panics on unknown tags; that is
// reported as an error instead.
func (e *Engine) check(ctx context.Context, value interface{}, rules string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return e.validate.VarCtx(ctx, value, rules)
}

// message renders a rule failure the way API clients expect to read it
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "min":
		if isText(fe) {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if isText(fe) {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "url", "http_url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func isText(fe validator.FieldError) bool {
	_, ok := fe.Value().(string)
	return ok
}
