package editsession

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Constraint gates a draft value before it leaves the client. A nil error
// means the value may be committed.
type Constraint interface {
	Check(value string) error
}

// ConstraintFunc adapts a function to Constraint.
type ConstraintFunc func(value string) error

func (f ConstraintFunc) Check(value string) error { return f(value) }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Tag builds a Constraint from a validator tag, e.g. "omitempty,len=10,number".
func Tag(tag string) Constraint {
	return tagConstraint(tag)
}

type tagConstraint string

func (t tagConstraint) Check(value string) error {
	err := validatorInstance().Var(value, string(t))
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return errors.New(describe(verrs[0]))
	}
	return err
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "number":
		return "must contain digits only"
	case "required":
		return "is required"
	case "url":
		return "must be a URL"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

// Common constraints for case fields.
var (
	PhoneNumber = Tag("omitempty,len=10,number")
	Required    = Tag("required")
	Boolean     = Tag("oneof=true false")
	Link        = Tag("omitempty,url")
)
