package handler

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var contactPattern = regexp.MustCompile(`^[a-zA-Z0-9+_.@\-]+$`)

var registerOnce sync.Once

// RegisterValidators adds the "contact" tag to gin's validator.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("contact", func(fl validator.FieldLevel) bool {
				return contactPattern.MatchString(fl.Field().String())
			})
		}
	})
}

// describeBindError turns validator output into a client message.
func describeBindError(err error) string {
	ves, ok := err.(validator.ValidationErrors)
	if !ok || len(ves) == 0 {
		return "invalid body"
	}
	fe := ves[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "contact":
		return fe.Field() + " may only contain letters, digits and + _ . @ -"
	case "len":
		return fe.Field() + " must be " + fe.Param() + " characters"
	case "min", "max":
		return fe.Field() + " must be between 3 and 255 characters"
	case "number":
		return fe.Field() + " must be digits only"
	case "url":
		return fe.Field() + " must be a URL"
	}
	return fe.Field() + " is invalid"
}
