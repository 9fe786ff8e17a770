package utils

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps go-playground validator with economy-specific rules
type CustomValidator struct {
	validate *validator.Validate
}

var actionKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// NewCustomValidator creates a validator with the action_key rule registered.
// Action keys are lowercase snake_case identifiers ("post_created", "tip").
func NewCustomValidator() *CustomValidator {
	v := validator.New()

	v.RegisterValidation("action_key", validateActionKey)

	return &CustomValidator{validate: v}
}

// Validate validates a struct
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validate.Struct(i)
}

func validateActionKey(fl validator.FieldLevel) bool {
	return actionKeyRegex.MatchString(fl.Field().String())
}
