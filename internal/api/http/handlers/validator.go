package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

// RequestValidator wraps go-playground/validator for request DTOs.
type RequestValidator struct {
	v *validator.Validate
}

// NewValidator returns a validator ready for use by handlers.
func NewValidator() *RequestValidator {
	return &RequestValidator{v: validator.New()}
}

// Validate returns a VALIDATION_FAILED error listing every failing field.
func (rv *RequestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]any, len(ve))
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msg := fieldError(fe)
				fields[strings.ToLower(fe.Field())] = msg
				msgs = append(msgs, msg)
			}
			return apperrors.NewValidationError(strings.Join(msgs, "; "), fields)
		}
		return apperrors.NewValidationError(err.Error(), nil)
	}
	return nil
}

// bindJSON parses the body into dst and validates it.
func (rv *RequestValidator) bindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return rv.Validate(dst)
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", field)
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
