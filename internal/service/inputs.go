package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/go-playground/validator/v10"
)

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Identifier string `json:"identifier" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
}

// LoginInput is the body of a login request. Only presence is checked so
// that a malformed identifier fails like an unknown one.
type LoginInput struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=72"`
}

// ResetRequestInput starts a password reset.
type ResetRequestInput struct {
	Identifier string `json:"identifier" validate:"required,email,max=254"`
}

// ConsumeResetInput completes a password reset.
type ConsumeResetInput struct {
	Secret      string `json:"secret" validate:"required,max=128"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

// ChangePasswordInput changes the password of the signed-in account.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=72"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// NormalizeIdentifier trims and lower-cases a login email.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput runs struct tags and wraps failures in errs.ErrValidation.
// Messages name fields and rules only, never values.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", errs.ErrValidation, strings.Join(parts, "; "))
}
