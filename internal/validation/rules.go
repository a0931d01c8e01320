// Package validation provides custom validation rules for the application.
package validation

import (
	"regexp"
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/syncbridge/internal/errors"
)

// hexSignatureRegex matches a hex-encoded SHA-256 HMAC digest.
var hexSignatureRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// HexSignature validates that a string is a hex-encoded SHA-256 digest.
var HexSignature = validation.NewStringRuleWithError(
	func(s string) bool {
		return hexSignatureRegex.MatchString(s)
	},
	validation.NewError("validation_hex_signature", "must be a 64-character hex digest"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)
