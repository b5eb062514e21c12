package httpserver

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the tag validators over a decoded request body and
// flattens the failures into wire-friendly details.
func validateStruct(v any) []ValidationError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "body", Code: "INVALID", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Code:    strings.ToUpper(fe.Tag()),
			Message: fe.Error(),
		})
	}
	return out
}

var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)

// ValidateID checks a path identifier (user or product id): required,
// bounded, and restricted to a conservative character set.
func ValidateID(field, id string) []ValidationError {
	if id == "" {
		return []ValidationError{{Field: field, Code: "REQUIRED", Message: field + " is required"}}
	}
	if len(id) > 100 {
		return []ValidationError{{Field: field, Code: "TOO_LONG", Message: field + " is too long (max 100 characters)"}}
	}
	if !validIDPattern.MatchString(id) {
		return []ValidationError{{Field: field, Code: "INVALID_FORMAT", Message: field + " contains invalid characters"}}
	}
	return nil
}

// SanitizeString sanitizes a free-text input
func SanitizeString(input string) string {
	// Remove null bytes and control characters
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	// Limit length to prevent DoS
	if len(input) > 1000 {
		input = input[:1000]
	}

	// Ensure valid UTF-8
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}

	return input
}
