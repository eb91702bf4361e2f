// Package validation provides input validation helpers for the after-sales API.
package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/aftersale/internal/money"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxTextLength caps free-text fields (reasons, descriptions, statements)
const MaxTextLength = 4000

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// Error represents a single field validation failure
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of validation failures
type Errors []Error

// Error implements the error interface
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + " " + e[0].Message
}

// Validate runs the given validators and collects failures
func Validate(validators ...func() *Error) Errors {
	var errs Errors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty
func Required(field, value string) func() *Error {
	return func() *Error {
		if strings.TrimSpace(value) == "" {
			return &Error{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks that a field does not exceed max bytes
func MaxLength(field, value string, max int) func() *Error {
	return func() *Error {
		if len(value) > max {
			return &Error{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidAmount checks that a value parses as a positive 2-decimal amount
func ValidAmount(field, value string) func() *Error {
	return func() *Error {
		if value == "" {
			return nil // use Required for required fields
		}
		cents, err := money.ParseCents(value)
		if err != nil {
			return &Error{Field: field, Message: "invalid amount format"}
		}
		if cents <= 0 {
			return &Error{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// OneOf checks that a value is one of the allowed enum strings.
// Unknown values are rejected at ingress rather than propagated.
func OneOf(field, value string, allowed ...string) func() *Error {
	return func() *Error {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &Error{Field: field, Message: "has an unknown value"}
	}
}

// SanitizeText trims whitespace, strips null bytes, and caps length
func SanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}
