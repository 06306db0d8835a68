// Package validation registers the request validation rules used in binding tags on gin's
// validator engine and turns binding failures into service validation errors, so a bad request
// body is reported with the same {"success": false, "error": "..."} message as a rejected field
// in the service layer.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/services"
)

var registerOnce sync.Once

// Register installs the custom rules on gin's default validator. It is idempotent.
//
//	apiscope  a known API key scope
//	keyname   a trimmed key name of 3 to 50 characters
func Register() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		RegisterOn(v)
	})
}

// RegisterOn installs the custom rules and json field naming on v
func RegisterOn(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonFieldName)
	// registration only fails for empty tags or nil functions
	_ = v.RegisterValidation("apiscope", func(fl validator.FieldLevel) bool {
		return auth.IsValidScope(fl.Field().String())
	})
	_ = v.RegisterValidation("keyname", func(fl validator.FieldLevel) bool {
		return services.ValidateKeyName(fl.Field().String()) == nil
	})
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// FromBindError converts a ShouldBind error into a *services.ValidationError naming the first
// offending field
func FromBindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		return &services.ValidationError{Field: field, Message: message(field, fe)}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &services.ValidationError{Field: typeErr.Field, Message: fmt.Sprintf("%s has the wrong type", typeErr.Field)}
	}
	return &services.ValidationError{Field: "body", Message: "Invalid request body"}
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "Invalid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid":
		return field + " must be a valid UUID"
	case "url":
		return field + " must be a valid URL"
	case "apiscope":
		return fmt.Sprintf("Invalid scope: %v", fe.Value())
	case "keyname":
		return fmt.Sprintf("Key name must be between %d and %d characters", services.MinKeyNameLength, services.MaxKeyNameLength)
	default:
		return field + " is invalid"
	}
}
