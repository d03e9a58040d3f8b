package utils

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct returns nil or a field->tag map of every violated rule.
func ValidateStruct(s any) (map[string]string, error) {
	err := Validator().Struct(s)
	if err == nil {
		return nil, nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil, err
	}
	return ProcessValidationErrors(ve), nil
}

// ProcessValidationErrors keys each error by its path below the root struct, e.g. "Parties[1].Name".
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		key := ve.StructNamespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		errorResponse[key] = ve.Tag()
	}

	return errorResponse
}
