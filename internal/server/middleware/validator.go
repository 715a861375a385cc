package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const CodeInvalidArgument = "invalid_argument"

type Validator struct {
	validate *validator.Validate
}

// NewValidator reports fields by their request name (json, param, query or
// header tag) and adds the notblank rule for free text.
func NewValidator() *Validator {
	validate := validator.New()

	requestTags := []string{"json", "param", "query", "header"}
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range requestTags {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	// notblank refuses strings made only of whitespace
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{validate: validate}
}

// Validate returns a 400 ResponseError listing the failed rule per field.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	return &ResponseError{
		Status:       http.StatusBadRequest,
		Err:          err,
		ErrorCode:    CodeInvalidArgument,
		ErrorMessage: "invalid " + strings.Join(names, ", "),
		ErrorData:    fields,
	}
}
