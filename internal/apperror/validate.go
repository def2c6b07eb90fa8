package apperror

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON strictly decodes raw into dst and validates it. Unknown fields,
// type mismatches and failed `validate` tags all become schema errors. An
// empty body decodes as an empty object.
func DecodeJSON(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Schema("Invalid request body: trailing data")
	}
	return Validate(dst)
}

const unknownFieldPrefix = "json: unknown field "

// decodeError names the offending field without echoing decoder internals
// such as Go type names.
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return Schema("Invalid request body: expected an object")
		}
		return Schema("Invalid fields: "+typeErr.Field, Violation{Field: typeErr.Field, Constraint: "type"})
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return Schema("Invalid request body: malformed JSON")
	case strings.HasPrefix(err.Error(), unknownFieldPrefix):
		// encoding/json has no typed error for DisallowUnknownFields
		field := strings.Trim(strings.TrimPrefix(err.Error(), unknownFieldPrefix), `"`)
		return Schema("Invalid fields: "+field, Violation{Field: field, Constraint: "unknown"})
	}
	return Schema("Invalid request body")
}

// Validate runs struct validation and converts failures into a schema error
// with one violation per failed field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Schema(err.Error())
	}
	violations := make([]Violation, 0, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		violations = append(violations, Violation{
			Field:      field,
			Constraint: fe.Tag(),
			Param:      fe.Param(),
		})
		fields = append(fields, field)
	}
	return Schema("Invalid fields: "+strings.Join(fields, ", "), violations...)
}
