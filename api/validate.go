package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"prism-board/domain"
)

// requestValidate is shared by every handler; validator caches struct
// metadata so one instance is enough.
var requestValidate = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors converts validation failures into the per-field message map
// returned with 422 responses.
func fieldErrors(err error) map[string][]string {
	out := map[string][]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := fe.Field()
			if ns := fe.Namespace(); strings.Contains(ns, ".") {
				field = ns[strings.Index(ns, ".")+1:]
			}
			out[field] = append(out[field], fieldMessage(fe))
		}
		return out
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		out[verr.Field] = append(out[verr.Field], verr.Message)
		return out
	}
	out["request"] = []string{err.Error()}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "max":
		return fmt.Sprintf("The %s field must not have more than %s items.", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("The %s field must be greater than %s.", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", fe.Field())
	}
	return fmt.Sprintf("The %s field is invalid.", fe.Field())
}
