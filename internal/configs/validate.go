package configs

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	kerrors "github.com/PolarWolf314/cage/internal/errors"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their TOML keys so errors match the config file.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return firstFieldError(err, "")
	}
	return nil
}

// firstFieldError converts the first validator failure into a configuration error.
func firstFieldError(err error, prefix string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return kerrors.Configuration(prefix, err)
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	// Drop the root struct name ("Config.", "RecipientGroupConfig.").
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if prefix != "" {
		field = prefix + "." + field
	}

	return kerrors.Configuration(field, fmt.Errorf("value %v fails %q", fe.Value(), ruleText(fe)))
}

func ruleText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
