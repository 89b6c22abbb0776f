package shared

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NewValidator returns a validator that understands decimal amounts.
// Decimal fields are compared exactly with the d-prefixed tags (dgt, dgte,
// dlt, dlte) and dscale limits the number of fractional digits.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		return d.String()
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	registerDecimalCompare(v, "dgt", func(c int) bool { return c > 0 })
	registerDecimalCompare(v, "dgte", func(c int) bool { return c >= 0 })
	registerDecimalCompare(v, "dlt", func(c int) bool { return c < 0 })
	registerDecimalCompare(v, "dlte", func(c int) bool { return c <= 0 })
	_ = v.RegisterValidation("dscale", func(fl validator.FieldLevel) bool {
		d, ok := decimalField(fl)
		if !ok {
			return false
		}
		places, err := strconv.Atoi(fl.Param())
		if err != nil || places < 0 {
			return false
		}
		return d.Equal(d.Truncate(int32(places)))
	})
	return v
}

func registerDecimalCompare(v *validator.Validate, tag string, accept func(cmp int) bool) {
	_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		d, ok := decimalField(fl)
		if !ok {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return accept(d.Cmp(bound))
	})
}

// decimalField reads a field already converted to its string form.
func decimalField(fl validator.FieldLevel) (decimal.Decimal, bool) {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(field.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ValidateStruct runs struct tags and converts failures into a ValidationError.
func ValidateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fieldPath(fe), describeTag(fe))
	}
	return verr
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte", "dgte":
		return "must be >= " + fe.Param()
	case "gt", "dgt":
		return "must be > " + fe.Param()
	case "lte", "dlte":
		return "must be <= " + fe.Param()
	case "dlt":
		return "must be < " + fe.Param()
	case "dscale":
		return "allows at most " + fe.Param() + " decimal places"
	case "min":
		return "needs at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "len":
		return "must be " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}
