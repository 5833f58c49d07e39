// Package validator checks decoded tool parameter structs against their
// `schema` tags before execution. It understands the subset of the tag
// grammar the tools use: required, enum:a|b, min:N and max:N.
package validator

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validate checks a parameter struct (or pointer to one) against its
// schema tags. JSON decoding cannot distinguish an absent field from a
// zero one, so a zero value fails `required` and skips every other rule.
func Validate(params interface{}) error {
	val := reflect.ValueOf(params)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected struct, got %s", val.Kind())
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() || field.Tag.Get("json") == "-" {
			continue
		}
		if err := checkField(val.Field(i), field); err != nil {
			return err
		}
	}
	return nil
}

func checkField(value reflect.Value, field reflect.StructField) error {
	tag := field.Tag.Get("schema")
	if tag == "" {
		return nil
	}
	name := fieldName(field)
	rules := strings.Split(tag, ",")

	if value.IsZero() {
		for _, rule := range rules {
			if strings.TrimSpace(rule) == "required" {
				return fmt.Errorf("field '%s' is required", name)
			}
		}
		return nil
	}

	for _, rule := range rules {
		kind, arg, _ := strings.Cut(strings.TrimSpace(rule), ":")
		var err error
		switch kind {
		case "enum":
			err = checkEnum(value, arg, name)
		case "min":
			err = checkBound(value, arg, name, false)
		case "max":
			err = checkBound(value, arg, name, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checkEnum(value reflect.Value, allowed, name string) error {
	current := fmt.Sprintf("%v", value.Interface())
	for _, option := range strings.Split(allowed, "|") {
		if current == option {
			return nil
		}
	}
	return fmt.Errorf("field '%s' must be one of: %s", name, strings.ReplaceAll(allowed, "|", ", "))
}

// checkBound enforces min/max. Numbers compare by value, strings by length.
func checkBound(value reflect.Value, limitStr, name string, upper bool) error {
	limit, err := strconv.ParseFloat(limitStr, 64)
	if err != nil {
		return fmt.Errorf("field '%s' has an invalid bound: %s", name, limitStr)
	}

	var actual float64
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		actual = float64(value.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		actual = float64(value.Uint())
	case reflect.Float32, reflect.Float64:
		actual = value.Float()
	case reflect.String:
		actual = float64(len(value.String()))
	default:
		return nil
	}

	if upper && actual > limit {
		return fmt.Errorf("field '%s' must be at most %s", name, limitStr)
	}
	if !upper && actual < limit {
		return fmt.Errorf("field '%s' must be at least %s", name, limitStr)
	}
	return nil
}

func fieldName(field reflect.StructField) string {
	if name, _, _ := strings.Cut(field.Tag.Get("json"), ","); name != "" {
		return name
	}
	return field.Name
}
