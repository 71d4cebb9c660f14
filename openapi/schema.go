package openapi

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

var timeType = reflect.TypeOf(time.Time{})

// SchemaOf describes the JSON form of example's type. Field constraints come
// from validate tags: required, email, min, max and oneof.
func SchemaOf(example any) *openapi3.Schema {
	if example == nil {
		return openapi3.NewObjectSchema()
	}
	return schemaFor(reflect.TypeOf(example), map[reflect.Type]bool{})
}

func schemaFor(t reflect.Type, seen map[reflect.Type]bool) *openapi3.Schema {
	if t.Kind() == reflect.Pointer {
		s := schemaFor(t.Elem(), seen)
		s.Nullable = true
		return s
	}
	if t == timeType {
		return openapi3.NewDateTimeSchema()
	}

	switch t.Kind() {
	case reflect.String:
		return openapi3.NewStringSchema()
	case reflect.Bool:
		return openapi3.NewBoolSchema()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return openapi3.NewIntegerSchema()
	case reflect.Float32, reflect.Float64:
		return openapi3.NewFloat64Schema()
	case reflect.Slice, reflect.Array:
		return openapi3.NewArraySchema().WithItems(schemaFor(t.Elem(), seen))
	case reflect.Map:
		return openapi3.NewObjectSchema().WithAdditionalProperties(schemaFor(t.Elem(), seen))
	case reflect.Struct:
		return structSchema(t, seen)
	default:
		return openapi3.NewObjectSchema()
	}
}

func structSchema(t reflect.Type, seen map[reflect.Type]bool) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	if seen[t] {
		return s
	}
	seen[t] = true
	defer delete(seen, t)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}

		// encoding/json promotes the fields of embedded structs, exported or not
		if field.Anonymous && name == "" && indirect(field.Type).Kind() == reflect.Struct {
			embedded := schemaFor(indirect(field.Type), seen)
			for prop, ref := range embedded.Properties {
				s.WithPropertyRef(prop, ref)
			}
			s.Required = append(s.Required, embedded.Required...)
			continue
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}

		prop := schemaFor(field.Type, seen)
		if applyRules(prop, field.Tag.Get("validate")) {
			s.Required = append(s.Required, name)
		}
		s.WithProperty(name, prop)
	}
	return s
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// applyRules copies validate constraints onto s and reports whether the field
// is required.
func applyRules(s *openapi3.Schema, tag string) bool {
	required := false
	for _, rule := range strings.Split(tag, ",") {
		key, param, _ := strings.Cut(rule, "=")
		switch key {
		case "dive":
			return required
		case "required":
			required = true
		case "email":
			s.Format = "email"
		case "oneof":
			for _, v := range strings.Fields(param) {
				s.Enum = append(s.Enum, v)
			}
		case "min", "max":
			n, err := strconv.ParseUint(param, 10, 64)
			if err != nil {
				continue
			}
			bound(s, key, n)
		}
	}
	return required
}

func bound(s *openapi3.Schema, key string, n uint64) {
	isString := s.Type != nil && s.Type.Is(openapi3.TypeString)
	switch {
	case isString && key == "min":
		s.MinLength = n
	case isString && key == "max":
		s.MaxLength = &n
	case key == "min":
		f := float64(n)
		s.Min = &f
	default:
		f := float64(n)
		s.Max = &f
	}
}
