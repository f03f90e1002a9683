// Package templates expands {{KEY}} placeholders from a secret map. The
// syntax is literal substitution only: no nesting, no expressions.
package templates

import (
	"reflect"
	"strings"
)

// ResolveString replaces every {{KEY}} in s with secrets[KEY]. Absent keys
// are left untouched. Idempotent as long as secret values do not themselves
// contain placeholders, which the syntax does not interpret anyway.
func ResolveString(s string, secrets map[string]string) string {
	for k, v := range secrets {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

// Resolve walks v recursively and substitutes placeholders in every string
// leaf. Maps with string keys and slices are rebuilt with the same dynamic
// type; non-string scalars pass through unchanged. The input is never
// mutated.
func Resolve(v any, secrets map[string]string) any {
	if v == nil || len(secrets) == 0 {
		return v
	}
	return resolveValue(reflect.ValueOf(v), secrets).Interface()
}

func resolveValue(rv reflect.Value, secrets map[string]string) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		return resolveValue(rv.Elem(), secrets)
	case reflect.String:
		out := reflect.New(rv.Type()).Elem()
		out.SetString(ResolveString(rv.String(), secrets))
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			resolved := resolveValue(iter.Value(), secrets)
			out.SetMapIndex(iter.Key(), coerce(resolved, rv.Type().Elem()))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			resolved := resolveValue(rv.Index(i), secrets)
			out.Index(i).Set(coerce(resolved, rv.Type().Elem()))
		}
		return out
	default:
		return rv
	}
}

// coerce re-wraps a resolved value so it is assignable to the container's
// element type (interface elements need the concrete value boxed back).
func coerce(v reflect.Value, elem reflect.Type) reflect.Value {
	if v.Type().AssignableTo(elem) {
		return v
	}
	boxed := reflect.New(elem).Elem()
	boxed.Set(v.Convert(elem))
	return boxed
}
