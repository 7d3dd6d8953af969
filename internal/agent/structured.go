package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/zulandar/signalbox/internal/wire"
)

// ErrSchemaViolation is returned when a structured response does not decode
// into, or fails validation for, the requested type.
var ErrSchemaViolation = errors.New("response does not match schema")

var validate = validator.New(validator.WithRequiredStructEnabled())

// CallInto calls s with prompt and decodes the JSON reply into out, which is
// then checked against its `validate` struct tags.
func CallInto[T any](ctx context.Context, s *Session, prompt string, out *T) error {
	text, err := s.Call(ctx, prompt+"\n\n"+jsonInstruction(reflect.TypeFor[T]()))
	if err != nil {
		return err
	}
	if err := decodeStructured(text, out); err != nil {
		s.publish(wire.Error, fmt.Sprintf("Invalid structured response: %v", err))
		return fmt.Errorf("agent: %s: %w: %v", s.id, ErrSchemaViolation, err)
	}
	return nil
}

func decodeStructured[T any](text string, out *T) error {
	raw := extractJSON(text)
	if raw == "" {
		return errors.New("no JSON object in response")
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return err
	}
	if reflect.TypeFor[T]().Kind() == reflect.Struct {
		if err := validate.Struct(v); err != nil {
			return err
		}
	}
	*out = v
	return nil
}

// extractJSON returns the outermost JSON object in text, tolerating code
// fences and surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func jsonInstruction(t reflect.Type) string {
	shape, err := json.Marshal(shapeOf(t, 0))
	if err != nil {
		return "Respond only with a JSON object."
	}
	return "Respond only with a JSON object of this shape: " + string(shape)
}

// shapeOf builds an example value for t using type names as leaf values.
func shapeOf(t reflect.Type, depth int) any {
	if depth > 8 {
		return nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		return shapeOf(t.Elem(), depth+1)
	case reflect.Struct:
		fields := make(map[string]any)
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" {
				if tag == "-" {
					continue
				}
				name = tag
			}
			fields[name] = shapeOf(f.Type, depth+1)
		}
		return fields
	case reflect.Slice, reflect.Array:
		return []any{shapeOf(t.Elem(), depth+1)}
	case reflect.Map:
		return map[string]any{"key": shapeOf(t.Elem(), depth+1)}
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	default:
		return "string"
	}
}
