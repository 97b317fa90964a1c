package tools

import (
	"encoding/json"
	"fmt"
)

// Arguments - аргументы вызова после разбора JSON.
type Arguments map[string]any

// ParseArguments разбирает сырой JSON аргументов от модели.
// Принимается только JSON объект; пустая строка - невалидный JSON.
func ParseArguments(raw string) (Arguments, error) {
	var args Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		// "null"
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

// String возвращает строковый аргумент или "".
func (a Arguments) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int возвращает числовой аргумент или def.
func (a Arguments) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// Filter оставляет только ключи, объявленные в schema.properties, и
// возвращает список отсутствующих обязательных ключей.
func (a Arguments) Filter(schema JSONSchema) (Arguments, []string) {
	props, _ := schema["properties"].(map[string]any)

	filtered := make(Arguments, len(a))
	for k, v := range a {
		if _, ok := props[k]; ok {
			filtered[k] = v
		}
	}

	var missing []string
	for _, name := range requiredKeys(schema) {
		if _, ok := filtered[name]; !ok {
			missing = append(missing, name)
		}
	}
	return filtered, missing
}

// requiredKeys читает schema.required как []string или []any.
func requiredKeys(schema JSONSchema) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
