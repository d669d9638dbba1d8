// Package contextdata normalises arbitrary caller context into JSON-safe
// values at the boundary between the composer and the renderer.
package contextdata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Entity is anything with a canonical identifier. Domain rows crossing the
// composer boundary are flattened to {id, model, str}.
type Entity interface {
	EntityID() int64
	EntityModel() string
	EntityLabel() string
}

// Sanitize converts a context map into a JSON-safe map. Decimals become
// float64, timestamps become ISO-8601 strings, entities become
// {id, model, str} maps. Unknown types fall back to fmt.Sprintf.
func Sanitize(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, bool, string, float64, int, int32, int64:
		return val
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case Entity:
		return map[string]interface{}{
			"id":    val.EntityID(),
			"model": val.EntityModel(),
			"str":   val.EntityLabel(),
		}
	case map[string]interface{}:
		return Sanitize(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Stringify renders a context value as template-substitution text using a
// deterministic rule: floats as fixed-point, timestamps as ISO-8601,
// entities as their canonical id.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatFloat(val, 'f', 1, 64)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return Stringify(float64(val))
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case Entity:
		return strconv.FormatInt(val.EntityID(), 10)
	case map[string]interface{}:
		if id, ok := val["id"]; ok {
			return Stringify(id)
		}
		return asJSON(val)
	case []interface{}:
		return asJSON(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// StringifyMap flattens a context map into string values, as required by
// push data payloads where every value must be a string.
func StringifyMap(data map[string]interface{}) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = Stringify(v)
	}
	return out
}

func asJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
