package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// decodeAny unmarshals a JSON document into generic maps and slices
func decodeAny(body []byte) (any, error) {
	var obj any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return obj, nil
}

// lookup evaluates path against obj and unwraps single-element results
func lookup(obj any, path string) (any, bool) {
	v, err := jsonpath.Get(path, obj)
	if err != nil || v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		v = list[0]
	}
	return v, v != nil
}

// lookupFloat reads a number at path, accepting numeric strings as well
func lookupFloat(obj any, path string) (float64, bool) {
	v, ok := lookup(obj, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

// lookupFloatPtr is lookupFloat returning nil when absent
func lookupFloatPtr(obj any, path string) *float64 {
	if f, ok := lookupFloat(obj, path); ok {
		return &f
	}
	return nil
}

func lookupString(obj any, path string) string {
	v, ok := lookup(obj, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
