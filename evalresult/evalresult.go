// Package evalresult deserializes the browser's structured value
// encoding -- the tagged-union wire format CDP uses for values that
// don't round-trip through plain JSON (refs/cycles, dates, URLs,
// bigints, exceptions, regexps, typed arrays) -- into plain Go values.
//
// Grounded bit for bit on the original implementation's
// parse_evaluation_result.py: the same tag set (ref, v, d, u, bi, e, r,
// a, o, h, ta) dispatches to the same target types, adapted to Go's type
// system (big.Int for bigints, *regexp.Regexp for regexps, a typed slice
// per typed-array kind instead of Python's array.array).
package evalresult

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
)

// EvalError is the Go shape of a serialized in-page exception (tag "e").
type EvalError struct {
	Message string
	Name    string
	Stack   string
}

func (e *EvalError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// typedArrayKinds maps a typed-array tag to its element size (in bytes),
// mirroring typed_array_constructors.
var typedArrayKinds = map[string]int{
	"i8": 1, "ui8": 1, "ui8c": 1,
	"i16": 2, "ui16": 2,
	"i32": 4, "ui32": 4, "f32": 4,
	"f64": 8, "bi64": 8, "bui64": 8,
}

// Parse converts a Runtime.RemoteObject into a plain Go value: nil,
// bool, float64, string, *big.Int, time.Time, *url.URL, *EvalError,
// *regexp.Regexp, a typed slice, []interface{}, or map[string]interface{}.
func Parse(obj *runtime.RemoteObject) (interface{}, error) {
	if obj == nil {
		return nil, nil
	}
	if obj.UnserializableValue != "" {
		return parseUnserializable(string(obj.UnserializableValue)), nil
	}
	if len(obj.Value) == 0 {
		return nil, nil
	}
	var raw interface{}
	if err := json.Unmarshal(obj.Value, &raw); err != nil {
		return nil, fmt.Errorf("evalresult: decoding remote object value: %w", err)
	}
	refs := make(map[string]interface{})
	return parseValue(raw, refs), nil
}

func parseUnserializable(s string) interface{} {
	switch s {
	case "NaN":
		return math.NaN()
	case "Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	case "-0":
		return math.Copysign(0, -1)
	}
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimSuffix(s, "n"), 10); ok {
		return n
	}
	return s
}

func parseValue(value interface{}, refs map[string]interface{}) interface{} {
	switch v := value.(type) {
	case nil, bool, float64, string:
		return v

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = parseValue(item, refs)
		}
		return out

	case map[string]interface{}:
		return parseTagged(v, refs)
	}
	return value
}

func parseTagged(v map[string]interface{}, refs map[string]interface{}) interface{} {
	if ref, ok := v["ref"]; ok {
		if id, ok := ref.(string); ok {
			return refs[id]
		}
		return nil
	}

	if vv, ok := v["v"]; ok {
		s, _ := vv.(string)
		switch s {
		case "undefined", "null":
			return nil
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		case "-0":
			return math.Copysign(0, -1)
		}
		return nil
	}

	if d, ok := v["d"]; ok {
		s, _ := d.(string)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return s
	}

	if u, ok := v["u"]; ok {
		s, _ := u.(string)
		if parsed, err := url.Parse(s); err == nil {
			return parsed
		}
		return s
	}

	if bi, ok := v["bi"]; ok {
		n := new(big.Int)
		if _, ok := n.SetString(fmt.Sprint(bi), 10); ok {
			return n
		}
		return bi
	}

	if e, ok := v["e"]; ok {
		em, _ := e.(map[string]interface{})
		return &EvalError{
			Message: stringField(em, "m"),
			Name:    stringField(em, "n"),
			Stack:   stringField(em, "s"),
		}
	}

	if r, ok := v["r"]; ok {
		rm, _ := r.(map[string]interface{})
		pattern := stringField(rm, "p")
		flags := regexFlagsPrefix(stringField(rm, "f"))
		if re, err := regexp.Compile(flags + pattern); err == nil {
			return re
		}
		return pattern
	}

	if a, ok := v["a"]; ok {
		items, _ := a.([]interface{})
		arr := make([]interface{}, len(items))
		if id, ok := v["id"]; ok {
			refs[fmt.Sprint(id)] = arr
		}
		for i, item := range items {
			arr[i] = parseValue(item, refs)
		}
		return arr
	}

	if o, ok := v["o"]; ok {
		pairs, _ := o.([]interface{})
		out := make(map[string]interface{}, len(pairs))
		if id, ok := v["id"]; ok {
			refs[fmt.Sprint(id)] = out
		}
		for _, p := range pairs {
			pm, _ := p.(map[string]interface{})
			key, _ := pm["k"].(string)
			if key == "__proto__" {
				continue
			}
			out[key] = parseValue(pm["v"], refs)
		}
		return out
	}

	if _, ok := v["h"]; ok {
		// Handles refer back into a live page-side handle table this
		// package has no access to outside of an active binding call;
		// callers needing handles use Tab.ExposeWithHandle's needsHandle
		// path instead of evaluation results.
		return nil
	}

	if ta, ok := v["ta"]; ok {
		tam, _ := ta.(map[string]interface{})
		b64 := stringField(tam, "b")
		kind := stringField(tam, "k")
		arr, err := decodeTypedArray(b64, kind)
		if err != nil {
			return nil
		}
		return arr
	}

	// Not a recognized tag: treat as a plain object.
	out := make(map[string]interface{}, len(v))
	for k, vv := range v {
		out[k] = parseValue(vv, refs)
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// regexFlagsPrefix converts a JS regexp flag string to a Go RE2 inline
// flag prefix, mirroring _regex_flags' i/m/s handling (RE2 has no global
// or sticky flags, so those are silently dropped as the original did for
// flags it didn't recognize).
func regexFlagsPrefix(flags string) string {
	var b strings.Builder
	for _, ch := range flags {
		switch ch {
		case 'i', 'm', 's':
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}

func decodeTypedArray(b64, kind string) (interface{}, error) {
	size, ok := typedArrayKinds[kind]
	if !ok {
		return nil, fmt.Errorf("evalresult: unsupported typed array kind %q", kind)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("evalresult: decoding typed array payload: %w", err)
	}
	n := len(data) / size

	switch kind {
	case "i8":
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(data[i])
		}
		return out, nil
	case "ui8", "ui8c":
		out := make([]uint8, n)
		copy(out, data)
		return out, nil
	case "i16":
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out, nil
	case "ui16":
		out := make([]uint16, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		return out, nil
	case "i32":
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case "ui32":
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		return out, nil
	case "f32":
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case "f64":
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	case "bi64":
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	case "bui64":
		out := make([]uint64, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(data[i*8:])
		}
		return out, nil
	}
	return nil, fmt.Errorf("evalresult: unsupported typed array kind %q", kind)
}
