package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize encodes v as canonical JSON bytes.
//
// Object keys are NFC-normalized and sorted, string values are
// NFC-normalized, null object members are dropped and non-integer numbers
// are rejected. Structs are accepted through their json encoding, so the
// json tags decide the field names.
func Canonicalize(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toGeneric(v any) (any, error) {
	switch value := v.(type) {
	case nil, bool, string, json.Number:
		return value, nil
	case float32, float64:
		return nil, ErrFloatNotAllowed
	}

	raw, err := json.Marshal(v)
	if err != nil {
		var unsupported *json.UnsupportedTypeError
		if errors.As(err, &unsupported) {
			return nil, ErrUnsupportedType
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(value))
	case string:
		return writeString(buf, value)
	case json.Number:
		return writeJSONNumber(buf, value)
	case map[string]any:
		return writeObject(buf, value)
	case []any:
		return writeArray(buf, value)
	default:
		return ErrUnsupportedType
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(out.Bytes(), []byte("\n")))
	return nil
}

func writeJSONNumber(buf *bytes.Buffer, n json.Number) error {
	if strings.ContainsAny(n.String(), ".eE") {
		return ErrFloatNotAllowed
	}
	value, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return ErrFloatNotAllowed
	}
	buf.WriteString(strconv.FormatInt(value, 10))
	return nil
}

type member struct {
	key   string
	value any
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	members := make([]member, 0, len(obj))
	seen := make(map[string]struct{}, len(obj))
	for key, value := range obj {
		normalized := norm.NFC.String(key)
		if _, ok := seen[normalized]; ok {
			return ErrKeyCollision
		}
		seen[normalized] = struct{}{}
		if value == nil {
			continue
		}
		members = append(members, member{key: normalized, value: value})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].key < members[j].key })

	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, m.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, m.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, items []any) error {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
