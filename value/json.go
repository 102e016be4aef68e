package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
)

// ErrInvalidJSON is returned when input is not a single well formed JSON value.
var ErrInvalidJSON = errors.New("invalid JSON document")

// DecodeJSON parses JSON text preserving order of object keys.
func DecodeJSON(data []byte) (Value, error) {
	// jsonparser is forgiving about garbage it does not need to look at
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	raw, vt, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("unable to locate top level value: %w", err)
	}
	return decodeJSONValue(raw, vt)
}

func decodeJSONValue(raw []byte, vt jsonparser.ValueType) (Value, error) {
	switch vt {
	case jsonparser.Null:
		return Null{}, nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return nil, err
		}
		return Bool(b), nil
	case jsonparser.Number:
		return Number(raw), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case jsonparser.Array:
		arr := Array{}
		var cbErr error
		_, err := jsonparser.ArrayEach(raw, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if cbErr != nil {
				return
			}
			if err != nil {
				cbErr = err
				return
			}
			e, err := decodeJSONValue(v, t)
			if err != nil {
				cbErr = err
				return
			}
			arr = append(arr, e)
		})
		if err != nil {
			return nil, err
		}
		if cbErr != nil {
			return nil, cbErr
		}
		return arr, nil
	case jsonparser.Object:
		obj := NewObject()
		err := jsonparser.ObjectEach(raw, func(k, v []byte, t jsonparser.ValueType, _ int) error {
			e, err := decodeJSONValue(v, t)
			if err != nil {
				return fmt.Errorf("key %q: %w", string(k), err)
			}
			obj.Set(string(k), e)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value type %s", vt)
	}
}

// EncodeJSON serializes value. Empty indent produces compact form.
func EncodeJSON(v Value, indent string) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeJSON(buf, v); err != nil {
		return nil, err
	}
	if len(indent) == 0 {
		return buf.Bytes(), nil
	}
	out := new(bytes.Buffer)
	if err := json.Indent(out, buf.Bytes(), "", indent); err != nil {
		return nil, fmt.Errorf("unable to indent JSON: %w", err)
	}
	return out.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(t)))
	case Number:
		if len(t) == 0 {
			return errors.New("empty number literal")
		}
		buf.WriteString(string(t))
	case String:
		writeJSONString(buf, string(t))
	case Array:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		for i, m := range t.Members() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, m.Key)
			buf.WriteByte(':')
			if err := writeJSON(buf, m.Value); err != nil {
				return fmt.Errorf("key %q: %w", m.Key, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode of a string never fails
	_ = enc.Encode(s)
	// drop newline Encode always appends
	buf.Truncate(buf.Len() - 1)
}
