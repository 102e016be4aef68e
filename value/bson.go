package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNotDocument is returned when value which is not an object is to be
// stored as BSON, format supports only documents at the top level.
var ErrNotDocument = errors.New("BSON requires object at the top level")

// DecodeBSON parses single BSON document preserving order of elements.
func DecodeBSON(data []byte) (Value, error) {
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("invalid BSON document: %w", err)
	}
	return decodeBSONDocument(raw)
}

func decodeBSONDocument(raw bson.Raw) (*Object, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	obj := NewObject()
	for _, e := range elems {
		v, err := decodeBSONValue(e.Value())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", e.Key(), err)
		}
		obj.Set(e.Key(), v)
	}
	return obj, nil
}

func decodeBSONValue(rv bson.RawValue) (Value, error) {
	switch rv.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return Null{}, nil
	case bson.TypeBoolean:
		return Bool(rv.Boolean()), nil
	case bson.TypeInt32:
		return Number(strconv.FormatInt(int64(rv.Int32()), 10)), nil
	case bson.TypeInt64:
		return Number(strconv.FormatInt(rv.Int64(), 10)), nil
	case bson.TypeDouble:
		return floatNumber(rv.Double()), nil
	case bson.TypeString:
		return String(rv.StringValue()), nil
	case bson.TypeEmbeddedDocument:
		return decodeBSONDocument(rv.Document())
	case bson.TypeArray:
		vals, err := rv.Array().Values()
		if err != nil {
			return nil, err
		}
		arr := make(Array, 0, len(vals))
		for i, e := range vals {
			v, err := decodeBSONValue(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, v)
		}
		return arr, nil
	default:
		// ObjectID, dates, binary and friends have no JSON counterpart, keep
		// their extended JSON rendering
		return String(rv.String()), nil
	}
}

func floatNumber(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null{}
	}
	return Number(strconv.FormatFloat(f, 'g', -1, 64))
}

// EncodeBSON serializes object as BSON document.
func EncodeBSON(v Value) ([]byte, error) {
	obj, ok := v.(*Object)
	if !ok {
		return nil, ErrNotDocument
	}
	d, err := toBSON(obj)
	if err != nil {
		return nil, err
	}
	return bson.Marshal(d)
}

func toBSON(v Value) (any, error) {
	switch t := v.(type) {
	case nil, Null:
		return nil, nil
	case Bool:
		return bool(t), nil
	case String:
		return string(t), nil
	case Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return int32(i), nil
			}
			return i, nil
		}
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", string(t), err)
		}
		return f, nil
	case Array:
		a := make(bson.A, 0, len(t))
		for _, e := range t {
			c, err := toBSON(e)
			if err != nil {
				return nil, err
			}
			a = append(a, c)
		}
		return a, nil
	case *Object:
		d := make(bson.D, 0, t.Len())
		for _, m := range t.Members() {
			c, err := toBSON(m.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", m.Key, err)
			}
			d = append(d, bson.E{Key: m.Key, Value: c})
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
