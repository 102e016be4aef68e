package compose

import (
	"errors"
	"strings"

	"jst/config"
	"jst/value"
)

var ErrNotObject = errors.New("bson output requires object at the root")

// absent result is printed as empty string
var emptyDocument = []byte("\"\"\n")

// Encode serializes stitched document in requested format. Text formats are
// terminated by newline.
func Encode(v value.Value, out config.OutputConfig) ([]byte, error) {
	switch out.Format {
	case config.OutputFmtYaml:
		if v == nil {
			return emptyDocument, nil
		}
		data, err := value.EncodeYAML(v)
		if err != nil {
			return nil, err
		}
		return terminate(data), nil
	case config.OutputFmtBson:
		if _, ok := v.(*value.Object); !ok {
			return nil, ErrNotObject
		}
		return value.EncodeBSON(v)
	default:
		if v == nil {
			return emptyDocument, nil
		}
		var indent string
		if out.Pretty {
			indent = strings.Repeat(" ", out.Indent)
		}
		data, err := value.EncodeJSON(v, indent)
		if err != nil {
			return nil, err
		}
		return terminate(data), nil
	}
}

func terminate(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\n' {
		return data
	}
	return append(data, '\n')
}
