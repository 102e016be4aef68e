package stitch

import (
	"encoding/base64"
	"fmt"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"jst/value"
)

// load produces raw value of the classified resource. Linked resources are not
// handled here. Nil value without error means resource is absent.
func (r *Resolver) load(cls Classification, inherited value.Value) (value.Value, error) {
	switch cls.Source.Kind {
	case SourceNone:
		if r.opts.Recursive && inherited != nil {
			r.log.Debug("Inheriting inline value", zap.Stringer("id", cls.ID), zap.Stringer("kind", inherited.Kind()))
			// children may be substituted later, parent document stays intact
			return value.Clone(inherited), nil
		}
		return nil, nil

	case SourceRaw:
		data, err := r.fs.ReadFile(cls.Source.Path)
		if err != nil {
			return nil, &Error{Kind: KindIO, ID: cls.ID, Path: cls.Source.Path, Err: err}
		}
		if ce := r.log.Check(zap.DebugLevel, "Loading content (data)"); ce != nil {
			ce.Write(zap.Stringer("id", cls.ID), zap.Int("size", len(data)), zap.String("mime", sniff(data)))
		}
		return value.String(base64.StdEncoding.EncodeToString(data)), nil

	case SourceInline:
		r.log.Debug("Loading content", zap.Stringer("id", cls.ID), zap.Stringer("format", cls.Source.Format))
		data, err := r.fs.ReadFile(cls.Source.Path)
		if err != nil {
			return nil, &Error{Kind: KindIO, ID: cls.ID, Path: cls.Source.Path, Err: err}
		}
		v, err := decode(cls.Source.Format, data)
		if err != nil {
			return nil, &Error{Kind: KindDecode, ID: cls.ID, Path: cls.Source.Path, Err: err}
		}
		return v, nil

	default:
		// this should never happen
		return nil, fmt.Errorf("unexpected source %s for %s", cls.Source, cls.ID)
	}
}

// loadSchema returns nil if resource has no schema.
func (r *Resolver) loadSchema(cls Classification) (value.Value, error) {
	if len(cls.SchemaPath) == 0 {
		return nil, nil
	}
	r.log.Debug("Loading schema", zap.Stringer("id", cls.ID), zap.String("path", cls.SchemaPath))
	data, err := r.fs.ReadFile(cls.SchemaPath)
	if err != nil {
		return nil, &Error{Kind: KindIO, ID: cls.ID, Path: cls.SchemaPath, Err: err}
	}
	v, err := value.DecodeJSON(data)
	if err != nil {
		return nil, &Error{Kind: KindDecode, ID: cls.ID, Path: cls.SchemaPath, Err: err}
	}
	return v, nil
}

func decode(f Format, data []byte) (value.Value, error) {
	if f == FormatBSON {
		return value.DecodeBSON(data)
	}
	return value.DecodeJSON(data)
}

func sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "unknown"
	}
	return kind.MIME.Value
}
