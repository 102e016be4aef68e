package config

//go:generate go tool go-enum --marshal --names --nocase --mustparse

// Specification of requested output type.
// ENUM(json, yaml, bson)
type OutputFmt int

func (o OutputFmt) Ext() string {
	switch o {
	case OutputFmtJson:
		return ".json"
	case OutputFmtYaml:
		return ".yaml"
	case OutputFmtBson:
		return ".bson"
	default:
		// this should never happen
		panic("unsupported format requested")
	}
}
