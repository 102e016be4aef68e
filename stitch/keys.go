package stitch

import (
	"encoding/base64"
)

// EncodeKey maps logical field name to file stem. When enabled name bytes are
// encoded with URL safe base64 alphabet without padding, which contains only
// characters allowed in file names on every supported OS.
func EncodeKey(name string, enabled bool) string {
	if !enabled {
		return name
	}
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// DecodeKey reverses EncodeKey.
func DecodeKey(stem string, enabled bool) (string, error) {
	if !enabled {
		return stem, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(stem)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
