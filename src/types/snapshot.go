package types

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Snapshot is an opaque full-frame board image. The engine never inspects
// the pixels; it only carries the bytes and their content type.
type Snapshot struct {
	ContentType string
	Data        []byte
}

// DataURL encodes the snapshot in the form the drawing clients produce,
// e.g. "data:image/png;base64,....".
func (s Snapshot) DataURL() string {
	return "data:" + s.ContentType + ";base64," + base64.StdEncoding.EncodeToString(s.Data)
}

// ParseDataURL decodes a data-URL snapshot back into raw bytes.
func ParseDataURL(u string) (Snapshot, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot: malformed data URL")
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot: only base64 data URLs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return Snapshot{ContentType: contentType, Data: data}, nil
}
