package beacon

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec decodes raw watcher bytes into a Record.
type Codec interface {
	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v any) error

	// ContentType returns the MIME type, for signals and debugging.
	ContentType() string
}

// JSONCodec decodes JSON. It is the default for a Link.
type JSONCodec struct{}

// Unmarshal decodes JSON data into v.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ContentType returns the JSON MIME type.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// YAMLCodec decodes YAML using gopkg.in/yaml.v3.
type YAMLCodec struct{}

// Unmarshal decodes YAML data into v.
func (YAMLCodec) Unmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}

// ContentType returns the YAML MIME type.
func (YAMLCodec) ContentType() string {
	return "application/x-yaml"
}

// PlainCodec treats the payload as a bare identifier. Surrounding whitespace
// is trimmed and an empty payload clears the selection. Useful for sources
// such as a Redis string key holding just the store ID.
type PlainCodec struct{}

// Unmarshal stores the trimmed payload in a *Record.
func (PlainCodec) Unmarshal(data []byte, v any) error {
	rec, ok := v.(*Record)
	if !ok {
		return fmt.Errorf("plain codec decodes only *Record, got %T", v)
	}
	rec.ID = strings.TrimSpace(string(data))
	return nil
}

// ContentType returns the plain text MIME type.
func (PlainCodec) ContentType() string {
	return "text/plain"
}

var (
	_ Codec = JSONCodec{}
	_ Codec = YAMLCodec{}
	_ Codec = PlainCodec{}
)
