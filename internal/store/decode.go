package store

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode maps a document onto out (a pointer to a struct with mapstructure
// tags). The document id is exposed under the "id" key.
func Decode(doc Document, out any) error {
	input := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		input[k] = v
	}
	input["id"] = doc.ID

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	return nil
}

// Fields turns a model into the field map a backend stores, normalized the
// way a JSON round trip would leave it. The "id" key is dropped.
func Fields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	delete(out, "id")
	return out, nil
}
