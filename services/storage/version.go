package storage

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// versionWrapper records the schema version next to an encoded object.
type versionWrapper struct {
	Version int             `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// VersionJSONEncode encodes o as JSON tagged with version.
func VersionJSONEncode(version int, o interface{}) ([]byte, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(versionWrapper{
		Version: version,
		Value:   raw,
	})
}

// VersionJSONDecode hands the stored version and a decoder for the value to decF.
func VersionJSONDecode(data []byte, decF func(version int, dec *json.Decoder) error) error {
	var w versionWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Value) == 0 || bytes.Equal(w.Value, []byte("null")) {
		return errors.New("empty value")
	}
	return decF(w.Version, json.NewDecoder(bytes.NewReader(w.Value)))
}
