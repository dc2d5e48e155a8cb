package llm

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/mitchellh/mapstructure"
)

// ErrNoJSON is returned when a reply contains no well-formed JSON object or array.
var ErrNoJSON = errors.New("no JSON object or array in reply")

// ExtractJSON returns the first well-formed JSON object or array embedded in reply.
// Markdown code fences are stripped first.
func ExtractJSON(reply string) (json.RawMessage, error) {
	s := stripFence([]byte(reply))
	if len(s) == 0 {
		return nil, ErrNoJSON
	}
	if (s[0] == '{' || s[0] == '[') && json.Valid(s) {
		return json.RawMessage(s), nil
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, ErrNoJSON
}

// ExtractObject extracts the first JSON object in reply as a map.
// A top-level array is wrapped as {"items": [...]}.
func ExtractObject(reply string) (map[string]any, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case []any:
		return map[string]any{"items": x}, nil
	}
	return nil, ErrNoJSON
}

// Decode extracts the first JSON object in reply and decodes it into out,
// tolerating loosely typed fields (e.g. "85" for a numeric score).
func Decode(reply string, out any) error {
	obj, err := ExtractObject(reply)
	if err != nil {
		return err
	}
	return DecodeMap(obj, out)
}

// DecodeMap decodes a generic map into a tagged struct with weak typing.
func DecodeMap(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func stripFence(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if bytes.HasPrefix(s, []byte("```")) {
		if idx := bytes.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		if end := bytes.LastIndex(s, []byte("```")); end >= 0 {
			s = s[:end]
		}
		s = bytes.TrimSpace(s)
	}
	return s
}
