// Package codec centralizes the JSON encoding of page files and side files.
//
// Page envelopes record the codec name, so a store can be reopened with a
// different default codec and still decode existing pages.
package codec

// Codec encodes and decodes page and side-file payloads. Implementations
// must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var builtin = []Codec{JSON{}, GoJSON{}}

// ByName returns a built-in codec. The empty name selects go-json, which
// pages written before the envelope carried a codec name were encoded with.
func ByName(name string) (Codec, bool) {
	if name == "" {
		return GoJSON{}, true
	}
	for _, c := range builtin {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Names lists the built-in codec names.
func Names() []string {
	out := make([]string, len(builtin))
	for i, c := range builtin {
		out[i] = c.Name()
	}
	return out
}
