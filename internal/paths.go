package internal

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// Path
// a file name encoded losslessly in JSON. Valid UTF-8 is written as a plain
// string, anything else as {"b": <base64 of the raw bytes>}.
type Path string

type rawPath struct {
	B []byte `json:"b"`
}

func (p Path) MarshalJSON() ([]byte, error) {
	if utf8.ValidString(string(p)) {
		return json.Marshal(string(p))
	}
	return json.Marshal(rawPath{B: []byte(p)})
}

func (p *Path) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		raw := rawPath{}
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		*p = Path(raw.B)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = Path(s)
	return nil
}

// Paths
// a list of file names encoded like Path. A nil list stays null.
type Paths []string

func (ps Paths) MarshalJSON() ([]byte, error) {
	if ps == nil {
		return []byte("null"), nil
	}
	out := make([]Path, len(ps))
	for i, p := range ps {
		out[i] = Path(p)
	}
	return json.Marshal(out)
}

func (ps *Paths) UnmarshalJSON(b []byte) error {
	var in []Path
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if in == nil {
		*ps = nil
		return nil
	}
	out := make(Paths, len(in))
	for i, p := range in {
		out[i] = string(p)
	}
	*ps = out
	return nil
}
