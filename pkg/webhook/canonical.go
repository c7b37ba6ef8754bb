package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// canonicalJSON encodes v compactly with object keys sorted at every depth.
// A receiver that re-encodes the body the same way gets the signed bytes
// back. Numbers keep their original text and HTML is not escaped.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	w := &canonWriter{}
	w.enc = json.NewEncoder(&w.scratch)
	w.enc.SetEscapeHTML(false)
	if err := w.value(tree); err != nil {
		return nil, err
	}
	return w.out.Bytes(), nil
}

type canonWriter struct {
	out     bytes.Buffer
	scratch bytes.Buffer
	enc     *json.Encoder
}

func (w *canonWriter) value(v any) error {
	switch t := v.(type) {
	case map[string]any:
		w.out.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(t)) {
			if i > 0 {
				w.out.WriteByte(',')
			}
			if err := w.scalar(k); err != nil {
				return err
			}
			w.out.WriteByte(':')
			if err := w.value(t[k]); err != nil {
				return err
			}
		}
		w.out.WriteByte('}')
		return nil
	case []any:
		w.out.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				w.out.WriteByte(',')
			}
			if err := w.value(e); err != nil {
				return err
			}
		}
		w.out.WriteByte(']')
		return nil
	case json.Number:
		w.out.WriteString(t.String())
		return nil
	}
	return w.scalar(v)
}

// scalar writes strings, booleans and null through the shared encoder.
func (w *canonWriter) scalar(v any) error {
	w.scratch.Reset()
	if err := w.enc.Encode(v); err != nil {
		return err
	}
	w.out.Write(bytes.TrimSuffix(w.scratch.Bytes(), []byte("\n")))
	return nil
}
