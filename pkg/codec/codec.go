// Package codec serializes a [document.Value] tree to and from JSON bytes,
// and optionally wraps the serialized bytes in an AES-256-GCM envelope for
// at-rest encryption.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jsondb/jsondb/pkg/document"
)

// ErrInvalidJSON indicates the input bytes were not a well-formed JSON
// document, or the top-level value was not an object.
var ErrInvalidJSON = errors.New("codec: invalid json")

// Options configures serialization.
type Options struct {
	// Indented pretty-prints with a two-space indent. Default: compact.
	Indented bool
}

// Marshal serializes root to UTF-8 JSON bytes. Object keys are emitted in
// insertion order; numbers preserve the integer-vs-float distinction
// recorded on the value.
func Marshal(root *document.Value, opts Options) ([]byte, error) {
	var buf bytes.Buffer

	err := writeValue(&buf, root)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	if !opts.Indented {
		return buf.Bytes(), nil
	}

	var indented bytes.Buffer

	err = json.Indent(&indented, buf.Bytes(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("codec: indent: %w", err)
	}

	return indented.Bytes(), nil
}

// Unmarshal parses JSON bytes into a [document.Value] tree. The top-level
// value must be an object. Object key order is preserved from the source
// bytes (decoding goes through [json.Decoder.Token], not map[string]any,
// which the standard library does not order).
func Unmarshal(data []byte) (*document.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	val, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrInvalidJSON)
	}

	if val.Kind() != document.Object {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrInvalidJSON)
	}

	return val, nil
}

// MarshalValue serializes an arbitrary value (not necessarily an object) to
// compact JSON bytes. Used to encode a single mutation's payload for the
// write-ahead log, where [Marshal]'s root-is-an-object assumption does not
// apply.
func MarshalValue(v *document.Value) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeValue(&buf, v); err != nil {
		return nil, fmt.Errorf("codec: marshal value: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalValue parses JSON bytes into a [document.Value] of any kind —
// the counterpart to [MarshalValue], used to decode a write-ahead log
// entry's payload.
func UnmarshalValue(data []byte) (*document.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	val, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalidJSON)
	}

	return val, nil
}

func decodeValue(dec *json.Decoder) (*document.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	return valueFromToken(dec, tok)
}

func valueFromToken(dec *json.Decoder, tok json.Token) (*document.Value, error) {
	switch t := tok.(type) {
	case nil:
		return document.NewNull(), nil
	case bool:
		return document.NewBool(t), nil
	case string:
		return document.NewString(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return document.NewInt(i), nil
		}

		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}

		return document.NewFloat(f), nil
	case json.Delim:
		switch t {
		case '[':
			return decodeArray(dec)
		case '{':
			return decodeObject(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		return nil, fmt.Errorf("unsupported token type %T", tok)
	}
}

func decodeArray(dec *json.Decoder) (*document.Value, error) {
	out := document.NewArray()

	for dec.More() {
		elem, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		out.AppendElement(elem)
	}

	// Consume the closing ']'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return out, nil
}

func decodeObject(dec *json.Decoder) (*document.Value, error) {
	out := document.NewObject()

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %T", keyTok)
		}

		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		out.Set(key, val)
	}

	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	return out, nil
}

func writeValue(buf *bytes.Buffer, v *document.Value) error {
	if v.IsNull() {
		buf.WriteString("null")

		return nil
	}

	switch v.Kind() {
	case document.Bool:
		b, _ := v.Bool()
		if b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case document.Number:
		if v.IsIntNumber() {
			i, _ := v.Int()
			fmt.Fprintf(buf, "%d", i)
		} else {
			f, _ := v.Float()

			enc, err := json.Marshal(f)
			if err != nil {
				return err
			}

			buf.Write(enc)
		}

	case document.String:
		s, _ := v.String()

		enc, err := json.Marshal(s)
		if err != nil {
			return err
		}

		buf.Write(enc)

	case document.Array:
		buf.WriteByte('[')

		for i, e := range v.Elements() {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeValue(buf, e); err != nil {
				return err
			}
		}

		buf.WriteByte(']')

	case document.Object:
		buf.WriteByte('{')

		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}

			keyEnc, err := json.Marshal(k)
			if err != nil {
				return err
			}

			buf.Write(keyEnc)
			buf.WriteByte(':')

			val, _ := v.Get(k)

			if err := writeValue(buf, val); err != nil {
				return err
			}
		}

		buf.WriteByte('}')

	default:
		return fmt.Errorf("codec: unknown kind %v", v.Kind())
	}

	return nil
}
