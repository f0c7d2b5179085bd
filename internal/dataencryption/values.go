package dataencryption

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// MinEncryptLength is the shortest string (in UTF-16 code units, matching the
// host's notion of length) that EncryptValue encrypts. Shorter strings such as
// IDs and flags stay readable.
const MinEncryptLength = 32

// ProbePlaintext is the fixed value stored in keytest.json.
const ProbePlaintext = "risu-git-is-awesome-i-dont-know-but-it-is-long-string-for-test-toooooooooooooooooooooooooooooooo-long"

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 && r != utf8.RuneError {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// EncryptValue returns a copy of v with every long enough string encrypted.
// v is a decoded JSON value (maps, slices, strings, numbers, bools, nil).
func (k *Key) EncryptValue(v any) any {
	switch t := v.(type) {
	case string:
		if utf16Len(t) >= MinEncryptLength {
			return k.EncryptString(t)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = k.EncryptValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, e := range t {
			out[key] = k.EncryptValue(e)
		}
		return out
	case model.Fields:
		return k.EncryptValue(map[string]any(t))
	default:
		return v
	}
}

// DecryptValue is the inverse of EncryptValue. Every tagged string is opened,
// whatever its length.
func (k *Key) DecryptValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return k.DecryptString(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			d, err := k.DecryptValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, e := range t {
			d, err := k.DecryptValue(e)
			if err != nil {
				return nil, err
			}
			out[key] = d
		}
		return out, nil
	case model.Fields:
		return k.DecryptValue(map[string]any(t))
	default:
		return v, nil
	}
}

// EncryptJSON encrypts the strings inside a raw JSON document. Object key
// order and string escaping are kept as the host wrote them.
func (k *Key) EncryptJSON(raw json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("dataencryption: decode: invalid JSON document")
	}
	return rewriteStrings(raw, func(s string) (string, error) {
		if utf16Len(s) >= MinEncryptLength {
			return k.EncryptString(s), nil
		}
		return s, nil
	})
}

// DecryptJSON decrypts the strings inside a raw JSON document.
func (k *Key) DecryptJSON(raw json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(raw) {
		return nil, syncerr.Decrypt(fmt.Errorf("invalid JSON document"))
	}
	return rewriteStrings(raw, k.DecryptString)
}

type jsonLevel struct {
	object  bool
	wantKey bool
	n       int
}

// rewriteStrings re-emits raw compactly, passing every string value (not
// object keys) through fn. raw must be a single valid JSON value.
func rewriteStrings(raw json.RawMessage, fn func(string) (string, error)) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var buf bytes.Buffer
	var stack []*jsonLevel

	// separate writes the separator due before the next token and reports
	// whether that token is an object key.
	separate := func() bool {
		if len(stack) == 0 {
			return false
		}
		top := stack[len(stack)-1]
		if top.object {
			if top.wantKey {
				if top.n > 0 {
					buf.WriteByte(',')
				}
				top.wantKey = false
				top.n++
				return true
			}
			top.wantKey = true
			return false
		}
		if top.n > 0 {
			buf.WriteByte(',')
		}
		top.n++
		return false
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("dataencryption: decode: %w", err)
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				separate()
				buf.WriteByte(byte(t))
				stack = append(stack, &jsonLevel{object: t == '{', wantKey: true})
			default:
				stack = stack[:len(stack)-1]
				buf.WriteByte(byte(t))
			}
		case string:
			if separate() {
				writeString(&buf, t)
				buf.WriteByte(':')
				continue
			}
			v, err := fn(t)
			if err != nil {
				return nil, err
			}
			writeString(&buf, v)
		case json.Number:
			separate()
			buf.WriteString(t.String())
		case bool:
			separate()
			buf.WriteString(strconv.FormatBool(t))
		case nil:
			separate()
			buf.WriteString("null")
		}
	}
}

func writeString(buf *bytes.Buffer, s string) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	// A string always encodes.
	_ = enc.Encode(s)
	buf.Write(bytes.TrimSuffix(b.Bytes(), []byte("\n")))
}

// ProbeDocument is the content of keytest.json before encryption.
func ProbeDocument() map[string]any {
	return map[string]any{"test": ProbePlaintext}
}

// VerifyProbe checks that data (a raw keytest.json) opens with this key.
func (k *Key) VerifyProbe(data []byte) error {
	obj, err := model.DecodeObject(data)
	if err != nil {
		return syncerr.Decrypt(fmt.Errorf("keytest: %w", err))
	}
	s, ok := obj["test"].(string)
	if !ok {
		return syncerr.Decrypt(fmt.Errorf("keytest: probe missing"))
	}
	if !IsEncrypted(s) {
		return syncerr.Decrypt(fmt.Errorf("keytest: probe is not encrypted"))
	}
	// Any probe that opens is accepted; early snapshots stored a random UUID.
	_, err = k.DecryptString(s)
	return err
}
