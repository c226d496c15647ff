// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of receipts, intents and evidence.
//
// Every hash in actsafe is "SHA-256 of the canonical form". Two structurally
// equal values (same keys and values, any key order, any map nesting) always
// produce byte-identical output.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidUTF8 is returned for input holding a string that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 string")

// JCS returns the RFC 8785 canonical JSON representation of v.
//
//  1. Struct tags are honoured (v is pre-marshalled with encoding/json).
//  2. Strings and object keys must be valid UTF-8 and are normalised to
//     Unicode NFC.
//  3. Object keys are sorted, numbers use ES6 formatting, HTML is not escaped.
//
// Integers wider than 2^53 lose precision under ES6 number formatting and must
// be carried as decimal strings.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	// encoding/json coerces invalid UTF-8 to U+FFFD, which would let distinct
	// inputs share a hash.
	if !utf8.Valid(intermediate) {
		return nil, fmt.Errorf("jcs: %w", ErrInvalidUTF8)
	}
	if err := checkUTF8(reflect.ValueOf(v)); err != nil {
		return nil, err
	}

	var generic interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	normalized, err := normalizeStrings(generic)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("jcs: re-marshal failed: %w", err)
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the JCS canonical form as a string
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// IsHexDigest reports whether s is a lower-case hex SHA-256 digest.
func IsHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func normalizeStrings(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t), nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			n, err := normalizeStrings(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, elem := range t {
			nk := norm.NFC.String(k)
			if _, dup := out[nk]; dup {
				return nil, fmt.Errorf("jcs: keys collide after NFC normalization: %q", nk)
			}
			n, err := normalizeStrings(elem)
			if err != nil {
				return nil, err
			}
			out[nk] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// checkUTF8 walks the exported data of v the way encoding/json would and
// rejects any string or map key that is not valid UTF-8.
func checkUTF8(v reflect.Value) error {
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("jcs: %w: %q", ErrInvalidUTF8, v.String())
		}
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			return checkUTF8(v.Elem())
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key()); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := checkUTF8(v.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}
