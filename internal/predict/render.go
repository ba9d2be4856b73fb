package predict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/predictform/server/internal/models"
)

const indentUnit = "  "

var utf8BOM = []byte("\xef\xbb\xbf")

var errUnexpectedEnd = errors.New("unexpected end of JSON input")

// Pretty parses a JSON document and prints the parsed value with two-space
// indentation, the way a browser renders JSON.stringify(value, null, 2):
// numbers in shortest ECMAScript form, the last value for a duplicated key,
// array-index keys first in numeric order and other keys in document order.
func Pretty(raw []byte) (string, models.ResponseShape, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	value, err := readValue(dec)
	if err != nil {
		return "", models.ShapeNone, &DecodeError{Err: endOfInput(err)}
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return "", models.ShapeNone, &DecodeError{Err: err}
	}

	var b strings.Builder
	if err := writeValue(&b, value, ""); err != nil {
		return "", models.ShapeNone, &DecodeError{Err: err}
	}
	return b.String(), shapeOf(value), nil
}

func endOfInput(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errUnexpectedEnd
	}
	return err
}

// object keeps keys in first-seen order; a repeated key overwrites the value
// in place.
type object struct {
	keys   []string
	values map[string]interface{}
}

func (o *object) set(key string, value interface{}) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// orderedKeys returns array-index keys ascending, then the rest in
// insertion order.
func (o *object) orderedKeys() []string {
	var indices, named []string
	for _, k := range o.keys {
		if isArrayIndex(k) {
			indices = append(indices, k)
		} else {
			named = append(named, k)
		}
	}
	sort.Slice(indices, func(i, j int) bool {
		a, _ := strconv.ParseUint(indices[i], 10, 32)
		b, _ := strconv.ParseUint(indices[j], 10, 32)
		return a < b
	})
	return append(indices, named...)
}

func isArrayIndex(k string) bool {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return false
	}
	for i := 0; i < len(k); i++ {
		if k[i] < '0' || k[i] > '9' {
			return false
		}
	}
	n, err := strconv.ParseUint(k, 10, 64)
	return err == nil && n < math.MaxUint32
}

func readValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		return readObject(dec)
	case '[':
		return readArray(dec)
	default:
		return nil, fmt.Errorf("unexpected %q", rune(delim))
	}
}

func readObject(dec *json.Decoder) (*object, error) {
	obj := &object{values: make(map[string]interface{})}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key must be a string, got %v", tok)
		}
		value, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		obj.set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func readArray(dec *json.Decoder) ([]interface{}, error) {
	items := []interface{}{}
	for dec.More() {
		value, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		items = append(items, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return items, nil
}

func writeValue(b *strings.Builder, value interface{}, indent string) error {
	switch v := value.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(v))
	case string:
		writeString(b, v)
	case json.Number:
		s, err := formatNumber(v)
		if err != nil {
			return err
		}
		b.WriteString(s)
	case []interface{}:
		if len(v) == 0 {
			b.WriteString("[]")
			return nil
		}
		inner := indent + indentUnit
		b.WriteString("[\n")
		for i, item := range v {
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(inner)
			if err := writeValue(b, item, inner); err != nil {
				return err
			}
		}
		b.WriteString("\n" + indent + "]")
	case *object:
		if len(v.keys) == 0 {
			b.WriteString("{}")
			return nil
		}
		inner := indent + indentUnit
		b.WriteString("{\n")
		for i, k := range v.orderedKeys() {
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(inner)
			writeString(b, k)
			b.WriteString(": ")
			if err := writeValue(b, v.values[k], inner); err != nil {
				return err
			}
		}
		b.WriteString("\n" + indent + "}")
	default:
		return fmt.Errorf("unsupported JSON value %T", value)
	}
	return nil
}

// formatNumber renders n as an ECMAScript number. Values beyond float64
// range parse to Infinity, which prints as null; underflow prints as 0.
func formatNumber(n json.Number) (string, error) {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return "", err
	}
	if math.IsInf(f, 0) {
		return "null", nil
	}
	if f == 0 {
		return "0", nil
	}
	return jsoncanonicalizer.NumberToJSON(f)
}

// writeString quotes s escaping only quote, backslash and control
// characters.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

func shapeOf(value interface{}) models.ResponseShape {
	switch value.(type) {
	case *object:
		return models.ShapeObject
	case []interface{}:
		return models.ShapeArray
	default:
		return models.ShapeScalar
	}
}
