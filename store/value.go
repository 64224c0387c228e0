package store

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jacentio/arbor/internal/keys"
)

// Kind identifies which scalar variant a Value holds.
type Kind uint8

const (
	// KindInvalid is the zero Value. It is rejected at the storage boundary.
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	// KindUnset marks an attribute for removal in Store.Apply. It never
	// reaches the engine.
	KindUnset
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindUnset:
		return "unset"
	}
	return "invalid"
}

// Value is a scalar attribute value: a string, a number, or a boolean.
// The zero Value is invalid; construct values with String, Number, or Bool.
// Values are comparable with == and safe to use as map keys.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value. NaN and infinities are rejected later, at
// the storage boundary.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Unset returns the removal marker. Passing it for an attribute in
// Store.Apply deletes that attribute and its index entry.
func Unset() Value { return Value{kind: KindUnset} }

// Kind reports the variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsUnset reports whether v is the removal marker.
func (v Value) IsUnset() bool { return v.kind == KindUnset }

// AsString returns the string payload. ok is false for other kinds.
func (v Value) AsString() (s string, ok bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric payload. ok is false for other kinds.
func (v Value) AsNumber() (f float64, ok bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean payload. ok is false for other kinds.
func (v Value) AsBool() (b bool, ok bool) { return v.b, v.kind == KindBool }

// Equal reports whether two values hold the same kind and payload.
func (v Value) Equal(o Value) bool { return v == o }

// String renders v for logs and errors.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindUnset:
		return "<unset>"
	}
	return "<invalid>"
}

// term encodes v in the tagged form stored in hash fields and index keys.
// Only call on string, number, or bool values.
func (v Value) term() string {
	switch v.kind {
	case KindString:
		return keys.StringTerm(v.str)
	case KindNumber:
		return keys.NumberTerm(v.num)
	case KindBool:
		return keys.BoolTerm(v.b)
	}
	return ""
}

// decodeValue parses a stored term back into a Value.
func decodeValue(term string) (Value, error) {
	tag, payload, ok := keys.SplitTerm(term)
	if !ok {
		return Value{}, fmt.Errorf("unrecognized value form %q", term)
	}
	switch tag {
	case 's':
		return String(payload), nil
	case 'n':
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return Value{}, fmt.Errorf("malformed number %q", term)
		}
		return Number(f), nil
	default: // 'b'
		switch payload {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, fmt.Errorf("malformed boolean %q", term)
	}
}

// decodeAttrs converts a stored hash into an attribute map.
func decodeAttrs(fields map[string]string) (Attributes, error) {
	attrs := make(Attributes, len(fields))
	for name, term := range fields {
		v, err := decodeValue(term)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = v
	}
	return attrs, nil
}

// encodeAttrs converts an attribute map into hash fields. Callers must have
// validated attrs first; unset and invalid values are skipped.
func encodeAttrs(attrs Attributes) map[string]string {
	fields := make(map[string]string, len(attrs))
	for name, v := range attrs {
		if t := v.term(); t != "" {
			fields[name] = t
		}
	}
	return fields
}

// Attribute names with reserved meaning in results and queries.
const (
	reservedID     = "id"
	reservedParent = "parent"
)

// validateAttrs enforces the boundary rules for an attribute map: names must
// be well formed and not reserved, numbers must be finite, and the zero Value
// is never accepted. allowUnset permits removal markers, which only Apply
// understands.
func validateAttrs(attrs Attributes, allowUnset bool) error {
	for name, v := range attrs {
		if name == reservedID || name == reservedParent {
			return &ValidationError{Field: name, Reason: "attribute name is reserved"}
		}
		if !keys.ValidAttr(name) {
			return &ValidationError{Field: name, Reason: "attribute name must be non-empty and contain no ':'"}
		}
		switch v.kind {
		case KindString, KindBool:
		case KindNumber:
			if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
				return &ValidationError{Field: name, Reason: "number must be finite"}
			}
		case KindUnset:
			if !allowUnset {
				return &ValidationError{Field: name, Reason: "cannot create an attribute as unset"}
			}
		default:
			return &ValidationError{Field: name, Reason: "zero Value; use String, Number, or Bool"}
		}
	}
	return nil
}
