// Package keys derives every engine key and encoded scalar term used by the
// entity graph. Nothing outside this package builds key strings by hand.
package keys

import (
	"strconv"
	"strings"
)

// Key prefixes. The colon separator is safe because entity ids and attribute
// names are validated to never contain one.
const (
	entityPrefix   = "entity:"
	parentPrefix   = "parent:"
	childrenPrefix = "children:"
	indexPrefix    = "index:"
	scratchPrefix  = "find:"
)

// Scalar term tags. Every stored value carries a one-byte type tag so terms
// are injective across types: the string "true" and the boolean true never
// collide in an index key.
const (
	tagString = 's'
	tagNumber = 'n'
	tagBool   = 'b'
)

// Entity returns the hash key holding an entity's attribute map.
func Entity(id string) string {
	return entityPrefix + id
}

// Parent returns the key holding an entity's parent pointer. The key exists
// exactly as long as the entity does, so it doubles as the existence witness:
// an entity with no attributes has an empty hash but always has this key.
func Parent(id string) string {
	return parentPrefix + id
}

// Children returns the set key holding an entity's direct child ids.
func Children(id string) string {
	return childrenPrefix + id
}

// Index returns the reverse-index set key for an attribute name and an
// encoded scalar term.
func Index(attr, term string) string {
	return indexPrefix + attr + ":" + term
}

// IndexPattern builds a MATCH pattern that selects index keys of attr whose
// string term matches glob. The attribute segment is escaped so only the
// caller's glob is live in the pattern.
func IndexPattern(attr, glob string) string {
	return indexPrefix + EscapeGlob(attr) + ":" + string(tagString) + ":" + glob
}

// Scratch returns a throwaway key for staging search results. Callers must
// set a TTL on it.
func Scratch(token string) string {
	return scratchPrefix + token
}

// StringTerm encodes a string value for storage and index keys.
func StringTerm(s string) string {
	return string(tagString) + ":" + s
}

// NumberTerm encodes a float64 value. FormatFloat with -1 precision is
// canonical: equal floats always produce equal terms.
func NumberTerm(f float64) string {
	return string(tagNumber) + ":" + strconv.FormatFloat(f, 'g', -1, 64)
}

// BoolTerm encodes a boolean value.
func BoolTerm(b bool) string {
	if b {
		return string(tagBool) + ":true"
	}
	return string(tagBool) + ":false"
}

// SplitTerm splits an encoded term into its type tag and payload.
// ok is false if the term does not carry a known tag.
func SplitTerm(term string) (tag byte, payload string, ok bool) {
	if len(term) < 2 || term[1] != ':' {
		return 0, "", false
	}
	switch term[0] {
	case tagString, tagNumber, tagBool:
		return term[0], term[2:], true
	}
	return 0, "", false
}

// ValidID reports whether id is usable as an entity or parent reference:
// non-empty and free of the key separator.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsRune(id, ':')
}

// ValidAttr reports whether name is usable as an attribute name. Same rules
// as ids; the separator would make index keys ambiguous.
func ValidAttr(name string) bool {
	return name != "" && !strings.ContainsRune(name, ':')
}

// EscapeGlob backslash-escapes MATCH metacharacters so s matches literally
// inside a pattern.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]^\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '^', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
