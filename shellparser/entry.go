// entry.go: Entry model for shell-syntax configuration files
//
// A file is held as an ordered sequence of entries. Assignment entries are
// simple top-level NAME=VALUE lines whose value is a literal; every other
// logical line is kept as an opaque entry and written back untouched.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shellparser

import "strings"

// Kind distinguishes assignment records from verbatim ones.
type Kind int

const (
	// Opaque entries are re-emitted byte for byte.
	Opaque Kind = iota
	// Assignment entries carry an editable literal value.
	Assignment
)

func (k Kind) String() string {
	switch k {
	case Opaque:
		return "opaque"
	case Assignment:
		return "assignment"
	default:
		return "unknown"
	}
}

// Quoting is the quoting style of an assignment value.
type Quoting int

const (
	Unquoted Quoting = iota
	SingleQuoted
	DoubleQuoted
)

func (q Quoting) String() string {
	switch q {
	case Unquoted:
		return "unquoted"
	case SingleQuoted:
		return "single"
	case DoubleQuoted:
		return "double"
	default:
		return "unknown"
	}
}

// Entry is one logical line of a configuration file.
type Entry struct {
	Kind Kind

	// Assignment fields. Empty for opaque entries.
	Name    string  // variable name
	Value   string  // decoded value
	Raw     string  // value as written, quotes included
	Quote   Quoting // quoting style used when Value is re-encoded
	Comment string  // trailing inline comment, including '#'

	text    string // logical line without its terminating newline
	prefix  string // indentation and optional "export "
	suffix  string // whitespace and comment after the value
	newline bool   // line was terminated by '\n'
}

// Text returns the logical line as it will be written, without the
// terminating newline.
func (e Entry) Text() string {
	return e.text
}

// String returns the serialized form of the entry.
func (e Entry) String() string {
	if e.newline {
		return e.text + "\n"
	}
	return e.text
}

// Exported reports whether the assignment is prefixed with "export".
func (e Entry) Exported() bool {
	return strings.HasPrefix(strings.TrimLeft(e.prefix, " \t"), "export")
}

// setValue re-encodes value in the entry's quoting style and rebuilds the
// line text. Prefix and suffix are preserved.
func (e *Entry) setValue(value string) {
	e.Value = value
	e.Raw = encodeValue(value, e.Quote)
	e.text = e.prefix + e.Name + "=" + e.Raw + e.suffix
}

// newAssignment builds an entry for a variable that was not in the file.
func newAssignment(name, value string) Entry {
	e := Entry{
		Kind:    Assignment,
		Name:    name,
		Quote:   Unquoted,
		newline: true,
	}
	e.setValue(value)
	return e
}

// isSafeUnquoted reports whether value can be written without quotes and
// read back unchanged by a POSIX shell.
func isSafeUnquoted(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("_./:,+@%=-", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// encodeValue renders value in the requested style. Unquoted falls back to
// single quotes for unsafe values and single quotes fall back to double
// quotes when the value itself contains a single quote.
func encodeValue(value string, style Quoting) string {
	switch style {
	case Unquoted:
		if isSafeUnquoted(value) {
			return value
		}
		return encodeValue(value, SingleQuoted)
	case SingleQuoted:
		if strings.IndexByte(value, '\'') >= 0 {
			return encodeValue(value, DoubleQuoted)
		}
		return "'" + value + "'"
	default:
		var b strings.Builder
		b.Grow(len(value) + 2)
		b.WriteByte('"')
		for i := 0; i < len(value); i++ {
			switch c := value[i]; c {
			case '\\', '"', '$', '`':
				b.WriteByte('\\')
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
		}
		b.WriteByte('"')
		return b.String()
	}
}

// ValidName reports whether name is a valid shell variable identifier.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
