// parse.go: Structural parser and writer for shell-syntax configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shellparser

import (
	"strings"

	"github.com/agilira/go-errors"
)

// scanState tracks the quoting context while splitting logical lines.
type scanState int

const (
	stateNone scanState = iota
	stateSingle
	stateDouble
	stateBacktick
	stateComment
)

// Parse splits buf into entries. Logical lines end at a newline that is
// neither quoted nor escaped by a trailing backslash. A quote left open at
// the end of the buffer is a parse error.
func Parse(buf []byte) ([]Entry, error) {
	src := string(buf)
	entries := make([]Entry, 0, strings.Count(src, "\n")+1)

	state := stateNone
	start := 0
	line := 1
	quoteLine := 0
	wordStart := true

	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}

		switch state {
		case stateComment:
			if c == '\n' {
				entries = append(entries, classify(src[start:i], true))
				start = i + 1
				state = stateNone
				wordStart = true
			}
			continue

		case stateSingle:
			if c == '\'' {
				state = stateNone
			}
			continue

		case stateDouble, stateBacktick:
			switch {
			case c == '\\' && i+1 < len(src):
				if src[i+1] == '\n' {
					line++
				}
				i++
			case c == '"' && state == stateDouble, c == '`' && state == stateBacktick:
				state = stateNone
			}
			continue
		}

		switch c {
		case '\\':
			if i+1 < len(src) {
				if src[i+1] == '\n' {
					line++
				}
				i++
			}
			wordStart = false
		case '\'':
			state, quoteLine = stateSingle, line
			wordStart = false
		case '"':
			state, quoteLine = stateDouble, line
			wordStart = false
		case '`':
			state, quoteLine = stateBacktick, line
			wordStart = false
		case '#':
			if wordStart {
				state = stateComment
			}
		case '\n':
			entries = append(entries, classify(src[start:i], true))
			start = i + 1
			wordStart = true
		case ' ', '\t', ';', '&', '|', '(', ')':
			wordStart = true
		default:
			wordStart = false
		}
	}

	switch state {
	case stateSingle, stateDouble, stateBacktick:
		return nil, errors.New(ErrCodeParse, "unterminated quoted string").
			WithContext("line", quoteLine)
	}

	if start < len(src) {
		entries = append(entries, classify(src[start:], false))
	}
	return entries, nil
}

// Serialize writes entries back to a buffer. Unmodified entries reproduce
// their original bytes.
func Serialize(entries []Entry) []byte {
	size := 0
	for i := range entries {
		size += len(entries[i].text) + 1
	}
	var b strings.Builder
	b.Grow(size)
	for i := range entries {
		b.WriteString(entries[i].text)
		if entries[i].newline {
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

// Find returns the index of the last assignment to name, or -1.
func Find(entries []Entry, name string) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == Assignment && entries[i].Name == name {
			return i
		}
	}
	return -1
}

// classify turns one logical line into an entry.
func classify(text string, newline bool) Entry {
	e := Entry{Kind: Opaque, text: text, newline: newline}

	i := skipBlanks(text, 0)
	if strings.HasPrefix(text[i:], "export") {
		j := i + len("export")
		if k := skipBlanks(text, j); k > j {
			i = k
		}
	}
	prefixEnd := i

	if i >= len(text) || !isNameStart(text[i]) {
		return e
	}
	for i < len(text) && isNameChar(text[i]) {
		i++
	}
	if i >= len(text) || text[i] != '=' {
		return e
	}
	name := text[prefixEnd:i]
	valueStart := i + 1

	value, quote, valueEnd, ok := decodeWord(text, valueStart)
	if !ok {
		return e
	}

	rest := text[valueEnd:]
	trimmed := strings.TrimLeft(rest, " \t")
	if trimmed != "" && (trimmed[0] != '#' || len(trimmed) == len(rest)) {
		return e
	}

	e.Kind = Assignment
	e.Name = name
	e.Value = value
	e.Raw = text[valueStart:valueEnd]
	e.Quote = quote
	e.Comment = trimmed
	e.prefix = text[:prefixEnd]
	e.suffix = rest
	return e
}

// decodeWord decodes the shell word beginning at start. It reports false
// when the word needs expansion, holds a shell operator, or is malformed.
func decodeWord(text string, start int) (value string, quote Quoting, end int, ok bool) {
	var b strings.Builder
	quote = Unquoted
	segments := 0
	quotedSegment := false

	i := start
scan:
	for i < len(text) {
		c := text[i]
		switch c {
		case ' ', '\t':
			break scan

		case '\'':
			closeAt := strings.IndexByte(text[i+1:], '\'')
			if closeAt < 0 {
				return "", 0, 0, false
			}
			b.WriteString(text[i+1 : i+1+closeAt])
			i += closeAt + 2
			segments++
			quotedSegment = true
			quote = SingleQuoted

		case '"':
			j := i + 1
			for ; j < len(text) && text[j] != '"'; j++ {
				switch text[j] {
				case '$', '`':
					return "", 0, 0, false
				case '\\':
					if j+1 >= len(text) {
						return "", 0, 0, false
					}
					switch n := text[j+1]; n {
					case '\\', '"', '$', '`':
						b.WriteByte(n)
					case '\n':
					default:
						b.WriteByte('\\')
						b.WriteByte(n)
					}
					j++
				default:
					b.WriteByte(text[j])
				}
			}
			if j >= len(text) {
				return "", 0, 0, false
			}
			i = j + 1
			segments++
			quotedSegment = true
			quote = DoubleQuoted

		case '\\':
			if i+1 >= len(text) {
				return "", 0, 0, false
			}
			if text[i+1] != '\n' {
				b.WriteByte(text[i+1])
			}
			i += 2
			segments++

		case '$', '`', '~', ';', '&', '|', '<', '>', '(', ')':
			return "", 0, 0, false

		default:
			j := i
			for j < len(text) && !strings.ContainsRune(" \t'\"\\$`~;&|<>()", rune(text[j])) {
				j++
			}
			b.WriteString(text[i:j])
			i = j
			segments++
		}
	}

	// A value mixing quoted and bare parts is re-encoded from scratch.
	if segments > 1 && quotedSegment {
		quote = Unquoted
	}
	return b.String(), quote, i, true
}

func skipBlanks(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
