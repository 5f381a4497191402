package canonical

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Encode writes v as compact JSON with sorted keys and ASCII-only strings.
// Floats use the shortest round-trip form and always carry a decimal point
// or exponent, so 1 and 1.0 encode differently.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encode(&buf, v, "", "")
	return buf.Bytes()
}

// EncodeIndent is like Encode but indents nested values, one key per line.
func EncodeIndent(v Value, indent string) []byte {
	var buf bytes.Buffer
	encode(&buf, v, "\n", indent)
	return buf.Bytes()
}

// MarshalJSON implements json.Marshaler with the canonical encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	return Encode(v), nil
}

func encode(buf *bytes.Buffer, v Value, prefix, indent string) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		buf.WriteString(FormatFloat(v.f))
	case KindDecimal:
		buf.WriteString(FormatFloat(v.d.InexactFloat64()))
	case KindTime:
		writeString(buf, formatTime(v.t))
	case KindDate:
		writeString(buf, v.t.Format(dateLayout))
	case KindString:
		writeString(buf, v.s)
	case KindList:
		if len(v.list) == 0 {
			buf.WriteString("[]")
			return
		}
		buf.WriteByte('[')
		inner := nextPrefix(prefix, indent)
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(inner)
			encode(buf, item, inner, indent)
		}
		buf.WriteString(prefix)
		buf.WriteByte(']')
	case KindMap:
		if len(v.m) == 0 {
			buf.WriteString("{}")
			return
		}
		buf.WriteByte('{')
		inner := nextPrefix(prefix, indent)
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(inner)
			writeString(buf, k)
			buf.WriteByte(':')
			if indent != "" {
				buf.WriteByte(' ')
			}
			encode(buf, v.m[k], inner, indent)
		}
		buf.WriteString(prefix)
		buf.WriteByte('}')
	}
}

func nextPrefix(prefix, indent string) string {
	if indent == "" {
		return ""
	}
	return prefix + indent
}

// FormatFloat renders f in its shortest round-trip form, switching to
// exponent notation below 1e-4 and from 1e16.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				writeEscape(buf, uint16(r))
			case r < utf8.RuneSelf:
				buf.WriteRune(r)
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				writeEscape(buf, uint16(hi))
				writeEscape(buf, uint16(lo))
			default:
				writeEscape(buf, uint16(r))
			}
		}
	}
	buf.WriteByte('"')
}

func writeEscape(buf *bytes.Buffer, u uint16) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[u>>12&0xF])
	buf.WriteByte(hexDigits[u>>8&0xF])
	buf.WriteByte(hexDigits[u>>4&0xF])
	buf.WriteByte(hexDigits[u&0xF])
}
