package eaxs

import (
	"io"
	"strings"
	"unicode/utf8"
)

const indentSpace = 2

// Characters replaced with a middle dot: controls except tab, line feed and
// carriage return, and the noncharacters U+FFFE and U+FFFF.
func illegal(c rune) bool {
	return c < 0x20 && c != '\t' && c != '\n' && c != '\r' || c == 0xfffe || c == 0xffff
}

// Escape returns s as XML character data. Text containing "<", ">" or "&" is
// placed in a CDATA section, with "]]" written as "&#093;&#093;". Illegal
// control characters are replaced by a middle dot, as character reference
// outside CDATA. Invalid UTF-8 is replaced with U+FFFD.
func Escape(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	cdata := strings.ContainsAny(s, "<>&")
	if strings.IndexFunc(s, illegal) >= 0 {
		dot := "&#183;"
		if cdata {
			// Character references are not interpreted in CDATA.
			dot = "·"
		}
		var b strings.Builder
		for _, c := range s {
			if illegal(c) {
				b.WriteString(dot)
			} else {
				b.WriteRune(c)
			}
		}
		s = b.String()
	}
	if !cdata {
		return s
	}
	return "<![CDATA[" + strings.ReplaceAll(s, "]]", "&#093;&#093;") + "]]>"
}

// xmlWriter writes indented XML lines, keeping track of the open elements and
// the number of bytes written. After a write error, further writes are
// ignored and the error is kept.
type xmlWriter struct {
	w      io.Writer
	n      int64
	indent int
	open   []string
	err    error
}

func (x *xmlWriter) write(s string) {
	if x.err != nil {
		return
	}
	n, err := io.WriteString(x.w, s)
	x.n += int64(n)
	x.err = err
}

// line writes s on its own line at the current indent.
func (x *xmlWriter) line(s string) {
	if x.indent > 0 {
		x.write(strings.Repeat(" ", x.indent*indentSpace))
	}
	x.write(s + "\n")
}

func (x *xmlWriter) start(tag string) {
	x.line("<" + tag + ">")
	x.push(tag)
}

// push records tag as open, for an opening element already written.
func (x *xmlWriter) push(tag string) {
	x.open = append(x.open, tag)
	x.indent++
}

func (x *xmlWriter) end() {
	if len(x.open) == 0 {
		return
	}
	tag := x.open[len(x.open)-1]
	x.open = x.open[:len(x.open)-1]
	x.indent--
	x.line("</" + tag + ">")
}

// closeAll ends all open elements.
func (x *xmlWriter) closeAll() {
	for len(x.open) > 0 {
		x.end()
	}
}

func (x *xmlWriter) terminal(tag, value string) {
	x.line("<" + tag + ">" + Escape(value) + "</" + tag + ">")
}

// pair writes an element with Name and Value, e.g. Header.
func (x *xmlWriter) pair(tag, name, value string) {
	x.start(tag)
	x.terminal("Name", name)
	x.terminal("Value", value)
	x.end()
}

func (x *xmlWriter) hash(sha1 string) {
	x.start("Hash")
	x.terminal("Value", sha1)
	x.terminal("Function", "SHA1")
	x.end()
}
