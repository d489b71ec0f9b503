package message

import (
	"bytes"
	"strings"
)

// Header is a single header field, in the order it appeared in the message.
type Header struct {
	Key   string // As written, e.g. "Content-Type".
	Value string // Unfolded, with leading and trailing whitespace removed.
}

// Headers is an ordered list of header fields. Keys can repeat.
type Headers []Header

// Get returns the value of the first header matching key case-insensitively,
// or the empty string.
func (h Headers) Get(key string) string {
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Values returns the values of all headers matching key case-insensitively.
func (h Headers) Values(key string) []string {
	var l []string
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			l = append(l, f.Value)
		}
	}
	return l
}

// nextLine returns the line starting at offset o in buf, including its line
// ending, which can be "\r\n", "\n" or a bare "\r" only when followed by a
// non-"\n". The returned line is empty at end of buf.
func nextLine(buf []byte, o int) []byte {
	if o >= len(buf) {
		return nil
	}
	i := bytes.IndexByte(buf[o:], '\n')
	if i < 0 {
		return buf[o:]
	}
	return buf[o : o+i+1]
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// validKey returns whether k can be a header field name: printable US-ASCII
// except colon.
func validKey(k []byte) bool {
	if len(k) == 0 {
		return false
	}
	for _, c := range k {
		if c <= ' ' || c >= 0x7f || c == ':' {
			return false
		}
	}
	return true
}

// parseHeader parses the header section at the start of buf. It returns the
// headers, the offset where the body starts, and defects found. Parsing never
// fails: a line that is neither a header nor a continuation ends the header
// section and starts the body.
func parseHeader(buf []byte) (hdrs Headers, bodyOffset int, defects []string) {
	o := 0
	for {
		line := nextLine(buf, o)
		if len(line) == 0 {
			return hdrs, len(buf), defects
		}
		s := trimEOL(line)
		if len(s) == 0 {
			return hdrs, o + len(line), defects
		}
		if s[0] == ' ' || s[0] == '\t' {
			if len(hdrs) == 0 {
				defects = append(defects, "first header line is a continuation line")
			} else {
				h := &hdrs[len(hdrs)-1]
				h.Value += string(s)
			}
			o += len(line)
			continue
		}
		k, v, ok := bytes.Cut(s, []byte(":"))
		k = bytes.TrimRight(k, " \t")
		if !ok || !validKey(k) {
			defects = append(defects, "missing header body separator")
			return hdrs, o, defects
		}
		hdrs = append(hdrs, Header{string(k), string(v)})
		o += len(line)
	}
}

func trimHeaderValues(hdrs Headers) {
	for i := range hdrs {
		hdrs[i].Value = strings.TrimSpace(hdrs[i].Value)
	}
}
