package message

// todo: parse message/global like message/rfc822? they are rare in archives, and would need the content-transfer-encoding decoded first.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/mjl-/mboxarchive/archio"
)

// maxDepth is the maximum nesting of multiparts and embedded messages. Deeper
// parts are kept as opaque content.
const maxDepth = 50

// Part represents a whole mail message, or a part of a multipart message, or
// a message embedded in a message/rfc822 part.
//
// Parts are parsed from an in-memory message. All byte slices point into the
// buffer given to Parse.
type Part struct {
	Header Headers // Headers in message order.

	MediaType               string            // From Content-Type, lower case. E.g. "text". Defaults to "text" when absent or invalid.
	MediaSubType            string            // From Content-Type, lower case. E.g. "plain".
	ContentTypeParams       map[string]string // E.g. holds "boundary" for multipart messages. Has lower-case keys, and original case values.
	ContentTransferEncoding string            // Lower case, empty if absent.

	Raw      []byte // Entire part, header and body, as found in the message.
	Body     []byte // Raw body, after the empty line ending the header.
	Preamble []byte // For multiparts, text before the first boundary, without the line ending that belongs to the boundary.

	Parts []Part // Parts if this is a multipart with a boundary.

	// Only for message/rfc822, if the body is not empty. Parsed from Body, so
	// transfer-encoded embedded messages are not handled.
	Message *Part

	// Problems found during parsing. Parsing continues after a defect,
	// interpreting the message the best it can.
	Defects []string

	multipart bool // Whether Parts were split at boundaries.
}

// Parse parses a message. Parse never fails: problems with the message are
// recorded as defects in the returned part, or its subparts.
func Parse(buf []byte) Part {
	return parse(buf, 0, "text", "plain")
}

func parse(buf []byte, depth int, defType, defSubType string) Part {
	p := Part{Raw: buf}
	hdrs, bodyOffset, defects := parseHeader(buf)
	trimHeaderValues(hdrs)
	p.Header = hdrs
	p.Body = buf[bodyOffset:]
	p.Defects = defects

	p.setContentType(p.Header.Get("Content-Type"), defType, defSubType)
	p.ContentTransferEncoding = strings.ToLower(p.Header.Get("Content-Transfer-Encoding"))

	if p.MediaType == "multipart" {
		if depth >= maxDepth {
			p.Defects = append(p.Defects, "multipart nested too deeply")
		} else if p.Boundary() != "" {
			p.parseMultipart(depth)
		}
	} else if p.MediaType == "message" && p.MediaSubType == "rfc822" && len(bytes.TrimSpace(p.Body)) > 0 {
		if depth >= maxDepth {
			p.Defects = append(p.Defects, "embedded message nested too deeply")
		} else {
			m := parse(p.Body, depth+1, "text", "plain")
			p.Message = &m
		}
	}
	return p
}

// IsMultipart returns whether the part is a multipart that was split into
// subparts at its boundary.
func (p *Part) IsMultipart() bool {
	return p.multipart
}

// Boundary returns the multipart boundary parameter, or empty.
func (p *Part) Boundary() string {
	return p.ContentTypeParams["boundary"]
}

// Charset returns the lower case charset parameter of the Content-Type, or
// empty.
func (p *Part) Charset() string {
	return strings.ToLower(p.ContentTypeParams["charset"])
}

// ContentType returns the lower case media type with subtype, e.g.
// "text/plain".
func (p *Part) ContentType() string {
	return p.MediaType + "/" + p.MediaSubType
}

func (p *Part) String() string {
	return fmt.Sprintf("&Part{%s, %d parts, %d defects}", p.ContentType(), len(p.Parts), len(p.Defects))
}

func (p *Part) setContentType(v, defType, defSubType string) {
	p.MediaType, p.MediaSubType = defType, defSubType
	p.ContentTypeParams = map[string]string{}
	if v == "" {
		return
	}
	mt, params, err := mime.ParseMediaType(v)
	if err != nil {
		// Real-world messages contain unquoted tspecials in boundaries, duplicate
		// parameters and stray semicolons. We parse those leniently.
		mt, params = parseMediaTypeLenient(v)
	}
	t, st, ok := strings.Cut(mt, "/")
	if !ok || t == "" || st == "" || strings.Contains(st, "/") {
		p.Defects = append(p.Defects, fmt.Sprintf("invalid content-type %q", v))
		return
	}
	p.MediaType, p.MediaSubType = t, st
	p.ContentTypeParams = params
}

// parseMediaTypeLenient parses "type/subtype; k=v; ..." without rejecting
// the value. Parameter values can be quoted. The first occurrence of a
// parameter wins.
func parseMediaTypeLenient(v string) (string, map[string]string) {
	params := map[string]string{}
	segs := splitParams(v)
	mt := strings.ToLower(strings.TrimSpace(segs[0]))
	for _, seg := range segs[1:] {
		k, pv, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		pv = strings.TrimSpace(pv)
		if len(pv) >= 2 && pv[0] == '"' && pv[len(pv)-1] == '"' {
			pv = strings.ReplaceAll(pv[1:len(pv)-1], `\"`, `"`)
		}
		if _, ok := params[k]; k != "" && !ok {
			params[k] = pv
		}
	}
	return mt, params
}

// splitParams splits v at semicolons that are not inside a quoted string.
func splitParams(v string) []string {
	var l []string
	var quoted, esc bool
	start := 0
	for i, c := range v {
		switch {
		case esc:
			esc = false
		case c == '\\' && quoted:
			esc = true
		case c == '"':
			quoted = !quoted
		case c == ';' && !quoted:
			l = append(l, v[start:i])
			start = i + 1
		}
	}
	return append(l, v[start:])
}

// checkBound returns whether line is a boundary line for bound (which
// includes the leading "--"), and whether it is the closing boundary.
func checkBound(line, bound []byte) (bool, bool) {
	if !bytes.HasPrefix(line, bound) {
		return false, false
	}
	line = line[len(bound):]
	if bytes.HasPrefix(line, []byte("--")) {
		return true, true
	}
	if len(line) == 0 {
		return true, false
	}
	c := line[0]
	switch c {
	case ' ', '\t', '\r', '\n':
		return true, false
	}
	return false, false
}

// beforeEOL returns the offset in buf before the line ending that ends at o,
// the line ending belonging to the boundary that follows.
func beforeEOL(buf []byte, start, o int) int {
	if o-2 >= start && buf[o-2] == '\r' && buf[o-1] == '\n' {
		return o - 2
	} else if o-1 >= start && buf[o-1] == '\n' {
		return o - 1
	}
	return o
}

func (p *Part) parseMultipart(depth int) {
	bound := []byte("--" + p.Boundary())
	defType, defSubType := "text", "plain"
	if p.MediaSubType == "digest" {
		defType, defSubType = "message", "rfc822"
	}

	body := p.Body
	found := false
	closed := false
	partStart := 0
	for o := 0; o < len(body); {
		line := nextLine(body, o)
		isBound, last := checkBound(line, bound)
		if !isBound {
			o += len(line)
			continue
		}
		if !found {
			found = true
			p.Preamble = body[:beforeEOL(body, 0, o)]
		} else {
			end := beforeEOL(body, partStart, o)
			p.Parts = append(p.Parts, parse(body[partStart:end], depth+1, defType, defSubType))
		}
		o += len(line)
		partStart = o
		if last {
			closed = true
			break
		}
	}
	if !found {
		p.Defects = append(p.Defects, "start boundary not found")
		return
	}
	if !closed {
		p.Defects = append(p.Defects, "close boundary not found")
		if partStart < len(body) {
			p.Parts = append(p.Parts, parse(body[partStart:], depth+1, defType, defSubType))
		}
	}
	p.multipart = true
}

// Filename returns the file name of the part from the Content-Disposition
// "filename" parameter, falling back to the Content-Type "name" parameter. If
// the Content-Disposition parameters are malformed, no file name is returned.
func (p *Part) Filename() string {
	if cd := p.Header.Get("Content-Disposition"); cd != "" {
		_, params, err := mime.ParseMediaType(cd)
		if err != nil {
			return ""
		}
		if s := tryDecodeParam(params["filename"]); s != "" {
			return s
		}
	}
	return tryDecodeParam(p.ContentTypeParams["name"])
}

var wordDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, r io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "", "us-ascii", "utf-8":
			return r, nil
		}
		if archio.Encoding(charset) == nil {
			return nil, fmt.Errorf("%w: %q", errUnknownCharset, charset)
		}
		return archio.DecodeReader(charset, r), nil
	},
}

var errUnknownCharset = errors.New("unknown charset")

// Attempt q/b-word decode of name, coming from Content-Type "name" field or
// Content-Disposition "filename" field.
//
// Go's mime.ParseMediaType only decodes the RFC 2231 mechanism for non-ascii
// parameters, but mail software commonly q/b-word encodes the value instead.
// We look for encoded-word markers and decode if present, keeping the original
// value if decoding fails.
func tryDecodeParam(name string) string {
	if name == "" || !strings.HasPrefix(name, "=?") && !strings.HasSuffix(name, "?=") {
		return name
	}
	s, err := wordDecoder.DecodeHeader(name)
	if err != nil {
		return name
	}
	return s
}

// DecodeWords decodes RFC 2047 encoded-words in a header value. If decoding
// fails, the value is returned unchanged.
func DecodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	r, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return r
}
