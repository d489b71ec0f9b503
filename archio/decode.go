// Package archio has file and reader helpers shared by the converters.
package archio

import (
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Encoding returns the encoding for a MIME charset name, or nil if it is
// unknown or needs no decoding (us-ascii, utf-8).
//
// The IANA index is consulted first. Labels it does not know, e.g. gb2312 or
// other aliases commonly found in old mail, are looked up with the WHATWG
// label table.
func Encoding(name string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "us-ascii", "utf-8", "utf8":
		return nil
	}
	enc, _ := ianaindex.MIME.Encoding(name)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(name)
	}
	if enc == nil {
		enc, _ = charset.Lookup(name)
	}
	return enc
}

// DecodeReader returns a reader that reads from r, decoding as charset. If
// charset is empty, us-ascii, utf-8 or unknown, the original reader is
// returned and no decoding takes place.
func DecodeReader(charset string, r io.Reader) io.Reader {
	enc := Encoding(charset)
	if enc == nil {
		return r
	}
	return enc.NewDecoder().Reader(r)
}
