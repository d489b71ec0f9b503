package message

import (
	"reflect"
	"strings"
	"testing"
)

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %q, expected %q", got, exp)
	}
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestEmptyHeader(t *testing.T) {
	p := Parse([]byte("\r\nx"))
	tcompare(t, len(p.Header), 0)
	tcompare(t, string(p.Body), "x")
	tcompare(t, p.ContentType(), "text/plain")
	tcompare(t, len(p.Defects), 0)
}

func TestHeader(t *testing.T) {
	p := Parse([]byte(crlf("Subject: hello\n world\nX-Dup: 1\nx-dup: 2\nTo:  <a@example.org> \n\nbody\n")))
	tcompare(t, p.Header.Get("subject"), "hello world")
	tcompare(t, p.Header.Values("X-DUP"), []string{"1", "2"})
	tcompare(t, p.Header.Get("To"), "<a@example.org>")
	tcompare(t, p.Header[3].Key, "To")
	tcompare(t, string(p.Body), "body\r\n")

	// Line that is not a header starts the body.
	p = Parse([]byte("Subject: x\nnot a header\nmore\n"))
	tcompare(t, len(p.Header), 1)
	tcompare(t, string(p.Body), "not a header\nmore\n")
	tcompare(t, p.Defects, []string{"missing header body separator"})

	p = Parse([]byte(" continued\nSubject: x\n\n"))
	tcompare(t, p.Header.Get("Subject"), "x")
	tcompare(t, p.Defects, []string{"first header line is a continuation line"})

	// Headers only.
	p = Parse([]byte("Subject: x\n"))
	tcompare(t, p.Header.Get("Subject"), "x")
	tcompare(t, len(p.Body), 0)
}

func TestContentType(t *testing.T) {
	p := Parse([]byte("Content-Type: Text/HTML; Charset=UTF-8\n\n"))
	tcompare(t, p.ContentType(), "text/html")
	tcompare(t, p.Charset(), "utf-8")

	// Stray semicolons and duplicate parameters are parsed leniently.
	p = Parse([]byte("Content-Type: text/html;; charset=iso-8859-1; charset=utf-8\n\ntest"))
	tcompare(t, p.ContentType(), "text/html")
	tcompare(t, p.Charset(), "iso-8859-1")
	tcompare(t, len(p.Defects), 0)

	// Unquoted tspecials in boundary.
	p = Parse([]byte("Content-Type: multipart/mixed; boundary=a=b?c\n\n--a=b?c\n\nx\n--a=b?c--\n"))
	tcompare(t, p.Boundary(), "a=b?c")
	tcompare(t, len(p.Parts), 1)

	p = Parse([]byte("Content-Type: text\n\ntest"))
	tcompare(t, p.ContentType(), "text/plain")
	tcompare(t, p.Defects, []string{`invalid content-type "text"`})

	p = Parse([]byte("Content-Transfer-Encoding: Quoted-Printable\n\n"))
	tcompare(t, p.ContentTransferEncoding, "quoted-printable")
}

func TestMultipart(t *testing.T) {
	msg := crlf(`From: a@example.org
Content-Type: multipart/mixed; boundary="xx"

preamble text
--xx
Content-Type: text/plain

hello
--xx
Content-Type: multipart/alternative; boundary=yy

--yy

plain
--yy--
--xx--
epilogue
`)
	p := Parse([]byte(msg))
	tcompare(t, p.IsMultipart(), true)
	tcompare(t, string(p.Preamble), "preamble text")
	tcompare(t, len(p.Parts), 2)
	tcompare(t, len(p.Defects), 0)

	p1 := p.Parts[0]
	tcompare(t, p1.ContentType(), "text/plain")
	tcompare(t, string(p1.Body), "hello")
	tcompare(t, string(p1.Raw), "Content-Type: text/plain\r\n\r\nhello")

	p2 := p.Parts[1]
	tcompare(t, p2.ContentType(), "multipart/alternative")
	tcompare(t, p2.IsMultipart(), true)
	tcompare(t, string(p2.Preamble), "")
	tcompare(t, len(p2.Parts), 1)
	tcompare(t, len(p2.Parts[0].Header), 0)
	tcompare(t, string(p2.Parts[0].Body), "plain")
	tcompare(t, p2.Parts[0].ContentType(), "text/plain")
}

func TestMultipartDefects(t *testing.T) {
	// Missing closing boundary, last part runs to the end.
	p := Parse([]byte("Content-Type: multipart/mixed; boundary=b\n\n--b\n\none\n--b\n\ntwo\n"))
	tcompare(t, p.IsMultipart(), true)
	tcompare(t, len(p.Parts), 2)
	tcompare(t, string(p.Parts[1].Body), "two\n")
	tcompare(t, p.Defects, []string{"close boundary not found"})

	// No boundary parameter: not split.
	p = Parse([]byte("Content-Type: multipart/mixed\n\n--b\n\none\n--b--\n"))
	tcompare(t, p.IsMultipart(), false)
	tcompare(t, p.MediaType, "multipart")
	tcompare(t, len(p.Parts), 0)

	// Boundary never appears.
	p = Parse([]byte("Content-Type: multipart/mixed; boundary=b\n\njust text\n"))
	tcompare(t, p.IsMultipart(), false)
	tcompare(t, p.Defects, []string{"start boundary not found"})

	// Boundary must be followed by whitespace, end of line or "--".
	p = Parse([]byte("Content-Type: multipart/mixed; boundary=b\n\n--bx\n--b \n\none\n--b--"))
	tcompare(t, string(p.Preamble), "--bx")
	tcompare(t, len(p.Parts), 1)
	tcompare(t, string(p.Parts[0].Body), "one")
}

func TestEmbeddedMessage(t *testing.T) {
	msg := `Content-Type: multipart/digest; boundary=d

--d

From: b@example.org
Subject: inner

inner body
--d--
`
	p := Parse([]byte(msg))
	tcompare(t, len(p.Parts), 1)
	mp := p.Parts[0]
	tcompare(t, mp.ContentType(), "message/rfc822")
	if mp.Message == nil {
		t.Fatalf("missing embedded message")
	}
	tcompare(t, mp.Message.Header.Get("Subject"), "inner")
	tcompare(t, string(mp.Message.Body), "inner body")

	p = Parse([]byte("Content-Type: message/rfc822\n\n \n"))
	if p.Message != nil {
		t.Fatalf("got embedded message for empty body")
	}
}

func TestFilename(t *testing.T) {
	test := func(hdrs, exp string) {
		t.Helper()
		p := Parse([]byte(hdrs + "\n\n"))
		tcompare(t, p.Filename(), exp)
	}
	test(`Content-Disposition: attachment; filename="report.pdf"`, "report.pdf")
	test(`Content-Disposition: attachment; filename*=UTF-8''caf%C3%A9.txt`, "café.txt")
	test(`Content-Disposition: attachment; filename="=?utf-8?q?caf=C3=A9.txt?="`, "café.txt")
	test(`Content-Disposition: attachment; filename="=?iso-8859-1?q?caf=E9.txt?="`, "café.txt")
	test("Content-Type: application/pdf; name=\"report.pdf\"\nContent-Disposition: attachment", "report.pdf")
	test(`Content-Type: application/pdf; name="report.pdf"`, "report.pdf")
	// Malformed disposition parameters, no fallback to name.
	test("Content-Type: application/pdf; name=\"report.pdf\"\nContent-Disposition: attachment; filename=\"x", "")
	test("Content-Type: text/plain", "")
}

func TestDecodeWords(t *testing.T) {
	tcompare(t, DecodeWords("=?utf-8?b?aGVsbG8=?= world"), "hello world")
	tcompare(t, DecodeWords("plain"), "plain")
	tcompare(t, DecodeWords("=?bogus-charset?q?x?="), "=?bogus-charset?q?x?=")
}

func TestNesting(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxDepth+5; i++ {
		b.WriteString("Content-Type: message/rfc822\n\n")
	}
	b.WriteString("Subject: deep\n\nbody\n")
	p := Parse([]byte(b.String()))
	n := 0
	for m := &p; m.Message != nil; m = m.Message {
		n++
	}
	tcompare(t, n, maxDepth)
}
