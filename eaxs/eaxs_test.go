package eaxs

import (
	"context"
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/mjl-/mboxarchive/convert"
	"github.com/mjl-/mboxarchive/message"
	"github.com/mjl-/mboxarchive/mlog"
)

var pkglog = mlog.New("eaxs", nil)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

// wellformed checks that the file is a complete XML document.
func wellformed(t *testing.T, p string) string {
	t.Helper()
	buf, err := os.ReadFile(p)
	tcheck(t, err, "read xml")
	d := xml.NewDecoder(strings.NewReader(string(buf)))
	for {
		_, err := d.Token()
		if err == io.EOF {
			break
		}
		tcheck(t, err, "parsing xml "+p)
	}
	return string(buf)
}

func writeFolder(t *testing.T, mboxText string) convert.Folder {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "inbox.mbox")
	err := os.WriteFile(p, []byte(mboxText), 0644)
	tcheck(t, err, "write mbox")
	return convert.Folder{Name: "inbox", Path: p, Dir: dir}
}

func TestEscape(t *testing.T) {
	tcompare(t, Escape("plain"), "plain")
	tcompare(t, Escape("tab\there\r\n"), "tab\there\r\n")
	tcompare(t, Escape("a<b"), "<![CDATA[a<b]]>")
	tcompare(t, Escape("a & b"), "<![CDATA[a & b]]>")
	tcompare(t, Escape("x]]>y"), "<![CDATA[x&#093;&#093;>y]]>")
	tcompare(t, Escape("a\x01b\x1f"), "a&#183;b&#183;")
	tcompare(t, Escape("a\x0b<"), "<![CDATA[a·<]]>")
	tcompare(t, Escape("caf\xe9"), "caf\uFFFD")
	tcompare(t, Escape("a\uFFFEb\uFFFF"), "a&#183;b&#183;")

	// Unescaping CDATA gives back the text, with illegal characters as middle dot.
	unescape := func(s string) string {
		if strings.HasPrefix(s, "<![CDATA[") && strings.HasSuffix(s, "]]>") {
			s = strings.TrimSuffix(strings.TrimPrefix(s, "<![CDATA["), "]]>")
			return strings.ReplaceAll(s, "&#093;&#093;", "]]")
		}
		return strings.ReplaceAll(s, "&#183;", "·")
	}
	for _, s := range []string{"]]>", "a]]>b]]", "<x>", "a & b", "]]]]>>", "x\x01<\x1f&", "\x02\x03", "tab\t<cr\r\n"} {
		exp := strings.Map(func(c rune) rune {
			if illegal(c) {
				return '·'
			}
			return c
		}, s)
		tcompare(t, unescape(Escape(s)), exp)
	}
}

func TestWrappedMarkup(t *testing.T) {
	var b strings.Builder
	p := &convert.Part{ContentType: "application/x<y", TransferEncoding: "x&y", FileName: "a<b.txt", Content: []byte("1 < 2\n")}
	err := writeWrapped(&b, "id", p)
	tcheck(t, err, "write wrapped")
	d := xml.NewDecoder(strings.NewReader(b.String()))
	for {
		_, err := d.Token()
		if err == io.EOF {
			break
		}
		tcheck(t, err, "parsing wrapped xml")
	}
	if !strings.Contains(b.String(), "<ContentType><![CDATA[application/x<y]]></ContentType>") {
		t.Fatalf("content type not escaped:\n%s", b.String())
	}
}

func TestCharset(t *testing.T) {
	text := "Message-ID: <latin1@example.org>\nDate: Mon, 2 Jan 2006 15:04:05 -0700\nFrom: a@example.org\nSubject: caf\xe9\nX-Odd: a\xef\xbf\xbeb\nContent-Type: text/plain; charset=iso-8859-1\nContent-Transfer-Encoding: 8bit\n\nna\xefve caf\xe9\n"
	f := writeFolder(t, "From a@example.org Mon Jan  2 15:04:05 2006\n"+text)
	e := New(pkglog, "test", Options{})
	run := convert.NewRun(pkglog, "test")
	err := run.ProcessFolder(ctxbg, f, e)
	tcheck(t, err, "process folder")

	doc := wellformed(t, filepath.Join(f.Dir, "inbox.xml"))
	for _, s := range []string{
		"<Subject>caf\uFFFD</Subject>",
		"<Value>a&#183;b</Value>",
		"<Content>naïve café\n</Content>",
	} {
		if !strings.Contains(doc, s) {
			t.Fatalf("missing %q in xml:\n%s", s, doc)
		}
	}
}

func TestMessage(t *testing.T) {
	text := `Message-ID: <a@example.org>
Date: Mon, 2 Jan 2006 15:04:05 -0700
From: a@example.org
Subject: x < y
X-Mailer: test

hello
`
	f := writeFolder(t, "From a@example.org Mon Jan  2 15:04:05 2006\n"+text)
	e := New(pkglog, "test", Options{})
	run := convert.NewRun(pkglog, "test")
	err := run.ProcessFolder(ctxbg, f, e)
	tcheck(t, err, "process folder")

	xmlPath := filepath.Join(f.Dir, "inbox.xml")
	tcompare(t, e.Files(), []string{xmlPath})
	_, err = os.Stat(filepath.Join(f.Dir, "inbox_1.xml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got err %v for chunk file, expected not exist", err)
	}

	exp := `<?xml version="1.0" encoding="UTF-8"?>
` + accountHead + `
  <GlobalId>test</GlobalId>
  <Folder>
    <Name>inbox</Name>
    <Message>
      <RelPath>.</RelPath>
      <LocalId>1001</LocalId>
      <MessageId><![CDATA[<a@example.org>]]></MessageId>
      <OrigDate>2006-01-02T15:04:05-07:00</OrigDate>
      <From>a@example.org</From>
      <Subject><![CDATA[x < y]]></Subject>
      <Header>
        <Name>Date</Name>
        <Value>Mon, 2 Jan 2006 15:04:05 -0700</Value>
      </Header>
      <Header>
        <Name>X-Mailer</Name>
        <Value>test</Value>
      </Header>
      <SingleBody>
        <BodyContent>
        <Content>hello
</Content>
        </BodyContent>
      </SingleBody>
      <Eol>LF</Eol>
      <Hash>
        <Value>` + message.SHA1([]byte(text)) + `</Value>
        <Function>SHA1</Function>
      </Hash>
    </Message>
    <Mbox>
      <RelPath>./inbox.mbox</RelPath>
      <Eol>CRLF</Eol>
    </Mbox>
  </Folder>
</Account>
`
	tcompare(t, wellformed(t, xmlPath), exp)

	lf, err := os.Open(filepath.Join(f.Dir, "inbox.csv"))
	tcheck(t, err, "open message log")
	defer lf.Close()
	rows, err := csv.NewReader(lf).ReadAll()
	tcheck(t, err, "read message log")
	tcompare(t, rows, [][]string{
		logColumns,
		{"a@example.org", "", "Mon, 2 Jan 2006 15:04:05 -0700", "x < y", "<a@example.org>", message.SHA1([]byte(text)), "0", ""},
	})
}

func TestChunks(t *testing.T) {
	var mb strings.Builder
	body := strings.Repeat("line of text\n", 120)
	for _, id := range []string{"one", "two", "three"} {
		mb.WriteString("From a@example.org Mon Jan  2 15:04:05 2006\nMessage-ID: <" + id + "@example.org>\nSubject: " + id + "\n\n" + body + "\n")
	}
	f := writeFolder(t, mb.String())
	e := New(pkglog, "test", Options{ChunkBytes: 1000})
	run := convert.NewRun(pkglog, "test")
	err := run.ProcessFolder(ctxbg, f, e)
	tcheck(t, err, "process folder")

	var exp []string
	for _, s := range []string{"1", "2", "3"} {
		exp = append(exp, filepath.Join(f.Dir, "inbox_"+s+".xml"))
	}
	tcompare(t, e.Files(), exp)

	localID := regexp.MustCompile(`(?m)^      <LocalId>(\d+)</LocalId>$`)
	var ids []string
	for i, p := range exp {
		s := wellformed(t, p)
		tcompare(t, strings.Count(s, "<Message>"), 1)
		tcompare(t, strings.Count(s, "<Name>inbox</Name>"), 1)
		for _, m := range localID.FindAllStringSubmatch(s, -1) {
			ids = append(ids, m[1])
		}
		_, err := os.Stat(filepath.Join(f.Dir, "inbox_"+[]string{"1", "2", "3"}[i]+".csv"))
		tcheck(t, err, "stat message log")
	}
	tcompare(t, ids, []string{"1001", "1002", "1003"})
}

const attachmentMbox = `From a@example.org Mon Jan  2 15:04:05 2006
Message-ID: <att@example.org>
From: a@example.org
Subject: attachment
Content-Type: multipart/mixed; boundary=b

preamble
--b
Content-Type: text/plain
Content-Transfer-Encoding: quoted-printable

soft=
break & more
--b
Content-Type: application/pdf; name=report.pdf
Content-Disposition: attachment; filename=report.pdf
Content-Transfer-Encoding: base64

aGVsbG8gd29ybGQ=
--b
Content-Type: message/rfc822

From: b@example.org
To: a@example.org
Date: Tue, 3 Jan 2006 10:00:00 +0000
Subject: inner

inner
--b--
`

func TestAttachment(t *testing.T) {
	f := writeFolder(t, attachmentMbox)
	e := New(pkglog, "test", Options{SubdirLevels: 1})
	run := convert.NewRun(pkglog, "test")
	err := run.ProcessFolder(ctxbg, f, e)
	tcheck(t, err, "process folder")
	tcompare(t, e.ExternalFiles, 1)

	s := wellformed(t, filepath.Join(f.Dir, "inbox.xml"))
	for _, l := range []string{
		"      <MultiBody>\n        <ContentType>multipart/mixed</ContentType>\n        <BoundaryString>b</BoundaryString>\n        <Preamble>preamble</Preamble>\n",
		"          <Content><![CDATA[softbreak & more]]></Content>\n",
		"          <ContentType>application/pdf</ContentType>\n          <TransferEncoding>base64</TransferEncoding>\n          <Disposition>attachment</Disposition>\n          <DispositionFileName>report.pdf</DispositionFileName>\n          <ExtBodyContent>\n",
		"            <LocalId>1002</LocalId>\n            <XMLWrapped>true</XMLWrapped>\n",
		"          <ChildMessage>\n            <LocalId>1003</LocalId>\n            <MessageId>",
		"            <Subject>inner</Subject>\n",
	} {
		if !strings.Contains(s, l) {
			t.Fatalf("missing %q in xml:\n%s", l, s)
		}
	}

	m := regexp.MustCompile(`<RelPath>\./([0-9a-f]{2}/[0-9a-f-]{36}\.xml)</RelPath>`).FindStringSubmatch(s)
	if m == nil {
		t.Fatalf("no external body content in xml:\n%s", s)
	}
	buf, err := os.ReadFile(filepath.Join(f.Dir, filepath.FromSlash(m[1])))
	tcheck(t, err, "read external file")
	sum := sha1.Sum(buf)
	if !strings.Contains(s, "<Value>"+hex.EncodeToString(sum[:])+"</Value>") {
		t.Fatalf("missing hash of external file in xml")
	}
	uuid := strings.TrimSuffix(filepath.Base(m[1]), ".xml")
	tcompare(t, string(buf), `<ExternalBodyPart>
<LocalUniqueID>`+uuid+`</LocalUniqueID>
<ContentType>application/pdf</ContentType>
<Disposition>attachment</Disposition>
<DispositionFileName>report.pdf</DispositionFileName>
<ContentTransferEncoding>base64</ContentTransferEncoding>
<Content>
aGVsbG8gd29ybGQ=</Content>
</ExternalBodyPart>
`)

	// Attachments inline.
	f = writeFolder(t, attachmentMbox)
	e = New(pkglog, "test", Options{InternalAttachments: true})
	err = convert.NewRun(pkglog, "test").ProcessFolder(ctxbg, f, e)
	tcheck(t, err, "process folder")
	tcompare(t, e.ExternalFiles, 0)
	s = wellformed(t, filepath.Join(f.Dir, "inbox.xml"))
	if !strings.Contains(s, "<Content>aGVsbG8gd29ybGQ=</Content>") {
		t.Fatalf("missing inline attachment in xml:\n%s", s)
	}
}

// Aborted processing leaves a complete document.
func TestClose(t *testing.T) {
	f := writeFolder(t, attachmentMbox)
	e := New(pkglog, "test", Options{})
	err := e.StartFolder(ctxbg, f)
	tcheck(t, err, "start folder")
	err = e.Close()
	tcheck(t, err, "close")
	p := filepath.Join(f.Dir, "inbox_1.xml")
	tcompare(t, e.Files(), []string{p})
	s := wellformed(t, p)
	if !strings.HasSuffix(s, "    <Name>inbox</Name>\n  </Folder>\n</Account>\n") {
		t.Fatalf("bad end of document:\n%s", s)
	}

	// Canceled run.
	ctx, cancel := context.WithCancel(ctxbg)
	cancel()
	e = New(pkglog, "test", Options{})
	err = convert.NewRun(pkglog, "test").ProcessFolder(ctx, f, e)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got err %v, expected context.Canceled", err)
	}
	err = e.Close()
	tcheck(t, err, "close")
	wellformed(t, p)
}
