package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	gombox "github.com/emersion/go-mbox"

	"github.com/mjl-/mboxarchive/address"
	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/header"
	"github.com/mjl-/mboxarchive/mbox"
	"github.com/mjl-/mboxarchive/message"
	"github.com/mjl-/mboxarchive/mlog"
)

var pkglog = mlog.New("convert", nil)

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

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// recorder is an emitter that keeps the messages it is given.
type recorder struct {
	folders  []string
	finished []string
	messages []*Message
	fail     func(m *Message) error
}

func (r *recorder) StartFolder(ctx context.Context, f Folder) error {
	r.folders = append(r.folders, f.Name)
	return nil
}

func (r *recorder) Message(ctx context.Context, m *Message) error {
	if r.fail != nil {
		if err := r.fail(m); err != nil {
			return err
		}
	}
	r.messages = append(r.messages, m)
	return nil
}

func (r *recorder) FinishFolder(ctx context.Context, f Folder) error {
	r.finished = append(r.finished, f.Name)
	return nil
}

func process(t *testing.T, text string) *Message {
	t.Helper()
	r := NewRun(pkglog, "test")
	m, err := r.Process(ctxbg, Folder{Name: "inbox"}, &mbox.Message{Line: 1, Text: []byte(text)})
	tcheck(t, err, "process")
	if m == nil {
		t.Fatalf("message skipped")
	}
	return m
}

func writeFolder(t *testing.T, dir, name, mboxText string) Folder {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name)+".mbox")
	err := os.MkdirAll(filepath.Dir(p), 0755)
	tcheck(t, err, "mkdir")
	err = os.WriteFile(p, []byte(mboxText), 0644)
	tcheck(t, err, "write mbox")
	return Folder{Name: name, Path: p, Dir: dir}
}

func TestProcess(t *testing.T) {
	text := crlf(`Message-ID: <a@example.org>
Date: Mon, 2 Jan 2006 15:04:05 -0700
From: "Doe, Jane" <Jane@Example.org>
To: bob@example.org, Carol <carol@example.org>
In-Reply-To: <parent@example.org>
Subject: test
X-Mailer: test

hello
`)
	m := process(t, text)
	tcompare(t, m.GlobalID, "<a@example.org>")
	tcompare(t, m.EOL, message.EOLCRLF)
	tcompare(t, m.SHA1, message.SHA1([]byte(text)))
	tcompare(t, m.DateTime, "2006-01-02 15:04:05")
	tcompare(t, m.ZOffset, "-0700")
	tcompare(t, m.InReplyTo, "<parent@example.org>")
	tcompare(t, m.Addresses[header.From], []address.Pair{{Name: "Doe, Jane", Address: "jane@example.org"}})
	tcompare(t, m.Addresses[header.To], []address.Pair{{Name: "", Address: "bob@example.org"}, {Name: "Carol", Address: "carol@example.org"}})
	tcompare(t, len(m.Header.Other), 1)
	tcompare(t, m.Header.Other[0].Key, "X-Mailer")
	tcompare(t, len(m.Parts), 1)
	tcompare(t, m.Parts[0].Seq, 1)
	tcompare(t, m.Parts[0].Parent, 0)
	tcompare(t, m.Parts[0].Kind, SingleBody)
	tcompare(t, string(m.Parts[0].Content), "hello\r\n")
	tcompare(t, len(m.Errors), 0)
}

func TestDateFallback(t *testing.T) {
	for _, date := range []string{"", "Date: yesterday\n", "Date: 2 Jan 2006 15:04 +0100\n"} {
		m := process(t, "Message-ID: <d@example.org>\n"+date+"\nbody\n")
		tcompare(t, m.DateTime, message.ZeroDate)
		tcompare(t, m.ZOffset, message.ZeroOffset)
	}
}

// Multipart message with a text part and an attachment.
func TestAttachmentParts(t *testing.T) {
	m := process(t, crlf(`Message-ID: <b@example.org>
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

Hello.
--b1
Content-Type: application/pdf; name="r.pdf"
Content-Disposition: attachment; filename="r.pdf"
Content-Transfer-Encoding: base64

JVBERi0=
--b1--
`))
	tcompare(t, len(m.Parts), 3)
	var seqs, parents []int
	for _, p := range m.Parts {
		seqs = append(seqs, p.Seq)
		parents = append(parents, p.Parent)
	}
	tcompare(t, seqs, []int{1, 2, 3})
	tcompare(t, parents, []int{0, 1, 1})
	tcompare(t, m.Parts[0].Kind, MultiBody)
	tcompare(t, m.Parts[0].Header.Tags[header.BoundaryString], "b1")
	tcompare(t, m.Parts[1].Kind, SingleBody)
	tcompare(t, m.Parts[1].Attachment, false)
	tcompare(t, m.Parts[1].Header.Tags[header.Charset], "utf-8")
	tcompare(t, string(m.Parts[1].Content), "Hello.")
	p := m.Parts[2]
	tcompare(t, p.Attachment, true)
	tcompare(t, p.FileName, "r.pdf")
	tcompare(t, p.TransferEncoding, "base64")
	tcompare(t, p.ContentType, "application/pdf")
	tcompare(t, string(p.Content), "JVBERi0=")
	tcompare(t, Children(m.Parts, 0), []int{1, 2})
	tcompare(t, len(Children(m.Parts, 1)), 0)
}

// Sequence ids are dense in pre-order, and parents come before children.
func TestSequence(t *testing.T) {
	m := process(t, `Message-ID: <c@example.org>
Content-Type: multipart/mixed; boundary=o

--o
Content-Type: multipart/alternative; boundary=i

--i

plain
--i
Content-Type: text/html

<p>html</p>
--i--
--o
Content-Type: message/rfc822

Message-ID: <inner@example.org>
From: x@example.org
To: y@example.org
Date: Mon, 2 Jan 2006 15:04:05 -0700
Subject: inner
Content-Type: multipart/mixed; boundary=c

--c

child text
--c--
--o
Content-Type: message/delivery-status

Status: 5.0.0
--o--
`)
	kinds := make([]Kind, len(m.Parts))
	for i, p := range m.Parts {
		tcompare(t, p.Seq, i+1)
		if p.Parent >= p.Seq {
			t.Fatalf("part %d has parent %d", p.Seq, p.Parent)
		}
		kinds[i] = p.Kind
	}
	tcompare(t, kinds, []Kind{MultiBody, MultiBody, SingleBody, SingleBody, ChildMessage, MultiBody, SingleBody})
	tcompare(t, m.Parts[4].Child.GlobalID, "<inner@example.org>")
	tcompare(t, m.Parts[4].Child.Generated, false)
	tcompare(t, m.Parts[4].Child.Header.Tags[header.Subject], "inner")
	tcompare(t, m.Parts[5].Parent, 5)
	tcompare(t, m.Parts[6].Parent, 6)
	tcompare(t, string(m.Parts[6].Content), "child text")
	tcompare(t, m.Errors, []string{"skipping message part with ContentType: message/delivery-status"})
}

func TestChildMessage(t *testing.T) {
	// Embedded message without Message-ID gets a generated id.
	m := process(t, `Message-ID: <p@example.org>
Content-Type: message/rfc822

From: x@example.org
To: y@example.org
Date: Mon, 2 Jan 2006 15:04:05 -0700
Subject: inner

text
`)
	tcompare(t, len(m.Parts), 2)
	tcompare(t, m.Parts[0].Kind, ChildMessage)
	tcompare(t, m.Parts[0].Child.Generated, true)
	tcompare(t, len(m.Parts[0].Child.GlobalID), 36)

	// Missing required header, kept as content.
	m = process(t, `Message-ID: <p@example.org>
Content-Type: message/rfc822

From: x@example.org
To: y@example.org
Date: Mon, 2 Jan 2006 15:04:05 -0700

text
`)
	tcompare(t, len(m.Parts), 1)
	tcompare(t, m.Parts[0].Kind, SingleBody)
	tcompare(t, m.Errors, []string{"child message lacks required header Subject:"})
	if !strings.HasPrefix(string(m.Parts[0].Content), "From: x@example.org") {
		t.Fatalf("content of downgraded child message: %q", m.Parts[0].Content)
	}

	m = process(t, "Message-ID: <p@example.org>\nContent-Type: message/rfc822\n\n")
	tcompare(t, m.Errors, []string{"no MessageId for child"})
}

func TestDefects(t *testing.T) {
	m := process(t, "Message-ID: <x@example.org>\nContent-Type: multipart/mixed\n\n--b\n\none\n--b--\n")
	tcompare(t, len(m.Parts), 1)
	tcompare(t, m.Parts[0].Kind, SingleBody)
	tcompare(t, m.Errors, []string{"multipart with no boundary string"})

	m = process(t, "Message-ID: <x@example.org>\nContent-Type: multipart/mixed; boundary=b\n\n--b\n\none\n")
	tcompare(t, len(m.Parts), 2)
	tcompare(t, m.Errors, []string{"message defect: close boundary not found"})
}

// Skipped messages, duplicates across folders, and emitter errors.
func TestProcessFolder(t *testing.T) {
	dir := t.TempDir()
	f1 := writeFolder(t, dir, "inbox", `From sender@example.org Mon Jan  2 15:04:05 2006
Message-ID: <one@example.org>
Subject: one

one

From sender@example.org Mon Jan  2 15:04:05 2006
Subject: no id

x

From sender@example.org Mon Jan  2 15:04:05 2006
Message-ID: <one@example.org>
Subject: dup

dup
`)
	f2 := writeFolder(t, dir, "archive/2006", `From sender@example.org Mon Jan  2 15:04:05 2006
Message-ID: <one@example.org>
Subject: again

one

From sender@example.org Mon Jan  2 15:04:05 2006
Message-ID: <two@example.org>
Subject: two

two

From sender@example.org Mon Jan  2 15:04:05 2006
Message-ID: <three@example.org>
Subject: three

three
`)

	run := NewRun(pkglog, "test")
	rec := &recorder{
		fail: func(m *Message) error {
			if m.GlobalID == "<three@example.org>" {
				return errors.New("bad message")
			}
			return nil
		},
	}
	err := run.ProcessFolder(ctxbg, f1, rec)
	tcheck(t, err, "process folder")
	err = run.ProcessFolder(ctxbg, f2, rec)
	tcheck(t, err, "process folder")

	tcompare(t, rec.folders, []string{"inbox", "archive/2006"})
	tcompare(t, rec.finished, []string{"inbox", "archive/2006"})
	tcompare(t, len(rec.messages), 2)
	tcompare(t, rec.messages[0].Header.Tags[header.Subject], "one")
	tcompare(t, rec.messages[0].Folder.Name, "inbox")
	tcompare(t, rec.messages[1].GlobalID, "<two@example.org>")
	tcompare(t, rec.messages[1].Line, 7)

	tcompare(t, run.TotalMessages, 6)
	tcompare(t, run.Duplicates, 2)
	tcompare(t, run.NoID, 1)
	tcompare(t, run.Failed, 1)
	tcompare(t, run.Emitted, 2)
	tcompare(t, run.Warnings(), []Warning{
		{`No "Message-ID" header for message`, 1},
		{"Skipping duplicate message: <one@example.org> in folder inbox", 1},
		{"Skipping duplicate message: <one@example.org> in folder archive/2006", 1},
		{"bad message", 1},
	})

	// Fatal errors abort.
	run = NewRun(pkglog, "test")
	rec = &recorder{
		fail: func(m *Message) error {
			return fmt.Errorf("writing: %w", contentstore.ErrFatal)
		},
	}
	err = run.ProcessFolder(ctxbg, f2, rec)
	if !errors.Is(err, contentstore.ErrFatal) {
		t.Fatalf("got err %v, expected ErrFatal", err)
	}
	tcompare(t, len(rec.finished), 0)

	// Canceled context.
	ctx, cancel := context.WithCancel(ctxbg)
	cancel()
	err = NewRun(pkglog, "test").ProcessFolder(ctx, f2, &recorder{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got err %v, expected context.Canceled", err)
	}
}

// Messages written by another mbox implementation.
func TestInterop(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "interop.mbox")
	fh, err := os.Create(p)
	tcheck(t, err, "create")
	w := gombox.NewWriter(fh)
	tm := time.Date(2010, 5, 6, 7, 8, 9, 0, time.UTC)
	for i := 0; i < 3; i++ {
		mw, err := w.CreateMessage("sender@example.org", tm)
		tcheck(t, err, "create message")
		_, err = fmt.Fprintf(mw, "Message-ID: <%d@example.org>\nSubject: msg %d\n\nFrom here on\n", i, i)
		tcheck(t, err, "write message")
	}
	tcheck(t, w.Close(), "close mbox writer")
	tcheck(t, fh.Close(), "close file")

	run := NewRun(pkglog, "test")
	rec := &recorder{}
	err = run.ProcessFolder(ctxbg, Folder{Name: "interop", Path: p, Dir: dir}, rec)
	tcheck(t, err, "process folder")
	tcompare(t, len(rec.messages), 3)
	for i, m := range rec.messages {
		tcompare(t, m.GlobalID, fmt.Sprintf("<%d@example.org>", i))
		tcompare(t, m.EOL, message.EOLLF)
	}
}

func TestFindFolders(t *testing.T) {
	dir := t.TempDir()
	writeFolder(t, dir, "inbox", "")
	writeFolder(t, dir, "work/2020", "")
	writeFolder(t, dir, "Archive", "")
	err := os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644)
	tcheck(t, err, "write file")

	folders, err := FindFolders(dir)
	tcheck(t, err, "find folders")
	var names []string
	for _, f := range folders {
		names = append(names, f.Name)
	}
	tcompare(t, names, []string{"Archive", "inbox", "work/2020"})
	tcompare(t, folders[2].Base(), "2020")
	tcompare(t, folders[2].Path, filepath.Join(dir, "work", "2020.mbox"))

	f, err := SelectFolder(folders, "work/2020")
	tcheck(t, err, "select folder")
	tcompare(t, f.Name, "work/2020")
	_, err = SelectFolder(folders, "absent")
	if !errors.Is(err, ErrUnknownFolder) {
		t.Fatalf("got err %v, expected ErrUnknownFolder", err)
	}

	err = os.WriteFile(filepath.Join(dir, "inbox.MBOX"), nil, 0644)
	tcheck(t, err, "write file")
	_, err = FindFolders(dir)
	if !errors.Is(err, ErrDuplicateFolder) {
		t.Fatalf("got err %v, expected ErrDuplicateFolder", err)
	}
}

func TestSummary(t *testing.T) {
	run := NewRun(pkglog, "acme")
	run.TotalMessages = 1500
	run.Duplicates = 2
	run.Emitted = 1498
	run.Warn("a")
	run.Warn("b")
	run.Warn("a")

	var b strings.Builder
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summary{
		Dir:          "/archive/acme",
		Settings:     []string{"do only one folder: inbox"},
		OutputFiles:  []string{"/archive/acme/inbox.xml"},
		EmittedLabel: "total messages in XML output",
		Totals:       []string{"external content files: 3"},
		Start:        start,
	}
	err := run.WriteSummary(&b, s, start.Add(time.Hour+2*time.Minute+3*time.Second))
	tcheck(t, err, "write summary")
	exp := `########## SETTINGS ##########
account: acme
account directory: /archive/acme
do only one folder: inbox

output file: /archive/acme/inbox.xml

########## WARNINGS ##########
a (2 times)
b (1 times)

########## SUMMARY ##########
total messages in mbox file(s): 1,500
duplicate messages skipped: 2
total messages in XML output: 1,498
external content files: 3

########## ELAPSED TIME ##########
01:02:03
`
	tcompare(t, b.String(), exp)
	tcompare(t, Elapsed(26*time.Hour+5*time.Second), "26:00:05")
}
