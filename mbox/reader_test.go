package mbox

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	gombox "github.com/emersion/go-mbox"

	"github.com/mjl-/mboxarchive/mlog"
)

var pkglog = mlog.New("mbox", nil)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got %q, expected %q", got, exp)
	}
}

func readAll(t *testing.T, mr *Reader) []*Message {
	t.Helper()
	var l []*Message
	for {
		m, err := mr.Next()
		if err == io.EOF {
			return l
		}
		tcheck(t, err, "next message")
		l = append(l, m)
	}
}

func TestReader(t *testing.T) {
	const mbox = `From alice@example.org Mon Jan  2 15:04:05 2006
Subject: one

body
From here on a body line, not a separator since previous line is not empty.
>From quoted

From bob@example.org Tue Jan  3 15:04:05 2006
Subject: two

body`

	mr := NewReader(pkglog, "test.mbox", strings.NewReader(mbox))
	l := readAll(t, mr)
	if len(l) != 2 {
		t.Fatalf("got %d messages, expected 2", len(l))
	}
	tcompare(t, l[0].FromLine, "From alice@example.org Mon Jan  2 15:04:05 2006")
	tcompare(t, l[0].Line, 1)
	tcompare(t, string(l[0].Text), "Subject: one\n\nbody\nFrom here on a body line, not a separator since previous line is not empty.\n>From quoted\n\n")
	tcompare(t, l[1].Line, 8)
	tcompare(t, string(l[1].Text), "Subject: two\n\nbody")
	tcompare(t, mr.Position(), "test.mbox:12")

	// With mboxrd unquoting.
	mr = NewReader(pkglog, "test.mbox", strings.NewReader(mbox))
	mr.UnquoteFrom = true
	l = readAll(t, mr)
	if !bytes.Contains(l[0].Text, []byte("\nFrom quoted\n")) {
		t.Fatalf("from line not unquoted: %q", l[0].Text)
	}
}

func TestReaderCRLF(t *testing.T) {
	mbox := strings.ReplaceAll("\nFrom a@b  Mon Jan  2 15:04:05 2006\nSubject: x\n\nbody\n\nFrom c@d Mon Jan  2 15:04:05 2006\n", "\n", "\r\n")
	l := readAll(t, NewReader(pkglog, "crlf.mbox", strings.NewReader(mbox)))
	if len(l) != 2 {
		t.Fatalf("got %d messages, expected 2", len(l))
	}
	tcompare(t, string(l[0].Text), "Subject: x\r\n\r\nbody\r\n\r\n")
	tcompare(t, string(l[1].Text), "")
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(pkglog, "bad.mbox", strings.NewReader("Subject: no from line\n")).Next()
	if !errors.Is(err, errNoFromLine) {
		t.Fatalf("got err %v, expected errNoFromLine", err)
	}

	_, err = NewReader(pkglog, "empty.mbox", strings.NewReader("")).Next()
	if err != io.EOF {
		t.Fatalf("got err %v, expected io.EOF for empty file", err)
	}
}

// Files written by another mbox implementation must read back as the same
// messages.
func TestReaderInterop(t *testing.T) {
	var buf bytes.Buffer
	w := gombox.NewWriter(&buf)
	tm := time.Date(2010, 5, 6, 7, 8, 9, 0, time.UTC)
	for _, s := range []string{"one", "two", "three"} {
		mw, err := w.CreateMessage("sender@example.org", tm)
		tcheck(t, err, "create message")
		_, err = io.WriteString(mw, "Message-ID: <"+s+"@example.org>\nSubject: "+s+"\n\nbody "+s+"\n")
		tcheck(t, err, "write message")
	}
	tcheck(t, w.Close(), "close writer")

	l := readAll(t, NewReader(pkglog, "interop.mbox", &buf))
	if len(l) != 3 {
		t.Fatalf("got %d messages, expected 3", len(l))
	}
	for i, s := range []string{"one", "two", "three"} {
		if !bytes.HasPrefix(l[i].Text, []byte("Message-ID: <"+s+"@example.org>\n")) {
			t.Fatalf("message %d: unexpected text %q", i, l[i].Text)
		}
		if !strings.HasPrefix(l[i].FromLine, "From sender@example.org ") {
			t.Fatalf("message %d: unexpected from line %q", i, l[i].FromLine)
		}
	}
}
