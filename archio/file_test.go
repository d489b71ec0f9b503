package archio

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func TestMkdir(t *testing.T) {
	dir := t.TempDir()

	sub := filepath.Join(dir, "ab")
	err := Mkdir(sub, 0775)
	tcheck(t, err, "mkdir")
	fi, err := os.Stat(sub)
	tcheck(t, err, "stat")
	if fi.Mode().Perm() != 0775 {
		t.Fatalf("got perm %o, expected 0775", fi.Mode().Perm())
	}

	// Existing directory is fine.
	err = Mkdir(sub, 0775)
	tcheck(t, err, "mkdir again")

	// Existing file is not.
	fpath := filepath.Join(dir, "cd")
	err = os.WriteFile(fpath, []byte("x"), 0644)
	tcheck(t, err, "write file")
	if err := Mkdir(fpath, 0775); err == nil {
		t.Fatalf("mkdir over file succeeded")
	}
}

func TestCreateFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.raw")
	f, err := CreateFile(p, 0664)
	tcheck(t, err, "create")
	_, err = f.Write([]byte("data"))
	tcheck(t, err, "write")
	err = f.Close()
	tcheck(t, err, "close")
	fi, err := os.Stat(p)
	tcheck(t, err, "stat")
	if fi.Mode().Perm() != 0664 {
		t.Fatalf("got perm %o, expected 0664", fi.Mode().Perm())
	}
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	tcheck(t, SyncDir(dir), "syncdir")
	if err := SyncDir(filepath.Join(dir, "absent")); err == nil {
		t.Fatalf("syncdir of absent directory succeeded")
	}
}

func TestDecodeReader(t *testing.T) {
	check := func(charset, input, exp string) {
		t.Helper()
		buf, err := io.ReadAll(DecodeReader(charset, strings.NewReader(input)))
		tcheck(t, err, "read")
		if string(buf) != exp {
			t.Fatalf("charset %q: got %q, expected %q", charset, buf, exp)
		}
	}
	check("", "plain", "plain")
	check("utf-8", "héllo", "héllo")
	check("iso-8859-1", "h\xe9llo", "héllo")
	check("windows-1252", "\x93quoted\x94", "“quoted”")
	check("bogus-charset", "as is", "as is")
	if Encoding("gb2312") == nil {
		t.Fatalf("no encoding for gb2312")
	}
}
