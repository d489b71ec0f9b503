package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if c.SubdirLevels() != 1 || c.ChunkBytes != 2147283648 || c.DatabaseType != DatabaseSQLite {
		t.Fatalf("unexpected defaults %#v", c)
	}
	if c.DirMode != 0775 || c.FileMode != 0664 || c.XMLFileMode != 0664 {
		t.Fatalf("unexpected modes %o %o %o", c.DirMode, c.FileMode, c.XMLFileMode)
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "mboxarchive.conf")
	conf := strings.Join([]string{
		"LogLevel: debug",
		"PackageLogLevels:",
		"\teaxs: trace",
		"DatabaseType: bstore",
		"ExternalSubdirLevels: 0",
		"ChunkBytes: 1000",
		"DirPerm: 0750",
		"",
	}, "\n")
	if err := os.WriteFile(p, []byte(conf), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.SubdirLevels() != 0 {
		t.Fatalf("got subdir levels %d, expected 0", c.SubdirLevels())
	}
	if c.ChunkBytes != 1000 || c.DatabaseType != DatabaseBstore || c.DirMode != 0750 {
		t.Fatalf("unexpected config %#v", c)
	}
	if _, ok := c.Log["eaxs"]; !ok {
		t.Fatalf("missing package log level")
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	n := 3
	c.ExternalSubdirLevels = &n
	c.DatabaseType = "mysql"
	c.FilePerm = "rw-r--r--"
	err := c.Validate()
	if err == nil {
		t.Fatalf("validate succeeded for bad config")
	}
	for _, s := range []string{"subdir levels", "database type", "FilePerm"} {
		if !strings.Contains(err.Error(), s) {
			t.Fatalf("error %q does not mention %q", err, s)
		}
	}
}
