package convert

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

// ErrDuplicateFolder is returned when two mbox files in an account directory
// result in the same folder name.
var ErrDuplicateFolder = errors.New("duplicate folder name")

// ErrUnknownFolder is returned when a folder to process is not in the account
// directory.
var ErrUnknownFolder = errors.New("unknown folder")

// Folder is an mbox file in an account directory.
type Folder struct {
	// Path of the mbox file relative to the account directory, with slashes, and
	// without .mbox extension. E.g. "Archive/2001".
	Name string

	Path string // Path to the mbox file.
	Dir  string // Directory the mbox file is in, where external content is stored.
}

// Base returns the last element of the folder name.
func (f Folder) Base() string {
	return f.Name[strings.LastIndex(f.Name, "/")+1:]
}

// FindFolders returns the folders for all files with extension .mbox
// (matched case-insensitively) in accountDir and its subdirectories, sorted
// by name.
func FindFolders(accountDir string) ([]Folder, error) {
	var l []Folder
	err := filepath.WalkDir(accountDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(p), ".mbox") {
			return nil
		}
		rel, err := filepath.Rel(accountDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		f := Folder{
			Name: rel[:len(rel)-len(".mbox")],
			Path: p,
			Dir:  filepath.Dir(p),
		}
		l = append(l, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("looking for mbox files: %w", err)
	}

	slices.SortFunc(l, func(a, b Folder) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i := 1; i < len(l); i++ {
		if l[i].Name == l[i-1].Name {
			return nil, fmt.Errorf("%w: %q, for %s and %s", ErrDuplicateFolder, l[i].Name, l[i-1].Path, l[i].Path)
		}
	}
	return l, nil
}

// SelectFolder returns the folder named name.
func SelectFolder(folders []Folder, name string) (Folder, error) {
	i := slices.IndexFunc(folders, func(f Folder) bool { return f.Name == name })
	if i < 0 {
		return Folder{}, fmt.Errorf("%w: %q", ErrUnknownFolder, name)
	}
	return folders[i], nil
}
