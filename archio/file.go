package archio

import (
	"fmt"
	"io/fs"
	"os"
)

// CreateFile creates (or truncates) a file and sets its permissions to perm,
// regardless of the umask.
func CreateFile(path string, perm fs.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return nil, fmt.Errorf("chmod %s: %v", path, err)
	}
	return f, nil
}

// Mkdir creates directory dir with permissions perm, regardless of the umask.
// It is not an error if dir already exists as a directory. If a non-directory
// exists at the path, an error is returned.
func Mkdir(dir string, perm fs.FileMode) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.Mkdir(dir, perm); err != nil {
		return err
	}
	return os.Chmod(dir, perm)
}

// SyncDir opens a directory and syncs its contents to disk.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %v", err)
	}
	err = d.Sync()
	xerr := d.Close()
	if err == nil {
		err = xerr
	}
	return err
}
