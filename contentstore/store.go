// Package contentstore stores the payload of message parts, deduplicated by
// content hash, length, file name and folder.
//
// Content is stored internally, in the database, or externally as a file in
// the folder directory. External files have a random UUID as name, with
// extension .raw, placed in 0, 1 or 2 levels of subdirectories named after
// characters of the UUID, to keep directories small. The XML emitter stores
// attachments as XML-wrapped external files with extension .xml.
package contentstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"github.com/mjl-/mboxarchive/archio"
	"github.com/mjl-/mboxarchive/message"
	"github.com/mjl-/mboxarchive/metrics"
	"github.com/mjl-/mboxarchive/mlog"
)

// ErrFatal is returned, wrapped, for problems with the storage destination.
// Conversion cannot continue.
var ErrFatal = errors.New("fatal content storage error")

// MaxSubdirLevels is the maximum number of subdirectory levels for external
// files.
const MaxSubdirLevels = 2

// Key identifies content for deduplication.
type Key struct {
	FolderID int64
	SHA1     string // Lower case hex.
	Length   int64
	FileName string // Original file name, only for attachments. Empty means none.
}

// Index looks up and registers content, typically in a database within the
// transaction for a message.
type Index interface {
	LookupInternal(ctx context.Context, k Key) (id int64, found bool, err error)
	InsertInternal(ctx context.Context, k Key, text []byte) (id int64, err error)
	LookupExternal(ctx context.Context, k Key) (id int64, found bool, err error)
	InsertExternal(ctx context.Context, k Key, storedName string, xmlWrapped bool) (id int64, err error)
}

// Content is the payload of a part to store.
type Content struct {
	Text       []byte
	FileName   string // From Content-Disposition or Content-Type, for attachments.
	Attachment bool
}

// Ref references stored content.
type Ref struct {
	ID         int64  // Internal or external content id.
	External   bool   // Whether ID is an external content id.
	StoredName string // For external content, path of the file relative to the folder directory, with slashes.
	SHA1       string
	Length     int64
	Existing   bool // Whether deduplicated to previously stored content.
}

// Options configure a Store.
type Options struct {
	External     bool // Store attachments as external files.
	SubdirLevels int  // 0, 1 or 2.
	DirMode      fs.FileMode
	FileMode     fs.FileMode
}

// Store stores content for the messages of one folder.
type Store struct {
	log  mlog.Log
	dir  string
	opts Options
}

// New returns a store writing external files under dir, the directory of the
// mbox file of the folder.
func New(log mlog.Log, dir string, opts Options) (*Store, error) {
	if opts.SubdirLevels < 0 || opts.SubdirLevels > MaxSubdirLevels {
		return nil, fmt.Errorf("%w: too many subdir levels %d, at most %d", ErrFatal, opts.SubdirLevels, MaxSubdirLevels)
	}
	if opts.DirMode == 0 {
		opts.DirMode = 0775
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0664
	}
	return &Store{log.WithPkg("contentstore"), dir, opts}, nil
}

// Dir returns the directory external files are written to.
func (s *Store) Dir() string {
	return s.dir
}

var softBreak = regexp.MustCompile(`=\r\n|=\r|=\n`)

// Extract returns the payload of a part: the raw body after the header, with
// soft line breaks removed for quoted-printable. For the top-level part of a
// message (first) that is a multipart, the preamble is returned if present.
// Whitespace-only bodies are returned as empty.
func Extract(p *message.Part, first bool) []byte {
	if first && p.IsMultipart() && len(p.Preamble) > 0 {
		return p.Preamble
	}
	if len(bytes.TrimSpace(p.Body)) == 0 {
		return nil
	}
	if p.ContentTransferEncoding == "quoted-printable" {
		return softBreak.ReplaceAll(p.Body, nil)
	}
	return p.Body
}

// Put stores content, deduplicating against previously stored content through
// index. Empty content is not stored, and a zero Ref is returned.
//
// Attachments are stored as external files if configured, other content is
// stored through the index. Only attachments have their file name recorded.
func (s *Store) Put(ctx context.Context, index Index, folderID int64, c Content) (Ref, error) {
	if len(c.Text) == 0 {
		return Ref{}, nil
	}
	k := Key{
		FolderID: folderID,
		SHA1:     message.SHA1(c.Text),
		Length:   int64(len(c.Text)),
	}
	if c.Attachment {
		k.FileName = c.FileName
	}
	ref := Ref{SHA1: k.SHA1, Length: k.Length}

	if !c.Attachment || !s.opts.External {
		id, found, err := index.LookupInternal(ctx, k)
		if err != nil {
			return Ref{}, fmt.Errorf("looking up internal content: %w", err)
		}
		if !found {
			id, err = index.InsertInternal(ctx, k, c.Text)
			if err != nil {
				return Ref{}, fmt.Errorf("inserting internal content: %w", err)
			}
		}
		ref.ID = id
		ref.Existing = found
		metrics.ContentInc("internal", found)
		return ref, nil
	}

	id, found, err := index.LookupExternal(ctx, k)
	if err != nil {
		return Ref{}, fmt.Errorf("looking up external content: %w", err)
	}
	ref.External = true
	ref.Existing = found
	if found {
		ref.ID = id
		metrics.ContentInc("external", true)
		return ref, nil
	}

	name, err := s.write(".raw", func(w io.Writer, _ string) error {
		_, err := w.Write(c.Text)
		return err
	})
	if err != nil {
		return Ref{}, err
	}
	ref.StoredName = name
	ref.ID, err = index.InsertExternal(ctx, k, name, false)
	if err != nil {
		s.Remove(name)
		return Ref{}, fmt.Errorf("inserting external content: %w", err)
	}
	metrics.ContentInc("external", false)
	s.log.Debug("stored external content", slog.String("file", name), slog.Int64("size", k.Length))
	return ref, nil
}

// PutWrapped writes an XML-wrapped external file, with its contents written by
// fn, which is passed the UUID the file is named after. It returns the path of
// the stored file relative to the folder directory, and the SHA-1 of the
// written file. XML-wrapped files are not deduplicated.
func (s *Store) PutWrapped(fn func(w io.Writer, uuid string) error) (storedName, sha1hex string, err error) {
	h := sha1.New()
	name, err := s.write(".xml", func(w io.Writer, id string) error {
		return fn(io.MultiWriter(w, h), id)
	})
	if err != nil {
		return "", "", err
	}
	metrics.ContentInc("wrapped", false)
	return name, hex.EncodeToString(h.Sum(nil)), nil
}

// write creates a new file with a random name and extension ext, in the
// subdirectories for the name.
func (s *Store) write(ext string, fn func(w io.Writer, uuid string) error) (storedName string, rerr error) {
	id := uuid.NewString()
	subdir, err := s.subdirs(id)
	if err != nil {
		return "", err
	}
	storedName = path.Join(subdir, id+ext)
	p := filepath.Join(s.dir, filepath.FromSlash(storedName))
	f, err := archio.CreateFile(p, s.opts.FileMode)
	if err != nil {
		return "", fmt.Errorf("creating external content file: %w", err)
	}
	defer func() {
		if f != nil {
			err := f.Close()
			s.log.Check(err, "closing external content file")
		}
		if rerr != nil {
			err := os.Remove(p)
			s.log.Check(err, "removing external content file after error")
		}
	}()
	if err := fn(f, id); err != nil {
		return "", fmt.Errorf("writing external content file: %w", err)
	}
	err = f.Close()
	f = nil
	if err != nil {
		return "", fmt.Errorf("closing external content file: %w", err)
	}
	if err := archio.SyncDir(filepath.Dir(p)); err != nil {
		return "", fmt.Errorf("%w: sync directory for external content: %v", ErrFatal, err)
	}
	return storedName, nil
}

// subdirs ensures the subdirectories for a file named after id exist, returning
// their relative path.
func (s *Store) subdirs(id string) (string, error) {
	var elems []string
	switch s.opts.SubdirLevels {
	case 2:
		elems = []string{id[9:11], id[11:13]}
	case 1:
		elems = []string{id[9:11]}
	}
	dir := s.dir
	for _, e := range elems {
		dir = filepath.Join(dir, e)
		if err := archio.Mkdir(dir, s.opts.DirMode); err != nil {
			return "", fmt.Errorf("%w: creating directory for external content: %v", ErrFatal, err)
		}
	}
	return path.Join(elems...), nil
}

// Remove removes an external content file, after a failure to register it, or
// when deleting a folder. Errors are logged.
func (s *Store) Remove(storedName string) {
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(storedName)))
	s.log.Check(err, "removing external content file", slog.String("file", storedName))
}
