// Package eaxs writes converted messages as XML in the EAXS mail account
// format.
//
// Output for a folder is written next to its mbox file, in chunk files named
// after the folder with a sequence number, e.g. "inbox_1.xml". A new chunk is
// started before a message once the number of bytes written to the current
// chunk exceeds the configured budget, so chunks are always complete XML
// documents with account and folder elements. Each chunk has a CSV message
// log, e.g. "inbox_1.csv". If a folder only needed a single chunk, the files
// are renamed to "inbox.xml" and "inbox.csv".
//
// Attachments are written to separate XML-wrapped files in the folder
// directory, and referenced with ExtBodyContent elements.
package eaxs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/mjl-/mboxarchive/archio"
	"github.com/mjl-/mboxarchive/config"
	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/convert"
	"github.com/mjl-/mboxarchive/header"
	"github.com/mjl-/mboxarchive/message"
	"github.com/mjl-/mboxarchive/metrics"
	"github.com/mjl-/mboxarchive/mlog"
)

const accountHead = `<Account xmlns="http://www.archives.ncdcr.gov/mail-account"
  xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
  xsi:schemaLocation="http://www.history.ncdcr.gov/SHRAB/ar/emailpreservation/mail-account/mail-account.xsd">`

// Line ending recorded for mbox files. Messages record their own.
const mboxEOL = message.EOLCRLF

// First LocalId handed out.
const firstLocalID = 1001

// Column names of the message log.
var logColumns = []string{"From", "To", "Date", "Subject", "MessageID", "Hash", "Errors", "First Error Message"}

// Options for writing XML.
type Options struct {
	ChunkBytes  int64       // Default config.DefaultChunkBytes.
	XMLFileMode fs.FileMode // For chunk and message log files.

	// Write attachments inline instead of as XML-wrapped external files.
	InternalAttachments bool
	SubdirLevels        int
	DirMode             fs.FileMode
	FileMode            fs.FileMode // For external files.
}

// chunk is an open output file for a folder, with its message log.
type chunk struct {
	path    string
	f       *os.File
	bw      *bufio.Writer
	x       xmlWriter
	logf    *os.File
	logbw   *bufio.Writer
	log     *csv.Writer
	logPath string
}

// Emitter is a convert.Emitter writing XML.
type Emitter struct {
	log     mlog.Log
	account string
	opts    Options

	localID       int
	files         []string
	ExternalFiles int // Number of XML-wrapped files written.

	// Current folder.
	folder      convert.Folder
	content     *contentstore.Store
	chunk       *chunk
	chunkIndex  int
	folderFiles []string
}

var _ convert.Emitter = (*Emitter)(nil)

// New returns an emitter writing folders of account.
func New(log mlog.Log, account string, opts Options) *Emitter {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = config.DefaultChunkBytes
	}
	if opts.XMLFileMode == 0 {
		opts.XMLFileMode = 0664
	}
	return &Emitter{
		log:     log.WithPkg("eaxs").With(slog.String("account", account)),
		account: account,
		opts:    opts,
		localID: firstLocalID - 1,
	}
}

// Files returns the XML files written for finished folders.
func (e *Emitter) Files() []string {
	return append([]string(nil), e.files...)
}

func (e *Emitter) nextLocalID() string {
	e.localID++
	return strconv.Itoa(e.localID)
}

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", contentstore.ErrFatal, fmt.Sprintf(format, args...))
}

func (e *Emitter) StartFolder(ctx context.Context, f convert.Folder) error {
	content, err := contentstore.New(e.log, f.Dir, contentstore.Options{
		External:     true,
		SubdirLevels: e.opts.SubdirLevels,
		DirMode:      e.opts.DirMode,
		FileMode:     e.opts.FileMode,
	})
	if err != nil {
		return err
	}
	e.folder = f
	e.content = content
	e.chunkIndex = 0
	e.folderFiles = nil
	return e.startChunk()
}

// startChunk creates the files for the next chunk of the folder, and writes
// the document head.
func (e *Emitter) startChunk() error {
	e.chunkIndex++
	base := filepath.Join(filepath.Dir(e.folder.Path), e.folder.Base()) + "_" + strconv.Itoa(e.chunkIndex)

	c := &chunk{path: base + ".xml", logPath: base + ".csv"}
	var err error
	c.f, err = archio.CreateFile(c.path, e.opts.XMLFileMode)
	if err != nil {
		return fatalf("creating xml file: %v", err)
	}
	c.logf, err = archio.CreateFile(c.logPath, e.opts.XMLFileMode)
	if err != nil {
		c.f.Close()
		return fatalf("creating message log: %v", err)
	}
	c.bw = bufio.NewWriter(c.f)
	c.x = xmlWriter{w: c.bw}
	c.logbw = bufio.NewWriter(c.logf)
	c.log = csv.NewWriter(c.logbw)
	e.chunk = c
	e.folderFiles = append(e.folderFiles, c.path)
	metrics.XMLChunkInc()
	e.log.Debug("started xml chunk", slog.String("file", c.path))

	c.log.Write(logColumns)
	x := &c.x
	x.line(`<?xml version="1.0" encoding="UTF-8"?>`)
	x.line(accountHead)
	x.push("Account")
	x.terminal("GlobalId", e.account)
	x.start("Folder")
	x.terminal("Name", e.folder.Name)
	if x.err != nil {
		return fatalf("writing xml file: %v", x.err)
	}
	return nil
}

// finishChunk ends the folder and account elements and closes the files.
func (e *Emitter) finishChunk() error {
	c := e.chunk
	e.chunk = nil
	x := &c.x
	x.start("Mbox")
	x.terminal("RelPath", "./"+e.folder.Base()+".mbox")
	x.terminal("Eol", mboxEOL)
	x.end()
	x.closeAll()
	return c.close()
}

// close flushes and closes the files of the chunk, returning the first error.
func (c *chunk) close() error {
	err := c.x.err
	if err == nil {
		err = c.bw.Flush()
	}
	if xerr := c.f.Close(); err == nil {
		err = xerr
	}
	c.log.Flush()
	if xerr := c.log.Error(); err == nil {
		err = xerr
	}
	if xerr := c.logbw.Flush(); err == nil {
		err = xerr
	}
	if xerr := c.logf.Close(); err == nil {
		err = xerr
	}
	if err != nil {
		return fatalf("writing xml chunk %s: %v", c.path, err)
	}
	return nil
}

// Message writes a message to the current chunk, first starting a new chunk
// if the current chunk is over budget. If the message cannot be rendered, no
// output for it is written and the external files written for it are
// removed. Errors writing to the chunk are fatal.
func (e *Emitter) Message(ctx context.Context, m *convert.Message) (rerr error) {
	var wrapped []string
	defer func() {
		x := recover()
		if x != nil {
			e.log.Error("unhandled panic writing message", slog.Any("panic", x), slog.String("msgid", m.GlobalID))
			debug.PrintStack()
			metrics.PanicInc(metrics.Eaxs)
			rerr = fmt.Errorf("unhandled panic writing message %s: %v", m.GlobalID, x)
		}
		if rerr != nil && !errors.Is(rerr, contentstore.ErrFatal) {
			for _, name := range wrapped {
				e.content.Remove(name)
			}
		}
	}()

	if e.chunk.x.n > e.opts.ChunkBytes {
		if err := e.finishChunk(); err != nil {
			return err
		}
		if err := e.startChunk(); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	r := &xmlWriter{w: &buf, indent: e.chunk.x.indent}
	if err := e.message(r, m, &wrapped); err != nil {
		return fmt.Errorf("writing message %s: %w", m.GlobalID, err)
	}

	c := e.chunk
	c.x.write(buf.String())
	if c.x.err != nil {
		return fatalf("writing xml file: %v", c.x.err)
	}
	row := []string{
		m.Header.Tags[header.From],
		m.Header.Tags[header.To],
		m.Date,
		m.Header.Tags[header.Subject],
		m.GlobalID,
		m.SHA1,
		strconv.Itoa(len(m.Errors)),
		"",
	}
	if len(m.Errors) > 0 {
		row[7] = m.Errors[0]
	}
	if err := c.log.Write(row); err != nil {
		return fatalf("writing message log: %v", err)
	}
	e.ExternalFiles += len(wrapped)
	return nil
}

func (e *Emitter) FinishFolder(ctx context.Context, f convert.Folder) error {
	if err := e.finishChunk(); err != nil {
		return err
	}
	if len(e.folderFiles) == 1 {
		// A single chunk gets the name of the folder.
		xmlPath := strings.TrimSuffix(e.folderFiles[0], "_1.xml") + ".xml"
		csvPath := strings.TrimSuffix(xmlPath, ".xml") + ".csv"
		if err := os.Rename(e.folderFiles[0], xmlPath); err != nil {
			return fatalf("renaming xml file: %v", err)
		}
		if err := os.Rename(strings.TrimSuffix(e.folderFiles[0], ".xml")+".csv", csvPath); err != nil {
			return fatalf("renaming message log: %v", err)
		}
		e.folderFiles[0] = xmlPath
	}
	if len(e.folderFiles) > 0 {
		if err := archio.SyncDir(filepath.Dir(e.folderFiles[0])); err != nil {
			return fatalf("sync xml directory: %v", err)
		}
	}
	e.files = append(e.files, e.folderFiles...)
	e.folderFiles = nil
	return nil
}

// Close ends the open elements of an unfinished chunk, for when processing
// of a folder was aborted, so the chunk is a complete document. The chunk is
// not renamed.
func (e *Emitter) Close() error {
	if e.chunk == nil {
		return nil
	}
	c := e.chunk
	e.chunk = nil
	c.x.closeAll()
	e.files = append(e.files, e.folderFiles...)
	e.folderFiles = nil
	return c.close()
}

func (e *Emitter) message(x *xmlWriter, m *convert.Message, wrapped *[]string) error {
	x.start("Message")
	x.terminal("RelPath", ".")
	x.terminal("LocalId", e.nextLocalID())
	messageHeaders(x, m.Header)
	if len(m.Parts) > 0 {
		if err := e.part(x, m.Parts, 0, wrapped); err != nil {
			return err
		}
	}
	x.terminal("Eol", m.EOL)
	x.hash(m.SHA1)
	x.end()
	return x.err
}

// messageHeaders writes the message-predefined headers, the original date and
// the other headers.
func messageHeaders(x *xmlWriter, hc header.Classified) {
	for _, v := range hc.Ordered(header.MessageOrder) {
		if v.Tag == header.OrigDate {
			x.terminal(v.Tag.String(), message.StrictDateTime(v.Value))
		} else {
			x.terminal(v.Tag.String(), v.Value)
		}
	}
	if date, ok := hc.Get(header.OrigDate); ok {
		x.pair("Header", "Date", date)
	}
	for _, h := range hc.Other {
		x.pair("Header", h.Key, h.Value)
	}
}

func partHeaders(x *xmlWriter, p *convert.Part) {
	for _, v := range p.Header.Ordered(header.BodyOrder) {
		x.terminal(v.Tag.String(), v.Value)
	}
	for _, h := range p.Header.OtherMime {
		x.pair("OtherMimeHeader", h.Key, h.Value)
	}
}

// part writes parts[i] and its descendants.
func (e *Emitter) part(x *xmlWriter, parts []convert.Part, i int, wrapped *[]string) error {
	p := &parts[i]
	switch p.Kind {
	case convert.ChildMessage:
		x.start("SingleBody")
		partHeaders(x, p)
		x.start("ChildMessage")
		x.terminal("LocalId", e.nextLocalID())
		if p.Child.Generated {
			x.terminal("MessageId", p.Child.GlobalID)
		}
		messageHeaders(x, p.Child.Header)
		for _, ci := range convert.Children(parts, i) {
			if err := e.part(x, parts, ci, wrapped); err != nil {
				return err
			}
		}
		x.end()
		x.end()

	case convert.MultiBody:
		x.start("MultiBody")
		partHeaders(x, p)
		if len(p.Preamble) > 0 {
			x.terminal("Preamble", string(p.Preamble))
		}
		for _, ci := range convert.Children(parts, i) {
			if err := e.part(x, parts, ci, wrapped); err != nil {
				return err
			}
		}
		x.end()

	default:
		x.start("SingleBody")
		partHeaders(x, p)
		if err := e.bodyContent(x, p, wrapped); err != nil {
			return err
		}
		x.end()
	}
	return nil
}

func (e *Emitter) bodyContent(x *xmlWriter, p *convert.Part, wrapped *[]string) error {
	if len(p.Content) == 0 {
		return nil
	}
	if !p.Attachment || e.opts.InternalAttachments {
		x.line("<BodyContent>")
		x.line("<Content>" + contentText(p) + "</Content>")
		x.line("</BodyContent>")
		return nil
	}

	name, sha1, err := e.content.PutWrapped(func(w io.Writer, uuid string) error {
		return writeWrapped(w, uuid, p)
	})
	if err != nil {
		return fmt.Errorf("writing external body content: %w", err)
	}
	*wrapped = append(*wrapped, name)
	x.start("ExtBodyContent")
	x.terminal("RelPath", "./"+name)
	x.terminal("LocalId", e.nextLocalID())
	x.terminal("XMLWrapped", "true")
	x.hash(sha1)
	x.end()
	return nil
}

// contentText returns the content of p for inclusion in XML. Text that is not
// transfer-encoded is decoded from its charset. Base64 passes Escape
// unchanged.
func contentText(p *convert.Part) string {
	switch p.TransferEncoding {
	case "base64", "quoted-printable":
		return Escape(string(p.Content))
	}
	if p.Source == nil || archio.Encoding(p.Source.Charset()) == nil {
		return Escape(string(p.Content))
	}
	buf, err := io.ReadAll(archio.DecodeReader(p.Source.Charset(), bytes.NewReader(p.Content)))
	if err != nil {
		return Escape(string(p.Content))
	}
	return Escape(string(buf))
}

// writeWrapped writes an external body part file.
func writeWrapped(w io.Writer, uuid string, p *convert.Part) error {
	bw := bufio.NewWriter(w)
	line := func(s string) {
		bw.WriteString(s + "\n")
	}
	line("<ExternalBodyPart>")
	line("<LocalUniqueID>" + uuid + "</LocalUniqueID>")
	line("<ContentType>" + Escape(p.ContentType) + "</ContentType>")
	line("<Disposition>attachment</Disposition>")
	if p.FileName != "" {
		line("<DispositionFileName>" + Escape(p.FileName) + "</DispositionFileName>")
	}
	if p.TransferEncoding != "" {
		line("<ContentTransferEncoding>" + Escape(p.TransferEncoding) + "</ContentTransferEncoding>")
	}
	line("<Content>")
	bw.WriteString(contentText(p))
	line("</Content>")
	line("</ExternalBodyPart>")
	return bw.Flush()
}
