// Package mbox reads messages from mbox files.
//
// Messages start at a line beginning with "From " that follows an empty line
// (or at the start of the file). The message text is returned as stored,
// including the original line endings, so hashes over the text are stable
// preservation values.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mjl-/mboxarchive/mlog"
)

var errNoFromLine = errors.New(`first line does not start with "From "`)

// Message is a single message read from an mbox file.
type Message struct {
	FromLine string // "From "-line, without line ending.
	Line     int    // Line number of FromLine, starting at 1.

	// Message text after the From-line, up to the next From-line, including the
	// empty line separating them.
	Text []byte
}

// Reader reads messages from an mbox file.
type Reader struct {
	// If set, one ">" is removed from lines in message text matching ">+From "
	// (mboxrd).
	UnquoteFrom bool

	log       mlog.Log
	path      string
	line      int
	r         *bufio.Reader
	started   bool   // Whether the first From-line has been looked for.
	eof       bool   // No more data in r.
	pending   bool   // Whether fromLine starts a message still to be returned.
	fromLine  string // "From "-line for the pending message.
	fromLnum  int
}

// NewReader returns a reader for mbox file contents in r. Filename is only
// used in positions and logging.
func NewReader(log mlog.Log, filename string, r io.Reader) *Reader {
	return &Reader{
		log:  log,
		path: filename,
		line: 1,
		r:    bufio.NewReader(r),
	}
}

// Position returns "<filename>:<lineno>" for the current position.
func (mr *Reader) Position() string {
	return fmt.Sprintf("%s:%d", mr.path, mr.line)
}

func isEmptyLine(line []byte) bool {
	return len(line) == 0 || bytes.Equal(line, []byte("\n")) || bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\r"))
}

func trimEOL(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}

// readLine returns the next line including line ending, or nil at the end of
// the file.
func (mr *Reader) readLine() ([]byte, error) {
	if mr.eof {
		return nil, nil
	}
	line, err := mr.r.ReadBytes('\n')
	if err == io.EOF {
		mr.eof = true
	} else if err != nil {
		return nil, fmt.Errorf("reading from mbox at %s: %v", mr.Position(), err)
	}
	if len(line) == 0 {
		return nil, nil
	}
	mr.line++
	return line, nil
}

var from = []byte("From ")

// Next returns the next message. At the end of the file, io.EOF is returned.
func (mr *Reader) Next() (*Message, error) {
	if !mr.started {
		mr.started = true
		// Empty lines before the first message are skipped.
		for {
			line, err := mr.readLine()
			if err != nil {
				return nil, err
			} else if line == nil {
				return nil, io.EOF
			} else if isEmptyLine(line) {
				continue
			} else if !bytes.HasPrefix(line, from) {
				return nil, fmt.Errorf("%s: %w", mr.Position(), errNoFromLine)
			}
			mr.pending = true
			mr.fromLine = string(trimEOL(line))
			mr.fromLnum = mr.line - 1
			break
		}
	}
	if !mr.pending {
		return nil, io.EOF
	}
	mr.pending = false

	m := &Message{FromLine: mr.fromLine, Line: mr.fromLnum}
	var text bytes.Buffer
	prevempty := false
	for {
		line, err := mr.readLine()
		if err != nil {
			return nil, err
		} else if line == nil {
			break
		}

		// Next mail message starts at bare From word.
		if prevempty && bytes.HasPrefix(line, from) {
			mr.pending = true
			mr.fromLine = string(trimEOL(line))
			mr.fromLnum = mr.line - 1
			break
		}
		if mr.UnquoteFrom && bytes.HasPrefix(line, []byte(">")) && bytes.HasPrefix(bytes.TrimLeft(line, ">"), from) {
			line = line[1:]
		}
		text.Write(line)
		prevempty = isEmptyLine(line)
	}
	m.Text = text.Bytes()

	mr.log.Debug("read message from mbox", slog.Int("line", m.Line), slog.Int("size", len(m.Text)))
	return m, nil
}
