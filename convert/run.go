// Package convert turns messages from mbox files into records for an emitter.
//
// A Run holds the state for converting one account: the Message-IDs seen, for
// skipping duplicates, the warnings about defects in messages, and counters.
// Each message is parsed, identified, checked for being a duplicate, has its
// headers classified and its MIME tree walked into a flat list of parts, and is
// then handed to an Emitter, which stores the message in a database or writes
// it as XML.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/mjl-/mboxarchive/address"
	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/header"
	"github.com/mjl-/mboxarchive/mbox"
	"github.com/mjl-/mboxarchive/message"
	"github.com/mjl-/mboxarchive/metrics"
	"github.com/mjl-/mboxarchive/mlog"
)

// Emitter stores or writes converted messages.
type Emitter interface {
	StartFolder(ctx context.Context, f Folder) error
	// Message emits a message. Errors wrapping contentstore.ErrFatal abort the
	// run, other errors only fail this message.
	Message(ctx context.Context, m *Message) error
	FinishFolder(ctx context.Context, f Folder) error
}

// Warning is a warning with the number of times it occurred.
type Warning struct {
	Text  string
	Count int
}

// Run is the state for converting the folders of one account. Message-IDs
// are tracked for the whole run, so duplicates are skipped across folders.
type Run struct {
	Account     string
	UnquoteFrom bool // Passed to the mbox reader.

	TotalMessages int // Messages read from mbox files.
	Duplicates    int // Messages skipped because their Message-ID was seen before.
	NoID          int // Messages skipped because they have no Message-ID.
	Failed        int // Messages the emitter failed on.
	Emitted       int // Messages emitted.

	log      mlog.Log
	seen     map[string]struct{}
	warnings []Warning
	warningx map[string]int // Index in warnings.
}

// NewRun returns a new run for account.
func NewRun(log mlog.Log, account string) *Run {
	return &Run{
		Account:  account,
		log:      log.WithPkg("convert").With(slog.String("account", account)),
		seen:     map[string]struct{}{},
		warningx: map[string]int{},
	}
}

// Warn adds a warning to the run.
func (r *Run) Warn(s string) {
	metrics.WarningInc()
	if i, ok := r.warningx[s]; ok {
		r.warnings[i].Count++
		return
	}
	r.warningx[s] = len(r.warnings)
	r.warnings = append(r.warnings, Warning{s, 1})
	r.log.Debug("warning", slog.String("warning", s))
}

// Warnings returns the warnings, in order of first occurrence.
func (r *Run) Warnings() []Warning {
	return append([]Warning(nil), r.warnings...)
}

// Process parses a message read from the mbox file of folder f. If the
// message has no Message-ID, or it was seen before in this run, a warning is
// added and a nil message is returned.
func (r *Run) Process(ctx context.Context, f Folder, raw *mbox.Message) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.TotalMessages++
	metrics.MessageSize(len(raw.Text))

	p := message.Parse(raw.Text)
	hc := header.Message(&p)
	gid, ok := hc.Get(header.MessageId)
	if !ok {
		r.NoID++
		metrics.MessageInc("noid")
		r.Warn(`No "Message-ID" header for message`)
		return nil, nil
	}
	if _, ok := r.seen[gid]; ok {
		r.Duplicates++
		metrics.MessageInc("duplicate")
		r.Warn("Skipping duplicate message: " + gid + " in folder " + f.Name)
		return nil, nil
	}
	r.seen[gid] = struct{}{}

	m := &Message{
		Folder:    f,
		Line:      raw.Line,
		GlobalID:  gid,
		EOL:       message.EOL(raw.Text),
		SHA1:      message.SHA1(raw.Text),
		Size:      len(raw.Text),
		Header:    hc,
		Addresses: map[header.Tag][]address.Pair{},
		run:       r,
	}
	m.Date = hc.Tags[header.OrigDate]
	m.DateTime, m.ZOffset, _ = message.ParseDate(m.Date)
	for _, t := range []header.Tag{header.From, header.To, header.Cc, header.Bcc} {
		if v, ok := hc.Get(t); ok {
			m.Addresses[t] = address.Parse(v)
		}
	}
	m.InReplyTo = hc.Tags[header.InReplyTo]

	w := walker{m}
	w.walk(&p, 0, hc)
	metrics.PartsAdd(len(m.Parts))
	return m, nil
}

// ProcessFolder reads all messages from the mbox file of f, and passes each
// message that isn't skipped to e. Emitter errors for a message are logged and
// added as warning, and processing continues with the next message. Errors
// wrapping contentstore.ErrFatal, and errors reading the mbox file, abort
// processing. The context is checked between messages.
func (r *Run) ProcessFolder(ctx context.Context, f Folder, e Emitter) error {
	log := r.log.With(slog.String("folder", f.Name))

	mf, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open mbox file: %w", err)
	}
	defer func() {
		err := mf.Close()
		log.Check(err, "closing mbox file")
	}()

	if err := e.StartFolder(ctx, f); err != nil {
		return fmt.Errorf("starting folder %s: %w", f.Name, err)
	}

	mr := mbox.NewReader(log, f.Path, mf)
	mr.UnquoteFrom = r.UnquoteFrom
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := mr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading mbox file: %w", err)
		}

		m, err := r.message(ctx, f, raw, e)
		if err == nil {
			if m != nil {
				r.Emitted++
				metrics.MessageInc("stored")
			}
			continue
		}
		r.Failed++
		metrics.MessageInc("error")
		if errors.Is(err, contentstore.ErrFatal) || ctx.Err() != nil {
			return err
		}
		log.Errorx("converting message, continuing with next", err, slog.String("position", mr.Position()), slog.Int("line", raw.Line))
		r.Warn(err.Error())
	}

	if err := e.FinishFolder(ctx, f); err != nil {
		return fmt.Errorf("finishing folder %s: %w", f.Name, err)
	}
	log.Debug("folder processed")
	return nil
}

// message processes and emits a single message. Panics from parsing or
// emitting are turned into errors for the message.
func (r *Run) message(ctx context.Context, f Folder, raw *mbox.Message, e Emitter) (m *Message, rerr error) {
	defer func() {
		x := recover()
		if x == nil {
			return
		}
		r.log.Error("unhandled panic converting message", slog.Any("panic", x), slog.Int("line", raw.Line))
		debug.PrintStack()
		metrics.PanicInc(metrics.Convert)
		m = nil
		rerr = fmt.Errorf("unhandled panic converting message at line %d: %v", raw.Line, x)
	}()

	m, err := r.Process(ctx, f, raw)
	if err != nil || m == nil {
		return nil, err
	}
	if err := e.Message(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
