// Package relational stores converted messages in a relational store.
package relational

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime/debug"

	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/convert"
	"github.com/mjl-/mboxarchive/header"
	"github.com/mjl-/mboxarchive/message"
	"github.com/mjl-/mboxarchive/metrics"
	"github.com/mjl-/mboxarchive/mlog"
	"github.com/mjl-/mboxarchive/store"
)

// Options for storing content.
type Options struct {
	External     bool // Store attachments as external files.
	SubdirLevels int
	DirMode      fs.FileMode
	FileMode     fs.FileMode
}

// Message headers stored as "-" when absent, with a warning, in this order.
var requiredHeaders = []header.Tag{header.OrigDate, header.Subject, header.To, header.From}

// Emitter is a convert.Emitter storing messages in a store.Store. Each
// message is stored in its own transaction.
type Emitter struct {
	log     mlog.Log
	st      store.Store
	account store.Account
	opts    Options

	// Current folder.
	folder   store.Folder
	content  *contentstore.Store
	messages int
	dateFrom string
	dateTo   string

	ExternalFiles int // Number of external content files written.
}

var _ convert.Emitter = (*Emitter)(nil)

// New returns an emitter for account, with the mbox files under dir. The
// account is created if needed. It is an error, wrapping
// store.ErrAccountConflict, if the account has another directory or the
// directory is used by another account.
func New(ctx context.Context, log mlog.Log, st store.Store, account, dir string, opts Options) (*Emitter, error) {
	if opts.SubdirLevels < 0 || opts.SubdirLevels > contentstore.MaxSubdirLevels {
		return nil, fmt.Errorf("%w: too many subdir levels %d", contentstore.ErrFatal, opts.SubdirLevels)
	}
	a, err := st.Account(ctx, account, dir)
	if err != nil {
		return nil, err
	}
	return &Emitter{
		log:     log.WithPkg("relational").With(slog.String("account", account)),
		st:      st,
		account: a,
		opts:    opts,
	}, nil
}

// Account returns the account messages are stored for.
func (e *Emitter) Account() store.Account {
	return e.account
}

func (e *Emitter) StartFolder(ctx context.Context, f convert.Folder) error {
	content, err := contentstore.New(e.log, f.Dir, contentstore.Options{
		External:     e.opts.External,
		SubdirLevels: e.opts.SubdirLevels,
		DirMode:      e.opts.DirMode,
		FileMode:     e.opts.FileMode,
	})
	if err != nil {
		return err
	}
	sf, err := e.st.StartFolder(ctx, e.account.ID, f.Name)
	if err != nil {
		return err
	}
	e.folder = sf
	e.content = content
	e.messages = 0
	e.dateFrom = ""
	e.dateTo = ""
	e.log.Debug("folder started", slog.String("folder", f.Name), slog.Int64("folderid", sf.ID))
	return nil
}

// Message stores a message with its headers, addresses, parts and content. On
// error, the transaction is rolled back, and external content files written for
// the message are removed.
func (e *Emitter) Message(ctx context.Context, m *convert.Message) (rerr error) {
	var written []string
	defer func() {
		x := recover()
		if x != nil {
			e.log.Error("unhandled panic storing message", slog.Any("panic", x), slog.String("msgid", m.GlobalID))
			debug.PrintStack()
			metrics.PanicInc(metrics.Relational)
			rerr = fmt.Errorf("unhandled panic storing message %s: %v", m.GlobalID, x)
		}
		if rerr != nil {
			for _, name := range written {
				e.content.Remove(name)
			}
		}
	}()

	err := e.st.Write(ctx, func(tx store.Tx) error {
		written = written[:0]
		return e.message(ctx, tx, m, &written)
	})
	if err != nil {
		return fmt.Errorf("storing message %s: %w", m.GlobalID, err)
	}

	e.ExternalFiles += len(written)
	e.messages++
	if m.DateTime != message.ZeroDate {
		if e.dateFrom == "" || m.DateTime < e.dateFrom {
			e.dateFrom = m.DateTime
		}
		if m.DateTime > e.dateTo {
			e.dateTo = m.DateTime
		}
	}
	return nil
}

func (e *Emitter) FinishFolder(ctx context.Context, f convert.Folder) error {
	if e.messages == 0 {
		return nil
	}
	return e.st.FinishFolder(ctx, e.folder.ID, e.messages, e.dateFrom, e.dateTo)
}

// tagID returns the id for a predefined tag. Unknown tags are warned about.
func (e *Emitter) tagID(m *convert.Message, t header.Tag) (int64, bool) {
	id, ok := e.st.TagID(t.String())
	if !ok {
		m.Warn("Unresolvable tag " + t.String())
	}
	return id, ok
}

func (e *Emitter) message(ctx context.Context, tx store.Tx, m *convert.Message, written *[]string) error {
	sm := store.Message{
		FolderID: e.folder.ID,
		GlobalID: m.GlobalID,
		EOL:      m.EOL,
		SHA1:     m.SHA1,
		DateTime: m.DateTime,
		ZOffset:  m.ZOffset,
	}
	if err := tx.InsertMessage(ctx, &sm); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	values := map[header.Tag]string{}
	for _, v := range m.Header.Ordered(header.MessageOrder) {
		values[v.Tag] = v.Value
	}
	for _, t := range requiredHeaders {
		if _, ok := values[t]; ok {
			continue
		}
		values[t] = "-"
		name := t.String()
		if t == header.OrigDate {
			name = "Date"
		}
		m.Warn(`No "` + name + `" header for message ` + m.GlobalID)
	}
	for _, t := range header.MessageOrder {
		v, ok := values[t]
		if !ok {
			continue
		}
		id, ok := e.tagID(m, t)
		if !ok {
			continue
		}
		if err := tx.InsertMessageHeader(ctx, sm.ID, id, v); err != nil {
			return fmt.Errorf("inserting message header: %w", err)
		}
	}
	for _, h := range m.Header.Other {
		id, err := tx.OtherTagID(ctx, "Header", h.Key)
		if err != nil {
			return fmt.Errorf("tag for header: %w", err)
		}
		if err := tx.InsertMessageHeader(ctx, sm.ID, id, h.Value); err != nil {
			return fmt.Errorf("inserting message header: %w", err)
		}
	}

	for _, t := range []header.Tag{header.From, header.To, header.Cc, header.Bcc} {
		pairs := m.Addresses[t]
		if len(pairs) == 0 {
			continue
		}
		tagID, ok := e.tagID(m, t)
		if !ok {
			continue
		}
		for _, p := range pairs {
			addrID, err := tx.AddressID(ctx, p.Address)
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			var nameID int64
			if p.Name != "" {
				nameID, err = tx.NameID(ctx, p.Name)
				if err != nil {
					return fmt.Errorf("name: %w", err)
				}
				if err := tx.LinkAddressName(ctx, addrID, nameID); err != nil {
					return fmt.Errorf("linking address and name: %w", err)
				}
			}
			if err := tx.InsertMessageAddress(ctx, sm.ID, tagID, addrID, nameID); err != nil {
				return fmt.Errorf("inserting message address: %w", err)
			}
		}
	}

	if m.InReplyTo != "" {
		if err := tx.InsertReplyTo(ctx, sm.ID, m.InReplyTo); err != nil {
			return fmt.Errorf("inserting replyto: %w", err)
		}
	}

	for i := range m.Parts {
		if err := e.part(ctx, tx, m, sm.ID, &m.Parts[i], written); err != nil {
			return fmt.Errorf("part %d: %w", m.Parts[i].Seq, err)
		}
	}
	return nil
}

func (e *Emitter) part(ctx context.Context, tx store.Tx, m *convert.Message, messageID int64, p *convert.Part, written *[]string) error {
	ref, err := e.content.Put(ctx, tx, e.folder.ID, contentstore.Content{
		Text:       p.Content,
		FileName:   p.FileName,
		Attachment: p.Attachment,
	})
	if err != nil {
		return err
	}
	if ref.External && !ref.Existing {
		*written = append(*written, ref.StoredName)
	}

	sp := store.Part{
		MessageID:  messageID,
		Seq:        p.Seq,
		ParentSeq:  p.Parent,
		Multipart:  p.Kind == convert.MultiBody,
		Attachment: p.Attachment,
		Length:     ref.Length,
		SHA1:       ref.SHA1,
	}
	if ref.External {
		sp.ExternalContentID = ref.ID
	} else {
		sp.InternalContentID = ref.ID
	}
	if err := tx.InsertPart(ctx, &sp); err != nil {
		return fmt.Errorf("inserting part: %w", err)
	}

	insert := func(tagID int64, v string) error {
		if err := tx.InsertPartHeader(ctx, sp.ID, tagID, v); err != nil {
			return fmt.Errorf("inserting part header: %w", err)
		}
		return nil
	}

	// The headers of an embedded message are kept with its ChildMessage part.
	if p.Kind == convert.ChildMessage {
		values := p.Child.Header.Ordered(header.MessageOrder)
		if p.Child.Generated {
			values = append([]header.Value{{Tag: header.MessageId, Value: p.Child.GlobalID}}, values...)
		}
		for _, v := range values {
			if id, ok := e.tagID(m, v.Tag); ok {
				if err := insert(id, v.Value); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, v := range p.Header.Ordered(header.BodyOrder) {
		if id, ok := e.tagID(m, v.Tag); ok {
			if err := insert(id, v.Value); err != nil {
				return err
			}
		}
	}
	if len(p.Preamble) > 0 {
		if id, ok := e.tagID(m, header.Preamble); ok {
			if err := insert(id, string(p.Preamble)); err != nil {
				return err
			}
		}
	}
	for _, h := range p.Header.OtherMime {
		id, err := tx.OtherTagID(ctx, "OtherMimeHeader", h.Key)
		if err != nil {
			return fmt.Errorf("tag for header: %w", err)
		}
		if err := insert(id, h.Value); err != nil {
			return err
		}
	}
	return nil
}
