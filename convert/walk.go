package convert

import (
	"github.com/google/uuid"

	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/header"
	"github.com/mjl-/mboxarchive/message"
)

// Headers an embedded message must have to be represented as a child
// message.
var childRequired = []string{"From", "To", "Date", "Subject"}

// walker assigns sequence ids to the parts of a message in pre-order, adding
// them to the message.
type walker struct {
	m *Message
}

// walk adds part p with parent sequence id parent. Headers hc are the
// classified headers of p.
func (w *walker) walk(p *message.Part, parent int, hc header.Classified) {
	defer func() {
		for _, d := range p.Defects {
			w.m.Warn("message defect: " + d)
		}
	}()

	if p.MediaType == "message" && p.MediaSubType != "rfc822" {
		w.m.Warn("skipping message part with ContentType: " + p.ContentType())
		return
	}

	seq := len(w.m.Parts) + 1
	np := Part{
		Seq:              seq,
		Parent:           parent,
		Kind:             SingleBody,
		Header:           hc,
		Attachment:       hc.IsAttachment(),
		TransferEncoding: p.ContentTransferEncoding,
		ContentType:      p.ContentType(),
		Source:           p,
	}
	if np.Attachment {
		np.FileName = hc.Tags[header.DispositionFileName]
	}

	switch {
	case p.MediaType == "message":
		if child, ok := w.child(p); ok {
			np.Kind = ChildMessage
			np.Child = child
			w.m.Parts = append(w.m.Parts, np)
			w.walk(p.Message, seq, child.Header)
			return
		}
		// Kept as content, the raw embedded message.
		np.Content = contentstore.Extract(p, false)

	case p.MediaType == "multipart" && p.Boundary() == "":
		w.m.Warn("multipart with no boundary string")
		np.Content = contentstore.Extract(p, seq == 1)

	case p.IsMultipart():
		np.Kind = MultiBody
		np.Preamble = p.Preamble
		np.Content = contentstore.Extract(p, seq == 1)
		w.m.Parts = append(w.m.Parts, np)
		for i := range p.Parts {
			sp := &p.Parts[i]
			w.walk(sp, seq, header.Part(sp))
		}
		return

	default:
		np.Content = contentstore.Extract(p, seq == 1)
	}
	w.m.Parts = append(w.m.Parts, np)
}

// child checks the embedded message of a message/rfc822 part. If it cannot be
// represented as a child message, a warning is added and false returned.
func (w *walker) child(p *message.Part) (*Child, bool) {
	if p.Message == nil {
		w.m.Warn("no MessageId for child")
		return nil, false
	}
	for _, k := range childRequired {
		if len(p.Message.Header.Values(k)) == 0 {
			w.m.Warn("child message lacks required header " + k + ":")
			return nil, false
		}
	}
	c := &Child{Header: header.Message(p.Message)}
	if id, ok := c.Header.Get(header.MessageId); ok {
		c.GlobalID = id
	} else {
		c.GlobalID = uuid.NewString()
		c.Generated = true
	}
	return c, true
}
