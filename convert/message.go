package convert

import (
	"github.com/mjl-/mboxarchive/address"
	"github.com/mjl-/mboxarchive/header"
	"github.com/mjl-/mboxarchive/message"
)

// Kind is the structural kind of a part.
type Kind int

const (
	SingleBody Kind = iota
	MultiBody
	ChildMessage
)

func (k Kind) String() string {
	switch k {
	case MultiBody:
		return "MultiBody"
	case ChildMessage:
		return "ChildMessage"
	}
	return "SingleBody"
}

// Message is a message read from an mbox file, ready to be emitted.
type Message struct {
	Folder   Folder
	Line     int    // Line number of the message in the mbox file.
	GlobalID string // Message-ID header.
	EOL      string // message.EOLCRLF, message.EOLLF or empty.
	SHA1     string // Over the message text.
	Size     int

	Date     string // Raw Date header value, empty if absent.
	DateTime string // Normalized, "YYYY-MM-DD HH:MM:SS", message.ZeroDate if absent or unparsable.
	ZOffset  string // E.g. "-0700", message.ZeroOffset if the date was absent or unparsable.

	// Classified headers. Message-predefined tags and Other are for the message,
	// body-predefined tags and OtherMime for the first part.
	Header header.Classified

	// Address lists parsed from From, To, Cc and Bcc.
	Addresses map[header.Tag][]address.Pair

	InReplyTo string

	// Parts in pre-order, Parts[i] has sequence id i+1.
	Parts []Part

	// Warnings for this message, in order.
	Errors []string

	run *Run
}

// Warn adds a warning for the message to the message and run.
func (m *Message) Warn(s string) {
	m.Errors = append(m.Errors, s)
	m.run.Warn(s)
}

// Part is a node in the MIME tree of a message.
type Part struct {
	Seq    int // Sequence id, from 1.
	Parent int // Sequence id of the parent, 0 for the first part.
	Kind   Kind

	// Body-predefined tags and other MIME headers of the part.
	Header header.Classified

	Attachment       bool
	FileName         string // DispositionFileName, only for attachments.
	TransferEncoding string // Lower case Content-Transfer-Encoding.
	ContentType      string // Lower case, e.g. "text/plain".

	// Payload to store. For a MultiBody, the preamble for the first part, or the
	// raw body.
	Content []byte

	Preamble []byte // For MultiBody.

	Child *Child // For ChildMessage.

	Source *message.Part
}

// Children returns the indexes in parts of the direct children of the part at
// index i.
func Children(parts []Part, i int) []int {
	var l []int
	for j := i + 1; j < len(parts); j++ {
		if parts[j].Parent == parts[i].Seq {
			l = append(l, j)
		}
	}
	return l
}

// Child is the embedded message of a ChildMessage part. Its top-level part
// directly follows the ChildMessage part.
type Child struct {
	GlobalID  string // Message-ID, or a generated UUID if absent.
	Generated bool   // Whether GlobalID was generated.

	// Classified headers of the embedded message.
	Header header.Classified
}
