package header

import (
	"strings"

	"github.com/mjl-/mboxarchive/message"
)

// Value is the value of a predefined tag.
type Value struct {
	Tag   Tag
	Value string
}

// Classified holds the headers of a message or part, classified into tags.
type Classified struct {
	// Values of predefined tags. For a message, holds both message- and
	// body-predefined tags, the latter for the top-level part of the message. The
	// first occurrence of a header wins.
	Tags map[Tag]string

	Other     message.Headers // Headers for the message that are not predefined and not content-*.
	OtherMime message.Headers // Headers for the part that are not predefined.
}

// Get returns the value for tag t, and whether it is present.
func (c Classified) Get(t Tag) (string, bool) {
	v, ok := c.Tags[t]
	return v, ok
}

// Ordered returns the values present for tags, in the order of tags.
func (c Classified) Ordered(tags []Tag) []Value {
	var l []Value
	for _, t := range tags {
		if v, ok := c.Tags[t]; ok {
			l = append(l, Value{t, v})
		}
	}
	return l
}

// IsAttachment returns whether the Content-Disposition resolved to
// "attachment".
func (c Classified) IsAttachment() bool {
	return c.Tags[Disposition] == "attachment"
}

// Message classifies the headers of a message, with p the top-level part of
// the message.
func Message(p *message.Part) Classified {
	c := Classified{Tags: map[Tag]string{}}
	for _, h := range p.Header {
		if h.Value == "" {
			continue
		}
		t := Lookup(h.Key)
		if t == Other {
			if IsContent(h.Key) {
				c.OtherMime = append(c.OtherMime, h)
			} else {
				c.Other = append(c.Other, h)
			}
			continue
		}
		c.add(t, h.Value, p)
	}
	return c
}

// Part classifies the headers of a part within a multipart. Headers that
// are not body-predefined, including message-predefined ones, are other MIME
// headers.
func Part(p *message.Part) Classified {
	c := Classified{Tags: map[Tag]string{}}
	for _, h := range p.Header {
		if h.Value == "" {
			continue
		}
		t := Lookup(h.Key)
		if !t.BodyPredef() {
			c.OtherMime = append(c.OtherMime, h)
			continue
		}
		c.add(t, h.Value, p)
	}
	return c
}

func (c Classified) add(t Tag, v string, p *message.Part) {
	if _, ok := c.Tags[t]; ok {
		return
	}
	switch t {
	case ContentType:
		c.Tags[ContentType] = p.ContentType()
		if cs := p.Charset(); cs != "" {
			c.Tags[Charset] = cs
		}
		if b := p.Boundary(); b != "" && p.MediaType == "multipart" {
			c.Tags[BoundaryString] = b
		}
	case Disposition:
		// Only attachments are recorded, any parameters are dropped.
		if strings.HasPrefix(v, "attachment") {
			c.Tags[Disposition] = "attachment"
			if fn := p.Filename(); fn != "" {
				c.Tags[DispositionFileName] = fn
			}
		}
	default:
		c.Tags[t] = v
	}
}
