// Package header classifies message and part headers into the canonical tag
// vocabulary of the mail account schema.
//
// Tags are either message-predefined (allowed at message scope), body-predefined
// (allowed at part scope), or Other, for everything else. Message-scope headers
// starting with "content-" that are not predefined are kept with the part as
// other MIME headers, since malformed messages put MIME headers at the top
// level.
package header

import (
	"strings"
)

// Tag is a canonical header tag. Its String is the XML element name.
type Tag int

const (
	Other Tag = iota

	RelPath
	LocalId
	MessageId
	MimeVersion
	OrigDate
	From
	Sender
	To
	Cc
	Bcc
	InReplyTo
	References
	Subject
	Comments
	Keywords

	ContentType
	Charset
	ContentName
	BoundaryString
	ContentTypeComments
	TransferEncoding
	TransferEncodingComments
	ContentId
	ContentIdComments
	Description
	DescriptionComments
	Disposition
	DispositionFileName
	DispositionComments
	Preamble
)

var tagNames = map[Tag]string{
	Other:                    "Other",
	RelPath:                  "RelPath",
	LocalId:                  "LocalId",
	MessageId:                "MessageId",
	MimeVersion:              "MimeVersion",
	OrigDate:                 "OrigDate",
	From:                     "From",
	Sender:                   "Sender",
	To:                       "To",
	Cc:                       "Cc",
	Bcc:                      "Bcc",
	InReplyTo:                "InReplyTo",
	References:               "References",
	Subject:                  "Subject",
	Comments:                 "Comments",
	Keywords:                 "Keywords",
	ContentType:              "ContentType",
	Charset:                  "Charset",
	ContentName:              "ContentName",
	BoundaryString:           "BoundaryString",
	ContentTypeComments:      "ContentTypeComments",
	TransferEncoding:         "TransferEncoding",
	TransferEncodingComments: "TransferEncodingComments",
	ContentId:                "ContentId",
	ContentIdComments:        "ContentIdComments",
	Description:              "Description",
	DescriptionComments:      "DescriptionComments",
	Disposition:              "Disposition",
	DispositionFileName:      "DispositionFileName",
	DispositionComments:      "DispositionComments",
	Preamble:                 "Preamble",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "Other"
}

// MessageOrder is the canonical order of message-predefined tags.
var MessageOrder = []Tag{RelPath, LocalId, MessageId, MimeVersion, OrigDate, From, Sender, To, Cc, Bcc, InReplyTo, References, Subject, Comments, Keywords}

// BodyOrder is the canonical order of body-predefined tags.
var BodyOrder = []Tag{ContentType, Charset, ContentName, BoundaryString, ContentTypeComments, TransferEncoding, TransferEncodingComments, ContentId, ContentIdComments, Description, DescriptionComments, Disposition, DispositionFileName, DispositionComments, Preamble}

// MessagePredef returns whether t is allowed at message scope.
func (t Tag) MessagePredef() bool {
	return t >= RelPath && t <= Keywords
}

// BodyPredef returns whether t is allowed at part scope.
func (t Tag) BodyPredef() bool {
	return t >= ContentType && t <= Preamble
}

// Header names, lower case, that map to a tag. Tags derived from parameters,
// like Charset, have no header of their own.
var lookup = map[string]Tag{
	"message-id":                MessageId,
	"mime-version":              MimeVersion,
	"date":                      OrigDate,
	"from":                      From,
	"sender":                    Sender,
	"to":                        To,
	"cc":                        Cc,
	"bcc":                       Bcc,
	"in-reply-to":               InReplyTo,
	"references":                References,
	"subject":                   Subject,
	"comments":                  Comments,
	"keywords":                  Keywords,
	"content-type":              ContentType,
	"content-transfer-encoding": TransferEncoding,
	"content-id":                ContentId,
	"content-description":       Description,
	"content-disposition":       Disposition,
}

// Lookup returns the tag for a header name, matched case-insensitively, or
// Other.
func Lookup(name string) Tag {
	if t, ok := lookup[strings.ToLower(name)]; ok {
		return t
	}
	return Other
}

// IsContent returns whether name starts with "content-", case-insensitively.
func IsContent(name string) bool {
	return len(name) >= len("content-") && strings.EqualFold(name[:len("content-")], "content-")
}
