// Package store holds the relational records of converted mail accounts.
//
// Two implementations are available behind the Store interface: SQL, a SQLite
// database with the DArcMail schema, for use with other tools, and Bstore, an
// embedded database with the same entities as typed records.
//
// Changes for a single message are made in a transaction, through Write. The
// content store index of package contentstore is implemented by the
// transaction, so deduplication against stored content sees the content
// stored earlier in the same message.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mjl-/mboxarchive/config"
	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/mlog"
)

var (
	// ErrAccountConflict is returned when an account exists with another
	// directory, or the directory belongs to another account.
	ErrAccountConflict = errors.New("account conflict")

	// ErrFolderLoaded is returned when starting a folder that is already present
	// for the account.
	ErrFolderLoaded = errors.New("folder already loaded")

	ErrUnknownAccount = errors.New("unknown account")
	ErrUnknownFolder  = errors.New("unknown folder")
)

// Account is a mail account, with the directory its mbox files were loaded
// from.
type Account struct {
	ID        int64
	Name      string
	Directory string
}

// Folder is an mbox file loaded for an account.
type Folder struct {
	ID        int64
	AccountID int64
	Name      string
	Messages  int
	DateFrom  string // "YYYY-MM-DD HH:MM:SS", empty if unknown.
	DateTo    string
}

// Message is a message in a folder.
type Message struct {
	ID       int64 // Set by InsertMessage.
	FolderID int64
	GlobalID string // Message-ID header.
	EOL      string // "CRLF", "LF" or empty.
	SHA1     string
	DateTime string // "YYYY-MM-DD HH:MM:SS".
	ZOffset  string
}

// Part is a MIME part of a message.
type Part struct {
	ID                int64 // Set by InsertPart.
	MessageID         int64
	Seq               int
	ParentSeq         int
	Multipart         bool
	Attachment        bool
	Length            int64
	SHA1              string // Of the content, empty if no content.
	InternalContentID int64  // Zero if none.
	ExternalContentID int64  // Zero if none.
}

// Stats are counts for the records of an account.
type Stats struct {
	Messages          int64
	Parts             int64
	UniqueInternal    int64 // Internal content records.
	UniqueExternal    int64 // External content records.
	RedundantInternal int64 // Parts referencing internal content.
	RedundantExternal int64 // Parts referencing external content.
	Attachments       int64
	UniqueSize        int64 // Total length of content records.
	RedundantSize     int64 // Total length of content referenced by parts.
}

// Tx makes changes for a single message.
type Tx interface {
	contentstore.Index

	// OtherTagID returns the id of the tag for a header that has no predefined
	// tag, adding the tag if needed. The original name is matched
	// case-insensitively.
	OtherTagID(ctx context.Context, xmlName, originalName string) (int64, error)

	InsertMessage(ctx context.Context, m *Message) error
	InsertMessageHeader(ctx context.Context, messageID, tagID int64, value string) error

	// AddressID and NameID return the id of the address or name, adding it if
	// needed.
	AddressID(ctx context.Context, address string) (int64, error)
	NameID(ctx context.Context, name string) (int64, error)

	// LinkAddressName records that address and name were used together, if not
	// already recorded.
	LinkAddressName(ctx context.Context, addressID, nameID int64) error

	// InsertMessageAddress adds an address use for the message. A zero nameID
	// means no name.
	InsertMessageAddress(ctx context.Context, messageID, tagID, addressID, nameID int64) error

	InsertReplyTo(ctx context.Context, messageID int64, repliedTo string) error
	InsertPart(ctx context.Context, p *Part) error
	InsertPartHeader(ctx context.Context, partID, tagID int64, value string) error
}

// Store holds the records of accounts.
type Store interface {
	// Account returns the account named name, with dir as directory. The account
	// is created if it does not exist. If the account has another directory, or
	// dir belongs to another account, ErrAccountConflict is returned.
	Account(ctx context.Context, name, dir string) (Account, error)

	// LookupAccount returns the account named name, or ErrUnknownAccount.
	LookupAccount(ctx context.Context, name string) (Account, error)

	// StartFolder adds a folder to the account. If the folder is already
	// present, ErrFolderLoaded is returned.
	StartFolder(ctx context.Context, accountID int64, name string) (Folder, error)

	// FinishFolder records the message count and date range of a folder.
	FinishFolder(ctx context.Context, folderID int64, messages int, dateFrom, dateTo string) error

	// Folders returns the folders of an account, sorted by name.
	Folders(ctx context.Context, accountID int64) ([]Folder, error)

	// TagID returns the id of a predefined tag by its XML name.
	TagID(xmlName string) (int64, bool)

	// Write calls fn with a new transaction. If fn returns nil, the transaction
	// is committed, otherwise rolled back.
	Write(ctx context.Context, fn func(tx Tx) error) error

	Stats(ctx context.Context, accountID int64) (Stats, error)

	// DeleteFolder removes a folder with its messages, parts, headers and
	// content records. The stored file names of external content are returned,
	// for removal by the caller.
	DeleteFolder(ctx context.Context, accountID int64, name string) ([]string, error)

	Close() error
}

// Open opens or creates the database at path of type typ, config.DatabaseSQLite
// or config.DatabaseBstore.
func Open(ctx context.Context, log mlog.Log, typ, path string) (Store, error) {
	log = log.WithPkg("store")
	switch typ {
	case config.DatabaseSQLite:
		return OpenSQL(ctx, log, path)
	case config.DatabaseBstore:
		return OpenBstore(ctx, log, path)
	}
	return nil, fmt.Errorf("unknown database type %q", typ)
}

// PredefinedTag is a tag present in every database. OriginalName is empty for
// tags that are not header names, e.g. derived parameters and XML structure.
type PredefinedTag struct {
	OriginalName string
	XMLName      string
}

// PredefinedTags are inserted when creating a database, in this order.
var PredefinedTags = []PredefinedTag{
	{"", "Account"},
	{"", "BodyContent"},
	{"boundary", "BoundaryString"},
	{"Cc", "Cc"},
	{"charset", "Charset"},
	{"", "Comments"},
	{"", "Content"},
	{"Content-ID", "ContentId"},
	{"Content-Type", "ContentType"},
	{"Content-Disposition", "Disposition"},
	{"filename", "DispositionFileName"},
	{"", "Eol"},
	{"", "ExtBodyContent"},
	{"", "Folder"},
	{"From", "From"},
	{"", "Function"},
	{"", "GlobalId"},
	{"", "Hash"},
	{"", "Header"},
	{"In-Reply-To", "InReplyTo"},
	{"", "LocalId"},
	{"", "Mbox"},
	{"", "Message"},
	{"Message-ID", "MessageId"},
	{"MIME-Version", "MimeVersion"},
	{"", "MultiBody"},
	{"", "Name"},
	{"Date", "OrigDate"},
	{"", "OtherMimeHeader"},
	{"", "Preamble"},
	{"References", "References"},
	{"", "RelPath"},
	{"Sender", "Sender"},
	{"", "SingleBody"},
	{"Subject", "Subject"},
	{"To", "To"},
	{"Content-Transfer-Encoding", "TransferEncoding"},
	{"", "Value"},
	{"", "XMLWrapped"},
	{"Bcc", "Bcc"},
	{"", "Keywords"},
	{"", "ContentTypeComments"},
	{"", "Description"},
	{"", "DescriptionComments"},
	{"", "DispositionComments"},
}
