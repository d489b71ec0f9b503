package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/mboxvar"
	"github.com/mjl-/mboxarchive/mlog"
)

// Records in a bstore database. Types mirror the tables of the SQL schema.
// Records below a folder have a FolderID, for removing a folder without
// joins.

type recAccount struct {
	ID        int64  `bstore:"typename Account"`
	Name      string `bstore:"nonzero,unique"`
	Directory string `bstore:"index"`
}

type recFolder struct {
	ID        int64  `bstore:"typename Folder"`
	AccountID int64  `bstore:"nonzero,ref Account,unique AccountID+Name"`
	Name      string `bstore:"nonzero"`
	Messages  int
	DateFrom  string
	DateTo    string
}

type recTag struct {
	ID           int64 `bstore:"typename Tag"`
	OriginalName string
	XMLName      string `bstore:"nonzero,index XMLName+Lower"`
	Lower        string // Lower case OriginalName.
}

type recAddress struct {
	ID      int64  `bstore:"typename Address"`
	Address string `bstore:"nonzero,unique"`
}

type recName struct {
	ID   int64  `bstore:"typename Name"`
	Name string `bstore:"nonzero,unique"`
}

type recAddressName struct {
	ID        int64 `bstore:"typename AddressName"`
	AddressID int64 `bstore:"nonzero,ref Address,unique AddressID+NameID"`
	NameID    int64 `bstore:"nonzero,ref Name"`
}

type recInternalContent struct {
	ID               int64  `bstore:"typename InternalContent"`
	FolderID         int64  `bstore:"nonzero,ref Folder"`
	SHA1             string `bstore:"index SHA1+Length"`
	Length           int64
	OriginalFileName string
	Text             []byte
}

type recExternalContent struct {
	ID               int64  `bstore:"typename ExternalContent"`
	FolderID         int64  `bstore:"nonzero,ref Folder"`
	SHA1             string `bstore:"index SHA1+Length"`
	Length           int64
	OriginalFileName string
	StoredFileName   string `bstore:"nonzero"`
	XMLWrapped       bool
}

type recMessage struct {
	ID       int64  `bstore:"typename Message"`
	FolderID int64  `bstore:"nonzero,ref Folder"`
	GlobalID string `bstore:"nonzero,index"`
	EOL      string
	SHA1     string `bstore:"nonzero"`
	DateTime string `bstore:"index"`
	ZOffset  string
}

type recMessageHeader struct {
	ID        int64 `bstore:"typename MessageHeader"`
	FolderID  int64 `bstore:"nonzero,index"`
	MessageID int64 `bstore:"nonzero,ref Message"`
	TagID     int64 `bstore:"nonzero,ref Tag"`
	Value     string
}

type recMessageAddress struct {
	ID        int64 `bstore:"typename MessageAddress"`
	FolderID  int64 `bstore:"nonzero,index"`
	MessageID int64 `bstore:"nonzero,ref Message"`
	TagID     int64 `bstore:"nonzero,ref Tag"`
	AddressID int64 `bstore:"ref Address"`
	NameID    int64 `bstore:"ref Name"`
}

type recReplyTo struct {
	ID          int64  `bstore:"typename ReplyTo"`
	FolderID    int64  `bstore:"nonzero,index"`
	ReplyingID  int64  `bstore:"nonzero,ref Message"`
	RepliedToID string `bstore:"nonzero,index"`
}

type recPart struct {
	ID                int64 `bstore:"typename Part"`
	FolderID          int64 `bstore:"nonzero,index"`
	MessageID         int64 `bstore:"nonzero,ref Message"`
	Seq               int
	ParentSeq         int
	Multipart         bool
	Attachment        bool
	Length            int64
	SHA1              string
	InternalContentID int64 `bstore:"ref InternalContent"`
	ExternalContentID int64 `bstore:"ref ExternalContent"`
}

type recPartHeader struct {
	ID       int64 `bstore:"typename PartHeader"`
	FolderID int64 `bstore:"nonzero,index"`
	PartID   int64 `bstore:"nonzero,ref Part"`
	TagID    int64 `bstore:"nonzero,ref Tag"`
	Value    string
}

// BstoreTypes are the types registered when opening a bstore database.
var BstoreTypes = []any{
	recAccount{},
	recFolder{},
	recTag{},
	recAddress{},
	recName{},
	recAddressName{},
	recInternalContent{},
	recExternalContent{},
	recMessage{},
	recMessageHeader{},
	recMessageAddress{},
	recReplyTo{},
	recPart{},
	recPartHeader{},
}

// Bstore is a store in an embedded bstore database.
type Bstore struct {
	log  mlog.Log
	db   *bstore.DB
	tags map[string]int64
}

var _ Store = (*Bstore)(nil)

// OpenBstore opens or creates a bstore database at path.
func OpenBstore(ctx context.Context, log mlog.Log, path string) (*Bstore, error) {
	opts := bstore.Options{Timeout: 5 * time.Second, Perm: 0660, RegisterLogger: mboxvar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, BstoreTypes...)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	s := &Bstore{log: log, db: db, tags: map[string]int64{}}

	err = db.Write(ctx, func(tx *bstore.Tx) error {
		n, err := bstore.QueryTx[recTag](tx).Count()
		if err != nil {
			return fmt.Errorf("counting tags: %w", err)
		}
		if n == 0 {
			for _, t := range PredefinedTags {
				rt := recTag{OriginalName: t.OriginalName, XMLName: t.XMLName, Lower: strings.ToLower(t.OriginalName)}
				if err := tx.Insert(&rt); err != nil {
					return fmt.Errorf("inserting tag: %w", err)
				}
			}
		}
		return bstore.QueryTx[recTag](tx).SortAsc("ID").ForEach(func(t recTag) error {
			if _, ok := s.tags[t.XMLName]; !ok {
				s.tags[t.XMLName] = t.ID
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing database %s: %w", path, err)
	}
	return s, nil
}

func (s *Bstore) Close() error {
	return s.db.Close()
}

func (s *Bstore) TagID(xmlName string) (int64, bool) {
	id, ok := s.tags[xmlName]
	return id, ok
}

func (s *Bstore) Account(ctx context.Context, name, dir string) (Account, error) {
	var a Account
	err := s.db.Write(ctx, func(tx *bstore.Tx) error {
		ra, err := bstore.QueryTx[recAccount](tx).FilterNonzero(recAccount{Name: name}).Get()
		if err == nil {
			if ra.Directory != "" && ra.Directory != dir {
				return fmt.Errorf("%w: account %q has directory %q, not %q", ErrAccountConflict, name, ra.Directory, dir)
			}
			if ra.Directory == "" {
				ra.Directory = dir
				if err := tx.Update(&ra); err != nil {
					return fmt.Errorf("updating account: %w", err)
				}
			}
			a = Account(ra)
			return nil
		} else if err != bstore.ErrAbsent {
			return fmt.Errorf("looking up account: %w", err)
		}

		other, err := bstore.QueryTx[recAccount](tx).FilterNonzero(recAccount{Directory: dir}).Get()
		if err == nil {
			return fmt.Errorf("%w: directory %q belongs to account %q", ErrAccountConflict, dir, other.Name)
		} else if err != bstore.ErrAbsent {
			return fmt.Errorf("looking up account directory: %w", err)
		}

		ra = recAccount{Name: name, Directory: dir}
		if err := tx.Insert(&ra); err != nil {
			return fmt.Errorf("inserting account: %w", err)
		}
		a = Account(ra)
		return nil
	})
	return a, err
}

func (s *Bstore) LookupAccount(ctx context.Context, name string) (Account, error) {
	var ra recAccount
	err := s.db.Read(ctx, func(tx *bstore.Tx) (err error) {
		ra, err = bstore.QueryTx[recAccount](tx).FilterNonzero(recAccount{Name: name}).Get()
		return err
	})
	if err == bstore.ErrAbsent {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownAccount, name)
	} else if err != nil {
		return Account{}, fmt.Errorf("looking up account: %w", err)
	}
	return Account(ra), nil
}

func (s *Bstore) StartFolder(ctx context.Context, accountID int64, name string) (Folder, error) {
	var f Folder
	err := s.db.Write(ctx, func(tx *bstore.Tx) error {
		exists, err := bstore.QueryTx[recFolder](tx).FilterNonzero(recFolder{AccountID: accountID, Name: name}).Exists()
		if err != nil {
			return fmt.Errorf("looking up folder: %w", err)
		} else if exists {
			return fmt.Errorf("%w: %q", ErrFolderLoaded, name)
		}
		rf := recFolder{AccountID: accountID, Name: name}
		if err := tx.Insert(&rf); err != nil {
			return fmt.Errorf("inserting folder: %w", err)
		}
		f = Folder(rf)
		return nil
	})
	return f, err
}

func (s *Bstore) FinishFolder(ctx context.Context, folderID int64, messages int, dateFrom, dateTo string) error {
	return s.db.Write(ctx, func(tx *bstore.Tx) error {
		rf := recFolder{ID: folderID}
		if err := tx.Get(&rf); err != nil {
			return fmt.Errorf("get folder: %w", err)
		}
		rf.Messages = messages
		rf.DateFrom = dateFrom
		rf.DateTo = dateTo
		if err := tx.Update(&rf); err != nil {
			return fmt.Errorf("updating folder: %w", err)
		}
		return nil
	})
}

func (s *Bstore) Folders(ctx context.Context, accountID int64) ([]Folder, error) {
	var l []recFolder
	err := s.db.Read(ctx, func(tx *bstore.Tx) (err error) {
		l, err = bstore.QueryTx[recFolder](tx).FilterNonzero(recFolder{AccountID: accountID}).SortAsc("Name").List()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	folders := make([]Folder, len(l))
	for i, rf := range l {
		folders[i] = Folder(rf)
	}
	return folders, nil
}

func (s *Bstore) Stats(ctx context.Context, accountID int64) (Stats, error) {
	var st Stats
	err := s.db.Read(ctx, func(tx *bstore.Tx) error {
		var folderIDs []any
		err := bstore.QueryTx[recFolder](tx).FilterNonzero(recFolder{AccountID: accountID}).ForEach(func(f recFolder) error {
			folderIDs = append(folderIDs, f.ID)
			return nil
		})
		if err != nil || len(folderIDs) == 0 {
			return err
		}

		n, err := bstore.QueryTx[recMessage](tx).FilterEqual("FolderID", folderIDs...).Count()
		if err != nil {
			return err
		}
		st.Messages = int64(n)

		err = bstore.QueryTx[recPart](tx).FilterEqual("FolderID", folderIDs...).ForEach(func(p recPart) error {
			st.Parts++
			if p.InternalContentID != 0 {
				st.RedundantInternal++
			}
			if p.ExternalContentID != 0 {
				st.RedundantExternal++
			}
			if p.Attachment {
				st.Attachments++
			}
			st.RedundantSize += p.Length
			return nil
		})
		if err != nil {
			return err
		}

		err = bstore.QueryTx[recInternalContent](tx).FilterEqual("FolderID", folderIDs...).ForEach(func(c recInternalContent) error {
			st.UniqueInternal++
			st.UniqueSize += c.Length
			return nil
		})
		if err != nil {
			return err
		}
		return bstore.QueryTx[recExternalContent](tx).FilterEqual("FolderID", folderIDs...).ForEach(func(c recExternalContent) error {
			st.UniqueExternal++
			st.UniqueSize += c.Length
			return nil
		})
	})
	if err != nil {
		return Stats{}, fmt.Errorf("gathering stats: %w", err)
	}
	return st, nil
}

func (s *Bstore) DeleteFolder(ctx context.Context, accountID int64, name string) ([]string, error) {
	var files []string
	err := s.db.Write(ctx, func(tx *bstore.Tx) error {
		rf, err := bstore.QueryTx[recFolder](tx).FilterNonzero(recFolder{AccountID: accountID, Name: name}).Get()
		if err == bstore.ErrAbsent {
			return fmt.Errorf("%w: %q", ErrUnknownFolder, name)
		} else if err != nil {
			return fmt.Errorf("looking up folder: %w", err)
		}

		err = bstore.QueryTx[recExternalContent](tx).FilterNonzero(recExternalContent{FolderID: rf.ID}).SortAsc("ID").ForEach(func(c recExternalContent) error {
			files = append(files, c.StoredFileName)
			return nil
		})
		if err != nil {
			return fmt.Errorf("listing external content: %w", err)
		}

		// In order of references.
		deletes := []func() (int, error){
			bstore.QueryTx[recPartHeader](tx).FilterNonzero(recPartHeader{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recMessageHeader](tx).FilterNonzero(recMessageHeader{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recMessageAddress](tx).FilterNonzero(recMessageAddress{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recReplyTo](tx).FilterNonzero(recReplyTo{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recPart](tx).FilterNonzero(recPart{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recMessage](tx).FilterNonzero(recMessage{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recInternalContent](tx).FilterNonzero(recInternalContent{FolderID: rf.ID}).Delete,
			bstore.QueryTx[recExternalContent](tx).FilterNonzero(recExternalContent{FolderID: rf.ID}).Delete,
		}
		for _, fn := range deletes {
			if _, err := fn(); err != nil {
				return fmt.Errorf("deleting folder records: %w", err)
			}
		}
		if err := tx.Delete(&rf); err != nil {
			return fmt.Errorf("deleting folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Bstore) Write(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.Write(ctx, func(tx *bstore.Tx) error {
		return fn(&bstoreTx{tx: tx, folders: map[int64]int64{}})
	})
}

type bstoreTx struct {
	tx *bstore.Tx

	// Folder ids for messages inserted in this transaction, and part ids to
	// message ids.
	folders map[int64]int64
	parts   map[int64]int64
}

func (t *bstoreTx) LookupInternal(ctx context.Context, k contentstore.Key) (int64, bool, error) {
	q := bstore.QueryTx[recInternalContent](t.tx).FilterNonzero(recInternalContent{FolderID: k.FolderID, SHA1: k.SHA1})
	q.FilterEqual("Length", k.Length).FilterEqual("OriginalFileName", k.FileName).SortAsc("ID").Limit(1)
	c, err := q.Get()
	if err == bstore.ErrAbsent {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return c.ID, true, nil
}

func (t *bstoreTx) InsertInternal(ctx context.Context, k contentstore.Key, text []byte) (int64, error) {
	c := recInternalContent{FolderID: k.FolderID, SHA1: k.SHA1, Length: k.Length, OriginalFileName: k.FileName, Text: text}
	err := t.tx.Insert(&c)
	return c.ID, err
}

func (t *bstoreTx) LookupExternal(ctx context.Context, k contentstore.Key) (int64, bool, error) {
	q := bstore.QueryTx[recExternalContent](t.tx).FilterNonzero(recExternalContent{FolderID: k.FolderID, SHA1: k.SHA1})
	q.FilterEqual("Length", k.Length).FilterEqual("OriginalFileName", k.FileName).SortAsc("ID").Limit(1)
	c, err := q.Get()
	if err == bstore.ErrAbsent {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return c.ID, true, nil
}

func (t *bstoreTx) InsertExternal(ctx context.Context, k contentstore.Key, storedName string, xmlWrapped bool) (int64, error) {
	c := recExternalContent{FolderID: k.FolderID, SHA1: k.SHA1, Length: k.Length, OriginalFileName: k.FileName, StoredFileName: storedName, XMLWrapped: xmlWrapped}
	err := t.tx.Insert(&c)
	return c.ID, err
}

func (t *bstoreTx) OtherTagID(ctx context.Context, xmlName, originalName string) (int64, error) {
	lower := strings.ToLower(originalName)
	q := bstore.QueryTx[recTag](t.tx).FilterNonzero(recTag{XMLName: xmlName})
	rt, err := q.FilterEqual("Lower", lower).SortAsc("ID").Limit(1).Get()
	if err == nil {
		return rt.ID, nil
	} else if err != bstore.ErrAbsent {
		return 0, err
	}
	rt = recTag{OriginalName: originalName, XMLName: xmlName, Lower: lower}
	err = t.tx.Insert(&rt)
	return rt.ID, err
}

func (t *bstoreTx) InsertMessage(ctx context.Context, m *Message) error {
	rm := recMessage{FolderID: m.FolderID, GlobalID: m.GlobalID, EOL: m.EOL, SHA1: m.SHA1, DateTime: m.DateTime, ZOffset: m.ZOffset}
	if err := t.tx.Insert(&rm); err != nil {
		return err
	}
	m.ID = rm.ID
	t.folders[rm.ID] = rm.FolderID
	return nil
}

// folderID returns the folder of a message.
func (t *bstoreTx) folderID(messageID int64) (int64, error) {
	if id, ok := t.folders[messageID]; ok {
		return id, nil
	}
	rm := recMessage{ID: messageID}
	if err := t.tx.Get(&rm); err != nil {
		return 0, fmt.Errorf("get message: %w", err)
	}
	t.folders[messageID] = rm.FolderID
	return rm.FolderID, nil
}

func (t *bstoreTx) InsertMessageHeader(ctx context.Context, messageID, tagID int64, value string) error {
	folderID, err := t.folderID(messageID)
	if err != nil {
		return err
	}
	return t.tx.Insert(&recMessageHeader{FolderID: folderID, MessageID: messageID, TagID: tagID, Value: value})
}

func (t *bstoreTx) AddressID(ctx context.Context, address string) (int64, error) {
	ra, err := bstore.QueryTx[recAddress](t.tx).FilterNonzero(recAddress{Address: address}).Get()
	if err == nil {
		return ra.ID, nil
	} else if err != bstore.ErrAbsent {
		return 0, err
	}
	ra = recAddress{Address: address}
	err = t.tx.Insert(&ra)
	return ra.ID, err
}

func (t *bstoreTx) NameID(ctx context.Context, name string) (int64, error) {
	rn, err := bstore.QueryTx[recName](t.tx).FilterNonzero(recName{Name: name}).Get()
	if err == nil {
		return rn.ID, nil
	} else if err != bstore.ErrAbsent {
		return 0, err
	}
	rn = recName{Name: name}
	err = t.tx.Insert(&rn)
	return rn.ID, err
}

func (t *bstoreTx) LinkAddressName(ctx context.Context, addressID, nameID int64) error {
	exists, err := bstore.QueryTx[recAddressName](t.tx).FilterNonzero(recAddressName{AddressID: addressID, NameID: nameID}).Exists()
	if err != nil || exists {
		return err
	}
	return t.tx.Insert(&recAddressName{AddressID: addressID, NameID: nameID})
}

func (t *bstoreTx) InsertMessageAddress(ctx context.Context, messageID, tagID, addressID, nameID int64) error {
	folderID, err := t.folderID(messageID)
	if err != nil {
		return err
	}
	return t.tx.Insert(&recMessageAddress{FolderID: folderID, MessageID: messageID, TagID: tagID, AddressID: addressID, NameID: nameID})
}

func (t *bstoreTx) InsertReplyTo(ctx context.Context, messageID int64, repliedTo string) error {
	folderID, err := t.folderID(messageID)
	if err != nil {
		return err
	}
	return t.tx.Insert(&recReplyTo{FolderID: folderID, ReplyingID: messageID, RepliedToID: repliedTo})
}

func (t *bstoreTx) InsertPart(ctx context.Context, p *Part) error {
	folderID, err := t.folderID(p.MessageID)
	if err != nil {
		return err
	}
	rp := recPart{
		FolderID:          folderID,
		MessageID:         p.MessageID,
		Seq:               p.Seq,
		ParentSeq:         p.ParentSeq,
		Multipart:         p.Multipart,
		Attachment:        p.Attachment,
		Length:            p.Length,
		SHA1:              p.SHA1,
		InternalContentID: p.InternalContentID,
		ExternalContentID: p.ExternalContentID,
	}
	if err := t.tx.Insert(&rp); err != nil {
		return err
	}
	p.ID = rp.ID
	if t.parts == nil {
		t.parts = map[int64]int64{}
	}
	t.parts[rp.ID] = p.MessageID
	return nil
}

func (t *bstoreTx) InsertPartHeader(ctx context.Context, partID, tagID int64, value string) error {
	messageID, ok := t.parts[partID]
	if !ok {
		rp := recPart{ID: partID}
		if err := t.tx.Get(&rp); err != nil {
			return fmt.Errorf("get part: %w", err)
		}
		messageID = rp.MessageID
	}
	folderID, err := t.folderID(messageID)
	if err != nil {
		return err
	}
	return t.tx.Insert(&recPartHeader{FolderID: folderID, PartID: partID, TagID: tagID, Value: value})
}
