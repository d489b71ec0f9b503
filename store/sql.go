package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mjl-/mboxarchive/contentstore"
	"github.com/mjl-/mboxarchive/mlog"
)

// SQL is a store in a SQLite database with the DArcMail schema.
type SQL struct {
	log  mlog.Log
	db   *sql.DB
	tags map[string]int64 // Predefined tags, by xml name.
}

var _ Store = (*SQL)(nil)

// OpenSQL opens or creates a SQLite database at path. Tables, indexes and
// predefined tags are created if absent.
func OpenSQL(ctx context.Context, log mlog.Log, path string) (*SQL, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection, the writer. Conversion is single-threaded.
	db.SetMaxOpenConns(1)

	s := &SQL{log: log, db: db, tags: map[string]int64{}}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing database %s: %w", path, err)
	}
	return s, nil
}

func (s *SQL) init(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			err := tx.Rollback()
			s.log.Check(err, "rolling back initialization")
		}
	}()

	for _, q := range append(createTables, createIndexes...) {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("executing %q: %w", strings.SplitN(q, "\n", 2)[0], err)
		}
	}

	var n int
	if err := tx.QueryRowContext(ctx, `select count(*) from tag`).Scan(&n); err != nil {
		return fmt.Errorf("counting tags: %w", err)
	}
	if n == 0 {
		for _, t := range PredefinedTags {
			if _, err := tx.ExecContext(ctx, `insert into tag(original_name, xml_name) values (?, ?)`, t.OriginalName, t.XMLName); err != nil {
				return fmt.Errorf("inserting tag: %w", err)
			}
		}
		s.log.Debug("predefined tags inserted", slog.Int("count", len(PredefinedTags)))
	}

	// Predefined tags have the lowest ids. Later tags with the same xml name are
	// for headers without predefined tag.
	rows, err := tx.QueryContext(ctx, `select id, xml_name from tag order by id`)
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("reading tag: %w", err)
		}
		if _, ok := s.tags[name]; !ok {
			s.tags[name] = id
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}

	err = tx.Commit()
	tx = nil
	return err
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) TagID(xmlName string) (int64, bool) {
	id, ok := s.tags[xmlName]
	return id, ok
}

func (s *SQL) Account(ctx context.Context, name, dir string) (Account, error) {
	var a Account
	err := s.write(ctx, func(tx *sql.Tx) error {
		var adir sql.NullString
		err := tx.QueryRowContext(ctx, `select id, account_directory from account where account_name=?`, name).Scan(&a.ID, &adir)
		if err == nil {
			a.Name = name
			a.Directory = adir.String
			if adir.Valid && adir.String != dir {
				return fmt.Errorf("%w: account %q has directory %q, not %q", ErrAccountConflict, name, adir.String, dir)
			}
			if !adir.Valid {
				a.Directory = dir
				_, err := tx.ExecContext(ctx, `update account set account_directory=? where id=?`, dir, a.ID)
				return err
			}
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up account: %w", err)
		}

		var other string
		err = tx.QueryRowContext(ctx, `select account_name from account where account_directory=?`, dir).Scan(&other)
		if err == nil {
			return fmt.Errorf("%w: directory %q belongs to account %q", ErrAccountConflict, dir, other)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up account directory: %w", err)
		}

		r, err := tx.ExecContext(ctx, `insert into account(account_name, account_directory) values (?, ?)`, name, dir)
		if err != nil {
			return fmt.Errorf("inserting account: %w", err)
		}
		a = Account{Name: name, Directory: dir}
		a.ID, err = r.LastInsertId()
		return err
	})
	return a, err
}

func (s *SQL) LookupAccount(ctx context.Context, name string) (Account, error) {
	a := Account{Name: name}
	var dir sql.NullString
	err := s.db.QueryRowContext(ctx, `select id, account_directory from account where account_name=?`, name).Scan(&a.ID, &dir)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownAccount, name)
	} else if err != nil {
		return Account{}, fmt.Errorf("looking up account: %w", err)
	}
	a.Directory = dir.String
	return a, nil
}

func (s *SQL) StartFolder(ctx context.Context, accountID int64, name string) (Folder, error) {
	f := Folder{AccountID: accountID, Name: name}
	err := s.write(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `select count(*) from folder where account_id=? and folder_name=?`, accountID, name).Scan(&n); err != nil {
			return fmt.Errorf("looking up folder: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %q", ErrFolderLoaded, name)
		}
		r, err := tx.ExecContext(ctx, `insert into folder(account_id, folder_name) values (?, ?)`, accountID, name)
		if err != nil {
			return fmt.Errorf("inserting folder: %w", err)
		}
		f.ID, err = r.LastInsertId()
		return err
	})
	return f, err
}

func (s *SQL) FinishFolder(ctx context.Context, folderID int64, messages int, dateFrom, dateTo string) error {
	_, err := s.db.ExecContext(ctx, `update folder set n_messages=?, date_from=?, date_to=? where id=?`, messages, nullString(dateFrom), nullString(dateTo), folderID)
	if err != nil {
		return fmt.Errorf("updating folder: %w", err)
	}
	return nil
}

func (s *SQL) Folders(ctx context.Context, accountID int64) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `select id, folder_name, n_messages, date_from, date_to from folder where account_id=? order by folder_name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	defer rows.Close()
	var l []Folder
	for rows.Next() {
		f := Folder{AccountID: accountID}
		var from, to sql.NullString
		var n sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Name, &n, &from, &to); err != nil {
			return nil, fmt.Errorf("reading folder: %w", err)
		}
		f.Messages = int(n.Int64)
		f.DateFrom = from.String
		f.DateTo = to.String
		l = append(l, f)
	}
	return l, rows.Err()
}

func (s *SQL) Stats(ctx context.Context, accountID int64) (Stats, error) {
	const parts = `part p join message m on p.message_id=m.id join folder f on m.folder_id=f.id where f.account_id=?`
	var st Stats
	queries := []struct {
		dst *int64
		q   string
	}{
		{&st.Messages, `select count(*) from message m join folder f on m.folder_id=f.id where f.account_id=?`},
		{&st.Parts, `select count(*) from ` + parts},
		{&st.UniqueInternal, `select count(*) from internal_content c join folder f on c.folder_id=f.id where f.account_id=?`},
		{&st.UniqueExternal, `select count(*) from external_content c join folder f on c.folder_id=f.id where f.account_id=?`},
		{&st.RedundantInternal, `select count(*) from ` + parts + ` and p.internal_content_id is not null`},
		{&st.RedundantExternal, `select count(*) from ` + parts + ` and p.external_content_id is not null`},
		{&st.Attachments, `select count(*) from ` + parts + ` and p.is_attachment=1`},
		{&st.UniqueSize, `select coalesce(sum(c.content_length), 0) from internal_content c join folder f on c.folder_id=f.id where f.account_id=?`},
		{&st.RedundantSize, `select coalesce(sum(p.content_length), 0) from ` + parts},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.q, accountID).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("gathering stats: %w", err)
		}
	}
	var ext int64
	err := s.db.QueryRowContext(ctx, `select coalesce(sum(c.content_length), 0) from external_content c join folder f on c.folder_id=f.id where f.account_id=?`, accountID).Scan(&ext)
	if err != nil {
		return Stats{}, fmt.Errorf("gathering stats: %w", err)
	}
	st.UniqueSize += ext
	return st, nil
}

func (s *SQL) DeleteFolder(ctx context.Context, accountID int64, name string) ([]string, error) {
	var files []string
	err := s.write(ctx, func(tx *sql.Tx) error {
		var folderID int64
		err := tx.QueryRowContext(ctx, `select id from folder where account_id=? and folder_name=?`, accountID, name).Scan(&folderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrUnknownFolder, name)
		} else if err != nil {
			return fmt.Errorf("looking up folder: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `select stored_file_name from external_content where folder_id=? order by id`, folderID)
		if err != nil {
			return fmt.Errorf("listing external content: %w", err)
		}
		for rows.Next() {
			var fn string
			if err := rows.Scan(&fn); err != nil {
				rows.Close()
				return fmt.Errorf("reading external content: %w", err)
			}
			files = append(files, fn)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("listing external content: %w", err)
		}
		rows.Close()

		const messages = `select id from message where folder_id=?`
		const parts = `select p.id from part p join message m on p.message_id=m.id where m.folder_id=?`
		for _, q := range []string{
			`delete from part_header where part_id in (` + parts + `)`,
			`delete from message_header where message_id in (` + messages + `)`,
			`delete from message_address where message_id in (` + messages + `)`,
			`delete from replyto where replying_id in (` + messages + `)`,
			`delete from part where message_id in (` + messages + `)`,
			`delete from message where folder_id=?`,
			`delete from internal_content where folder_id=?`,
			`delete from external_content where folder_id=?`,
			`delete from folder where id=?`,
		} {
			if _, err := tx.ExecContext(ctx, q, folderID); err != nil {
				return fmt.Errorf("deleting folder records: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *SQL) Write(ctx context.Context, fn func(tx Tx) error) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		return fn(&sqlTx{s, tx})
	})
}

// write runs fn in a transaction, committing if fn returns nil.
func (s *SQL) write(ctx context.Context, fn func(tx *sql.Tx) error) (rerr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			err := tx.Rollback()
			s.log.Check(err, "rolling back transaction")
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	err = tx.Commit()
	tx = nil
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

type sqlTx struct {
	s  *SQL
	tx *sql.Tx
}

func (t *sqlTx) insert(ctx context.Context, q string, args ...any) (int64, error) {
	r, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return r.LastInsertId()
}

// lookup returns the id selected by q, with found false if there was no row.
func (t *sqlTx) lookup(ctx context.Context, q string, args ...any) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *sqlTx) LookupInternal(ctx context.Context, k contentstore.Key) (int64, bool, error) {
	return t.lookup(ctx, `select id from internal_content where folder_id=? and content_sha1=? and content_length=? and original_file_name is ? order by id limit 1`, k.FolderID, k.SHA1, k.Length, nullString(k.FileName))
}

func (t *sqlTx) InsertInternal(ctx context.Context, k contentstore.Key, text []byte) (int64, error) {
	return t.insert(ctx, `insert into internal_content(folder_id, original_file_name, content_text, content_length, content_sha1) values (?, ?, ?, ?, ?)`, k.FolderID, nullString(k.FileName), text, k.Length, k.SHA1)
}

func (t *sqlTx) LookupExternal(ctx context.Context, k contentstore.Key) (int64, bool, error) {
	return t.lookup(ctx, `select id from external_content where folder_id=? and content_sha1=? and content_length=? and original_file_name is ? order by id limit 1`, k.FolderID, k.SHA1, k.Length, nullString(k.FileName))
}

func (t *sqlTx) InsertExternal(ctx context.Context, k contentstore.Key, storedName string, xmlWrapped bool) (int64, error) {
	return t.insert(ctx, `insert into external_content(folder_id, xml_wrapped, original_file_name, stored_file_name, content_length, content_sha1) values (?, ?, ?, ?, ?, ?)`, k.FolderID, xmlWrapped, nullString(k.FileName), storedName, k.Length, k.SHA1)
}

func (t *sqlTx) OtherTagID(ctx context.Context, xmlName, originalName string) (int64, error) {
	id, ok, err := t.lookup(ctx, `select id from tag where xml_name=? and original_name=? collate nocase order by id limit 1`, xmlName, originalName)
	if err != nil || ok {
		return id, err
	}
	return t.insert(ctx, `insert into tag(original_name, xml_name) values (?, ?)`, originalName, xmlName)
}

func (t *sqlTx) InsertMessage(ctx context.Context, m *Message) (err error) {
	m.ID, err = t.insert(ctx, `insert into message(folder_id, global_message_id, eol, sha1_hash, date_time, zoffset) values (?, ?, ?, ?, ?, ?)`, m.FolderID, m.GlobalID, nullString(m.EOL), m.SHA1, m.DateTime, m.ZOffset)
	return err
}

func (t *sqlTx) InsertMessageHeader(ctx context.Context, messageID, tagID int64, value string) error {
	_, err := t.tx.ExecContext(ctx, `insert into message_header(message_id, tag_id, header_value) values (?, ?, ?)`, messageID, tagID, value)
	return err
}

func (t *sqlTx) AddressID(ctx context.Context, address string) (int64, error) {
	id, ok, err := t.lookup(ctx, `select id from address where address=?`, address)
	if err != nil || ok {
		return id, err
	}
	return t.insert(ctx, `insert into address(address) values (?)`, address)
}

func (t *sqlTx) NameID(ctx context.Context, name string) (int64, error) {
	id, ok, err := t.lookup(ctx, `select id from name where name=?`, name)
	if err != nil || ok {
		return id, err
	}
	return t.insert(ctx, `insert into name(name) values (?)`, name)
}

func (t *sqlTx) LinkAddressName(ctx context.Context, addressID, nameID int64) error {
	var n int
	err := t.tx.QueryRowContext(ctx, `select count(*) from address_name where address_id=? and name_id=?`, addressID, nameID).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `insert into address_name(address_id, name_id) values (?, ?)`, addressID, nameID)
	return err
}

func (t *sqlTx) InsertMessageAddress(ctx context.Context, messageID, tagID, addressID, nameID int64) error {
	_, err := t.tx.ExecContext(ctx, `insert into message_address(message_id, tag_id, address_id, name_id) values (?, ?, ?, ?)`, messageID, tagID, nullID(addressID), nullID(nameID))
	return err
}

func (t *sqlTx) InsertReplyTo(ctx context.Context, messageID int64, repliedTo string) error {
	_, err := t.tx.ExecContext(ctx, `insert into replyto(replying_id, repliedto_id) values (?, ?)`, messageID, repliedTo)
	return err
}

func (t *sqlTx) InsertPart(ctx context.Context, p *Part) (err error) {
	p.ID, err = t.insert(ctx, `insert into part(message_id, sequence_id, parent_sequence_id, is_multipart, content_length, content_sha1, is_attachment, internal_content_id, external_content_id) values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.MessageID, p.Seq, p.ParentSeq, p.Multipart, p.Length, nullString(p.SHA1), p.Attachment, nullID(p.InternalContentID), nullID(p.ExternalContentID))
	return err
}

func (t *sqlTx) InsertPartHeader(ctx context.Context, partID, tagID int64, value string) error {
	_, err := t.tx.ExecContext(ctx, `insert into part_header(part_id, tag_id, header_value) values (?, ?, ?)`, partID, tagID, value)
	return err
}
