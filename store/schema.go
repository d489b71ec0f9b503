package store

// Tables of the DArcMail schema. Foreign keys are enforced by the connection.
var createTables = []string{
	`CREATE TABLE IF NOT EXISTS account (
id INTEGER PRIMARY KEY AUTOINCREMENT,
account_name TEXT NOT NULL,
account_directory TEXT DEFAULT NULL
)`,

	`CREATE TABLE IF NOT EXISTS address (
id INTEGER PRIMARY KEY AUTOINCREMENT,
address TEXT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS name (
id INTEGER PRIMARY KEY AUTOINCREMENT,
name TEXT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS address_name (
address_id INTEGER NOT NULL,
name_id INTEGER NOT NULL,
CONSTRAINT address_name_ibfk_1 FOREIGN KEY (address_id) REFERENCES address (id),
CONSTRAINT address_name_ibfk_2 FOREIGN KEY (name_id) REFERENCES name (id)
)`,

	`CREATE TABLE IF NOT EXISTS folder (
id INTEGER PRIMARY KEY AUTOINCREMENT,
account_id INTEGER NOT NULL,
folder_name TEXT NOT NULL,
n_messages INTEGER DEFAULT 0,
date_from DATETIME DEFAULT NULL,
date_to DATETIME DEFAULT NULL,
CONSTRAINT folder_ibfk_1 FOREIGN KEY (account_id) REFERENCES account (id)
)`,

	`CREATE TABLE IF NOT EXISTS external_content (
id INTEGER PRIMARY KEY AUTOINCREMENT,
folder_id INTEGER NOT NULL,
xml_wrapped BOOLEAN DEFAULT '0',
original_file_name TEXT DEFAULT NULL,
stored_file_name TEXT NOT NULL,
content_length bigint DEFAULT '0',
content_sha1 TEXT DEFAULT NULL,
CONSTRAINT external_content_ibfk_1 FOREIGN KEY (folder_id) REFERENCES folder (id)
)`,

	`CREATE TABLE IF NOT EXISTS internal_content (
id INTEGER PRIMARY KEY AUTOINCREMENT,
folder_id INTEGER NOT NULL,
original_file_name TEXT DEFAULT NULL,
content_text BLOB NOT NULL,
content_length bigint DEFAULT '0',
content_sha1 TEXT DEFAULT NULL,
CONSTRAINT internal_content_ibfk_1 FOREIGN KEY (folder_id) REFERENCES folder (id)
)`,

	`CREATE TABLE IF NOT EXISTS message (
id INTEGER PRIMARY KEY AUTOINCREMENT,
folder_id INTEGER NOT NULL,
global_message_id TEXT NOT NULL,
eol TEXT DEFAULT NULL,
sha1_hash TEXT NOT NULL,
date_time datetime NOT NULL,
zoffset TEXT NOT NULL,
CONSTRAINT message_ibfk_1 FOREIGN KEY (folder_id) REFERENCES folder (id)
)`,

	`CREATE TABLE IF NOT EXISTS tag (
id INTEGER PRIMARY KEY AUTOINCREMENT,
original_name TEXT NOT NULL,
xml_name TEXT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS message_address (
message_id INTEGER NOT NULL,
tag_id INTEGER NOT NULL,
address_id INTEGER DEFAULT NULL,
name_id INTEGER DEFAULT NULL,
CONSTRAINT message_address_ibfk_1 FOREIGN KEY (message_id) REFERENCES message (id),
CONSTRAINT message_address_ibfk_2 FOREIGN KEY (tag_id) REFERENCES tag (id),
CONSTRAINT message_address_ibfk_3 FOREIGN KEY (address_id) REFERENCES address (id),
CONSTRAINT message_address_ibfk_4 FOREIGN KEY (name_id) REFERENCES name (id)
)`,

	`CREATE TABLE IF NOT EXISTS message_header (
id INTEGER PRIMARY KEY AUTOINCREMENT,
message_id INTEGER NOT NULL,
tag_id INTEGER NOT NULL,
header_value BLOB NOT NULL,
CONSTRAINT message_header_ibfk_1 FOREIGN KEY (message_id) REFERENCES message (id),
CONSTRAINT message_header_ibfk_2 FOREIGN KEY (tag_id) REFERENCES tag (id)
)`,

	`CREATE TABLE IF NOT EXISTS part (
id INTEGER PRIMARY KEY AUTOINCREMENT,
message_id INTEGER NOT NULL,
sequence_id INTEGER NOT NULL,
parent_sequence_id INTEGER NOT NULL,
is_multipart BOOLEAN NOT NULL,
content_length INTEGER DEFAULT '0',
content_sha1 TEXT DEFAULT NULL,
content_ident TEXT DEFAULT NULL,
is_attachment BOOLEAN DEFAULT '0',
internal_content_id INTEGER DEFAULT NULL,
external_content_id INTEGER DEFAULT NULL,
CONSTRAINT part_ibfk_1 FOREIGN KEY (message_id) REFERENCES message (id),
CONSTRAINT part_ibfk_2 FOREIGN KEY (internal_content_id) REFERENCES internal_content (id),
CONSTRAINT part_ibfk_3 FOREIGN KEY (external_content_id) REFERENCES external_content (id)
)`,

	`CREATE TABLE IF NOT EXISTS part_header (
id INTEGER PRIMARY KEY AUTOINCREMENT,
part_id INTEGER NOT NULL,
tag_id INTEGER NOT NULL,
header_value BLOB NOT NULL,
CONSTRAINT part_header_ibfk_1 FOREIGN KEY (part_id) REFERENCES part (id),
CONSTRAINT part_header_ibfk_2 FOREIGN KEY (tag_id) REFERENCES tag (id)
)`,

	`CREATE TABLE IF NOT EXISTS replyto (
replying_id INTEGER NOT NULL,
repliedto_id TEXT NOT NULL,
CONSTRAINT replyto_ibfk_1 FOREIGN KEY (replying_id) REFERENCES message (id)
)`,
}

var createIndexes = []string{
	`CREATE INDEX IF NOT EXISTS address_idx_0 ON address (address)`,
	`CREATE INDEX IF NOT EXISTS address_name_idx_1 ON address_name (address_id)`,
	`CREATE INDEX IF NOT EXISTS address_name_idx_2 ON address_name (name_id)`,
	`CREATE INDEX IF NOT EXISTS external_content_idx_3 ON external_content (folder_id)`,
	`CREATE INDEX IF NOT EXISTS external_content_idx_4 ON external_content (content_length)`,
	`CREATE INDEX IF NOT EXISTS external_content_idx_5 ON external_content (content_sha1)`,
	`CREATE INDEX IF NOT EXISTS folder_idx_6 ON folder (account_id)`,
	`CREATE INDEX IF NOT EXISTS internal_content_idx_7 ON internal_content (folder_id)`,
	`CREATE INDEX IF NOT EXISTS internal_content_idx_8 ON internal_content (content_length)`,
	`CREATE INDEX IF NOT EXISTS internal_content_idx_9 ON internal_content (content_sha1)`,
	`CREATE INDEX IF NOT EXISTS message_idx_10 ON message (folder_id)`,
	`CREATE INDEX IF NOT EXISTS message_idx_11 ON message (global_message_id)`,
	`CREATE INDEX IF NOT EXISTS message_address_idx_12 ON message_address (message_id)`,
	`CREATE INDEX IF NOT EXISTS message_address_idx_13 ON message_address (tag_id)`,
	`CREATE INDEX IF NOT EXISTS message_address_idx_14 ON message_address (address_id)`,
	`CREATE INDEX IF NOT EXISTS message_address_idx_15 ON message_address (name_id)`,
	`CREATE INDEX IF NOT EXISTS message_header_idx_16 ON message_header (message_id)`,
	`CREATE INDEX IF NOT EXISTS message_header_idx_17 ON message_header (tag_id)`,
	`CREATE INDEX IF NOT EXISTS name_idx_18 ON name (name)`,
	`CREATE INDEX IF NOT EXISTS part_idx_19 ON part (content_sha1)`,
	`CREATE INDEX IF NOT EXISTS part_idx_20 ON part (message_id)`,
	`CREATE INDEX IF NOT EXISTS part_idx_21 ON part (internal_content_id)`,
	`CREATE INDEX IF NOT EXISTS part_idx_22 ON part (external_content_id)`,
	`CREATE INDEX IF NOT EXISTS part_header_idx_23 ON part_header (part_id)`,
	`CREATE INDEX IF NOT EXISTS part_header_idx_24 ON part_header (tag_id)`,
	`CREATE INDEX IF NOT EXISTS replyto_idx_25 ON replyto (repliedto_id)`,
	`CREATE INDEX IF NOT EXISTS replyto_idx_26 ON replyto (replying_id)`,
	`CREATE INDEX IF NOT EXISTS message_idx_27 ON message (date_time)`,
}
