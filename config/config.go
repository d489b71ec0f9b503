package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/mjl-/sconf"

	"github.com/mjl-/mboxarchive/mlog"
)

// DefaultChunkBytes is the byte budget for a single XML output file: just
// under 2 GiB, leaving room for one large message.
const DefaultChunkBytes = 1<<31 - 200000

// Database types.
const (
	DatabaseSQLite = "sqlite"
	DatabaseBstore = "bstore"
)

// Static is the parsed form of the configuration file.
type Static struct {
	LogLevel         string            `sconf:"optional" sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDefault log level, one of: error, info, debug, trace. Default: info."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. mbox, message, convert, contentstore, relational, eaxs, store)."`
	Database         string            `sconf:"optional" sconf-doc:"Path to the database file for mbox2db, dbstats and deletefolder. Default: darcmail.db in the current directory."`
	DatabaseType     string            `sconf:"optional" sconf-doc:"Type of database: sqlite (the DArcMail relational schema, default) or bstore (embedded typed database)."`

	InternalAttachments  bool   `sconf:"optional" sconf-doc:"Store attachments in the database like other content. By default, attachments are written as files next to the mbox file and referenced from the database."`
	ExternalSubdirLevels *int   `sconf:"optional" sconf-doc:"Number of directory levels (0, 1 or 2) with two-character directory names derived from the random file name, under which external content files are stored. Default: 1."`
	ChunkBytes           int64  `sconf:"optional" sconf-doc:"Maximum number of bytes written to an XML file before continuing in a new file. Checked between messages, so files can be one message larger. Default: 2147283648."`
	UnquoteFrom          bool   `sconf:"optional" sconf-doc:"Remove one '>' from lines in message text matching '>+From ' (mboxrd). By default message text is kept as stored in the mbox file, which is also what message hashes are computed over."`
	MetricsFile          string `sconf:"optional" sconf-doc:"If set, conversion metrics are written to this file in Prometheus text format at the end of a run, e.g. for the node exporter textfile collector."`
	DirPerm              string `sconf:"optional" sconf-doc:"Octal permissions for created directories for external content. Default: 0775."`
	FilePerm             string `sconf:"optional" sconf-doc:"Octal permissions for created external content files. Default: 0664."`
	XMLFilePerm          string `sconf:"optional" sconf-doc:"Octal permissions for created XML and message log files. Default: 0664."`

	// Parsed forms, set by Validate.
	Log         map[string]slog.Level `sconf:"-"`
	DirMode     fs.FileMode           `sconf:"-"`
	FileMode    fs.FileMode           `sconf:"-"`
	XMLFileMode fs.FileMode           `sconf:"-"`
}

// Default returns a config with all defaults filled in.
func Default() Static {
	var c Static
	c.fillDefaults()
	return c
}

func (c *Static) fillDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database == "" {
		c.Database = "darcmail.db"
	}
	if c.DatabaseType == "" {
		c.DatabaseType = DatabaseSQLite
	}
	if c.ExternalSubdirLevels == nil {
		n := 1
		c.ExternalSubdirLevels = &n
	}
	if c.ChunkBytes == 0 {
		c.ChunkBytes = DefaultChunkBytes
	}
	if c.DirPerm == "" {
		c.DirPerm = "0775"
	}
	if c.FilePerm == "" {
		c.FilePerm = "0664"
	}
	if c.XMLFilePerm == "" {
		c.XMLFilePerm = "0664"
	}
}

// Load parses the configuration file at path, applies defaults and validates.
// If path is empty, the defaults are returned.
func Load(path string) (Static, error) {
	var c Static
	if path != "" {
		if err := sconf.ParseFile(path, &c); err != nil {
			return Static{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Static{}, err
	}
	return c, nil
}

// Validate checks the configuration and sets the parsed fields. All problems
// are returned, joined.
func (c *Static) Validate() error {
	var errs []error
	addf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	c.Log = map[string]slog.Level{}
	if level, ok := mlog.Levels[c.LogLevel]; ok {
		c.Log[""] = level
	} else {
		addf("unknown log level %q", c.LogLevel)
	}
	for pkg, s := range c.PackageLogLevels {
		if level, ok := mlog.Levels[s]; ok {
			c.Log[pkg] = level
		} else {
			addf("unknown log level %q for package %q", s, pkg)
		}
	}

	switch c.DatabaseType {
	case DatabaseSQLite, DatabaseBstore:
	default:
		addf("unknown database type %q, must be %s or %s", c.DatabaseType, DatabaseSQLite, DatabaseBstore)
	}
	if c.ExternalSubdirLevels != nil && (*c.ExternalSubdirLevels < 0 || *c.ExternalSubdirLevels > 2) {
		addf("too many subdir levels %d, must be 0, 1 or 2", *c.ExternalSubdirLevels)
	}
	if c.ChunkBytes < 0 {
		addf("chunk bytes must be positive, not %d", c.ChunkBytes)
	}

	parsePerm := func(name, s string) fs.FileMode {
		v, err := strconv.ParseUint(s, 8, 32)
		if err != nil || v > 0777 {
			addf("bad %s %q, must be octal permissions like 0664", name, s)
			return 0
		}
		return fs.FileMode(v)
	}
	c.DirMode = parsePerm("DirPerm", c.DirPerm)
	c.FileMode = parsePerm("FilePerm", c.FilePerm)
	c.XMLFileMode = parsePerm("XMLFilePerm", c.XMLFilePerm)

	return errors.Join(errs...)
}

// SubdirLevels returns the configured number of external content subdirectory
// levels.
func (c Static) SubdirLevels() int {
	if c.ExternalSubdirLevels == nil {
		return 1
	}
	return *c.ExternalSubdirLevels
}
