package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mjl-/sconf"

	"github.com/mjl-/mboxarchive/archio"
	"github.com/mjl-/mboxarchive/config"
	"github.com/mjl-/mboxarchive/convert"
	"github.com/mjl-/mboxarchive/eaxs"
	"github.com/mjl-/mboxarchive/metrics"
	"github.com/mjl-/mboxarchive/mboxvar"
	"github.com/mjl-/mboxarchive/mlog"
	"github.com/mjl-/mboxarchive/relational"
	"github.com/mjl-/mboxarchive/store"
)

// conversionFlags registers the flags shared by mbox2db and mbox2xml, and
// returns a function applying the flags that were set to a config.
func conversionFlags(c *cmd) (folder *string, apply func(conf *config.Static)) {
	folder = c.flag.String("folder", "", "only process this folder, the path of the mbox file relative to the account directory without .mbox, e.g. archive/2023")
	internal := c.flag.Bool("internal-attachments", false, "keep attachments with the other content instead of in external files")
	subdirs := c.flag.Int("subdir-levels", 1, "directory levels (0, 1 or 2) for external content files")
	unquote := c.flag.Bool("unquote-from", false, `remove one ">" from message lines matching ">+From " (mboxrd)`)
	apply = func(conf *config.Static) {
		if c.isSet("internal-attachments") {
			conf.InternalAttachments = *internal
		}
		if c.isSet("subdir-levels") {
			conf.ExternalSubdirLevels = subdirs
		}
		if c.isSet("unquote-from") {
			conf.UnquoteFrom = *unquote
		}
		xcheckf(conf.Validate(), "config")
	}
	return
}

// xfolders returns the folders to process in the account directory.
func xfolders(dir, folder string) []convert.Folder {
	folders, err := convert.FindFolders(dir)
	xcheckf(err, "finding mbox files")
	if folder != "" {
		f, err := convert.SelectFolder(folders, folder)
		xcheckf(err, "selecting folder")
		return []convert.Folder{f}
	}
	if len(folders) == 0 {
		log.Fatalf("no .mbox files in %s", dir)
	}
	return folders
}

func cmdMbox2db(c *cmd) {
	c.params = "[flags] account accountdir"
	c.help = `Load the mbox files of an account into a database.

All files with extension .mbox in the account directory and its subdirectories
are loaded as folders, or only the folder specified with -folder. Folder names
are the paths of the mbox files relative to the account directory, without
.mbox extension. A folder that is already in the database is not loaded again,
it must first be removed with deletefolder.

Messages without Message-ID header and messages with a Message-ID seen before in
the account are skipped. Attachments are stored in files next to the mbox file
by default, other content in the database, deduplicated per folder.

A summary of the run with all warnings is written to dm_load.log.txt in the
account directory. Database statistics for the account are printed at the end.
`
	folder, apply := conversionFlags(c)
	db := c.flag.String("db", "", "database file, overrides the config file")
	dbtype := c.flag.String("dbtype", "", "database type, sqlite or bstore, overrides the config file")
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	conf := mustLoadConfig()
	if *db != "" {
		conf.Database = *db
	}
	if *dbtype != "" {
		conf.DatabaseType = *dbtype
	}
	apply(&conf)

	dir := xaccountDir(args[1])
	folders := xfolders(dir, *folder)
	err := loadDB(shutdown, c.log, conf, args[0], dir, folders, os.Stdout, time.Now())
	xwriteMetrics(conf)
	xcheckf(err, "loading account")
}

// loadDB loads folders into the database, writes the run log to the account
// directory and the database statistics to out.
func loadDB(ctx context.Context, log mlog.Log, conf config.Static, account, dir string, folders []convert.Folder, out io.Writer, start time.Time) (rerr error) {
	st, err := store.Open(ctx, log, conf.DatabaseType, conf.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		err := st.Close()
		log.Check(err, "closing database")
	}()

	e, err := relational.New(ctx, log, st, account, dir, relational.Options{
		External:     !conf.InternalAttachments,
		SubdirLevels: conf.SubdirLevels(),
		DirMode:      conf.DirMode,
		FileMode:     conf.FileMode,
	})
	if err != nil {
		return err
	}

	run := convert.NewRun(log, account)
	run.UnquoteFrom = conf.UnquoteFrom
	for _, f := range folders {
		log.Info("loading folder", slog.String("folder", f.Name))
		if err := run.ProcessFolder(ctx, f, e); err != nil {
			rerr = err
			break
		}
	}

	totals, err := relational.StatsLines(ctx, st, account)
	if err != nil && rerr == nil {
		rerr = err
	}
	attachments := "external"
	if conf.InternalAttachments {
		attachments = "internal"
	}
	s := convert.Summary{
		Dir: dir,
		Settings: []string{
			"database: " + conf.Database,
			"database type: " + conf.DatabaseType,
			"attachments: " + attachments,
			"external content subdirectory levels: " + strconv.Itoa(conf.SubdirLevels()),
		},
		Totals: append([]string{"external content files: " + strconv.Itoa(e.ExternalFiles)}, totals...),
		Start:  start,
	}
	if err := writeRunLog(run, conf, filepath.Join(dir, convert.LoadLogName), s); err != nil && rerr == nil {
		rerr = err
	}
	for _, l := range totals {
		fmt.Fprintln(out, l)
	}
	return rerr
}

func cmdMbox2xml(c *cmd) {
	c.params = "[flags] account accountdir"
	c.help = `Convert the mbox files of an account to EAXS XML files.

For each folder, an XML file and a CSV file with a line per message are written
next to the mbox file, e.g. inbox.xml and inbox.csv for inbox.mbox. When the
XML output for a folder reaches the chunk size (see the config file), the
folder is continued in a new file, and files are numbered, e.g. inbox_1.xml,
inbox_2.xml. Attachments are written to separate XML files next to the mbox
file, and referenced from the XML.

A summary of the run with all warnings is written to dm_xml.log.txt in the
account directory.
`
	folder, apply := conversionFlags(c)
	chunk := c.flag.Int64("chunkbytes", 0, "maximum size of an XML file before continuing in a new file, overrides the config file")
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	conf := mustLoadConfig()
	if *chunk != 0 {
		conf.ChunkBytes = *chunk
	}
	apply(&conf)

	dir := xaccountDir(args[1])
	folders := xfolders(dir, *folder)
	files, err := convertXML(shutdown, c.log, conf, args[0], dir, folders, time.Now())
	for _, f := range files {
		fmt.Println(f)
	}
	xwriteMetrics(conf)
	xcheckf(err, "converting account")
}

// convertXML writes XML for folders, and the run log to the account directory.
// The XML files written are returned, also on error.
func convertXML(ctx context.Context, log mlog.Log, conf config.Static, account, dir string, folders []convert.Folder, start time.Time) (files []string, rerr error) {
	e := eaxs.New(log, account, eaxs.Options{
		ChunkBytes:          conf.ChunkBytes,
		XMLFileMode:         conf.XMLFileMode,
		InternalAttachments: conf.InternalAttachments,
		SubdirLevels:        conf.SubdirLevels(),
		DirMode:             conf.DirMode,
		FileMode:            conf.FileMode,
	})
	run := convert.NewRun(log, account)
	run.UnquoteFrom = conf.UnquoteFrom
	for _, f := range folders {
		log.Info("converting folder", slog.String("folder", f.Name))
		if err := run.ProcessFolder(ctx, f, e); err != nil {
			rerr = err
			err := e.Close()
			log.Check(err, "closing xml output")
			break
		}
	}

	files = e.Files()
	s := convert.Summary{
		Dir:          dir,
		Settings:     []string{"chunk bytes: " + strconv.FormatInt(conf.ChunkBytes, 10)},
		OutputFiles:  files,
		EmittedLabel: "total messages in XML output",
		Totals:       []string{"external content files: " + strconv.Itoa(e.ExternalFiles)},
		Start:        start,
	}
	if err := writeRunLog(run, conf, filepath.Join(dir, convert.XMLLogName), s); err != nil && rerr == nil {
		rerr = err
	}
	return files, rerr
}

func writeRunLog(run *convert.Run, conf config.Static, path string, s convert.Summary) error {
	f, err := archio.CreateFile(path, conf.XMLFileMode)
	if err != nil {
		return fmt.Errorf("creating run log: %w", err)
	}
	err = run.WriteSummary(f, s, time.Now())
	if xerr := f.Close(); err == nil {
		err = xerr
	}
	if err != nil {
		return fmt.Errorf("writing run log: %w", err)
	}
	return nil
}

func xwriteMetrics(conf config.Static) {
	if conf.MetricsFile == "" {
		return
	}
	err := metrics.WriteFile(conf.MetricsFile)
	xcheckf(err, "writing metrics")
}

func cmdDbstats(c *cmd) {
	c.params = "[-db file] [-dbtype type] account"
	c.help = `Print statistics about the database contents for an account.`
	db := c.flag.String("db", "", "database file, overrides the config file")
	dbtype := c.flag.String("dbtype", "", "database type, sqlite or bstore, overrides the config file")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	conf := mustLoadConfig()
	if *db != "" {
		conf.Database = *db
	}
	if *dbtype != "" {
		conf.DatabaseType = *dbtype
	}
	st := xopenExisting(c.log, conf)
	defer st.Close()
	lines, err := relational.StatsLines(shutdown, st, args[0])
	xcheckf(err, "gathering stats")
	for _, l := range lines {
		fmt.Println(l)
	}
}

func cmdDeletefolder(c *cmd) {
	c.params = "[-keepfiles] [-db file] [-dbtype type] account folder"
	c.help = `Remove a folder of an account from the database.

The messages of the folder with their parts, headers and content are removed.
External content files of the folder are removed too, unless -keepfiles is set.
Afterwards, the folder can be loaded again.
`
	keep := c.flag.Bool("keepfiles", false, "do not remove external content files")
	db := c.flag.String("db", "", "database file, overrides the config file")
	dbtype := c.flag.String("dbtype", "", "database type, sqlite or bstore, overrides the config file")
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	conf := mustLoadConfig()
	if *db != "" {
		conf.Database = *db
	}
	if *dbtype != "" {
		conf.DatabaseType = *dbtype
	}
	st := xopenExisting(c.log, conf)
	defer st.Close()
	n, err := relational.DeleteFolder(shutdown, c.log, st, args[0], args[1], *keep)
	xcheckf(err, "deleting folder")
	fmt.Printf("folder %s removed, %d external content files removed\n", args[1], n)
}

// xopenExisting opens the configured database, which must exist.
func xopenExisting(log mlog.Log, conf config.Static) store.Store {
	if _, err := os.Stat(conf.Database); err != nil {
		xcheckf(err, "database")
	}
	st, err := store.Open(shutdown, log, conf.DatabaseType, conf.Database)
	xcheckf(err, "opening database")
	return st
}

func cmdConfigTest(c *cmd) {
	c.params = "[file]"
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := config.Load(path); err != nil {
		for _, e := range joined(err) {
			log.Printf("%s", e)
		}
		os.Exit(1)
	}
	fmt.Println("config OK")
}

// joined returns the errors of an error created with errors.Join, or err.
func joined(err error) []error {
	if je, ok := err.(interface{ Unwrap() []error }); ok {
		return je.Unwrap()
	}
	return []error{err}
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">mboxarchive.conf"
	c.help = `Prints an annotated configuration file with the defaults filled in.`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	conf := config.Default()
	err := sconf.Describe(os.Stdout, &conf)
	xcheckf(err, "describing config")
}

func cmdVersion(c *cmd) {
	c.help = "Prints this mboxarchive version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(mboxvar.Version)
}
