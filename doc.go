/*
Command mboxarchive converts mbox mail archives for long-term preservation.

Messages in the mbox files of an account are parsed, deduplicated by
Message-ID and normalized into records. These are loaded into a database with
the DArcMail schema (SQLite, or an embedded bstore database), or written as
XML files in the EAXS mail account format. Message and content hashes are
recorded for fixity checks.

An account is a directory with mbox files, possibly in subdirectories. Each
file with extension .mbox is a folder.

# Commands

	mboxarchive [-config mboxarchive.conf] [-loglevel level] ...
	mboxarchive mbox2db [flags] account accountdir
	mboxarchive mbox2xml [flags] account accountdir
	mboxarchive dbstats [-db file] [-dbtype type] account
	mboxarchive deletefolder [-keepfiles] [-db file] [-dbtype type] account folder
	mboxarchive config test [file]
	mboxarchive config describe >mboxarchive.conf
	mboxarchive version
	mboxarchive help [command ...]

Use "mboxarchive help command" for details about a command.

# Configuration

The configuration file is in sconf format. It is optional, all settings have
defaults. Print an annotated configuration with "mboxarchive config describe".
Flags of commands override the configuration file.
*/
package main
