/*
Package config holds the configuration file definition for mboxarchive.

The configuration file is optional. Without one, defaults are used, and the
command-line flags of the subcommands override both. An annotated empty file
can be printed with "mboxarchive config describe".

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely.

# Example

	LogLevel: info
	PackageLogLevels:
		eaxs: debug
	Database: /archive/darcmail.db
	DatabaseType: sqlite
	ExternalSubdirLevels: 2
	MetricsFile: /var/lib/node_exporter/mboxarchive.prom
*/
package config
