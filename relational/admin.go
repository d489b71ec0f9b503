package relational

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/mjl-/mboxarchive/mlog"
	"github.com/mjl-/mboxarchive/store"
)

// StatsLines returns the lines describing the database contents for an
// account, as printed by dbstats and at the end of a load.
func StatsLines(ctx context.Context, st store.Store, account string) ([]string, error) {
	a, err := st.LookupAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	s, err := st.Stats(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("gathering stats: %w", err)
	}
	size := func(n int64) string {
		s := humanize.Comma(n)
		if n >= 1000 {
			s += " (" + humanize.Bytes(uint64(n)) + ")"
		}
		return s
	}
	return []string{
		fmt.Sprintf("Database contents for account '%s'", a.Name),
		"  messages: " + humanize.Comma(s.Messages),
		"  parts: " + humanize.Comma(s.Parts),
		"  unique internally stored content: " + humanize.Comma(s.UniqueInternal),
		"  unique externally stored content: " + humanize.Comma(s.UniqueExternal),
		"  redundant internally stored content: " + humanize.Comma(s.RedundantInternal),
		"  redundant externally stored content: " + humanize.Comma(s.RedundantExternal),
		"  attachments: " + humanize.Comma(s.Attachments),
		"  unique content size: " + size(s.UniqueSize),
		"  redundant content size: " + size(s.RedundantSize),
	}, nil
}

// DeleteFolder removes a folder of an account from the store. Unless
// keepFiles is set, external content files of the folder are removed, along
// with the shard directories that become empty. It returns the number of
// files removed.
func DeleteFolder(ctx context.Context, log mlog.Log, st store.Store, account, folder string, keepFiles bool) (int, error) {
	log = log.WithPkg("relational")
	a, err := st.LookupAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	names, err := st.DeleteFolder(ctx, a.ID, folder)
	if err != nil {
		return 0, err
	}
	if keepFiles {
		return 0, nil
	}

	dir := filepath.Join(a.Directory, filepath.FromSlash(path.Dir(folder)))
	var n int
	shards := map[string]struct{}{}
	for _, name := range names {
		err := os.Remove(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Errorx("removing external content file", err, slog.String("file", name))
			continue
		}
		if err == nil {
			n++
		}
		for d := path.Dir(name); d != "." && isShard(path.Base(d)); d = path.Dir(d) {
			shards[d] = struct{}{}
		}
	}
	// Deepest first, so a parent shard can be empty after its children.
	for len(shards) > 0 {
		var deepest string
		for d := range shards {
			if len(d) > len(deepest) {
				deepest = d
			}
		}
		delete(shards, deepest)
		// Fails for directories that still have files, which is fine.
		os.Remove(filepath.Join(dir, filepath.FromSlash(deepest)))
	}
	log.Debug("deleted folder", slog.String("account", account), slog.String("folder", folder), slog.Int("files", n))
	return n, nil
}

func isShard(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
