package convert

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary holds what is written to the run log of an account besides the
// state of the run itself.
type Summary struct {
	Dir         string   // Account directory.
	Settings    []string // Additional lines for the settings section.
	OutputFiles []string // Files written, for XML conversion.

	// Label for the number of emitted messages, default "total messages loaded".
	EmittedLabel string

	// Additional lines for the summary section, e.g. database statistics.
	Totals []string

	Start time.Time
}

// Log file names in the account directory.
const (
	LoadLogName = "dm_load.log.txt"
	XMLLogName  = "dm_xml.log.txt"
)

// WriteSummary writes the human-readable run log, with the settings, the
// warnings with their counts, totals and elapsed time.
func (r *Run) WriteSummary(w io.Writer, s Summary, now time.Time) error {
	bw := bufio.NewWriter(w)
	line := func(format string, args ...any) {
		fmt.Fprintf(bw, format+"\n", args...)
	}

	line("########## SETTINGS ##########")
	line("account: %s", r.Account)
	line("account directory: %s", s.Dir)
	for _, l := range s.Settings {
		line("%s", l)
	}
	line("")
	for _, f := range s.OutputFiles {
		line("output file: %s", f)
	}
	if len(s.OutputFiles) > 0 {
		line("")
	}

	line("########## WARNINGS ##########")
	for _, w := range r.warnings {
		line("%s (%d times)", w.Text, w.Count)
	}

	line("")
	line("########## SUMMARY ##########")
	line("total messages in mbox file(s): %s", humanize.Comma(int64(r.TotalMessages)))
	line("duplicate messages skipped: %s", humanize.Comma(int64(r.Duplicates)))
	if r.NoID > 0 {
		line("messages without message-id skipped: %s", humanize.Comma(int64(r.NoID)))
	}
	if r.Failed > 0 {
		line("messages failed: %s", humanize.Comma(int64(r.Failed)))
	}
	label := s.EmittedLabel
	if label == "" {
		label = "total messages loaded"
	}
	line("%s: %s", label, humanize.Comma(int64(r.Emitted)))
	for _, l := range s.Totals {
		line("%s", l)
	}

	line("")
	line("########## ELAPSED TIME ##########")
	line("%s", Elapsed(now.Sub(s.Start)))
	return bw.Flush()
}

// Elapsed formats d as hh:mm:ss.
func Elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
