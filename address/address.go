// Package address extracts name and address pairs from free-form address
// list headers, like From, To, Cc and Bcc.
//
// Parsing is pattern based and never fails. Entries that match none of the
// recognized syntaxes are dropped:
//
//	"Last, First" <last@example.org>
//	last@example.org
//	First Last <last@example.org>
//	<last@example.org>
//
// Names with RFC 2047 encoded-words are decoded.
package address

import (
	"regexp"
	"strings"

	"github.com/mjl-/mboxarchive/message"
)

// Pair is one entry of an address list. An empty string means absent.
type Pair struct {
	Name    string
	Address string
}

var (
	escapeRegexp = regexp.MustCompile(`\\[ntr]`)
	spaceRegexp  = regexp.MustCompile(`[\n\r\t]+`)

	// Alternatives in order of priority: quoted name with address, bare address, name
	// with address, bracketed address.
	entryRegexp = regexp.MustCompile(`("([^"]+,?[^"]+") *<[^>]*>)|([^",<> ]+@[^",<> ]+)|([^",]+ *<[^>]+>)|(<[^",<> ]+@[^",<> ]+>)`)

	nameRegexp        = regexp.MustCompile(`^([^<]+)<`)
	dquoteRegexp      = regexp.MustCompile(`^"(.+)"$`)
	squoteRegexp      = regexp.MustCompile(`^'(.+)'$`)
	bracketRegexp     = regexp.MustCompile(`^.*<'?([^'>]+)'?>`)
	bareAddressRegexp = regexp.MustCompile(`^[^",<> ]+@[^",<> ]+$`)
)

// Parse returns the entries found in line, in order. Addresses are folded to
// lower case, names keep their case.
func Parse(line string) []Pair {
	line = strings.TrimSpace(spaceRegexp.ReplaceAllString(escapeRegexp.ReplaceAllString(line, " "), " "))
	if line == "" {
		return nil
	}

	var l []Pair
	for _, entry := range entryRegexp.FindAllString(line, -1) {
		entry = strings.TrimSpace(entry)
		var name, addr string

		if m := nameRegexp.FindStringSubmatch(entry); m != nil {
			name = strings.TrimSpace(m[1])
			if m := dquoteRegexp.FindStringSubmatch(name); m != nil {
				name = m[1]
				if m := squoteRegexp.FindStringSubmatch(name); m != nil {
					name = m[1]
				}
			}
		}
		if m := bracketRegexp.FindStringSubmatch(entry); m != nil {
			addr = m[1]
		}
		if name == "" && addr == "" {
			if bareAddressRegexp.MatchString(entry) {
				addr = entry
			} else {
				name = entry
			}
		}
		if name == "" && addr == "" {
			continue
		}
		// Every name maps to some address, for indexing.
		if addr == "" {
			addr = name
		}
		addr = strings.ToLower(addr)
		l = append(l, Pair{message.DecodeWords(name), addr})
	}
	return l
}
