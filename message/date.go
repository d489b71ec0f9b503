package message

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Zero date and offset used when a message has no parsable Date header.
const (
	ZeroDate   = "0000-00-00 00:00:00"
	ZeroOffset = "+0000"
)

// Matches the start of a Date header value. Leading tokens (weekday) are
// skipped. The time must have seconds and be followed by at least one
// character. The offset is optional.
var dateRegexp = regexp.MustCompile(`^([^0-9]+)?(\d+)[^a-zA-Z]+([a-zA-Z]+) (\d{4}).+(\d\d:\d\d(:\d\d))[^0-9\-+]+([\-+]\d\d:?\d\d)?`)

var monthNumbers = map[string]int{
	"Jan": 1,
	"Feb": 2,
	"Mar": 3,
	"Apr": 4,
	"May": 5,
	"Jun": 6,
	"Jul": 7,
	"Aug": 8,
	"Sep": 9,
	"Oct": 10,
	"Nov": 11,
	"Dec": 12,
}

// ParseDate normalizes a Date header value to "YYYY-MM-DD HH:MM:SS" and the
// numeric zone offset as found in the header (e.g. "-0500", or empty if the
// header has none). Unknown month names become month 00. If the value is
// empty or does not match, ZeroDate and ZeroOffset are returned with ok false.
func ParseDate(s string) (datetime, offset string, ok bool) {
	if s == "" {
		return ZeroDate, ZeroOffset, false
	}
	m := dateRegexp.FindStringSubmatch(s)
	if m == nil {
		return ZeroDate, ZeroOffset, false
	}
	day, err := strconv.Atoi(m[2])
	if err != nil {
		return ZeroDate, ZeroOffset, false
	}
	month := monthNumbers[m[3]]
	return fmt.Sprintf("%s-%02d-%02d %s", m[4], month, day, m[5]), m[7], true
}

var offsetRegexp = regexp.MustCompile(`^([+-])(\d{2})(\d{2})$`)

// StrictDateTime returns the Date header value as "YYYY-MM-DDTHH:MM:SS" with
// the offset as "+hh:mm" when it is in the "+hhmm" form, as used for
// xsd:dateTime values.
func StrictDateTime(s string) string {
	dt, offset, _ := ParseDate(s)
	if m := offsetRegexp.FindStringSubmatch(offset); m != nil {
		offset = m[1] + m[2] + ":" + m[3]
	}
	d, t, _ := strings.Cut(dt, " ")
	return d + "T" + t + offset
}
