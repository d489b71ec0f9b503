package message

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
)

// Line ending styles.
const (
	EOLCRLF = "CRLF"
	EOLLF   = "LF"
)

// EOL returns the line ending style of a message text, determined by how the
// text ends: EOLCRLF for a trailing "\r" or "\r\n", EOLLF for a trailing "\n",
// otherwise empty.
func EOL(text []byte) string {
	switch {
	case bytes.HasSuffix(text, []byte("\r")), bytes.HasSuffix(text, []byte("\r\n")):
		return EOLCRLF
	case bytes.HasSuffix(text, []byte("\n")):
		return EOLLF
	}
	return ""
}

// SHA1 returns the lower case hex SHA-1 of buf, the fixity value stored for
// messages and content.
func SHA1(buf []byte) string {
	h := sha1.Sum(buf)
	return hex.EncodeToString(h[:])
}
