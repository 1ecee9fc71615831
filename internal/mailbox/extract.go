package mailbox

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"regexp"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // register non-UTF-8 charsets
)

// codePattern matches a line holding only a 6-digit code and punctuation
// or whitespace.
var codePattern = regexp.MustCompile(`^\W*(\d{6})\W*$`)

var errFound = errors.New("code found")

// ExtractCode returns the first MFA code found in the text/html parts of a
// raw RFC 5322 message.
func ExtractCode(raw []byte) (string, bool) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return "", false
	}

	var code string
	walkErr := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			// Skip unreadable parts, keep walking.
			return nil
		}
		mediaType, _, err := part.Header.ContentType()
		if err != nil || mediaType != "text/html" {
			return nil
		}
		if c, ok := scanLines(part.Body); ok {
			code = c
			return errFound
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errFound) {
		return "", false
	}
	return code, code != ""
}

func scanLines(r io.Reader) (string, bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if m := codePattern.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1], true
		}
	}
	return "", false
}
