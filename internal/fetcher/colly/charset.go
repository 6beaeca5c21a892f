package collyfetcher

import (
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// legacySingleByte lists transport charsets the source is known to mislabel.
// When one of these is declared, content sniffing decides the real charset.
var legacySingleByte = map[string]bool{
	"iso-8859-1":   true,
	"iso-8859-15":  true,
	"windows-1252": true,
	"us-ascii":     true,
}

// repairCharset returns the body as UTF-8 along with the charset it was
// determined to be in. A declared legacy single-byte charset is overridden by
// the sniffed one; anything non-UTF-8 is transcoded. On any sniff or
// transcode failure the body passes through unchanged.
func repairCharset(body []byte, contentType string) ([]byte, string) {
	declared := declaredCharset(contentType)
	effective := declared

	if declared == "" || legacySingleByte[declared] {
		if sniffed := sniffCharset(body); sniffed != "" && sniffed != declared {
			effective = sniffed
		}
	}

	switch effective {
	case "", "utf-8", "utf8":
		return body, "utf-8"
	}

	enc, err := htmlindex.Get(effective)
	if err != nil || enc == unicode.UTF8 {
		return body, effective
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return body, effective
	}
	return decoded, "utf-8"
}

func sniffCharset(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	best, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || best == nil {
		return ""
	}
	return strings.ToLower(best.Charset)
}
