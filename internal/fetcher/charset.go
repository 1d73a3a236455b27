package fetcher

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// DecodeBody converts body to UTF-8 using the charset named in contentType.
// A missing or UTF-8 charset returns body unchanged.
func DecodeBody(body []byte, contentType string) ([]byte, error) {
	name := charsetOf(contentType)
	if name == "" || name == "utf-8" || name == "utf8" {
		return body, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: unsupported charset %q", name)
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: decode %s", name)
	}
	return out, nil
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}
