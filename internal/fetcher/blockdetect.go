package fetcher

import (
	"fmt"
	"net/http"
	"strings"
)

// BlockType names the anti-bot wall a response hit.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

const (
	// Marketplace listing pages exceed this and often carry a recaptcha
	// widget in their contact form.
	challengePageMax = 16 << 10
	// Script-only shells are tiny.
	shellPageMax = 2000
)

// BlockedError is returned for a challenge page served in place of the
// requested one.
type BlockedError struct {
	URL  string
	Type BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fetch: blocked by %s at %s", e.Type, e.URL)
}

// DetectBlock inspects a response for an anti-bot challenge.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}
	kind := cloudflareHeaders(resp)
	if kind == BlockNone && len(body) <= challengePageMax {
		kind = challengeBody(strings.ToLower(string(body)))
	}
	return kind != BlockNone, kind
}

func cloudflareHeaders(resp *http.Response) BlockType {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return BlockNone
	}
	h := resp.Header
	if h.Get("cf-ray") != "" || h.Get("cf-cache-status") != "" || strings.EqualFold(h.Get("server"), "cloudflare") {
		return BlockCloudflare
	}
	return BlockNone
}

func challengeBody(page string) BlockType {
	has := func(s string) bool { return strings.Contains(page, s) }
	switch {
	case has("checking your browser"), has("cf-browser-verification"), has("cloudflare") && has("challenge"):
		return BlockCloudflare
	case has("captcha"):
		return BlockCaptcha
	case len(page) >= shellPageMax:
		return BlockNone
	case has("<noscript") && has("javascript"), has(`meta http-equiv="refresh"`):
		return BlockJSShell
	}
	return BlockNone
}
