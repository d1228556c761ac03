package fetcher

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
)

// minSignatureCheckSize is the body size below which the signature check is
// skipped. Tiny bodies are accepted as-is.
const minSignatureCheckSize = 100

var (
	// window.location.replace('https://host/file.mp3')
	locationReplacePattern = regexp.MustCompile(`window\.location\.replace\(['"]([^'"]+)['"]\)`)
	// window.location.href.replace('from', 'to') applied to the requested URL
	hrefReplacePattern = regexp.MustCompile(`window\.location\.href\.replace\(['"]([^'"]+)['"],\s*['"]([^'"]+)['"]\)`)
)

// looksLikeHTML reports whether the body starts like an HTML document.
func looksLikeHTML(head []byte) bool {
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	head = bytes.TrimLeft(head, " \t\r\n")
	if len(head) > 64 {
		head = head[:64]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

// hasMediaSignature checks the leading bytes against known audio/video
// container signatures.
func hasMediaSignature(head []byte) bool {
	switch {
	case bytes.HasPrefix(head, []byte("RIFF")),
		bytes.HasPrefix(head, []byte("OggS")),
		bytes.HasPrefix(head, []byte("fLaC")),
		bytes.HasPrefix(head, []byte("ID3")):
		return true
	case len(head) >= 8 && string(head[4:8]) == "ftyp":
		return true
	case len(head) >= 2 && head[0] == 0xFF && (head[1] == 0xFB || head[1] == 0xF3 || head[1] == 0xF2):
		return true
	}
	return false
}

// clientRedirectTarget extracts the target of a JavaScript redirect page and
// resolves it against the requested URL. It returns "" if the page holds no
// usable redirect.
func clientRedirectTarget(page, requested string) string {
	var target string
	if m := locationReplacePattern.FindStringSubmatch(page); m != nil {
		target = m[1]
	} else if m := hrefReplacePattern.FindStringSubmatch(page); m != nil {
		target = strings.ReplaceAll(requested, m[1], m[2])
	}
	if target == "" {
		return ""
	}

	base, err := url.Parse(requested)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.String() == requested {
		return ""
	}
	return resolved.String()
}
