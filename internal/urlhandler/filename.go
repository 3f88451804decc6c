package urlhandler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const maxFileNameLength = 255

var invalidFileNameCharsRegex = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFileName makes a name safe to hand to the host as a download
// destination: path separators stripped, control and reserved characters
// replaced, length capped at 255 runes (extension preserved when truncating).
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)

	// Drop any directory component, whichever separator style it uses.
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}

	name = invalidFileNameCharsRegex.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")

	if name == "" {
		return "download"
	}

	if len([]rune(name)) > maxFileNameLength {
		ext := path.Ext(name)
		if len(ext) >= maxFileNameLength {
			ext = ""
		}
		base := []rune(strings.TrimSuffix(name, ext))
		keep := maxFileNameLength - len([]rune(ext))
		name = string(base[:keep]) + ext
	}

	return name
}

// FileNameFromURL derives a best-effort file name from a URL path, falling
// back to the host name when the path has none.
func FileNameFromURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "download"
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || base == "" {
		if parsed.Host != "" {
			return SanitizeFileName(parsed.Host)
		}
		return "download"
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return SanitizeFileName(base)
}
