package vectorstore

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	nonAlnumSep   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	consecutiveSep = regexp.MustCompile(`[_-]{2,}`)
	disallowedFS  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
)

// SanitizeCollectionName implements §6's backend collection-name rule:
// 3-63 chars, [A-Za-z0-9_-], start/end alnum, no consecutive separators; a
// name that sanitizes to empty gets a stable 6-hex suffix derived from the
// MD5 of the original.
func SanitizeCollectionName(name string) string {
	original := name
	s := nonAlnumSep.ReplaceAllString(name, "_")
	s = consecutiveSep.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")

	if s == "" {
		sum := md5.Sum([]byte(original))
		return "kb_" + hex.EncodeToString(sum[:])[:6]
	}
	if len(s) < 3 {
		s = s + strings.Repeat("x", 3-len(s))
	}
	if len(s) > 63 {
		s = s[:63]
		s = strings.TrimRight(s, "_-")
	}
	if !isAlnum(s[0]) {
		s = "c" + s
	}
	if len(s) > 63 {
		s = s[:63]
	}
	if !isAlnum(s[len(s)-1]) {
		s = s[:len(s)-1] + "0"
	}
	return s
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// SanitizeFolderName implements §6's filesystem folder-name rule: disallowed
// characters replaced, trimmed of leading/trailing dots/spaces, max 100
// chars, empty falls back to a deterministic name derived from the input.
func SanitizeFolderName(name string) string {
	original := name
	s := disallowedFS.ReplaceAllString(name, "_")
	s = strings.Trim(s, ". ")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		sum := md5.Sum([]byte(original))
		return "collection_" + hex.EncodeToString(sum[:])[:12]
	}
	return s
}
