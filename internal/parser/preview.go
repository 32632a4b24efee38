package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/wesm/sessionwatch/internal/pathkey"
)

// Preview returns the first meaningful line of a user message:
// blank lines, bare filesystem paths and tag-only lines are skipped.
// Whitespace is collapsed and the result truncated for list views.
func Preview(text string) string {
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isBarePath(line) || isTagOnly(line) {
			continue
		}
		return truncateRunes(collapseSpace(line), previewMaxRunes)
	}
	return ""
}

// titleFrom derives a list title from a preview.
func titleFrom(preview string) string {
	return truncateRunes(preview, titleMaxRunes)
}

// isBarePath reports whether line is nothing but a filesystem path,
// as pasted or dropped into a prompt.
func isBarePath(line string) bool {
	s := strings.Trim(line, `"'`+"`")
	if !pathkey.IsAbsLike(s) {
		return false
	}
	if _, _, ok := pathkey.SplitDrive(s); ok {
		// Drive paths may legitimately contain spaces.
		return !strings.ContainsAny(s, "\t")
	}
	return !strings.ContainsAny(s, " \t")
}

// isTagOnly reports whether line is a lone XML-ish tag such as
// "<environment_context>" or "</cwd>".
func isTagOnly(line string) bool {
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return false
	}
	return !strings.Contains(line[1:len(line)-1], "<")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeForCompare reduces text to a comparison key: whitespace
// collapsed and case folded.
func normalizeForCompare(s string) string {
	return strings.ToLower(collapseSpace(s))
}

// truncateRunes trims s and cuts it to at most n runes, appending
// "..." when shortened.
func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if n == 0 {
			cut = i
			break
		}
		n--
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}
