// Package pathkey maps Windows drive paths, WSL network shares and
// POSIX paths onto one canonical, case-insensitive grouping key.
//
// Every function here is total: malformed input degrades to plain
// slash and case normalization instead of failing.
package pathkey

import (
	"path"
	"strings"
)

// wslHosts are the UNC host names Windows uses to expose WSL
// distribution filesystems.
var wslHosts = map[string]bool{
	"wsl$":          true,
	"wsl.localhost": true,
}

// DirKey returns the canonical grouping key for p: lower-cased,
// '/'-separated, without a trailing separator. Drive paths map to
// /mnt/<drive>/..., WSL shares map to the path inside the distro.
func DirKey(p string) string {
	s := strings.TrimSpace(p)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, `\`, "/")

	// Win32 long-path prefixes: //?/C:/x and //?/UNC/host/share.
	if rest, ok := strings.CutPrefix(s, "//?/"); ok {
		if unc, ok := strings.CutPrefix(rest, "UNC/"); ok {
			s = "//" + unc
		} else {
			s = rest
		}
	}

	if strings.HasPrefix(s, "//") {
		return strings.ToLower(uncKey(s[2:]))
	}
	if letter, rest, ok := SplitDrive(s); ok {
		return strings.ToLower(clean("/mnt/" + letter + "/" + rest))
	}
	return strings.ToLower(clean(s))
}

// Canonical returns the identity key of a file path. It applies the
// same rules as DirKey so that the same file reached through a drive
// path, a WSL share or /mnt/<drive> maps to one index entry.
func Canonical(p string) string {
	return DirKey(p)
}

// uncKey normalizes the part of a UNC path after the leading "//".
func uncKey(s string) string {
	parts := strings.SplitN(strings.TrimLeft(s, "/"), "/", 3)
	host := strings.ToLower(parts[0])
	if wslHosts[host] {
		if len(parts) < 3 {
			return "/"
		}
		return clean("/" + parts[2])
	}
	rest := strings.Join(parts[1:], "/")
	if rest == "" {
		return "//" + host
	}
	return "//" + host + clean("/"+rest)
}

// clean collapses duplicate separators and dot segments and drops a
// trailing separator, keeping "/" for the root.
func clean(s string) string {
	if s == "" {
		return ""
	}
	abs := strings.HasPrefix(s, "/")
	c := path.Clean(s)
	if c == "." {
		if abs {
			return "/"
		}
		return ""
	}
	return c
}

// SplitDrive splits a drive-letter path ("C:/x", "c:\\x", "C:")
// into its lower-case letter and the remainder with separators
// normalized to '/' and no leading slash.
func SplitDrive(p string) (letter, rest string, ok bool) {
	if len(p) < 2 || p[1] != ':' {
		return "", "", false
	}
	c := p[0]
	if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
		return "", "", false
	}
	if len(p) > 2 && p[2] != '/' && p[2] != '\\' {
		return "", "", false
	}
	rest = strings.ReplaceAll(p[2:], `\`, "/")
	return strings.ToLower(string(c)), strings.TrimLeft(rest, "/"), true
}

// IsNetwork reports whether p is a UNC path, including WSL shares.
func IsNetwork(p string) bool {
	s := strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if strings.HasPrefix(s, "//?/") {
		return strings.HasPrefix(s, "//?/UNC/")
	}
	return strings.HasPrefix(s, "//")
}

// Distro returns the WSL distribution name of a WSL share path,
// or "" for anything else. Case is preserved.
func Distro(p string) string {
	s := strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if !strings.HasPrefix(s, "//") {
		return ""
	}
	parts := strings.SplitN(strings.TrimLeft(s, "/"), "/", 3)
	if len(parts) < 2 || !wslHosts[strings.ToLower(parts[0])] {
		return ""
	}
	return parts[1]
}

// IsAbsLike reports whether p looks like an absolute filesystem
// path in any of the supported spellings.
func IsAbsLike(p string) bool {
	s := strings.TrimSpace(p)
	if s == "" {
		return false
	}
	if s[0] == '/' || s[0] == '\\' || strings.HasPrefix(s, "~/") {
		return true
	}
	_, _, ok := SplitDrive(s)
	return ok
}

// Dedupe drops paths whose DirKey was already seen, keeping the
// first spelling of each.
func Dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		k := DirKey(p)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}
