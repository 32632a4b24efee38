package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/wesm/sessionwatch/internal/pathkey"
)

// ProjectHash returns the directory name the Gemini CLI derives from
// an absolute project path: the hex SHA-256 of the path string.
func ProjectHash(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:])
}

// isProjectHash reports whether name has the shape of a ProjectHash.
func isProjectHash(name string) bool {
	if len(name) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

// PathVariants returns the spellings under which the same project
// directory may have been hashed: drive-letter case, separator
// style, trailing separator and /mnt/<d> versus <D>:.
func PathVariants(p string) []string {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	add(p)
	trimmed := strings.TrimRight(p, `/\`)
	if trimmed == "" {
		return out
	}
	add(trimmed)

	drive, rest, isDrive := pathkey.SplitDrive(trimmed)
	if !isDrive {
		if d, r, ok := splitMnt(trimmed); ok {
			drive, rest, isDrive = d, r, true
		}
	}
	if isDrive {
		rest = strings.TrimRight(rest, "/")
		for _, letter := range []string{strings.ToUpper(drive), drive} {
			for _, sep := range []string{`\`, "/"} {
				v := letter + ":" + sep + strings.ReplaceAll(rest, "/", sep)
				add(strings.TrimRight(v, sep))
				add(v + sep)
			}
		}
		mnt := "/mnt/" + drive
		if rest != "" {
			mnt += "/" + rest
		}
		add(mnt)
		add(mnt + "/")
		return out
	}

	if pathkey.IsNetwork(trimmed) {
		back := strings.ReplaceAll(trimmed, "/", `\`)
		fwd := strings.ReplaceAll(trimmed, `\`, "/")
		add(back)
		add(back + `\`)
		add(fwd)
		add(fwd + "/")
		return out
	}

	add(trimmed + "/")
	return out
}

// splitMnt recognizes the WSL mount spelling /mnt/<d>/rest.
func splitMnt(p string) (letter, rest string, ok bool) {
	s := strings.ReplaceAll(p, `\`, "/")
	after, found := strings.CutPrefix(s, "/mnt/")
	if !found || after == "" {
		return "", "", false
	}
	head, tail, _ := strings.Cut(after, "/")
	if len(head) != 1 {
		return "", "", false
	}
	c := head[0]
	if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
		return "", "", false
	}
	return strings.ToLower(head), tail, true
}

// VerifyProjectHash reports whether any variant of candidate hashes
// to hash.
func VerifyProjectHash(candidate, hash string) bool {
	hash = strings.ToLower(hash)
	for _, v := range PathVariants(candidate) {
		if ProjectHash(v) == hash {
			return true
		}
	}
	return false
}

// ProjectIndex is a reverse map from hashed project directory names
// to known project paths. It is safe for concurrent use.
type ProjectIndex struct {
	mu      sync.RWMutex
	byHash  map[string]string
	byAlias map[string]string
	known   map[string]bool
}

// NewProjectIndex returns an index seeded with paths.
func NewProjectIndex(paths ...string) *ProjectIndex {
	x := &ProjectIndex{
		byHash:  make(map[string]string),
		byAlias: make(map[string]string),
		known:   make(map[string]bool),
	}
	x.Add(paths...)
	return x
}

// Add registers project paths. It returns how many were new.
func (x *ProjectIndex) Add(paths ...string) int {
	if x == nil {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	added := 0
	for _, p := range paths {
		p = strings.TrimSpace(p)
		key := pathkey.DirKey(p)
		if key == "" || x.known[key] {
			continue
		}
		x.known[key] = true
		added++
		for _, v := range PathVariants(p) {
			h := ProjectHash(v)
			if _, ok := x.byHash[h]; !ok {
				x.byHash[h] = p
			}
		}
	}
	return added
}

// AddAlias maps a non-hash project directory name to its path, as
// recorded by newer Gemini CLI releases in projects.json.
func (x *ProjectIndex) AddAlias(name, p string) {
	if x == nil || name == "" || p == "" {
		return
	}
	x.mu.Lock()
	x.byAlias[strings.ToLower(name)] = p
	x.mu.Unlock()
	x.Add(p)
}

// Resolve returns the project path behind a hashed directory name.
// A hash candidate is returned only when re-hashing one of its
// variants reproduces name.
func (x *ProjectIndex) Resolve(name string) (string, bool) {
	if x == nil || name == "" {
		return "", false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if isProjectHash(name) {
		cand, ok := x.byHash[strings.ToLower(name)]
		if !ok || !VerifyProjectHash(cand, name) {
			return "", false
		}
		return cand, true
	}
	cand, ok := x.byAlias[strings.ToLower(name)]
	return cand, ok
}

// Len returns the number of distinct known projects.
func (x *ProjectIndex) Len() int {
	if x == nil {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.known)
}

// LoadGeminiProjects seeds x from the project registries a Gemini
// CLI home keeps: projects.json and trustedFolders.json. Missing or
// malformed files are ignored. It returns how many paths were new.
func (x *ProjectIndex) LoadGeminiProjects(geminiDir string) int {
	if x == nil || geminiDir == "" {
		return 0
	}
	added := 0
	if data, err := os.ReadFile(
		filepath.Join(geminiDir, "projects.json"),
	); err == nil && gjson.ValidBytes(data) {
		root := gjson.ParseBytes(data)
		if p := root.Get("projects"); p.IsObject() {
			root = p
		}
		root.ForEach(func(k, v gjson.Result) bool {
			if !pathkey.IsAbsLike(k.Str) {
				return true
			}
			if v.Type == gjson.String && v.Str != "" {
				x.AddAlias(v.Str, k.Str)
				added++
				return true
			}
			added += x.Add(k.Str)
			return true
		})
	}
	if data, err := os.ReadFile(
		filepath.Join(geminiDir, "trustedFolders.json"),
	); err == nil && gjson.ValidBytes(data) {
		gjson.ParseBytes(data).ForEach(func(k, _ gjson.Result) bool {
			if pathkey.IsAbsLike(k.Str) {
				added += x.Add(k.Str)
			}
			return true
		})
	}
	return added
}
