package parser

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// DiscoveredFile holds a discovered session file.
type DiscoveredFile struct {
	Path     string
	Provider Provider
	Root     string
}

// DiscoverOptions carries the per-provider switches collaborators
// may set.
type DiscoverOptions struct {
	// IncludeAgentHistory adds Claude subagent transcripts.
	IncludeAgentHistory bool
}

// EnvDir is an environment variable naming a provider directory.
// Sub is appended to the variable's value.
type EnvDir struct {
	Name string
	Sub  string
}

// ProviderDef describes where a provider keeps its logs and how to
// find them.
type ProviderDef struct {
	Provider    Provider
	DisplayName string
	EnvVars     []EnvDir
	// DefaultDir is relative to a home directory.
	DefaultDir string
	// Discover lists every session file under root.
	Discover func(root string, opts DiscoverOptions) []DiscoveredFile
	// Buckets lists the directories files are grouped in, most
	// recent first.
	Buckets func(root string) []string
	// ListBucket lists the session files of one bucket directory.
	ListBucket func(root, dir string, opts DiscoverOptions) []DiscoveredFile
	// Match reports whether path is a session file under root.
	Match func(root, path string, opts DiscoverOptions) bool
}

// Providers is the registry of supported log formats.
var Providers = []ProviderDef{
	{
		Provider:    ProviderCodex,
		DisplayName: "Codex",
		EnvVars: []EnvDir{
			{Name: "CODEX_SESSIONS_DIR"},
			{Name: "CODEX_HOME", Sub: "sessions"},
		},
		DefaultDir: filepath.Join(".codex", "sessions"),
		Discover:   DiscoverCodexSessions,
		Buckets:    codexDayDirs,
		ListBucket: listCodexDay,
		Match:      matchCodex,
	},
	{
		Provider:    ProviderClaude,
		DisplayName: "Claude Code",
		EnvVars: []EnvDir{
			{Name: "CLAUDE_PROJECTS_DIR"},
			{Name: "CLAUDE_CONFIG_DIR", Sub: "projects"},
		},
		DefaultDir: filepath.Join(".claude", "projects"),
		Discover:   DiscoverClaudeProjects,
		Buckets:    claudeProjectDirs,
		ListBucket: listClaudeProject,
		Match:      matchClaude,
	},
	{
		Provider:    ProviderGemini,
		DisplayName: "Gemini",
		EnvVars: []EnvDir{
			{Name: "GEMINI_DIR"},
		},
		DefaultDir: ".gemini",
		Discover:   DiscoverGeminiSessions,
		Buckets:    geminiChatDirs,
		ListBucket: listGeminiChats,
		Match:      matchGemini,
	},
}

// LookupProvider returns the definition of p.
func LookupProvider(p Provider) (ProviderDef, bool) {
	for _, def := range Providers {
		if def.Provider == p {
			return def, true
		}
	}
	return ProviderDef{}, false
}

// RecentBuckets returns the n most recent bucket directories of a
// root: the latest Codex day directories, or the most recently
// modified Claude project and Gemini chat directories.
func RecentBuckets(def ProviderDef, root string, n int) []string {
	if def.Buckets == nil || n <= 0 {
		return nil
	}
	dirs := def.Buckets(root)
	if len(dirs) > n {
		dirs = dirs[:n]
	}
	return dirs
}

// isDirOrSymlink reports whether the entry is a directory or a
// symlink that resolves to a directory. parentDir is needed to
// build the full path for symlink resolution.
func isDirOrSymlink(
	entry os.DirEntry, parentDir string,
) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(
		filepath.Join(parentDir, entry.Name()),
	)
	return err == nil && fi.IsDir()
}

func sortFiles(files []DiscoveredFile) []DiscoveredFile {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

// relParts splits path relative to root into slash-separated
// components, or nil when path is not under root.
func relParts(root, path string) []string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return strings.Split(filepath.ToSlash(rel), "/")
}

// byMtimeDesc orders dirs most recently modified first. Entries
// that cannot be stat'ed sort last.
func byMtimeDesc(dirs []string) []string {
	mtimes := make(map[string]int64, len(dirs))
	for _, d := range dirs {
		if fi, err := os.Stat(d); err == nil {
			mtimes[d] = fi.ModTime().UnixNano()
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return mtimes[dirs[i]] > mtimes[dirs[j]]
	})
	return dirs
}

// Codex: <root>/YYYY/MM/DD/rollout-*.jsonl

// DiscoverCodexSessions finds all rollout files under the Codex
// sessions dir (year/month/day structure).
func DiscoverCodexSessions(
	sessionsDir string, opts DiscoverOptions,
) []DiscoveredFile {
	var files []DiscoveredFile
	walkCodexDayDirs(sessionsDir, func(dayPath string) bool {
		files = append(files, listCodexDay(sessionsDir, dayPath, opts)...)
		return true
	})
	return sortFiles(files)
}

func listCodexDay(
	root, dayPath string, _ DiscoverOptions,
) []DiscoveredFile {
	entries, err := os.ReadDir(dayPath)
	if err != nil {
		return nil
	}
	var files []DiscoveredFile
	for _, sf := range entries {
		if sf.IsDir() || !isCodexRollout(sf.Name()) {
			continue
		}
		files = append(files, DiscoveredFile{
			Path:     filepath.Join(dayPath, sf.Name()),
			Provider: ProviderCodex,
			Root:     root,
		})
	}
	return files
}

func isCodexRollout(name string) bool {
	return strings.HasPrefix(name, "rollout-") &&
		strings.HasSuffix(name, ".jsonl")
}

func matchCodex(root, path string, _ DiscoverOptions) bool {
	parts := relParts(root, path)
	return len(parts) == 4 &&
		IsDigits(parts[0]) && IsDigits(parts[1]) && IsDigits(parts[2]) &&
		isCodexRollout(parts[3])
}

// codexDayDirs lists day directories newest first.
func codexDayDirs(root string) []string {
	var days []string
	walkCodexDayDirs(root, func(dayPath string) bool {
		days = append(days, dayPath)
		return true
	})
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days
}

// walkCodexDayDirs traverses a Codex sessions directory with
// year/month/day structure, calling fn for each valid day directory.
// fn returns false to stop traversal.
func walkCodexDayDirs(
	root string, fn func(dayPath string) bool,
) {
	years, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, year := range years {
		if !year.IsDir() || !IsDigits(year.Name()) {
			continue
		}
		yearPath := filepath.Join(root, year.Name())
		months, err := os.ReadDir(yearPath)
		if err != nil {
			continue
		}
		for _, month := range months {
			if !month.IsDir() || !IsDigits(month.Name()) {
				continue
			}
			monthPath := filepath.Join(yearPath, month.Name())
			days, err := os.ReadDir(monthPath)
			if err != nil {
				continue
			}
			for _, day := range days {
				if !day.IsDir() || !IsDigits(day.Name()) {
					continue
				}
				if !fn(filepath.Join(monthPath, day.Name())) {
					return
				}
			}
		}
	}
}

// IsDigits reports whether s is non-empty and contains only
// Unicode digit characters.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Claude: <root>/<encoded-cwd>/<uuid>.jsonl, agent history in
// <root>/<encoded-cwd>/agent-*.jsonl and
// <root>/<encoded-cwd>/<session>/subagents/agent-*.jsonl.

// DiscoverClaudeProjects finds all project directories under the
// Claude projects dir and returns their JSONL session files.
func DiscoverClaudeProjects(
	projectsDir string, opts DiscoverOptions,
) []DiscoveredFile {
	var files []DiscoveredFile
	for _, projDir := range listClaudeProjectDirs(projectsDir) {
		files = append(files, listClaudeProject(projectsDir, projDir, opts)...)
	}
	return sortFiles(files)
}

func listClaudeProjectDirs(projectsDir string) []string {
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if isDirOrSymlink(entry, projectsDir) {
			dirs = append(dirs, filepath.Join(projectsDir, entry.Name()))
		}
	}
	return dirs
}

func claudeProjectDirs(root string) []string {
	return byMtimeDesc(listClaudeProjectDirs(root))
}

func listClaudeProject(
	root, projDir string, opts DiscoverOptions,
) []DiscoveredFile {
	sessionFiles, err := os.ReadDir(projDir)
	if err != nil {
		return nil
	}
	var files []DiscoveredFile
	for _, sf := range sessionFiles {
		name := sf.Name()
		if sf.IsDir() {
			if opts.IncludeAgentHistory {
				files = append(files,
					listClaudeSubagents(root, filepath.Join(projDir, name, "subagents"))...)
			}
			continue
		}
		if !isClaudeLog(name, opts) {
			continue
		}
		files = append(files, DiscoveredFile{
			Path:     filepath.Join(projDir, name),
			Provider: ProviderClaude,
			Root:     root,
		})
	}
	return files
}

func listClaudeSubagents(root, dir string) []DiscoveredFile {
	subFiles, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []DiscoveredFile
	for _, sub := range subFiles {
		if sub.IsDir() || !isClaudeAgentLog(sub.Name()) {
			continue
		}
		files = append(files, DiscoveredFile{
			Path:     filepath.Join(dir, sub.Name()),
			Provider: ProviderClaude,
			Root:     root,
		})
	}
	return files
}

func isClaudeLog(name string, opts DiscoverOptions) bool {
	if !strings.HasSuffix(name, ".jsonl") {
		return false
	}
	if isClaudeAgentLog(name) {
		return opts.IncludeAgentHistory
	}
	return true
}

func isClaudeAgentLog(name string) bool {
	return strings.HasPrefix(name, "agent-") &&
		strings.HasSuffix(name, ".jsonl")
}

func matchClaude(root, path string, opts DiscoverOptions) bool {
	parts := relParts(root, path)
	switch len(parts) {
	case 2:
		return isClaudeLog(parts[1], opts)
	case 4:
		return opts.IncludeAgentHistory &&
			parts[2] == "subagents" && isClaudeAgentLog(parts[3])
	}
	return false
}

// Gemini: <root>/tmp/<project-hash>/chats/session-*.json

// DiscoverGeminiSessions finds session files under every project
// directory of a Gemini home.
func DiscoverGeminiSessions(
	geminiDir string, opts DiscoverOptions,
) []DiscoveredFile {
	if geminiDir == "" {
		return nil
	}
	var files []DiscoveredFile
	for _, chats := range listGeminiChatDirs(geminiDir) {
		files = append(files, listGeminiChats(geminiDir, chats, opts)...)
	}
	return sortFiles(files)
}

func listGeminiChatDirs(geminiDir string) []string {
	tmpDir := filepath.Join(geminiDir, "tmp")
	hashDirs, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, hd := range hashDirs {
		if isDirOrSymlink(hd, tmpDir) {
			dirs = append(dirs, filepath.Join(tmpDir, hd.Name(), "chats"))
		}
	}
	return dirs
}

func geminiChatDirs(root string) []string {
	return byMtimeDesc(listGeminiChatDirs(root))
}

func listGeminiChats(
	root, chatsDir string, _ DiscoverOptions,
) []DiscoveredFile {
	entries, err := os.ReadDir(chatsDir)
	if err != nil {
		return nil
	}
	var files []DiscoveredFile
	for _, sf := range entries {
		if sf.IsDir() || !isGeminiSession(sf.Name()) {
			continue
		}
		files = append(files, DiscoveredFile{
			Path:     filepath.Join(chatsDir, sf.Name()),
			Provider: ProviderGemini,
			Root:     root,
		})
	}
	return files
}

func isGeminiSession(name string) bool {
	return strings.HasPrefix(name, "session-") &&
		strings.HasSuffix(name, ".json")
}

func matchGemini(root, path string, _ DiscoverOptions) bool {
	parts := relParts(root, path)
	return len(parts) == 4 && parts[0] == "tmp" &&
		parts[2] == "chats" && isGeminiSession(parts[3])
}

// FallbackDirKeySource returns the directory a session should be
// grouped under when its working directory never resolves: the
// decoded Claude project directory, the Gemini project hash
// directory, or the file's own directory.
func FallbackDirKeySource(p Provider, path string) string {
	dir := filepath.Dir(path)
	switch p {
	case ProviderClaude:
		if filepath.Base(dir) == "subagents" {
			dir = filepath.Dir(filepath.Dir(dir))
		}
		if decoded := DecodeClaudeProjectDir(filepath.Base(dir)); strings.HasPrefix(decoded, "/") {
			return decoded
		}
	case ProviderGemini:
		if filepath.Base(dir) == "chats" {
			return filepath.Dir(dir)
		}
	}
	return dir
}
