package sync

import (
	"os"
	"strings"

	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
)

// syncOrder runs Gemini last so that working directories observed
// in Codex and Claude logs can resolve its hashed project
// directories in the same pass.
var syncOrder = []parser.Provider{
	parser.ProviderCodex,
	parser.ProviderClaude,
	parser.ProviderGemini,
}

// watchRoot is a log root together with the provider it belongs to.
type watchRoot struct {
	provider parser.Provider
	root     parser.ProjectRoot
}

func (w watchRoot) def() parser.ProviderDef {
	def, _ := parser.LookupProvider(w.provider)
	return def
}

// allRoots lists the configured roots in sync order.
func (e *Engine) allRoots() []watchRoot {
	var out []watchRoot
	for _, p := range syncOrder {
		for _, r := range e.opts.Roots[p] {
			out = append(out, watchRoot{provider: p, root: r})
		}
	}
	return out
}

// classify finds the provider root whose layout path belongs to.
func (e *Engine) classify(path string) (watchRoot, bool) {
	for _, wr := range e.allRoots() {
		if wr.def().Match(wr.root.Path, path, e.opts.Discover) {
			return wr, true
		}
	}
	return watchRoot{}, false
}

// ownerOf returns the root in roots that contains path.
func ownerOf(roots []watchRoot, path string) (watchRoot, bool) {
	for _, wr := range roots {
		if isUnder(wr.root.Path, path) {
			return wr, true
		}
	}
	return watchRoot{}, false
}

// isUnder reports whether path is dir or lies beneath it, comparing
// canonical keys so drive, WSL share and /mnt spellings agree.
func isUnder(dir, path string) bool {
	d := pathkey.DirKey(dir)
	p := pathkey.Canonical(path)
	if d == "" || p == "" {
		return false
	}
	if d == p {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(d, "/")+"/")
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
