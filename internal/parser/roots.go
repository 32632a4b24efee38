package parser

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/wesm/sessionwatch/internal/pathkey"
)

// RootSource says how a root is reached.
type RootSource string

const (
	SourceLocal   RootSource = "local"
	SourceNetwork RootSource = "network"
)

// ProjectRoot is a candidate directory to discover logs in. It is
// advisory input and never persisted.
type ProjectRoot struct {
	Path   string     `json:"path"`
	Exists bool       `json:"exists"`
	Source RootSource `json:"source"`
	Distro string     `json:"distro,omitempty"`
}

// HomeResolver enumerates the home directories whose provider
// defaults should be searched.
type HomeResolver interface {
	Homes() []ProjectRoot
}

// StaticHomes is a fixed HomeResolver.
type StaticHomes []ProjectRoot

func (s StaticHomes) Homes() []ProjectRoot { return s }

// PlatformHomes resolves the current user's home and, on Windows,
// the home directories inside every registered WSL distribution.
type PlatformHomes struct{}

func (PlatformHomes) Homes() []ProjectRoot {
	var homes []ProjectRoot
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		homes = append(homes, newRoot(h))
	}
	if runtime.GOOS != "windows" {
		return homes
	}
	for _, distro := range wslDistros() {
		homes = append(homes, wslHomes(distro)...)
	}
	return homes
}

// wslShareHosts are tried in order; wsl$ predates wsl.localhost.
var wslShareHosts = []string{`\\wsl.localhost`, `\\wsl$`}

// wslHomes lists /home/<user> of a distro through its network share.
func wslHomes(distro string) []ProjectRoot {
	for _, host := range wslShareHosts {
		base := host + `\` + distro + `\home`
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		var homes []ProjectRoot
		for _, e := range entries {
			if isDirOrSymlink(e, base) {
				r := newRoot(base + `\` + e.Name())
				r.Exists = true
				homes = append(homes, r)
			}
		}
		return homes
	}
	return nil
}

func newRoot(p string) ProjectRoot {
	r := ProjectRoot{Path: p, Source: SourceLocal}
	if pathkey.IsNetwork(p) {
		r.Source = SourceNetwork
		r.Distro = pathkey.Distro(p)
	}
	return r
}

// RootsFor enumerates the log roots of a provider in priority
// order: explicit directories, environment overrides, then the
// provider default under each home. Roots naming the same location
// are collapsed, keeping the first. Exists is filled by stat.
func RootsFor(
	def ProviderDef,
	explicit []string,
	getenv func(string) string,
	homes []ProjectRoot,
) []ProjectRoot {
	var cands []ProjectRoot
	for _, p := range explicit {
		if p != "" {
			cands = append(cands, newRoot(p))
		}
	}
	if getenv != nil {
		for _, ev := range def.EnvVars {
			v := getenv(ev.Name)
			if v == "" {
				continue
			}
			if ev.Sub != "" {
				v = filepath.Join(v, ev.Sub)
			}
			cands = append(cands, newRoot(v))
		}
	}
	for _, h := range homes {
		r := newRoot(filepath.Join(h.Path, def.DefaultDir))
		if h.Distro != "" {
			r.Distro = h.Distro
		}
		cands = append(cands, r)
	}

	seen := make(map[string]bool, len(cands))
	var out []ProjectRoot
	for _, r := range cands {
		k := pathkey.DirKey(r.Path)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		fi, err := os.Stat(r.Path)
		r.Exists = err == nil && fi.IsDir()
		out = append(out, r)
	}
	return out
}
