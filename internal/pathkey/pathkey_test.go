package pathkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"posix", "/home/alice/Code/App", "/home/alice/code/app"},
		{"posix trailing slash", "/home/alice/app/", "/home/alice/app"},
		{"posix root", "/", "/"},
		{"duplicate separators", "/home//alice///app", "/home/alice/app"},
		{"dot segments", "/home/alice/./x/../app", "/home/alice/app"},
		{"drive backslash", `C:\Users\Alice\proj`, "/mnt/c/users/alice/proj"},
		{"drive forward slash", "d:/work/x", "/mnt/d/work/x"},
		{"drive only", "C:", "/mnt/c"},
		{"drive root", `C:\`, "/mnt/c"},
		{"wsl share", `\\wsl$\Ubuntu\home\u\p`, "/home/u/p"},
		{"wsl localhost share", `\\wsl.localhost\Ubuntu-22.04\home\u\p\`, "/home/u/p"},
		{"wsl forward slashes", "//wsl.localhost/Debian/home/u", "/home/u"},
		{"wsl distro root", `\\wsl$\Ubuntu`, "/"},
		{"wsl mnt path", `\\wsl$\Ubuntu\mnt\c\a\b`, "/mnt/c/a/b"},
		{"plain unc", `\\Server\Share\Dir\`, "//server/share/dir"},
		{"long path prefix", `\\?\C:\Very\Long`, "/mnt/c/very/long"},
		{"long unc prefix", `\\?\UNC\srv\share\x`, "//srv/share/x"},
		{"relative", `foo\Bar`, "foo/bar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DirKey(tt.in))
		})
	}
}

func TestDirKeySameLocation(t *testing.T) {
	want := DirKey("/mnt/c/a/b")
	assert.Equal(t, want, DirKey(`C:\a\b`))
	assert.Equal(t, want, DirKey(`\\wsl$\Ubuntu\mnt\c\a\b`))
	assert.Equal(t, want, DirKey(`\\wsl.localhost\Ubuntu\mnt\c\a\b\`))
}

func TestCanonicalCaseInsensitive(t *testing.T) {
	assert.Equal(t,
		Canonical(`C:\Users\A\.codex\sessions\x.jsonl`),
		Canonical("c:/users/a/.codex/sessions/X.JSONL"),
	)
}

func TestSplitDrive(t *testing.T) {
	letter, rest, ok := SplitDrive(`E:\a\b`)
	assert.True(t, ok)
	assert.Equal(t, "e", letter)
	assert.Equal(t, "a/b", rest)

	_, _, ok = SplitDrive("C:foo")
	assert.False(t, ok, "drive-relative path")
	_, _, ok = SplitDrive("/mnt/c")
	assert.False(t, ok)
	_, _, ok = SplitDrive("1:/x")
	assert.False(t, ok)
}

func TestIsNetworkAndDistro(t *testing.T) {
	assert.True(t, IsNetwork(`\\wsl$\Ubuntu\home`))
	assert.True(t, IsNetwork("//nas/share"))
	assert.True(t, IsNetwork(`\\?\UNC\nas\share`))
	assert.False(t, IsNetwork(`\\?\C:\x`))
	assert.False(t, IsNetwork(`C:\x`))
	assert.False(t, IsNetwork("/home/u"))

	assert.Equal(t, "Ubuntu", Distro(`\\wsl$\Ubuntu\home\u`))
	assert.Equal(t, "Debian", Distro("//wsl.localhost/Debian"))
	assert.Equal(t, "", Distro("//nas/share"))
	assert.Equal(t, "", Distro("/home/u"))
}

func TestIsAbsLike(t *testing.T) {
	for _, p := range []string{"/x", `\\srv\s`, `C:\x`, "c:/x", "~/x"} {
		assert.True(t, IsAbsLike(p), p)
	}
	for _, p := range []string{"", "x/y", "hello world", "C:foo"} {
		assert.False(t, IsAbsLike(p), p)
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{
		`C:\Users\A\.codex`,
		"/mnt/c/users/a/.codex/",
		"/home/a/.codex",
		"",
		"/HOME/A/.codex",
	})
	assert.Equal(t, []string{`C:\Users\A\.codex`, "/home/a/.codex"}, got)
}
