package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestAddKnownProjects_PreservesExistingKeys(t *testing.T) {
	dir := setupConfigDir(t)
	writeConfig(t, dir, map[string]any{
		"custom_key":     "value",
		"known_projects": []string{"/src/a"},
	})

	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddKnownProjects("/src/b", "/SRC/A"); err != nil {
		t.Fatal(err)
	}

	raw := readRawFile(t, dir)
	if raw["custom_key"] != "value" {
		t.Errorf("custom_key = %v, want %q", raw["custom_key"], "value")
	}
	want := []any{"/src/a", "/src/b"}
	if diff := cmp.Diff(want, raw["known_projects"]); diff != "" {
		t.Errorf("known_projects mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/src/a", "/src/b"}, cfg.KnownProjects); diff != "" {
		t.Errorf("cfg.KnownProjects mismatch (-want +got):\n%s", diff)
	}

	// A second load sees the persisted list.
	again, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.KnownProjects) != 2 {
		t.Errorf("reloaded KnownProjects = %v", again.KnownProjects)
	}
}

func TestAddKnownProjects_CreatesFile(t *testing.T) {
	dir := filepath.Join(setupConfigDir(t), "nested")
	t.Setenv("SESSIONWATCH_DATA_DIR", dir)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddKnownProjects("/src/x"); err != nil {
		t.Fatal(err)
	}
	raw := readRawFile(t, dir)
	if diff := cmp.Diff([]any{"/src/x"}, raw["known_projects"]); diff != "" {
		t.Errorf("known_projects mismatch (-want +got):\n%s", diff)
	}
}

func TestAddKnownProjects_RejectsCorruptConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir}
	writeConfigRaw(t, dir, "not json")

	if err := cfg.AddKnownProjects("/src/a"); err == nil {
		t.Fatal("expected error for corrupt config")
	}
}

func TestAddKnownProjects_ReturnsErrorOnReadFailure(t *testing.T) {
	skipIfNotUnix(t)

	dir := t.TempDir()
	cfg := Config{DataDir: dir}
	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, []byte(`{"k":"v"}`), 0o000); err != nil {
		t.Fatal(err)
	}

	err := cfg.AddKnownProjects("/src/a")
	if err == nil {
		t.Fatal("expected error for unreadable config file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMigrateLegacyKeys(t *testing.T) {
	tests := []struct {
		name    string
		file    map[string]any
		want    map[string]any
		wantBak bool
	}{
		{
			name: "RewritesSingleDirKeys",
			file: map[string]any{
				"codex_sessions_dir": "/old/codex",
				"gemini_dir":         "/old/gemini",
				"log_level":          "debug",
			},
			want: map[string]any{
				"codex_sessions_dirs": []any{"/old/codex"},
				"gemini_dirs":         []any{"/old/gemini"},
				"log_level":           "debug",
			},
			wantBak: true,
		},
		{
			name: "ListKeyWins",
			file: map[string]any{
				"claude_project_dir":  "/old",
				"claude_project_dirs": []string{"/new"},
			},
			want: map[string]any{
				"claude_project_dirs": []any{"/new"},
			},
			wantBak: true,
		},
		{
			name: "NothingToMigrate",
			file: map[string]any{"log_level": "warn"},
			want: map[string]any{"log_level": "warn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.file)

			if err := MigrateLegacyKeys(dir, zerolog.Nop()); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, readRawFile(t, dir)); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
			_, err := os.Stat(filepath.Join(dir, configFileName+".bak"))
			if gotBak := err == nil; gotBak != tt.wantBak {
				t.Errorf("backup present = %v, want %v", gotBak, tt.wantBak)
			}
		})
	}
}

func TestMigrateLegacyKeys_NoFile(t *testing.T) {
	dir := t.TempDir()
	if err := MigrateLegacyKeys(dir, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, configFileName)); err == nil {
		t.Error("config file should not be created")
	}
}

func TestMigrateLegacyKeys_BackupPermissions(t *testing.T) {
	skipIfNotUnix(t)

	dir := t.TempDir()
	writeConfig(t, dir, map[string]any{"gemini_dir": "/g"})
	if err := MigrateLegacyKeys(dir, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, configFileName+".bak"))
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm() & 0o077; got != 0 {
		t.Errorf("backup perm & 077 = %o, want 0", got)
	}
}
