package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// legacyDirKeys maps the single-directory keys of older config files
// to the list keys that replaced them.
var legacyDirKeys = []struct{ old, new string }{
	{"codex_sessions_dir", "codex_sessions_dirs"},
	{"claude_project_dir", "claude_project_dirs"},
	{"gemini_dir", "gemini_dirs"},
}

// MigrateLegacyKeys rewrites single-directory keys in the config
// file of dataDir into their list form. The original file is kept
// as config.json.bak. A list key already present wins over the
// legacy key. Call this once during startup, before Load.
func MigrateLegacyKeys(dataDir string, logger zerolog.Logger) error {
	path := filepath.Join(dataDir, configFileName)
	if _, err := os.Stat(path); err != nil {
		return nil // nothing to migrate
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	changed := false
	for _, k := range legacyDirKeys {
		v, ok := raw[k.old]
		if !ok {
			continue
		}
		delete(raw, k.old)
		changed = true
		s, _ := v.(string)
		if _, exists := raw[k.new]; exists || s == "" {
			continue
		}
		raw[k.new] = []string{s}
		logger.Info().
			Str("from", k.old).Str("to", k.new).
			Msg("migrating legacy config key")
	}
	if !changed {
		return nil
	}

	if err := copyFile(path, path+".bak", 0o600); err != nil {
		return fmt.Errorf("backing up config: %w", err)
	}
	return writeRaw(path, raw)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(
		dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode,
	)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying: %w", err)
	}
	return out.Close()
}
