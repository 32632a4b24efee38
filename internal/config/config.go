package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
)

const configFileName = "config.json"

// Index backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Duration is a time.Duration that reads from JSON as either a Go
// duration string ("500ms") or a number of milliseconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Config holds all application configuration.
type Config struct {
	DataDir      string `json:"data_dir"`
	IndexBackend string `json:"index_backend"`

	// Explicit log roots. These are searched ahead of the
	// environment overrides and the per-home defaults.
	CodexSessionsDirs []string `json:"codex_sessions_dirs,omitempty"`
	ClaudeProjectDirs []string `json:"claude_project_dirs,omitempty"`
	GeminiDirs        []string `json:"gemini_dirs,omitempty"`

	IncludeAgentHistory bool     `json:"include_agent_history"`
	KnownProjects       []string `json:"known_projects,omitempty"`

	Debounce         Duration `json:"debounce"`
	LocalSettle      Duration `json:"local_settle"`
	PollInterval     Duration `json:"poll_interval"`
	RescanInterval   Duration `json:"rescan_interval"`
	RescanCooldown   Duration `json:"rescan_cooldown"`
	RescanLocal      bool     `json:"rescan_local"`
	BatchConcurrency int      `json:"batch_concurrency"`
	Concurrency      int      `json:"concurrency"`

	CacheSize    int   `json:"cache_size"`
	MaxLines     int   `json:"max_lines"`
	MaxLineBytes int   `json:"max_line_bytes"`
	MaxJSONBytes int64 `json:"max_json_bytes"`

	LogLevel    string `json:"log_level"`
	LogPretty   bool   `json:"log_pretty"`
	DiagEnabled bool   `json:"diag_enabled"`
	DiagFilter  string `json:"diag_filter,omitempty"`

	// configDir is where config.json was looked up. A data_dir
	// in the file moves the index but not the file itself.
	configDir string
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".sessionwatch")
	return Config{
		DataDir:          dataDir,
		IndexBackend:     BackendFile,
		Debounce:         Duration(500 * time.Millisecond),
		LocalSettle:      Duration(250 * time.Millisecond),
		PollInterval:     Duration(3 * time.Second),
		RescanInterval:   Duration(60 * time.Second),
		RescanCooldown:   Duration(30 * time.Second),
		BatchConcurrency: 6,
		Concurrency:      6,
		CacheSize:        32,
		MaxLines:         parser.DefaultMaxLines,
		MaxLineBytes:     parser.DefaultMaxLineBytes,
		MaxJSONBytes:     parser.DefaultMaxJSONBytes,
		LogLevel:         "info",
		configDir:        dataDir,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	cfg.resolveDataDir(fs)

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	if err := applyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolveDataDir picks the directory config.json is read from:
// the --data-dir flag, then SESSIONWATCH_DATA_DIR, then the default.
func (c *Config) resolveDataDir(fs *pflag.FlagSet) {
	if v := os.Getenv("SESSIONWATCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if fs != nil {
		if f := fs.Lookup("data-dir"); f != nil && f.Changed {
			c.DataDir = f.Value.String()
		}
	}
	c.configDir = c.DataDir
}

// ResolveDataDir returns the directory config.json is read from
// without reading any files. Use this to target MigrateLegacyKeys
// before calling Load.
func ResolveDataDir(fs *pflag.FlagSet) (string, error) {
	cfg, err := Default()
	if err != nil {
		return "", err
	}
	cfg.resolveDataDir(fs)
	return cfg.DataDir, nil
}

func (c *Config) configPath() string {
	dir := c.configDir
	if dir == "" {
		dir = c.DataDir
	}
	return filepath.Join(dir, configFileName)
}

// loadFile overlays config.json onto c. Keys absent from the file
// keep their current values.
func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("SESSIONWATCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SESSIONWATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	// SESSIONWATCH_DIAG enables diagnostics. A value other than
	// a boolean is taken as the path filter.
	if v, ok := os.LookupEnv("SESSIONWATCH_DIAG"); ok {
		b, err := strconv.ParseBool(v)
		switch {
		case err == nil:
			c.DiagEnabled = b
		default:
			c.DiagEnabled = true
			c.DiagFilter = v
		}
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.IndexBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf(
			"index_backend must be %q or %q, got %q",
			BackendFile, BackendSQLite, c.IndexBackend,
		)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	if c.CacheSize < 0 || c.BatchConcurrency < 0 || c.Concurrency < 0 {
		return fmt.Errorf("cache_size, batch_concurrency and concurrency must not be negative")
	}
	return nil
}

// IndexPath is where the selected backend keeps the index: a
// directory of JSON documents, or a SQLite database file.
func (c *Config) IndexPath() string {
	if c.IndexBackend == BackendSQLite {
		return filepath.Join(c.DataDir, "index.db")
	}
	return filepath.Join(c.DataDir, "index")
}

// ExplicitDirs returns the configured roots of a provider.
func (c *Config) ExplicitDirs(p parser.Provider) []string {
	switch p {
	case parser.ProviderCodex:
		return c.CodexSessionsDirs
	case parser.ProviderClaude:
		return c.ClaudeProjectDirs
	case parser.ProviderGemini:
		return c.GeminiDirs
	}
	return nil
}

// Roots enumerates the log roots of every provider: the explicit
// directories, then the environment overrides read through getenv,
// then the provider default under each home.
func (c *Config) Roots(
	getenv func(string) string, homes parser.HomeResolver,
) map[parser.Provider][]parser.ProjectRoot {
	var hs []parser.ProjectRoot
	if homes != nil {
		hs = homes.Homes()
	}
	out := make(map[parser.Provider][]parser.ProjectRoot, len(parser.Providers))
	for _, def := range parser.Providers {
		out[def.Provider] = parser.RootsFor(
			def, c.ExplicitDirs(def.Provider), getenv, hs,
		)
	}
	return out
}

// RegisterFlags registers the flags every command shares on fs.
// The caller must parse fs before passing it to Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Directory holding config.json and the index")
	fs.String("index-backend", "", "Index storage: file or sqlite")
	fs.StringArray("codex-dir", nil, "Codex sessions directory (repeatable)")
	fs.StringArray("claude-dir", nil, "Claude projects directory (repeatable)")
	fs.StringArray("gemini-dir", nil, "Gemini directory (repeatable)")
	fs.StringArray("known-project", nil, "Project path used to resolve Gemini hashes (repeatable)")
	fs.Bool("include-agent-history", false, "Index Claude subagent transcripts")
	fs.String("log-level", "", "Log level: trace, debug, info, warn, error")
	fs.Bool("pretty", false, "Human readable log output")
	fs.String("diag", "", "Enable diagnostics for paths containing this substring")
	fs.Duration("debounce", 0, "Delay before a changed file is reconciled")
	fs.Duration("poll-interval", 0, "Stat interval for network roots")
	fs.Duration("rescan-interval", 0, "Interval of the periodic bucket rescan")
	fs.Bool("rescan-local", false, "Also rescan local roots periodically")
	fs.Int("cache-size", 0, "Number of parsed sessions kept in memory")
	fs.Int("concurrency", 0, "Files parsed in parallel during a full scan")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = applyFlag(cfg, fs, f)
		if err != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	return err
}

func applyFlag(cfg *Config, fs *pflag.FlagSet, f *pflag.Flag) error {
	var err error
	switch f.Name {
	case "data-dir":
		cfg.DataDir = f.Value.String()
	case "index-backend":
		cfg.IndexBackend = strings.ToLower(f.Value.String())
	case "codex-dir":
		cfg.CodexSessionsDirs, err = fs.GetStringArray(f.Name)
	case "claude-dir":
		cfg.ClaudeProjectDirs, err = fs.GetStringArray(f.Name)
	case "gemini-dir":
		cfg.GeminiDirs, err = fs.GetStringArray(f.Name)
	case "known-project":
		var extra []string
		extra, err = fs.GetStringArray(f.Name)
		cfg.KnownProjects = pathkey.Dedupe(append(cfg.KnownProjects, extra...))
	case "include-agent-history":
		cfg.IncludeAgentHistory, err = fs.GetBool(f.Name)
	case "log-level":
		cfg.LogLevel = f.Value.String()
	case "pretty":
		cfg.LogPretty, err = fs.GetBool(f.Name)
	case "diag":
		cfg.DiagEnabled = true
		cfg.DiagFilter = f.Value.String()
	case "debounce":
		err = setDurationFlag(&cfg.Debounce, fs, f.Name)
	case "poll-interval":
		err = setDurationFlag(&cfg.PollInterval, fs, f.Name)
	case "rescan-interval":
		err = setDurationFlag(&cfg.RescanInterval, fs, f.Name)
	case "rescan-local":
		cfg.RescanLocal, err = fs.GetBool(f.Name)
	case "cache-size":
		cfg.CacheSize, err = fs.GetInt(f.Name)
	case "concurrency":
		cfg.Concurrency, err = fs.GetInt(f.Name)
	}
	return err
}

func setDurationFlag(dst *Duration, fs *pflag.FlagSet, name string) error {
	v, err := fs.GetDuration(name)
	if err != nil {
		return err
	}
	*dst = Duration(v)
	return nil
}

// AddKnownProjects persists project paths to the config file,
// preserving every other key already in it.
func (c *Config) AddKnownProjects(paths ...string) error {
	if err := os.MkdirAll(filepath.Dir(c.configPath()), 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	existing, err := readRaw(c.configPath())
	if err != nil {
		return err
	}

	merged := pathkey.Dedupe(append(append([]string(nil), c.KnownProjects...), paths...))
	existing["known_projects"] = merged
	if err := writeRaw(c.configPath(), existing); err != nil {
		return err
	}
	c.KnownProjects = merged
	return nil
}

// readRaw reads config.json as a generic object. A missing file
// yields an empty object.
func readRaw(path string) (map[string]any, error) {
	existing := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return nil, fmt.Errorf(
				"existing config is invalid, cannot update: %w",
				err,
			)
		}
	}
	return existing, nil
}

func writeRaw(path string, obj map[string]any) error {
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
