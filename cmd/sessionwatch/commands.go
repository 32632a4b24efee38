package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	gosync "sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/sync"
)

func scanCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Bring the index up to date with one full scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var progress sync.ProgressFunc
			if !jsonOutput {
				progress = progressPrinter(cmd.ErrOrStderr())
			}
			a, err := openApp(cmd, appOptions{progress: progress})
			if err != nil {
				return err
			}
			defer a.Close()

			a.engine.Load()
			stats := a.engine.SyncAll(cmd.Context())
			if jsonOutput {
				return writeJSON(out, struct {
					Scan   sync.SyncStats `json:"scan"`
					Engine sync.Stats     `json:"engine"`
				}{stats, a.engine.Stats()})
			}
			fmt.Fprintf(out,
				"Scan complete in %s: %d files, %d added, %d updated, %d removed, %d unchanged, %d failed\n",
				stats.Duration.Round(time.Millisecond), stats.Discovered,
				stats.Added, stats.Updated, stats.Removed,
				stats.Unchanged, stats.Failed)
			fmt.Fprintf(out, "%d sessions indexed\n", a.store.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the scan report as JSON")
	return cmd
}

// progressPrinter reports scan progress on a single rewritten line.
func progressPrinter(w io.Writer) sync.ProgressFunc {
	return func(p sync.Progress) {
		switch p.Phase {
		case sync.PhaseSyncing:
			if p.FilesTotal > 0 {
				fmt.Fprintf(w, "\r  %-6s %d/%d files (%.0f%%)",
					p.Provider, p.FilesDone, p.FilesTotal, p.Percent())
			}
		case sync.PhaseDone:
			fmt.Fprintln(w)
		}
	}
}

func watchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan, then keep the index current and print changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n := &printNotifier{out: cmd.OutOrStdout(), json: jsonOutput}
			a, err := openApp(cmd, appOptions{notifier: n})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(
				cmd.Context(), os.Interrupt, syscall.SIGTERM,
			)
			defer stop()

			if err := a.engine.Start(ctx); err != nil {
				return err
			}
			a.logger.Info().
				Int("sessions", a.store.Len()).
				Msg("watching for changes, press Ctrl-C to stop")
			<-ctx.Done()

			st := a.engine.Stats()
			a.logger.Info().
				Int64("parses", st.Parses).
				Int64("added", st.Added).
				Int64("updated", st.Updated).
				Int64("removed", st.Removed).
				Msg("stopping")
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print changes as JSON lines")
	return cmd
}

// printNotifier writes every index change to out.
type printNotifier struct {
	mu   gosync.Mutex
	out  io.Writer
	json bool
}

type changeEvent struct {
	Type    string          `json:"type"`
	Path    string          `json:"path"`
	Summary *parser.Summary `json:"summary,omitempty"`
}

func (n *printNotifier) SessionsAdded(sums []parser.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range sums {
		n.write("added", "+", sums[i].Path, &sums[i])
	}
}

func (n *printNotifier) SessionUpdated(s parser.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.write("updated", "~", s.Path, &s)
}

func (n *printNotifier) SessionRemoved(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.write("removed", "-", path, nil)
}

func (n *printNotifier) write(typ, mark, path string, s *parser.Summary) {
	if n.json {
		b, err := json.Marshal(changeEvent{Type: typ, Path: path, Summary: s})
		if err == nil {
			fmt.Fprintln(n.out, string(b))
		}
		return
	}
	if s == nil {
		fmt.Fprintf(n.out, "%s %s\n", mark, path)
		return
	}
	fmt.Fprintf(n.out, "%s %s\n", mark, summaryLine(*s))
}

// listFilter selects summaries for the list command.
type listFilter struct {
	Provider string
	Project  string
	Since    time.Time
	Limit    int
}

func (f listFilter) apply(sums []parser.Summary) []parser.Summary {
	project := strings.ToLower(f.Project)
	var out []parser.Summary
	for _, s := range sums {
		if f.Provider != "" && string(s.Provider) != f.Provider {
			continue
		}
		if project != "" &&
			!strings.Contains(s.DirKey, project) &&
			!strings.Contains(strings.ToLower(s.Cwd), project) {
			continue
		}
		if !f.Since.IsZero() && s.Date.Before(f.Since) {
			continue
		}
		out = append(out, s)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func parseListFilter(provider, project, since string, limit int) (listFilter, error) {
	f := listFilter{Provider: strings.ToLower(provider), Project: project, Limit: limit}
	if f.Provider != "" {
		if _, ok := parser.LookupProvider(parser.Provider(f.Provider)); !ok {
			return f, fmt.Errorf("unknown provider %q", provider)
		}
	}
	if since != "" {
		t, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return f, fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
		}
		f.Since = t
	}
	if limit < 0 {
		return f, errors.New("--limit must be >= 0")
	}
	return f, nil
}

func listCmd() *cobra.Command {
	var (
		jsonOutput bool
		rescan     bool
		provider   string
		project    string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseListFilter(provider, project, since, limit)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			a.engine.Load()
			if rescan {
				a.engine.SyncAll(cmd.Context())
			}
			sums := filter.apply(a.engine.ListSummaries())
			if jsonOutput {
				if sums == nil {
					sums = []parser.Summary{}
				}
				return writeJSON(cmd.OutOrStdout(), sums)
			}
			writeSummaries(cmd.OutOrStdout(), sums)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print summaries as JSON")
	cmd.Flags().BoolVar(&rescan, "scan", false, "Run a full scan before listing")
	cmd.Flags().StringVar(&provider, "provider", "", "Only sessions of this provider (codex, claude, gemini)")
	cmd.Flags().StringVar(&project, "project", "", "Sessions whose directory contains this substring")
	cmd.Flags().StringVar(&since, "since", "", "Sessions dated on or after this day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most N sessions")
	return cmd
}

func showCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Print the full conversation of a session log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			a.engine.Load()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			d, err := a.engine.ReadDetails(ctx, path)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			writeDetails(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the details as JSON")
	return cmd
}

func projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage the project paths used to resolve Gemini sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <dir>...",
		Short: "Remember project directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			dirs := make([]string, 0, len(args))
			for _, d := range args {
				abs, err := filepath.Abs(d)
				if err != nil {
					return err
				}
				dirs = append(dirs, abs)
			}
			if err := a.cfg.AddKnownProjects(dirs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d known projects\n", len(a.cfg.KnownProjects))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the remembered project directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			for _, p := range a.cfg.KnownProjects {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	})
	return cmd
}
