package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wesm/sessionwatch/internal/parser"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	roleStyles  = map[parser.RoleType]lipgloss.Style{
		parser.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		parser.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
		parser.RoleSystem:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
		parser.RoleTool:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("176")),
	}
)

const previewWidth = 60

// formatDate renders a summary date, or "-" when unknown.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// truncate shortens s to at most n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// summaryLine is the one-line form of a summary.
func summaryLine(s parser.Summary) string {
	title := s.Title
	if title == "" {
		title = s.Preview
	}
	return fmt.Sprintf("%s  %-6s  %s  %s",
		formatDate(s.Date), s.Provider,
		truncate(title, previewWidth),
		dimStyle.Render(s.DirKey))
}

// writeSummaries prints summaries one per line under a header.
func writeSummaries(w io.Writer, sums []parser.Summary) {
	fmt.Fprintln(w, headerStyle.Render(
		fmt.Sprintf("%d sessions", len(sums))))
	for _, s := range sums {
		fmt.Fprintln(w, summaryLine(s))
	}
}

// writeDetails prints the header fields and every message of d.
func writeDetails(w io.Writer, d parser.Details) {
	fmt.Fprintln(w, headerStyle.Render(d.Title))
	field := func(name, v string) {
		if v != "" {
			fmt.Fprintf(w, "%s %s\n", dimStyle.Render(name+":"), v)
		}
	}
	field("path", d.Path)
	field("provider", string(d.Provider))
	field("id", d.ID)
	field("date", formatDate(d.Date))
	field("cwd", d.Cwd)
	field("resume", strings.TrimSpace(d.ResumeID+" ("+string(d.ResumeMode)+")"))
	field("shell", d.Shell)
	if d.SkippedLines > 0 {
		field("skipped lines", fmt.Sprint(d.SkippedLines))
	}
	if d.Truncated {
		field("truncated", "yes")
	}

	for _, m := range d.Messages {
		fmt.Fprintln(w)
		style, ok := roleStyles[m.Role]
		if !ok {
			style = headerStyle
		}
		head := style.Render(string(m.Role))
		if !m.Timestamp.IsZero() {
			head += " " + dimStyle.Render(m.Timestamp.Local().Format(time.TimeOnly))
		}
		fmt.Fprintln(w, head)
		for _, b := range m.Blocks {
			writeBlock(w, b)
		}
	}
}

func writeBlock(w io.Writer, b parser.ContentBlock) {
	switch b.Kind {
	case parser.BlockText:
		fmt.Fprintln(w, b.Text)
	case parser.BlockToolCall:
		fmt.Fprintln(w, dimStyle.Render("→ "+b.ToolName+" "+truncate(b.Text, 200)))
	case parser.BlockToolResult:
		fmt.Fprintln(w, dimStyle.Render("← "+truncate(b.Text, 200)))
	default:
		label := string(b.Kind)
		if b.Label != "" {
			label += ":" + b.Label
		}
		fmt.Fprintln(w, dimStyle.Render("["+label+"] "+truncate(b.Text, 200)))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
