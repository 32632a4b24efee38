package parser

import (
	"time"
)

// Provider identifies the coding-agent CLI that wrote a session log.
type Provider string

const (
	ProviderCodex  Provider = "codex"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
)

// RoleType identifies the role of a message sender.
type RoleType string

const (
	RoleUser      RoleType = "user"
	RoleAssistant RoleType = "assistant"
	RoleSystem    RoleType = "system"
	RoleTool      RoleType = "tool"
)

// BlockKind tags a typed content block inside a message.
type BlockKind string

const (
	BlockText         BlockKind = "text"
	BlockToolCall     BlockKind = "tool_call"
	BlockToolResult   BlockKind = "tool_result"
	BlockReasoning    BlockKind = "reasoning"
	BlockInstructions BlockKind = "instructions"
	BlockState        BlockKind = "state"
	BlockMeta         BlockKind = "meta"
)

// ResumeMode says how a session can be reattached by its CLI.
type ResumeMode string

const (
	ResumeModern  ResumeMode = "modern"
	ResumeLegacy  ResumeMode = "legacy"
	ResumeUnknown ResumeMode = "unknown"
)

// ContentBlock is one typed piece of a message.
type ContentBlock struct {
	Kind     BlockKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ToolName string    `json:"toolName,omitempty"`
	CallID   string    `json:"callId,omitempty"`
	Label    string    `json:"label,omitempty"`
}

// Message is a single entry of the conversation.
type Message struct {
	Role      RoleType       `json:"role"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Blocks    []ContentBlock `json:"blocks"`
}

// Summary is the lightweight per-file record backing list views.
type Summary struct {
	Path         string     `json:"path"`
	Provider     Provider   `json:"provider"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Date         time.Time  `json:"date,omitzero"`
	RawDate      string     `json:"rawDate,omitempty"`
	Cwd          string     `json:"cwd,omitempty"`
	DirKey       string     `json:"dirKey"`
	Preview      string     `json:"preview"`
	ResumeID     string     `json:"resumeId,omitempty"`
	ResumeMode   ResumeMode `json:"resumeMode"`
	Shell        string     `json:"shell,omitempty"`
	MessageCount int        `json:"messageCount"`
}

// Details is a Summary plus the ordered message sequence. Messages
// is empty when produced in summary-only mode.
type Details struct {
	Summary
	Messages     []Message `json:"messages"`
	SkippedLines int       `json:"skippedLines"`
	Truncated    bool      `json:"truncated,omitempty"`
}

// StripBodies returns a copy of d without message bodies, the form
// persisted in the details index.
func (d Details) StripBodies() Details {
	d.Messages = []Message{}
	return d
}

// FileStat is the stat data a parser needs about its input.
type FileStat struct {
	Size    int64
	MtimeMs int64
}

// Options bounds a single parse.
type Options struct {
	// SummaryOnly stops once the identity, preview and cwd
	// fields are known and leaves Messages empty.
	SummaryOnly bool
	// MaxLines caps the number of lines read from line-oriented
	// logs. Zero means DefaultMaxLines.
	MaxLines int
	// MaxLineBytes caps a single line. Longer lines are skipped
	// without buffering. Zero means DefaultMaxLineBytes.
	MaxLineBytes int
	// MaxBytes is the size above which whole-file JSON logs take
	// the bounded prefix path in summary-only mode. Zero means
	// DefaultMaxJSONBytes.
	MaxBytes int64
	// Projects resolves hashed project directories. May be nil.
	Projects *ProjectIndex
}

const (
	DefaultMaxLines      = 50_000
	DefaultMaxLineBytes  = 8 * 1024 * 1024
	DefaultMaxJSONBytes  = 512 * 1024
	summaryOnlyMaxLines  = 2_000
	jsonPrefixReadBytes  = 256 * 1024
	cwdLookbackBytes     = 128 * 1024
	initialScanBufSize   = 64 * 1024
	previewMaxRunes      = 200
	titleMaxRunes        = 80
	instructionsMaxRunes = 4_000
)

func (o Options) maxLines() int {
	n := o.MaxLines
	if n <= 0 {
		n = DefaultMaxLines
	}
	if o.SummaryOnly && n > summaryOnlyMaxLines {
		n = summaryOnlyMaxLines
	}
	return n
}

func (o Options) maxLineBytes() int {
	if o.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return o.MaxLineBytes
}

func (o Options) maxBytes() int64 {
	if o.MaxBytes <= 0 {
		return DefaultMaxJSONBytes
	}
	return o.MaxBytes
}

// Parser decodes one provider's log format. Malformed content never
// fails a parse: bad records are counted in SkippedLines. The error
// is reserved for I/O failures, in which case the Details must be
// discarded.
type Parser interface {
	Provider() Provider
	Parse(path string, st FileStat, opts Options) (Details, error)
}

// ParserFor returns the parser of a provider, or nil.
func ParserFor(p Provider) Parser {
	switch p {
	case ProviderCodex:
		return CodexParser{}
	case ProviderClaude:
		return ClaudeParser{}
	case ProviderGemini:
		return GeminiParser{}
	}
	return nil
}

// newDetails seeds a Details with the fields every parser fills the
// same way.
func newDetails(path string, p Provider) Details {
	return Details{
		Summary: Summary{
			Path:       path,
			Provider:   p,
			ResumeMode: ResumeUnknown,
		},
		Messages: []Message{},
	}
}
