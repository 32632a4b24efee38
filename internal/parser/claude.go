package parser

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesm/sessionwatch/internal/pathkey"
	"github.com/wesm/sessionwatch/internal/timeutil"
)

// claudeKind tags the record variants of a Claude Code log.
type claudeKind int

const (
	claudeUnknown claudeKind = iota
	claudeUser
	claudeAssistant
	claudeSummary
	claudeSystem
)

func claudeRecordKind(typ string) claudeKind {
	switch typ {
	case "user":
		return claudeUser
	case "assistant":
		return claudeAssistant
	case "summary":
		return claudeSummary
	case "system":
		return claudeSystem
	}
	return claudeUnknown
}

// localCommandCaveat opens the transcript Claude Code writes when
// the user runs slash or shell commands locally.
const localCommandCaveat = "Caveat: The messages below were generated by the user while running local commands."

// localCommandTags wrap local-command transcript spans.
var localCommandTags = []string{
	"command-name",
	"command-message",
	"command-args",
	"local-command-stdout",
	"local-command-stderr",
}

// ClaudeParser decodes Claude Code project logs.
type ClaudeParser struct{}

func (ClaudeParser) Provider() Provider { return ProviderClaude }

// Parse reads a Claude Code JSONL session or agent log.
func (ClaudeParser) Parse(
	path string, st FileStat, opts Options,
) (Details, error) {
	b := &claudeBuilder{
		d:    newDetails(path, ProviderClaude),
		opts: opts,
	}
	if err := scanJSONL(path, opts, &b.d, nil, b.processLine); err != nil {
		return Details{}, err
	}
	return b.finish(st), nil
}

type claudeBuilder struct {
	d         Details
	opts      Options
	sessionID string
	title     string
}

func (b *claudeBuilder) processLine(line string) bool {
	root := gjson.Parse(line)
	kind := claudeRecordKind(root.Get("type").Str)

	raw := root.Get("timestamp").Str
	ts, _ := timeutil.Parse(raw)
	if b.d.RawDate == "" && raw != "" {
		b.d.RawDate = raw
		b.d.Date = ts
	}
	if b.sessionID == "" {
		b.sessionID = root.Get("sessionId").Str
	}
	if b.d.Cwd == "" {
		b.d.Cwd = strings.TrimSpace(root.Get("cwd").Str)
	}

	switch kind {
	case claudeSummary:
		if s := strings.TrimSpace(root.Get("summary").Str); s != "" {
			b.title = s
		}
	case claudeUser:
		b.handleUser(root, ts)
	case claudeAssistant:
		b.handleAssistant(root, ts)
	case claudeSystem:
		b.handleSystem(root, ts)
	}

	return !(b.opts.SummaryOnly && b.summaryComplete())
}

func (b *claudeBuilder) summaryComplete() bool {
	return b.sessionID != "" && b.d.Cwd != "" &&
		b.d.RawDate != "" && b.d.Preview != ""
}

func (b *claudeBuilder) handleUser(root gjson.Result, ts time.Time) {
	content := root.Get("message.content")

	if root.Get("isMeta").Bool() || root.Get("isCompactSummary").Bool() {
		label := "meta"
		if root.Get("isCompactSummary").Bool() {
			label = "compact-summary"
		}
		text := toolResultText(content)
		if strings.TrimSpace(text) == "" {
			return
		}
		b.appendMessage(RoleUser, ts, []ContentBlock{{
			Kind:  BlockMeta,
			Label: label,
			Text:  text,
		}}, false)
		return
	}

	var blocks []ContentBlock
	onlyResults := true
	addText := func(text string) {
		onlyResults = false
		blocks = append(blocks, b.userTextBlocks(text)...)
	}

	if content.Type == gjson.String {
		addText(content.Str)
	} else {
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").Str {
			case "text":
				addText(block.Get("text").Str)
			case "tool_result":
				blocks = append(blocks, ContentBlock{
					Kind:   BlockToolResult,
					CallID: block.Get("tool_use_id").Str,
					Text:   toolResultText(block.Get("content")),
				})
			default:
				onlyResults = false
			}
			return true
		})
	}
	if len(blocks) == 0 {
		return
	}

	role := RoleUser
	if onlyResults {
		role = RoleTool
	}
	b.appendMessage(role, ts, blocks, role == RoleUser && hasText(blocks))
}

// userTextBlocks splits user text into a local-command transcript
// block and a prompt block. Injected system text becomes meta.
func (b *claudeBuilder) userTextBlocks(text string) []ContentBlock {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if isClaudeInjected(text) {
		return []ContentBlock{{Kind: BlockMeta, Label: "injected", Text: text}}
	}

	transcript, prompt := SplitLocalCommand(text)
	var blocks []ContentBlock
	if transcript != "" {
		blocks = append(blocks, ContentBlock{
			Kind:  BlockMeta,
			Label: "local-command",
			Text:  transcript,
		})
	}
	if prompt != "" {
		blocks = append(blocks, ContentBlock{Kind: BlockText, Text: prompt})
		if b.d.Preview == "" {
			b.d.Preview = Preview(prompt)
		}
	}
	return blocks
}

// SplitLocalCommand separates the local-command transcript in a
// Claude user message from the prompt the user actually typed. The
// caveat marker line is dropped. Tagged spans may cover several
// lines.
func SplitLocalCommand(text string) (transcript, prompt string) {
	var tLines, pLines []string
	open := ""
	for line := range strings.SplitSeq(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if open != "" {
			tLines = append(tLines, line)
			if strings.Contains(line, "</"+open+">") {
				open = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, localCommandCaveat) {
			continue
		}
		if tag := openingCommandTag(trimmed); tag != "" {
			tLines = append(tLines, line)
			rest := trimmed[len(tag)+2:]
			if !strings.Contains(rest, "</"+tag+">") {
				open = tag
			}
			continue
		}
		pLines = append(pLines, line)
	}
	return strings.TrimSpace(strings.Join(tLines, "\n")),
		strings.TrimSpace(strings.Join(pLines, "\n"))
}

func openingCommandTag(line string) string {
	for _, tag := range localCommandTags {
		if strings.HasPrefix(line, "<"+tag+">") {
			return tag
		}
	}
	return ""
}

// isClaudeInjected reports user text that Claude Code writes on the
// user's behalf.
func isClaudeInjected(content string) bool {
	trimmed := strings.TrimSpace(content)
	for _, p := range [...]string{
		"This session is being continued",
		"[Request interrupted",
		"<task-notification>",
		"<system-reminder>",
		"Stop hook feedback:",
	} {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func hasText(blocks []ContentBlock) bool {
	for _, bl := range blocks {
		if bl.Kind == BlockText {
			return true
		}
	}
	return false
}

func (b *claudeBuilder) handleAssistant(root gjson.Result, ts time.Time) {
	var blocks []ContentBlock
	content := root.Get("message.content")
	if content.Type == gjson.String {
		if strings.TrimSpace(content.Str) != "" {
			blocks = append(blocks, ContentBlock{Kind: BlockText, Text: content.Str})
		}
		content = gjson.Result{}
	}
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").Str {
		case "text":
			if t := block.Get("text").Str; strings.TrimSpace(t) != "" {
				blocks = append(blocks, ContentBlock{Kind: BlockText, Text: t})
			}
		case "thinking":
			if t := block.Get("thinking").Str; t != "" {
				blocks = append(blocks, ContentBlock{Kind: BlockReasoning, Text: t})
			}
		case "tool_use":
			name := block.Get("name").Str
			input := block.Get("input")
			b.noteShell(name, input)
			blocks = append(blocks, ContentBlock{
				Kind:     BlockToolCall,
				ToolName: name,
				CallID:   block.Get("id").Str,
				Label:    NormalizeToolCategory(name),
				Text:     formatToolCall(name, input),
			})
		}
		return true
	})
	if len(blocks) == 0 {
		return
	}
	b.appendMessage(RoleAssistant, ts, blocks, true)
}

// noteShell records the shell implied by the first shell tool call.
func (b *claudeBuilder) noteShell(name string, input gjson.Result) {
	if b.d.Shell != "" {
		return
	}
	if sh := toolShell(name); sh != "" {
		if explicit := InferShell(input.Get("command").Str); explicit != "" {
			sh = explicit
		}
		b.d.Shell = sh
	}
}

func (b *claudeBuilder) handleSystem(root gjson.Result, ts time.Time) {
	text := root.Get("content").Str
	if strings.TrimSpace(text) == "" {
		return
	}
	b.appendMessage(RoleSystem, ts, []ContentBlock{{
		Kind:  BlockState,
		Label: root.Get("subtype").Str,
		Text:  text,
	}}, false)
}

// appendMessage records a message. counted marks messages that show
// up in MessageCount.
func (b *claudeBuilder) appendMessage(
	role RoleType, ts time.Time, blocks []ContentBlock, counted bool,
) {
	if counted {
		b.d.MessageCount++
	}
	if b.opts.SummaryOnly {
		return
	}
	b.d.Messages = append(b.d.Messages, Message{
		Role:      role,
		Timestamp: ts,
		Blocks:    blocks,
	})
}

func (b *claudeBuilder) finish(st FileStat) Details {
	d := b.d
	stem := strings.TrimSuffix(filepath.Base(d.Path), ".jsonl")
	if b.sessionID != "" {
		d.ID = b.sessionID
		d.ResumeID = b.sessionID
		d.ResumeMode = ResumeModern
	} else {
		d.ID = stem
		d.ResumeID = stem
		d.ResumeMode = ResumeLegacy
	}
	if strings.HasPrefix(stem, "agent-") {
		d.ID = stem
	}
	if d.Cwd != "" {
		d.DirKey = pathkey.DirKey(d.Cwd)
	}
	if d.Date.IsZero() && st.MtimeMs > 0 {
		d.Date = time.UnixMilli(st.MtimeMs).UTC()
	}
	d.Title = firstNonEmpty(truncateRunes(b.title, titleMaxRunes), titleFrom(d.Preview))
	return d
}

// DecodeClaudeProjectDir reverses Claude Code's project directory
// encoding where every path separator, drive colon and dot became
// '-'. The result is lossy for names that contained '-'; it is used
// only as a grouping fallback.
func DecodeClaudeProjectDir(name string) string {
	if name == "" {
		return ""
	}
	// C--Users-me-proj is C:\Users\me\proj
	if len(name) >= 3 && name[1] == '-' && name[2] == '-' &&
		isASCIILetter(name[0]) {
		return "/mnt/" + strings.ToLower(name[:1]) + "/" +
			strings.ReplaceAll(name[3:], "-", "/")
	}
	if strings.HasPrefix(name, "-") {
		return strings.ReplaceAll(name, "-", "/")
	}
	return name
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
