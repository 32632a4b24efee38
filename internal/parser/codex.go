package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"

	"github.com/wesm/sessionwatch/internal/pathkey"
	"github.com/wesm/sessionwatch/internal/timeutil"
)

// Codex JSONL envelope types.
const (
	codexTypeSessionMeta  = "session_meta"
	codexTypeResponseItem = "response_item"
	codexTypeTurnContext  = "turn_context"
	codexTypeEventMsg     = "event_msg"
)

// codexModernResumeVersion is the first CLI release whose sessions
// can be resumed by id.
const codexModernResumeVersion = "v0.39.0"

// codexKind tags the variants of a decoded Codex record.
type codexKind int

const (
	codexUnknown codexKind = iota
	codexSessionMeta
	codexMessage
	codexFunctionCall
	codexFunctionCallOutput
	codexReasoning
	codexState
)

// codexRecord is one decoded line of a Codex log. body is the
// payload for the wrapped format and the whole line for the legacy
// bare format.
type codexRecord struct {
	kind      codexKind
	wrapped   bool
	subtype   string
	timestamp string
	body      gjson.Result
}

// decodeCodexRecord classifies a valid JSON line.
func decodeCodexRecord(line string) codexRecord {
	root := gjson.Parse(line)
	rec := codexRecord{
		timestamp: root.Get("timestamp").Str,
		body:      root,
	}

	payload := root.Get("payload")
	if typ := root.Get("type").Str; payload.Exists() {
		rec.wrapped = true
		rec.body = payload
		rec.subtype = typ
		switch typ {
		case codexTypeSessionMeta:
			rec.kind = codexSessionMeta
			if rec.timestamp == "" {
				rec.timestamp = payload.Get("timestamp").Str
			}
		case codexTypeResponseItem:
			rec.kind, rec.subtype = codexItemKind(payload)
		case codexTypeTurnContext:
			rec.kind = codexState
		case codexTypeEventMsg:
			rec.kind = codexState
			rec.subtype = payload.Get("type").Str
		}
		return rec
	}

	if root.Get("record_type").Str == "state" {
		rec.kind = codexState
		rec.subtype = "state"
		return rec
	}
	if root.Get("type").Exists() {
		rec.kind, rec.subtype = codexItemKind(root)
		return rec
	}
	if root.Get("id").Str != "" &&
		(root.Get("timestamp").Exists() || root.Get("instructions").Exists()) {
		rec.kind = codexSessionMeta
	}
	return rec
}

func codexItemKind(item gjson.Result) (codexKind, string) {
	typ := item.Get("type").Str
	switch typ {
	case "message":
		return codexMessage, typ
	case "function_call", "custom_tool_call", "local_shell_call":
		return codexFunctionCall, typ
	case "function_call_output", "custom_tool_call_output":
		return codexFunctionCallOutput, typ
	case "reasoning":
		return codexReasoning, typ
	}
	return codexUnknown, typ
}

// codexEventsAsState are the event_msg subtypes kept as state
// blocks. The rest duplicate response items or are per-token noise.
var codexEventsAsState = map[string]bool{
	"task_started":      true,
	"task_complete":     true,
	"turn_aborted":      true,
	"error":             true,
	"stream_error":      true,
	"context_compacted": true,
}

var (
	codexCwdTagRe  = regexp.MustCompile(`<cwd>\s*([^<]+?)\s*</cwd>`)
	codexCwdJSONRe = regexp.MustCompile(`"cwd"\s*:\s*"((?:[^"\\]|\\.)+)"`)
)

// CodexParser decodes Codex CLI rollout logs.
type CodexParser struct{}

func (CodexParser) Provider() Provider { return ProviderCodex }

// Parse reads a Codex rollout file. Both the wrapped format
// ({"type":..., "payload":...}) and the legacy bare format are
// accepted.
func (CodexParser) Parse(
	path string, st FileStat, opts Options,
) (Details, error) {
	b := newCodexBuilder(path, opts)
	err := scanJSONL(path, opts, &b.d, b.observeRaw, b.processLine)
	if err != nil {
		return Details{}, err
	}
	return b.finish(st), nil
}

type codexFormat int

const (
	codexFormatUnknown codexFormat = iota
	codexFormatWrapped
	codexFormatLegacy
)

// codexBuilder accumulates state while scanning a Codex log.
type codexBuilder struct {
	d            Details
	opts         Options
	format       codexFormat
	cliVersion   string
	instructions map[string]bool
	look         *lookback
}

func newCodexBuilder(path string, opts Options) *codexBuilder {
	return &codexBuilder{
		d:            newDetails(path, ProviderCodex),
		opts:         opts,
		instructions: make(map[string]bool),
		look:         newLookback(cwdLookbackBytes),
	}
}

// observeRaw feeds the leading cwd window until it fills or a cwd
// has been decoded.
func (b *codexBuilder) observeRaw(line string) {
	if b.d.Cwd == "" && !b.look.full() {
		b.look.add(line)
	}
}

// processLine handles one valid JSON line and reports whether the
// scan should continue.
func (b *codexBuilder) processLine(line string) bool {
	rec := decodeCodexRecord(line)
	if b.format == codexFormatUnknown && rec.kind != codexUnknown {
		if rec.wrapped {
			b.format = codexFormatWrapped
		} else {
			b.format = codexFormatLegacy
		}
	}
	ts, _ := timeutil.Parse(rec.timestamp)
	if b.d.RawDate == "" && rec.timestamp != "" {
		b.d.RawDate = rec.timestamp
		b.d.Date = ts
	}

	switch rec.kind {
	case codexSessionMeta:
		b.handleSessionMeta(rec, ts)
	case codexMessage:
		b.handleMessage(rec.body, ts)
	case codexFunctionCall:
		b.handleFunctionCall(rec, ts)
	case codexFunctionCallOutput:
		b.handleFunctionCallOutput(rec.body, ts)
	case codexReasoning:
		b.handleReasoning(rec.body, ts)
	case codexState:
		b.handleState(rec, ts)
	}

	return !(b.opts.SummaryOnly && b.summaryComplete())
}

func (b *codexBuilder) summaryComplete() bool {
	return b.d.ID != "" && b.d.Cwd != "" &&
		b.d.RawDate != "" && b.d.Preview != ""
}

func (b *codexBuilder) handleSessionMeta(rec codexRecord, ts time.Time) {
	meta := rec.body
	if id := meta.Get("id").Str; id != "" && b.d.ID == "" {
		b.d.ID = id
	}
	if raw := meta.Get("timestamp").Str; raw != "" {
		b.d.RawDate = raw
		if t, ok := timeutil.Parse(raw); ok {
			b.d.Date = t
		}
	}
	b.setCwd(meta.Get("cwd").Str)
	if v := meta.Get("cli_version").Str; v != "" {
		b.cliVersion = v
	}

	text := meta.Get("instructions").Str
	if text == "" {
		text = meta.Get("base_instructions.text").Str
	}
	if text != "" {
		b.addInstructions(RoleSystem, text, ts)
	}
}

func (b *codexBuilder) handleMessage(item gjson.Result, ts time.Time) {
	role := codexRole(item.Get("role").Str)
	var blocks []ContentBlock
	item.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").Str {
		case "input_text", "output_text", "text":
		default:
			return true
		}
		text := block.Get("text").Str
		if strings.TrimSpace(text) == "" {
			return true
		}
		blocks = append(blocks, b.classifyText(role, text)...)
		return true
	})
	if len(blocks) == 0 {
		return
	}
	b.appendMessage(role, ts, blocks)
}

func codexRole(role string) RoleType {
	switch role {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	}
	return RoleSystem
}

// classifyText splits one text segment into instructions,
// environment state or prose. Instructions are deduplicated across
// the whole session.
func (b *codexBuilder) classifyText(
	role RoleType, text string,
) []ContentBlock {
	trimmed := strings.TrimSpace(text)
	switch {
	case isCodexInstructions(trimmed), role == RoleSystem:
		if !b.seenInstructions(trimmed) {
			return []ContentBlock{{
				Kind:  BlockInstructions,
				Text:  truncateRunes(trimmed, instructionsMaxRunes),
				Label: instructionsLabel(trimmed),
			}}
		}
		return nil
	case strings.HasPrefix(trimmed, "<environment_context>"):
		b.setCwd(extractCwdMarker(trimmed))
		if b.d.Shell == "" {
			b.d.Shell = shellFromMarker(trimmed)
		}
		return []ContentBlock{{
			Kind:  BlockState,
			Text:  trimmed,
			Label: "environment_context",
		}}
	}
	if role == RoleUser && b.d.Preview == "" {
		if p := Preview(trimmed); p != "" {
			b.d.Preview = p
		}
	}
	return []ContentBlock{{Kind: BlockText, Text: text}}
}

func isCodexInstructions(text string) bool {
	return strings.HasPrefix(text, "<user_instructions>") ||
		strings.HasPrefix(text, "# AGENTS.md") ||
		strings.HasPrefix(text, "<INSTRUCTIONS>")
}

func instructionsLabel(text string) string {
	if strings.HasPrefix(text, "# AGENTS.md") {
		return "AGENTS.md"
	}
	return ""
}

func (b *codexBuilder) seenInstructions(text string) bool {
	key := normalizeForCompare(stripInstructionTags(text))
	if key == "" {
		return true
	}
	if b.instructions[key] {
		return true
	}
	b.instructions[key] = true
	return false
}

// stripInstructionTags removes the wrapper tags so the session-level
// copy and a per-message <user_instructions> copy compare equal.
func stripInstructionTags(text string) string {
	for _, tag := range []string{"user_instructions", "INSTRUCTIONS"} {
		text = strings.ReplaceAll(text, "<"+tag+">", "")
		text = strings.ReplaceAll(text, "</"+tag+">", "")
	}
	return text
}

func (b *codexBuilder) addInstructions(
	role RoleType, text string, ts time.Time,
) {
	if blocks := b.classifyText(RoleSystem, text); len(blocks) > 0 {
		b.appendMessage(role, ts, blocks)
	}
}

func (b *codexBuilder) handleFunctionCall(rec codexRecord, ts time.Time) {
	item := rec.body
	name := item.Get("name").Str
	if name == "" && rec.subtype == "local_shell_call" {
		name = "local_shell"
	}
	if name == "" {
		return
	}

	args, rawArgs := parseCodexFunctionArgs(item)
	if rec.subtype == "local_shell_call" {
		args = item.Get("action")
	}
	cmd := args.Get("command")
	if !cmd.Exists() {
		cmd = args.Get("cmd")
	}
	if b.d.Shell == "" {
		b.d.Shell = codexShell(cmd)
	}

	text := rawArgs
	if text == "" {
		text = codexCommandText(cmd)
	}
	if text == "" && args.Exists() {
		text = collapseSpace(args.Raw)
	}
	if name == "apply_patch" {
		if rawArgs != "" {
			text = formatPatch(gjson.Parse(strconv.Quote(rawArgs)))
		} else {
			text = formatPatch(args)
		}
	}
	b.appendMessage(RoleAssistant, ts, []ContentBlock{{
		Kind:     BlockToolCall,
		ToolName: name,
		Label:    NormalizeToolCategory(name),
		CallID:   firstNonEmpty(item.Get("call_id").Str, item.Get("id").Str),
		Text:     text,
	}})
}

// codexShell infers the shell from a command given as an argv array
// or a command line.
func codexShell(cmd gjson.Result) string {
	if cmd.IsArray() {
		var argv []string
		for _, a := range cmd.Array() {
			argv = append(argv, a.String())
		}
		return shellFromArgv(argv)
	}
	if cmd.Type == gjson.String {
		return InferShell(cmd.Str)
	}
	return ""
}

func codexCommandText(cmd gjson.Result) string {
	if cmd.IsArray() {
		var argv []string
		for _, a := range cmd.Array() {
			argv = append(argv, a.String())
		}
		return strings.Join(argv, " ")
	}
	return cmd.Str
}

// parseCodexFunctionArgs returns the call arguments as JSON when
// they decode, or as raw text when they do not.
func parseCodexFunctionArgs(item gjson.Result) (gjson.Result, string) {
	for _, key := range []string{"arguments", "input"} {
		arg := item.Get(key)
		if !arg.Exists() {
			continue
		}
		if arg.Type == gjson.String {
			s := strings.TrimSpace(arg.Str)
			if s == "" {
				continue
			}
			if gjson.Valid(s) {
				return gjson.Parse(s), ""
			}
			return gjson.Result{}, s
		}
		if arg.IsObject() || arg.IsArray() {
			return arg, ""
		}
	}
	return gjson.Result{}, ""
}

func (b *codexBuilder) handleFunctionCallOutput(
	item gjson.Result, ts time.Time,
) {
	out := item.Get("output")
	text := out.Str
	if out.IsObject() {
		text = out.Get("output").Str
	}
	if text == "" && out.Exists() && out.Type != gjson.String {
		text = out.Raw
	}
	b.appendMessage(RoleTool, ts, []ContentBlock{{
		Kind:   BlockToolResult,
		CallID: item.Get("call_id").Str,
		Text:   text,
	}})
}

func (b *codexBuilder) handleReasoning(item gjson.Result, ts time.Time) {
	var parts []string
	item.Get("summary").ForEach(func(_, s gjson.Result) bool {
		if t := s.Get("text").Str; t != "" {
			parts = append(parts, t)
		}
		return true
	})
	if len(parts) == 0 {
		return
	}
	b.appendMessage(RoleAssistant, ts, []ContentBlock{{
		Kind: BlockReasoning,
		Text: strings.Join(parts, "\n"),
	}})
}

func (b *codexBuilder) handleState(rec codexRecord, ts time.Time) {
	if rec.subtype == codexTypeTurnContext {
		b.setCwd(rec.body.Get("cwd").Str)
	}
	if rec.subtype != codexTypeTurnContext &&
		rec.subtype != "state" &&
		!codexEventsAsState[rec.subtype] {
		return
	}
	b.appendMessage(RoleSystem, ts, []ContentBlock{{
		Kind:  BlockState,
		Label: rec.subtype,
		Text:  rec.body.Raw,
	}})
}

func (b *codexBuilder) setCwd(cwd string) {
	cwd = strings.TrimSpace(cwd)
	if cwd == "" || b.d.Cwd != "" {
		return
	}
	b.d.Cwd = cwd
}

// appendMessage records a message. In summary-only mode bodies are
// counted but not kept.
func (b *codexBuilder) appendMessage(
	role RoleType, ts time.Time, blocks []ContentBlock,
) {
	if role == RoleUser || role == RoleAssistant {
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

// extractCwdMarker finds a working directory in text, either as a
// <cwd> tag or a "cwd" JSON field.
func extractCwdMarker(text string) string {
	if m := codexCwdTagRe.FindStringSubmatch(text); m != nil {
		return unescapeJSONPath(m[1])
	}
	if m := codexCwdJSONRe.FindStringSubmatch(text); m != nil {
		return unescapeJSONPath(m[1])
	}
	return ""
}

// unescapeJSONPath undoes JSON string escaping for a path matched in
// raw line text.
func unescapeJSONPath(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if r := gjson.Parse(`"` + s + `"`); r.Type == gjson.String {
		return r.Str
	}
	return strings.ReplaceAll(s, `\\`, `\`)
}

func (b *codexBuilder) finish(st FileStat) Details {
	d := b.d
	if d.Cwd == "" {
		d.Cwd = extractCwdMarker(b.look.String())
	}
	if d.Cwd != "" {
		d.DirKey = pathkey.DirKey(d.Cwd)
	}

	fileID := codexIDFromFilename(d.Path)
	if d.ID == "" {
		d.ID = fileID
	}
	d.ResumeID = d.ID
	switch {
	case d.ResumeID == "":
		d.ResumeMode = ResumeUnknown
	case b.format == codexFormatLegacy:
		d.ResumeMode = ResumeLegacy
	case b.cliVersion != "" && codexVersionBefore(b.cliVersion, codexModernResumeVersion):
		d.ResumeMode = ResumeLegacy
	default:
		d.ResumeMode = ResumeModern
	}

	if d.Date.IsZero() && st.MtimeMs > 0 {
		d.Date = time.UnixMilli(st.MtimeMs).UTC()
	}
	d.Title = titleFrom(d.Preview)
	return d
}

// codexVersionBefore compares CLI versions, which are written
// without the leading "v" semver expects. Unparseable versions
// compare as current.
func codexVersionBefore(v, threshold string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, threshold) < 0
}

// codexIDFromFilename extracts the session UUID that Codex appends
// to rollout file names: rollout-2025-01-02T10-11-12-<uuid>.jsonl.
func codexIDFromFilename(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if len(stem) < 36 {
		return ""
	}
	id, err := uuid.Parse(stem[len(stem)-36:])
	if err != nil {
		return ""
	}
	return id.String()
}
