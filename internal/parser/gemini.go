package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesm/sessionwatch/internal/pathkey"
	"github.com/wesm/sessionwatch/internal/timeutil"
)

// GeminiParser decodes Gemini CLI chat files. Unlike the JSONL
// formats each file is a single JSON document.
type GeminiParser struct{}

func (GeminiParser) Provider() Provider { return ProviderGemini }

// Parse reads a Gemini session document. In summary-only mode files
// larger than MaxBytes are read only up to a bounded prefix.
func (GeminiParser) Parse(
	path string, st FileStat, opts Options,
) (Details, error) {
	d := newDetails(path, ProviderGemini)

	f, err := openLog(path)
	if err != nil {
		return Details{}, err
	}
	defer f.Close()

	if opts.SummaryOnly && st.Size > opts.maxBytes() {
		data, err := io.ReadAll(io.LimitReader(f, jsonPrefixReadBytes))
		if err != nil {
			return Details{}, fmt.Errorf("read %s: %w", path, err)
		}
		d.Truncated = true
		hash := applyGeminiPrefix(&d, scanGeminiPrefix(data))
		return finishGemini(d, hash, st, opts), nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return Details{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		// Likely caught mid-write: salvage what the prefix holds.
		d.SkippedLines++
		hash := applyGeminiPrefix(&d, scanGeminiPrefix(data))
		return finishGemini(d, hash, st, opts), nil
	}

	b := &geminiBuilder{d: d, opts: opts}
	b.parse(gjson.ParseBytes(data))
	return finishGemini(b.d, b.projectHash, st, opts), nil
}

// applyGeminiPrefix copies recovered fields into d and returns the
// recorded project hash.
func applyGeminiPrefix(d *Details, p geminiPrefix) string {
	d.ID = p.sessionID
	setGeminiDate(d, p.startTime, p.lastUpdated)
	d.Preview = Preview(p.firstUser)
	d.Title = truncateRunes(p.summary, titleMaxRunes)
	return p.projectHash
}

func setGeminiDate(d *Details, startTime, lastUpdated string) {
	raw := firstNonEmpty(startTime, lastUpdated)
	if raw == "" {
		return
	}
	d.RawDate = raw
	if t, ok := timeutil.Parse(raw); ok {
		d.Date = t
	}
}

type geminiBuilder struct {
	d           Details
	opts        Options
	projectHash string
}

// geminiMessageKeys are the fields a session object may keep its
// message list under.
var geminiMessageKeys = []string{"messages", "history", "items"}

func (b *geminiBuilder) parse(root gjson.Result) {
	msgs := root
	if root.IsObject() {
		b.d.ID = root.Get("sessionId").Str
		setGeminiDate(&b.d, root.Get("startTime").Str, root.Get("lastUpdated").Str)
		b.d.Title = truncateRunes(root.Get("summary").Str, titleMaxRunes)
		b.projectHash = root.Get("projectHash").Str
		msgs = gjson.Result{}
		for _, k := range geminiMessageKeys {
			if v := root.Get(k); v.IsArray() {
				msgs = v
				break
			}
		}
	}
	if !msgs.IsArray() {
		return
	}
	msgs.ForEach(func(_, msg gjson.Result) bool {
		if !msg.IsObject() {
			b.d.SkippedLines++
			return true
		}
		b.handleMessage(msg)
		return true
	})
}

func (b *geminiBuilder) handleMessage(msg gjson.Result) {
	ts, _ := timeutil.Parse(msg.Get("timestamp").Str)
	if b.d.RawDate == "" {
		if raw := msg.Get("timestamp").Str; raw != "" {
			b.d.RawDate = raw
			b.d.Date = ts
		}
	}

	kind := msg.Get("type").Str
	if kind == "" {
		kind = msg.Get("role").Str
	}
	var role RoleType
	switch kind {
	case "user":
		role = RoleUser
	case "gemini", "model", "assistant":
		role = RoleAssistant
	case "info", "error", "warning", "system":
		role = RoleSystem
	default:
		b.d.SkippedLines++
		return
	}

	var blocks []ContentBlock
	if role == RoleSystem {
		if t := toolResultText(msg.Get("content")); strings.TrimSpace(t) != "" {
			blocks = append(blocks, ContentBlock{Kind: BlockMeta, Label: kind, Text: t})
		}
	} else {
		blocks = b.contentBlocks(msg)
	}
	if len(blocks) == 0 {
		return
	}
	if role == RoleUser && onlyToolResults(blocks) {
		role = RoleTool
	}
	if role == RoleUser && b.d.Preview == "" {
		for _, bl := range blocks {
			if bl.Kind == BlockText {
				if p := Preview(bl.Text); p != "" {
					b.d.Preview = p
					break
				}
			}
		}
	}
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

// contentBlocks decodes both message shapes: {content, thoughts,
// toolCalls} and {parts:[{text}|{functionCall}|{functionResponse}]}.
func (b *geminiBuilder) contentBlocks(msg gjson.Result) []ContentBlock {
	var blocks []ContentBlock

	msg.Get("thoughts").ForEach(func(_, th gjson.Result) bool {
		desc := th.Get("description").Str
		if desc == "" {
			return true
		}
		if subj := th.Get("subject").Str; subj != "" {
			desc = subj + "\n" + desc
		}
		blocks = append(blocks, ContentBlock{Kind: BlockReasoning, Text: desc})
		return true
	})

	content := msg.Get("content")
	if content.Type == gjson.String {
		if strings.TrimSpace(content.Str) != "" {
			blocks = append(blocks, ContentBlock{Kind: BlockText, Text: content.Str})
		}
	} else if content.IsArray() {
		blocks = append(blocks, b.partBlocks(content)...)
	}
	blocks = append(blocks, b.partBlocks(msg.Get("parts"))...)

	msg.Get("toolCalls").ForEach(func(_, tc gjson.Result) bool {
		name := tc.Get("name").Str
		args := tc.Get("args")
		b.noteShell(name, args)
		blocks = append(blocks, ContentBlock{
			Kind:     BlockToolCall,
			ToolName: name,
			CallID:   tc.Get("id").Str,
			Label:    NormalizeToolCategory(name),
			Text:     formatToolCall(name, args),
		})
		if out := geminiToolOutput(tc.Get("result")); out != "" {
			blocks = append(blocks, ContentBlock{
				Kind:     BlockToolResult,
				ToolName: name,
				CallID:   tc.Get("id").Str,
				Text:     out,
			})
		}
		return true
	})
	return blocks
}

func (b *geminiBuilder) partBlocks(parts gjson.Result) []ContentBlock {
	var blocks []ContentBlock
	parts.ForEach(func(_, part gjson.Result) bool {
		if part.Type == gjson.String {
			if strings.TrimSpace(part.Str) != "" {
				blocks = append(blocks, ContentBlock{Kind: BlockText, Text: part.Str})
			}
			return true
		}
		switch {
		case part.Get("text").Exists():
			t := part.Get("text").Str
			if strings.TrimSpace(t) == "" {
				return true
			}
			kind := BlockText
			if part.Get("thought").Bool() {
				kind = BlockReasoning
			}
			blocks = append(blocks, ContentBlock{Kind: kind, Text: t})
		case part.Get("functionCall").Exists():
			fc := part.Get("functionCall")
			name := fc.Get("name").Str
			b.noteShell(name, fc.Get("args"))
			blocks = append(blocks, ContentBlock{
				Kind:     BlockToolCall,
				ToolName: name,
				CallID:   fc.Get("id").Str,
				Label:    NormalizeToolCategory(name),
				Text:     formatToolCall(name, fc.Get("args")),
			})
		case part.Get("functionResponse").Exists():
			fr := part.Get("functionResponse")
			blocks = append(blocks, ContentBlock{
				Kind:     BlockToolResult,
				ToolName: fr.Get("name").Str,
				CallID:   fr.Get("id").Str,
				Text:     geminiResponseText(fr.Get("response")),
			})
		}
		return true
	})
	return blocks
}

func onlyToolResults(blocks []ContentBlock) bool {
	for _, bl := range blocks {
		if bl.Kind != BlockToolResult {
			return false
		}
	}
	return true
}

// geminiToolOutput flattens the result list recorded on a toolCall.
func geminiToolOutput(result gjson.Result) string {
	var parts []string
	result.ForEach(func(_, r gjson.Result) bool {
		if t := geminiResponseText(r.Get("functionResponse.response")); t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func geminiResponseText(resp gjson.Result) string {
	if !resp.Exists() {
		return ""
	}
	if out := resp.Get("output"); out.Type == gjson.String {
		return out.Str
	}
	if resp.Type == gjson.String {
		return resp.Str
	}
	return resp.Raw
}

func (b *geminiBuilder) noteShell(name string, args gjson.Result) {
	if b.d.Shell != "" || name != "run_shell_command" {
		return
	}
	b.d.Shell = InferShell(args.Get("command").Str)
}

// geminiHashDir returns the project directory name of a chat file:
// <root>/tmp/<hash>/chats/session-*.json.
func geminiHashDir(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == "chats" {
		dir = filepath.Dir(dir)
	}
	return filepath.Base(dir)
}

// finishGemini fills the fields derived after decoding. The working
// directory is recovered from the hashed project directory name or
// the recorded projectHash.
func finishGemini(
	d Details, projectHash string, st FileStat, opts Options,
) Details {
	hashes := []string{geminiHashDir(d.Path)}
	if projectHash != "" && projectHash != hashes[0] {
		hashes = append(hashes, projectHash)
	}
	for _, h := range hashes {
		if cwd, ok := opts.Projects.Resolve(h); ok {
			d.Cwd = cwd
			d.DirKey = pathkey.DirKey(cwd)
			break
		}
	}

	if d.ID == "" {
		d.ID = strings.TrimSuffix(filepath.Base(d.Path), ".json")
		d.ResumeMode = ResumeUnknown
	} else {
		d.ResumeID = d.ID
		d.ResumeMode = ResumeModern
	}
	if d.Date.IsZero() && st.MtimeMs > 0 {
		d.Date = time.UnixMilli(st.MtimeMs).UTC()
	}
	if d.Title == "" {
		d.Title = titleFrom(d.Preview)
	}
	return d
}
