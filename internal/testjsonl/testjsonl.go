// Package testjsonl provides shared fixture builders for Codex,
// Claude and Gemini session test data. Used by both parser and
// sync test packages.
package testjsonl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Codex

// CodexSessionMetaJSON returns a wrapped Codex session_meta line.
func CodexSessionMetaJSON(
	id, cwd, cliVersion, timestamp string,
) string {
	payload := map[string]any{
		"id":        id,
		"timestamp": timestamp,
	}
	if cwd != "" {
		payload["cwd"] = cwd
	}
	if cliVersion != "" {
		payload["cli_version"] = cliVersion
	}
	return mustMarshal(map[string]any{
		"type":      "session_meta",
		"timestamp": timestamp,
		"payload":   payload,
	})
}

// CodexMsgJSON returns a wrapped Codex message response item.
func CodexMsgJSON(role, text, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "response_item",
		"timestamp": timestamp,
		"payload":   codexMessage(role, text),
	})
}

func codexMessage(role, text string) map[string]any {
	blockType := "input_text"
	if role == "assistant" {
		blockType = "output_text"
	}
	return map[string]any{
		"type": "message",
		"role": role,
		"content": []map[string]any{
			{"type": blockType, "text": text},
		},
	}
}

// CodexFunctionCallJSON returns a wrapped Codex function_call whose
// arguments are a JSON-encoded object.
func CodexFunctionCallJSON(
	name, callID string, args map[string]any, timestamp string,
) string {
	raw, _ := json.Marshal(args)
	return mustMarshal(map[string]any{
		"type":      "response_item",
		"timestamp": timestamp,
		"payload": map[string]any{
			"type":      "function_call",
			"name":      name,
			"call_id":   callID,
			"arguments": string(raw),
		},
	})
}

// CodexFunctionOutputJSON returns a wrapped function_call_output.
func CodexFunctionOutputJSON(callID, output, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "response_item",
		"timestamp": timestamp,
		"payload": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

// CodexReasoningJSON returns a wrapped reasoning item.
func CodexReasoningJSON(summary, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "response_item",
		"timestamp": timestamp,
		"payload": map[string]any{
			"type": "reasoning",
			"summary": []map[string]any{
				{"type": "summary_text", "text": summary},
			},
		},
	})
}

// CodexTurnContextJSON returns a turn_context line.
func CodexTurnContextJSON(cwd, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "turn_context",
		"timestamp": timestamp,
		"payload":   map[string]any{"cwd": cwd},
	})
}

// CodexLegacyHeaderJSON returns the bare first line of the legacy
// Codex format.
func CodexLegacyHeaderJSON(id, timestamp, instructions string) string {
	m := map[string]any{
		"id":        id,
		"timestamp": timestamp,
	}
	if instructions != "" {
		m["instructions"] = instructions
	}
	return mustMarshal(m)
}

// CodexLegacyMsgJSON returns a bare legacy message item.
func CodexLegacyMsgJSON(role, text string) string {
	return mustMarshal(codexMessage(role, text))
}

// CodexLegacyStateJSON returns a bare legacy state record.
func CodexLegacyStateJSON() string {
	return mustMarshal(map[string]any{"record_type": "state"})
}

// Claude

// ClaudeUserJSON returns a Claude user message as a JSON string.
func ClaudeUserJSON(
	content, timestamp string, cwd ...string,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	if len(cwd) > 0 {
		m["cwd"] = cwd[0]
	}
	return mustMarshal(m)
}

// ClaudeUserWithSessionIDJSON returns a Claude user message
// with a sessionId field as a JSON string.
func ClaudeUserWithSessionIDJSON(
	content, timestamp, sessionID string, cwd ...string,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"sessionId": sessionID,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	if len(cwd) > 0 {
		m["cwd"] = cwd[0]
	}
	return mustMarshal(m)
}

// ClaudeMetaUserJSON returns a Claude user message with
// optional isMeta and isCompactSummary flags as a JSON string.
func ClaudeMetaUserJSON(
	content, timestamp string, meta, compact bool,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	if meta {
		m["isMeta"] = true
	}
	if compact {
		m["isCompactSummary"] = true
	}
	return mustMarshal(m)
}

// ClaudeAssistantJSON returns a Claude assistant message as a
// JSON string. content is a string or a slice of blocks.
func ClaudeAssistantJSON(content any, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "assistant",
			"content": content,
		},
	})
}

// ClaudeToolUseBlock returns a tool_use content block.
func ClaudeToolUseBlock(id, name string, input map[string]any) map[string]any {
	return map[string]any{
		"type":  "tool_use",
		"id":    id,
		"name":  name,
		"input": input,
	}
}

// ClaudeToolResultJSON returns a user record carrying only a
// tool_result block.
func ClaudeToolResultJSON(toolUseID, output, timestamp string) string {
	return mustMarshal(map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": toolUseID,
				"content":     output,
			}},
		},
	})
}

// ClaudeSummaryJSON returns a Claude summary record.
func ClaudeSummaryJSON(summary string) string {
	return mustMarshal(map[string]any{
		"type":     "summary",
		"summary":  summary,
		"leafUuid": "leaf-1",
	})
}

// Gemini

// GeminiUserMsg returns a Gemini user message map.
func GeminiUserMsg(id, timestamp, content string) map[string]any {
	return map[string]any{
		"id":        id,
		"timestamp": timestamp,
		"type":      "user",
		"content":   content,
	}
}

// GeminiAssistantMsg returns a Gemini model message map with
// optional tool calls.
func GeminiAssistantMsg(
	id, timestamp, content string, toolCalls ...map[string]any,
) map[string]any {
	m := map[string]any{
		"id":        id,
		"timestamp": timestamp,
		"type":      "gemini",
		"content":   content,
	}
	if len(toolCalls) > 0 {
		m["toolCalls"] = toolCalls
	}
	return m
}

// GeminiToolCall returns a toolCalls entry.
func GeminiToolCall(id, name string, args map[string]any) map[string]any {
	return map[string]any{
		"id":     id,
		"name":   name,
		"args":   args,
		"status": "success",
	}
}

// GeminiInfoMsg returns a Gemini info message map.
func GeminiInfoMsg(id, timestamp, content string) map[string]any {
	return map[string]any{
		"id":        id,
		"timestamp": timestamp,
		"type":      "info",
		"content":   content,
	}
}

// geminiSession keeps the key order the CLI writes: metadata first,
// then the message list.
type geminiSession struct {
	SessionID   string           `json:"sessionId"`
	ProjectHash string           `json:"projectHash,omitempty"`
	StartTime   string           `json:"startTime"`
	LastUpdated string           `json:"lastUpdated"`
	Messages    []map[string]any `json:"messages"`
}

// GeminiSessionJSON returns a full Gemini session document.
func GeminiSessionJSON(
	sessionID, projectHash, startTime, lastUpdated string,
	messages []map[string]any,
) string {
	return mustMarshal(geminiSession{
		SessionID:   sessionID,
		ProjectHash: projectHash,
		StartTime:   startTime,
		LastUpdated: lastUpdated,
		Messages:    messages,
	})
}

// Layout

// JoinJSONL joins lines into JSONL content with a trailing newline.
func JoinJSONL(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// WriteFile writes content under dir at the slash-separated rel
// path, creating parent directories, and returns the full path.
func WriteFile(t testing.TB, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// SessionBuilder accumulates JSONL lines.
type SessionBuilder struct {
	lines []string
}

// NewSessionBuilder returns an empty builder.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{}
}

// AddCodexMeta appends a session_meta line.
func (b *SessionBuilder) AddCodexMeta(
	id, cwd, cliVersion, timestamp string,
) *SessionBuilder {
	b.lines = append(b.lines,
		CodexSessionMetaJSON(id, cwd, cliVersion, timestamp))
	return b
}

// AddCodexMessage appends a message response item.
func (b *SessionBuilder) AddCodexMessage(
	role, text, timestamp string,
) *SessionBuilder {
	b.lines = append(b.lines, CodexMsgJSON(role, text, timestamp))
	return b
}

// AddClaudeUser appends a Claude user record with a sessionId.
func (b *SessionBuilder) AddClaudeUser(
	content, timestamp, sessionID, cwd string,
) *SessionBuilder {
	b.lines = append(b.lines,
		ClaudeUserWithSessionIDJSON(content, timestamp, sessionID, cwd))
	return b
}

// AddClaudeAssistant appends a Claude assistant record.
func (b *SessionBuilder) AddClaudeAssistant(
	content any, timestamp string,
) *SessionBuilder {
	b.lines = append(b.lines, ClaudeAssistantJSON(content, timestamp))
	return b
}

// AddRaw appends a line verbatim.
func (b *SessionBuilder) AddRaw(line string) *SessionBuilder {
	b.lines = append(b.lines, line)
	return b
}

// String returns the JSONL content with a trailing newline.
func (b *SessionBuilder) String() string {
	return JoinJSONL(b.lines...)
}

func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
