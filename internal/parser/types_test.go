package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripBodies(t *testing.T) {
	d := Details{
		Summary: Summary{ID: "s1", MessageCount: 2},
		Messages: []Message{
			{Role: RoleUser, Blocks: []ContentBlock{{Kind: BlockText, Text: "hi"}}},
		},
		SkippedLines: 3,
		Truncated:    true,
	}

	got := d.StripBodies()

	assert.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)
	assert.Equal(t, d.Summary, got.Summary)
	assert.Equal(t, 3, got.SkippedLines)
	assert.True(t, got.Truncated)
	assert.Len(t, d.Messages, 1, "original untouched")
}

func TestParserFor(t *testing.T) {
	for _, p := range []Provider{ProviderCodex, ProviderClaude, ProviderGemini} {
		parser := ParserFor(p)
		if assert.NotNil(t, parser, p) {
			assert.Equal(t, p, parser.Provider())
		}
	}
	assert.Nil(t, ParserFor("cursor"))
}

func TestNewDetailsDefaults(t *testing.T) {
	d := newDetails("/x/y.jsonl", ProviderClaude)
	assert.Equal(t, ResumeUnknown, d.ResumeMode)
	assert.NotNil(t, d.Messages)
}
