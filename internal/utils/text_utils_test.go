package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxChars int
		isHTML   bool
		want     string
	}{
		{
			name: "collapses whitespace",
			body: "  Team \t sync \n\n\n  tomorrow  ",
			want: "Team sync\ntomorrow",
		},
		{
			name:   "strips markup scripts and styles",
			body:   `<html><head><title>ignored</title><style>p{color:red}</style></head><body><p>Hello&nbsp;<b>there</b></p><script>var a = 1;</script><p>Meet at 3pm</p></body></html>`,
			isHTML: true,
			want:   "Hello there\nMeet at 3pm",
		},
		{
			name:   "keeps link targets",
			body:   `<p>Join <a href="https://meet.example.com/abc">here</a></p>`,
			isHTML: true,
			want:   "Join here (https://meet.example.com/abc)",
		},
		{
			name:   "decodes entities",
			body:   `<div>Q&amp;A &lt;room 2&gt;</div>`,
			isHTML: true,
			want:   "Q&A <room 2>",
		},
		{
			name: "plain text is not parsed as markup",
			body: "a <b> c",
			want: "a <b> c",
		},
		{
			name: "removes invalid UTF-8",
			body: "ab\xffc",
			want: "abc",
		},
		{
			name: "composes to NFC",
			body: "cafe\u0301",
			want: "caf\u00e9",
		},
		{
			name:     "zero budget disables truncation",
			body:     strings.Repeat("word ", 100),
			maxChars: 0,
			want:     strings.TrimSpace(strings.Repeat("word ", 100)),
		},
		{
			name:     "short budget cuts at a word boundary without marker",
			body:     "aaaa bbbb cccc",
			maxChars: 10,
			want:     "aaaa bbbb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.body, tt.maxChars, tt.isHTML))
		})
	}
}

func TestTruncateTextAddsMarkerWhenItFits(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 100))

	got := TruncateText(text, 60)

	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 60)
	assert.Equal(t, strings.TrimSpace(strings.Repeat("word ", 9))+TruncationMarker, got)
}

func TestTruncateTextNeverExceedsBudget(t *testing.T) {
	inputs := []string{
		strings.Repeat("x", 500),
		strings.Repeat("日本語 ", 200),
		strings.Repeat("a b ", 300),
		"short",
	}

	for _, input := range inputs {
		for _, max := range []int{1, 5, 13, 48, 49, 100, 3000} {
			got := TruncateText(input, max)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), max, "input %.10q max %d", input, max)
			assert.True(t, utf8.ValidString(got))
		}
	}
}

func TestTextProcessorNormalize(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	got := tp.Normalize("<p>one</p><p>two</p>", 3000, true)

	assert.Equal(t, "one\ntwo", got)
}
