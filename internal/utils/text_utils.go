package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// TruncationMarker is appended to bodies cut to fit the character budget
const TruncationMarker = " [truncated]"

// TextProcessor provides utilities for processing text
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// Normalize turns a message body into prompt-ready plain text and logs
// when truncation happened
func (tp *TextProcessor) Normalize(body string, maxChars int, isHTML bool) string {
	normalized := NormalizeText(body, maxChars, isHTML)

	if tp.logger != nil && maxChars > 0 && strings.HasSuffix(normalized, TruncationMarker) {
		tp.logger.Debug("Text truncated",
			zap.Int("original_size", utf8.RuneCountInString(body)),
			zap.Int("truncated_size", utf8.RuneCountInString(normalized)),
			zap.Int("max_size", maxChars))
	}

	return normalized
}

// NormalizeText strips markup when isHTML is set, collapses whitespace and
// truncates the result to at most maxChars runes. maxChars <= 0 disables
// truncation.
func NormalizeText(body string, maxChars int, isHTML bool) string {
	text := SanitizeUTF8(body)
	if isHTML {
		text = StripHTML(text)
	}
	text = norm.NFC.String(text)
	text = CollapseWhitespace(text)
	return TruncateText(text, maxChars)
}

// SanitizeUTF8 ensures the string contains only valid UTF-8 characters
func SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// skippedElements never contribute text
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
	"template": true,
}

// blockElements are rendered as line breaks
var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"ul": true, "ol": true, "table": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "section": true, "article": true, "pre": true,
}

// StripHTML removes markup, scripts and styles and decodes entities.
// Text inside anchors is kept; link targets are appended in parentheses
// since meeting URLs often live only in the href.
func StripHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var b strings.Builder
	skipDepth := 0
	var pendingHref string

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "body" {
				skipDepth = 0
			}
			if skippedElements[tag] && tt == html.StartTagToken {
				skipDepth++
				continue
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
			if tag == "a" && hasAttr {
				pendingHref = hrefOf(z)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if tag == "a" && pendingHref != "" {
				if skipDepth == 0 && strings.HasPrefix(pendingHref, "http") {
					b.WriteString(" (" + pendingHref + ")")
				}
				pendingHref = ""
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

func hrefOf(z *html.Tokenizer) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "href" {
			return string(val)
		}
		if !more {
			return ""
		}
	}
}

// CollapseWhitespace reduces runs of horizontal whitespace to one space
// and runs of line breaks (with any whitespace between them) to one newline
func CollapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pendingSpace := false
	pendingNewline := false

	for _, r := range text {
		switch {
		case r == '\n' || r == '\r' || r == '\v' || r == '\f' || r == '\u2028' || r == '\u2029':
			pendingNewline = true
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			if b.Len() > 0 {
				if pendingNewline {
					b.WriteByte('\n')
				} else if pendingSpace {
					b.WriteByte(' ')
				}
			}
			pendingSpace = false
			pendingNewline = false
			b.WriteRune(r)
		}
	}

	return b.String()
}

// TruncateText cuts text to at most maxSize runes, preferring a word
// boundary near the end of the budget. The truncation marker is only
// added when it fits inside the budget.
func TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || utf8.RuneCountInString(text) <= maxSize {
		return text
	}

	runes := []rune(text)
	markerLen := utf8.RuneCountInString(TruncationMarker)

	budget := maxSize
	withMarker := maxSize > 4*markerLen
	if withMarker {
		budget = maxSize - markerLen
	}

	cut := budget
	// Look for a word boundary within the last fifth of the budget
	floor := budget - budget/5
	for i := budget; i > floor && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}

	truncated := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
	if withMarker {
		return truncated + TruncationMarker
	}
	return truncated
}
