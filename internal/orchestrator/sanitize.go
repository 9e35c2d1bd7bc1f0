package orchestrator

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeReply turns raw model output into text fit for a WhatsApp chat:
//
//  1. reasoning blocks (<think>, <thinking>, <thought>) are removed
//  2. <final> wrappers are unwrapped
//  3. echoed [System Message] blocks are dropped
//  4. consecutive duplicate paragraphs are collapsed
//  5. Markdown emphasis, headings and links are rewritten in WhatsApp syntax
func SanitizeReply(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripThinkingTags(content)
	content = finalTagPattern.ReplaceAllString(content, "")
	content = stripEchoedSystemMessages(content)
	content = collapseDuplicateBlocks(content)
	content = toWhatsAppMarkup(content)
	content = strings.TrimSpace(leadingBlankLines.ReplaceAllString(content, ""))

	if content != original {
		slog.Debug("orchestrator: sanitized reply", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// Go regexp has no backreferences, so one pattern per tag.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

var (
	finalTagPattern   = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
	leadingBlankLines = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// stripEchoedSystemMessages drops "[System Message]" blocks up to the next blank line.
func stripEchoedSystemMessages(content string) string {
	if !strings.Contains(content, "[System Message]") {
		return content
	}
	var out []string
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[System Message]") {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" {
				skipping = false
			}
			continue
		}
		out = append(out, line)
	}
	slog.Warn("orchestrator: stripped echoed system message from reply")
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b)
		if trimmed == "" {
			continue
		}
		if len(out) > 0 && trimmed == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, b)
	}
	return strings.Join(out, "\n\n")
}

var (
	mdBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdBoldAlt = regexp.MustCompile(`__(.+?)__`)
	mdStrike  = regexp.MustCompile(`~~(.+?)~~`)
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
)

// toWhatsAppMarkup rewrites the Markdown chat models like to emit.
// WhatsApp uses *bold*, _italic_ and ~strike~, and has no headings or link syntax.
func toWhatsAppMarkup(content string) string {
	content = mdHeading.ReplaceAllString(content, "**$1**")
	content = mdBold.ReplaceAllString(content, "*$1*")
	content = mdBoldAlt.ReplaceAllString(content, "*$1*")
	content = mdStrike.ReplaceAllString(content, "~$1~")
	content = mdLink.ReplaceAllStringFunc(content, func(m string) string {
		parts := mdLink.FindStringSubmatch(m)
		if parts[1] == parts[2] {
			return parts[2]
		}
		return parts[1] + " (" + parts[2] + ")"
	})
	return content
}
