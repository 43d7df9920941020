package utils

import (
	"fmt"
	"strings"
	"time"
)

// PromptToken keeps the first limit runes of a prompt and replaces anything
// that is not an ASCII letter or digit with an underscore.
func PromptToken(prompt string, limit int) string {
	runes := []rune(strings.TrimSpace(prompt))
	if limit > 0 && len(runes) > limit {
		runes = runes[:limit]
	}
	var b strings.Builder
	for _, r := range runes {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ImageFilename builds nexus_<prompt>_<index>_<timestamp>.png. A negative
// index is left out.
func ImageFilename(prompt string, index int, at time.Time) string {
	token := PromptToken(prompt, 20)
	if token == "" {
		token = "nexus_image"
	}
	suffix := ""
	if index >= 0 {
		suffix = fmt.Sprintf("_%d", index)
	}
	stamp := strings.ReplaceAll(at.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
	return fmt.Sprintf("nexus_%s%s_%s.png", token, suffix, stamp)
}
