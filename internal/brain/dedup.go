package brain

import "strings"

// dedupSentences removes exact-duplicate sentences from text while
// preserving the order of first occurrence. Models that see their own
// earlier replies in the transcript tend to repeat themselves; the user
// should not.
func dedupSentences(text string) string {
	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return strings.TrimSpace(text)
	}

	seen := make(map[string]bool, len(sentences))
	var kept []string
	for _, s := range sentences {
		key := strings.TrimSpace(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, key)
	}
	return strings.Join(kept, " ")
}

// splitSentences breaks text on terminal punctuation followed by
// whitespace. The terminator stays attached to its sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				out = append(out, string(runes[start:i+1]))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			out = append(out, tail)
		}
	}
	return out
}
