package stream

import "strings"

// sentence boundaries: Latin and CJK sentence punctuation plus commas
// and newlines. TTS latency is dominated by segment length, so we cut
// aggressively.
const boundaries = ",，。.!?！？;；、\n"

// SplitSentences cuts text into synthesis segments at punctuation
// boundaries. Segments are trimmed of surrounding whitespace; empty
// segments are dropped. Text without any boundary comes back as a
// single segment.
func SplitSentences(text string) []string {
	var segments []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			segments = append(segments, s)
		}
		b.Reset()
	}
	for _, r := range text {
		if strings.ContainsRune(boundaries, r) {
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return segments
}
