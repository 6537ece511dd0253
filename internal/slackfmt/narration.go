package slackfmt

import (
	"regexp"
	"strings"
)

// narrationPattern matches lines where the agent narrates its own work
// instead of answering.
var narrationPattern = regexp.MustCompile(`^(?:Let me|Let's now|I'll|I’ll|I will|I'm going to|I’m going to|Now I|Now,? let me|I need to|First,? I|Next,? I|Okay,? let me|OK,? let me)\b`)

var blankRunPattern = regexp.MustCompile(`\n(?:[ \t]*\n){3,}`)

// StripNarration removes narration lines outside fenced code, collapses runs
// of three or more blank lines into one and trims the result.
func StripNarration(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if isFenceLine(trimmed) {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if !inFence && narrationPattern.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	joined := blankRunPattern.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(joined)
}

func isFenceLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}
