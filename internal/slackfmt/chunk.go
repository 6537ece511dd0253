package slackfmt

import "strings"

// MaxChunkLen is the longest text posted in one Slack message.
const MaxChunkLen = 3000

// Chunk splits text into pieces of at most max runes. A piece ends at the
// last newline within the limit when that newline lies past the halfway
// mark; otherwise it is cut at the limit. Continuation pieces lose their
// leading newlines. Whitespace-only text yields no pieces.
func Chunk(text string, max int) []string {
	if max <= 0 {
		max = MaxChunkLen
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	rest := []rune(text)
	var out []string
	for first := true; len(rest) > 0; first = false {
		if !first {
			rest = trimLeadingNewlines(rest)
			if len(rest) == 0 {
				break
			}
		}
		if len(rest) <= max {
			out = appendChunk(out, rest)
			break
		}
		cut := max
		window := rest[:max+1]
		if i := lastNewline(window); i > max/2 {
			cut = i
		} else if i := entityStart(rest, cut); i > 0 {
			cut = i
		}
		out = appendChunk(out, rest[:cut])
		rest = rest[cut:]
	}
	return out
}

func appendChunk(out []string, r []rune) []string {
	s := string(r)
	if strings.TrimSpace(s) == "" {
		return out
	}
	return append(out, s)
}

func lastNewline(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == '\n' {
			return i
		}
	}
	return -1
}

func trimLeadingNewlines(r []rune) []rune {
	i := 0
	for i < len(r) && (r[i] == '\n' || r[i] == '\r') {
		i++
	}
	return r[i:]
}

// entityStart returns the index of an &amp;, &lt; or &gt; entity that a cut at
// cut would split, or -1.
func entityStart(r []rune, cut int) int {
	for i := cut - 1; i >= 0 && i > cut-len("&amp;"); i-- {
		if r[i] == ';' {
			return -1
		}
		if r[i] != '&' {
			continue
		}
		tail := string(r[i:min(len(r), i+len("&amp;"))])
		for _, entity := range []string{"&amp;", "&lt;", "&gt;"} {
			if strings.HasPrefix(tail, entity) {
				return i
			}
		}
		return -1
	}
	return -1
}
