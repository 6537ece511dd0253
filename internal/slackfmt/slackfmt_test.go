package slackfmt

import (
	"strings"
	"testing"
)

func TestStripNarration(t *testing.T) {
	t.Parallel()

	in := "Let me check the file.\nLetters are fun.\n  I'll look at main.go next.\nNow I see the issue.\nNow It works.\nI need to update it.\n\n\n\n\nDone."
	got := StripNarration(in)
	want := "Letters are fun.\nNow It works.\n\nDone."
	if got != want {
		t.Fatalf("StripNarration() = %q, want %q", got, want)
	}
}

func TestStripNarrationKeepsFencedCode(t *testing.T) {
	t.Parallel()

	in := "Result:\n```\nLet me = 1\n```\nLet me explain."
	got := StripNarration(in)
	want := "Result:\n```\nLet me = 1\n```"
	if got != want {
		t.Fatalf("StripNarration() = %q, want %q", got, want)
	}
}

func TestToMrkdwnSample(t *testing.T) {
	t.Parallel()

	got := ToMrkdwn("**bold** and `code` and [a](http://x)")
	want := "*bold* and `code` and <http://x|a>"
	if got != want {
		t.Fatalf("ToMrkdwn() = %q, want %q", got, want)
	}
}

func TestToMrkdwnBlocks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "underscore bold", in: "__x__", want: "*x*"},
		{name: "italic", in: "*x*", want: "_x_"},
		{name: "strike", in: "~~gone~~", want: "~gone~"},
		{name: "heading", in: "## Summary", want: "*Summary*"},
		{name: "heading with bold", in: "# **Big**", want: "*Big*"},
		{name: "image", in: "![logo](https://x/logo.png)", want: "<https://x/logo.png|logo>"},
		{name: "autolink", in: "<https://example.com>", want: "<https://example.com>"},
		{name: "rule", in: "a\n\n---\n\nb", want: "a\n\n" + ruleLine + "\n\nb"},
		{name: "fence strips language", in: "```go\nfmt.Println(\"**x**\")\n```", want: "```\nfmt.Println(\"**x**\")\n```"},
		{name: "code span verbatim", in: "use `**not bold**` here", want: "use `**not bold**` here"},
		{name: "double backtick span", in: "``a ` b``", want: "``a ` b``"},
		{name: "list", in: "- one\n- **two**", want: bullet + " one\n" + bullet + " *two*"},
		{name: "ordered list", in: "3. a\n4. b", want: "3. a\n4. b"},
		{name: "quote", in: "> quoted **x**", want: "> quoted *x*"},
		{name: "table", in: "| a | b |\n|---|---|\n| 1 | 2 |", want: "a | b\n" + tableRule + "\n1 | 2"},
		{name: "escaped emphasis", in: `\*literal\*`, want: "\u200b*\u200bliteral\u200b*\u200b"},
		{name: "escaped punctuation", in: `1\. not a list \#tag`, want: "1. not a list #tag"},
		{name: "control characters", in: "a < b && c > d", want: "a &lt; b &amp;&amp; c &gt; d"},
		{name: "escaped angle", in: `\<b\>`, want: "&lt;b&gt;"},
		{name: "raw html", in: "x <br> y", want: "x &lt;br&gt; y"},
		{name: "code span control", in: "run `a && b`", want: "run `a &amp;&amp; b`"},
		{name: "fence control", in: "```\nif a < b {}\n```", want: "```\nif a &lt; b {}\n```"},
		{name: "link label control", in: "[a & b](https://x)", want: "<https://x|a &amp; b>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ToMrkdwn(tc.in); got != tc.want {
				t.Fatalf("ToMrkdwn(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFinalText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  hello world \n", want: "hello world"},
		{name: "blank", in: " \t ", want: ""},
		{name: "json literal", in: `"line one\nline two"`, want: "line one\nline two"},
		{name: "quoted but not json", in: `"a" and "b"`, want: `"a" and "b"`},
		{name: "markdown fence", in: "```markdown\n## Hi\n\n**there**\n```", want: "## Hi\n\n**there**"},
		{name: "code fence kept", in: "```go\nx := 1\n```", want: "```go\nx := 1\n```"},
		{name: "escaped lines", in: `a\nb\nc`, want: "a\nb\nc"},
		{name: "single escape kept", in: `use \n for newline`, want: `use \n for newline`},
		{name: "mentions inside real lines", in: "x\ny `\\n` z", want: "x\ny `\\n` z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FinalText(tc.in); got != tc.want {
				t.Fatalf("FinalText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestChunkHardSplit(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("x", 7000)
	chunks := Chunk(in, MaxChunkLen)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > MaxChunkLen {
			t.Fatalf("chunk %d has %d chars", i, len(c))
		}
	}
	if strings.Join(chunks, "") != in {
		t.Fatalf("chunks are not lossless")
	}
}

func TestChunkPrefersNewlinePastHalfway(t *testing.T) {
	t.Parallel()

	first := strings.Repeat("a", 20)
	second := strings.Repeat("b", 15)
	chunks := Chunk(first+"\n\n"+second, 30)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2: %q", len(chunks), chunks)
	}
	if chunks[0] != first+"\n" {
		t.Fatalf("chunk[0] = %q", chunks[0])
	}
	if chunks[1] != second {
		t.Fatalf("chunk[1] = %q, want leading newlines dropped", chunks[1])
	}

	early := strings.Repeat("c", 5) + "\n" + strings.Repeat("d", 40)
	chunks = Chunk(early, 30)
	if len(chunks[0]) != 30 {
		t.Fatalf("newline before halfway should hard split, got %q", chunks[0])
	}
}

func TestChunkKeepsEntitiesWhole(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("x", 8) + "&amp;" + strings.Repeat("y", 8)
	chunks := Chunk(in, 10)
	if chunks[0] != strings.Repeat("x", 8) {
		t.Fatalf("chunk[0] = %q, want cut before the entity", chunks[0])
	}
	if !strings.HasPrefix(chunks[1], "&amp;") {
		t.Fatalf("chunk[1] = %q", chunks[1])
	}
	if strings.Join(chunks, "") != in {
		t.Fatalf("chunks are not lossless: %q", chunks)
	}
}

func TestChunkEmpty(t *testing.T) {
	t.Parallel()

	if got := Chunk(" \n\t ", MaxChunkLen); got != nil {
		t.Fatalf("Chunk() = %q, want nil", got)
	}
	if got := Process("Let me look.\n\n"); got != nil {
		t.Fatalf("Process() = %q, want nil", got)
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()

	got := Process("I'll summarize.\n## Result\n**ok**")
	if len(got) != 1 || got[0] != "*Result*\n\n*ok*" {
		t.Fatalf("Process() = %q", got)
	}
	got = Process(`"## Result\n**a < b**"`)
	if len(got) != 1 || got[0] != "*Result*\n\n*a &lt; b*" {
		t.Fatalf("Process(json literal) = %q", got)
	}
}
