package slackfmt

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

const (
	ruleLine  = "──────────"
	tableRule = "───"
	bullet    = "•"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ToMrkdwn converts GitHub flavoured Markdown into Slack mrkdwn. Code spans
// and code blocks are copied from the source untouched.
func ToMrkdwn(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))
	r := &mrkdwnRenderer{source: source}
	return strings.TrimSpace(r.blockChildren(doc, "\n\n"))
}

type mrkdwnRenderer struct {
	source    []byte
	inHeading bool
}

func (r *mrkdwnRenderer) blockChildren(n ast.Node, sep string) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := r.block(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (r *mrkdwnRenderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return strings.TrimRight(r.inlines(n), " \n")
	case *ast.Heading:
		r.inHeading = true
		title := strings.TrimSpace(r.inlines(n))
		r.inHeading = false
		if title == "" {
			return ""
		}
		return "*" + title + "*"
	case *ast.ThematicBreak:
		return ruleLine
	case *ast.FencedCodeBlock:
		return "```\n" + escapeControl(r.lines(n)) + "```"
	case *ast.CodeBlock:
		return "```\n" + escapeControl(r.lines(n)) + "```"
	case *ast.HTMLBlock:
		out := r.lines(n)
		if n.HasClosure() {
			out += string(n.ClosureLine.Value(r.source))
		}
		return escapeControl(strings.TrimRight(out, "\n"))
	case *ast.Blockquote:
		inner := r.blockChildren(n, "\n\n")
		return prefixLines(inner, "> ", "> ")
	case *ast.List:
		return r.list(n)
	case *east.Table:
		return r.table(n)
	default:
		if n.HasChildren() {
			return r.blockChildren(n, "\n\n")
		}
		return ""
	}
}

func (r *mrkdwnRenderer) list(n *ast.List) string {
	itemSep := "\n"
	bodySep := "\n"
	if !n.IsTight {
		itemSep = "\n\n"
		bodySep = "\n\n"
	}
	num := n.Start
	var items []string
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		marker := bullet + " "
		if n.IsOrdered() {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		body := r.blockChildren(item, bodySep)
		items = append(items, prefixLines(body, marker, strings.Repeat(" ", len([]rune(marker)))))
	}
	return strings.Join(items, itemSep)
}

func (r *mrkdwnRenderer) table(n *east.Table) string {
	var rows []string
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(r.inlines(cell)))
		}
		rows = append(rows, strings.Join(cells, " | "))
		if _, ok := row.(*east.TableHeader); ok {
			rows = append(rows, tableRule)
		}
	}
	return strings.Join(rows, "\n")
}

func (r *mrkdwnRenderer) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.source))
	}
	return b.String()
}

func (r *mrkdwnRenderer) inlines(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(&b, c)
	}
	return b.String()
}

func (r *mrkdwnRenderer) inline(b *strings.Builder, n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		value := n.Segment.Value(r.source)
		if n.IsRaw() {
			b.WriteString(escapeControl(string(value)))
		} else {
			writeEscapedText(b, value)
		}
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte('\n')
		}
	case *ast.String:
		b.WriteString(escapeControl(string(n.Value)))
	case *ast.CodeSpan:
		b.WriteString(r.codeSpan(n))
	case *ast.Emphasis:
		inner := r.inlines(n)
		switch {
		case r.inHeading && n.Level >= 2:
			b.WriteString(inner)
		case n.Level >= 2:
			b.WriteString("*" + inner + "*")
		default:
			b.WriteString("_" + inner + "_")
		}
	case *east.Strikethrough:
		b.WriteString("~" + r.inlines(n) + "~")
	case *ast.Link:
		b.WriteString(slackLink(string(n.Destination), r.inlines(n)))
	case *ast.Image:
		b.WriteString(slackLink(string(n.Destination), r.inlines(n)))
	case *ast.AutoLink:
		url := string(n.URL(r.source))
		if n.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(url, "mailto:") {
			url = "mailto:" + url
		}
		b.WriteString(slackLink(url, string(n.Label(r.source))))
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.WriteString(escapeControl(string(seg.Value(r.source))))
		}
	default:
		b.WriteString(r.inlines(n))
	}
}

// codeSpan returns the code span exactly as written, backticks included.
func (r *mrkdwnRenderer) codeSpan(n *ast.CodeSpan) string {
	first, ok := n.FirstChild().(*ast.Text)
	if !ok {
		return "``"
	}
	last, ok := n.LastChild().(*ast.Text)
	if !ok {
		return "``"
	}
	start, stop := first.Segment.Start, last.Segment.Stop
	for start > 0 && r.source[start-1] == ' ' {
		start--
	}
	for start > 0 && r.source[start-1] == '`' {
		start--
	}
	for stop < len(r.source) && r.source[stop] == ' ' {
		stop++
	}
	for stop < len(r.source) && r.source[stop] == '`' {
		stop++
	}
	return escapeControl(string(r.source[start:stop]))
}

// Slack reads &, < and > as control characters everywhere, code included.
var controlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeControl(s string) string {
	return controlEscaper.Replace(s)
}

// zeroWidthSpace keeps Slack from pairing a literal formatting character with
// a neighbouring one. mrkdwn has no backslash escape of its own.
const zeroWidthSpace = "\u200b"

// writeEscapedText writes a Markdown text segment, resolving backslash escapes.
// Escaped *, _, ~ and ` stay literal in Slack by being fenced with zero-width
// spaces.
func writeEscapedText(b *strings.Builder, value []byte) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' && i+1 < len(value) && util.IsPunct(value[i+1]) {
			i++
			c = value[i]
			switch c {
			case '*', '_', '~', '`':
				b.WriteString(zeroWidthSpace)
				b.WriteByte(c)
				b.WriteString(zeroWidthSpace)
				continue
			}
		}
		switch c {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteByte(c)
		}
	}
}

func slackLink(url, label string) string {
	url = strings.TrimSpace(url)
	label = strings.TrimSpace(strings.NewReplacer("|", "/", ">", "", "<", "").Replace(label))
	if url == "" {
		return label
	}
	if label == "" || label == url {
		return "<" + url + ">"
	}
	return "<" + url + "|" + label + ">"
}

func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		p := rest
		if i == 0 {
			p = first
		}
		if line == "" && i > 0 {
			lines[i] = strings.TrimRight(p, " ")
			continue
		}
		lines[i] = p + line
	}
	return strings.Join(lines, "\n")
}
