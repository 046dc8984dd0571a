package formatter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/gnolang/tdfa/internal"
	tt "github.com/gnolang/tdfa/internal/types"
)

const tabWidth = 8

// rule set
const (
	OutOfBounds        = "array-index-out-of-bounds"
	UncheckedIndex     = "unchecked-array-index"
	IncompleteAnalysis = "incomplete-analysis"
	SideEffect         = "side-effect"
)

var (
	errorStyle      = color.New(color.FgRed, color.Bold)
	warningStyle    = color.New(color.FgHiYellow, color.Bold)
	infoStyle       = color.New(color.FgHiCyan, color.Bold)
	ruleStyle       = color.New(color.FgYellow, color.Bold)
	fileStyle       = color.New(color.FgCyan, color.Bold)
	lineStyle       = color.New(color.FgHiBlue, color.Bold)
	messageStyle    = color.New(color.FgRed, color.Bold)
	suggestionStyle = color.New(color.FgGreen, color.Bold)
)

// issueFormatter supplies the text/template an issue is rendered with.
// Templates are executed against an issueView.
type issueFormatter interface {
	IssueTemplate() string
}

func getIssueFormatter(rule string) issueFormatter {
	switch rule {
	case OutOfBounds, UncheckedIndex:
		return &BoundsCheckFormatter{}
	case IncompleteAnalysis:
		return &IncompleteAnalysisFormatter{}
	default:
		return &GeneralIssueFormatter{}
	}
}

// GenerateFormattedIssue renders issues against the source they were
// reported on. src may be nil when the source is not available.
func GenerateFormattedIssue(issues []tt.Issue, src *internal.SourceCode) string {
	var lines []string
	if src != nil {
		lines = src.Lines
	}
	var out strings.Builder
	for _, issue := range issues {
		out.WriteString(render(newIssueView(issue, lines), getIssueFormatter(issue.Rule)))
	}
	return out.String()
}

// parsed templates, keyed by template text
var templates sync.Map

func render(v issueView, f issueFormatter) string {
	text := f.IssueTemplate()
	tmpl, ok := templates.Load(text)
	if !ok {
		tmpl, _ = templates.LoadOrStore(text, template.Must(template.New(v.rule).Parse(text)))
	}
	var buf bytes.Buffer
	if err := tmpl.(*template.Template).Execute(&buf, v); err != nil {
		return fmt.Sprintf("%s: cannot render issue: %v\n", v.rule, err)
	}
	return buf.String()
}

// issueView is one issue laid out for the terminal. The line number
// gutter is as wide as the last line number of the issue.
type issueView struct {
	rule, severity, filename  string
	message, suggestion, note string
	startLine, startCol       int
	endLine, endCol           int
	width                     int
	indent                    string
	lines                     []string
}

func newIssueView(issue tt.Issue, lines []string) issueView {
	v := issueView{
		rule:       issue.Rule,
		severity:   issue.Severity.String(),
		filename:   issue.Filename,
		message:    issue.Message,
		suggestion: issue.Suggestion,
		note:       issue.Note,
		startLine:  issue.Start.Line,
		startCol:   issue.Start.Column,
		endLine:    max(issue.End.Line, issue.Start.Line),
		endCol:     issue.End.Column,
		lines:      lines,
	}
	v.width = len(strconv.Itoa(v.endLine))
	if v.hasSnippet() {
		v.indent = findCommonIndent(lines[v.startLine-1 : v.endLine])
	}
	return v
}

func (v issueView) hasSnippet() bool {
	return v.startLine > 0 && v.startLine <= v.endLine && v.endLine <= len(v.lines)
}

func (v issueView) gutter() string { return strings.Repeat(" ", v.width+1) }

func (v issueView) Header() string {
	var s string
	switch v.severity {
	case "ERROR":
		s = errorStyle.Sprint("error: ")
	case "WARNING":
		s = warningStyle.Sprint("warning: ")
	case "INFO":
		s = infoStyle.Sprint("info: ")
	}
	s += ruleStyle.Sprintf("%s\n", v.rule)
	s += lineStyle.Sprintf("%s--> ", strings.Repeat(" ", v.width))
	if v.startLine > 0 {
		return s + fileStyle.Sprintf("%s:%d:%d\n", v.filename, v.startLine, v.startCol)
	}
	return s + fileStyle.Sprintf("%s\n", v.filename)
}

func (v issueView) Snippet() string {
	if !v.hasSnippet() {
		return ""
	}
	var b strings.Builder
	b.WriteString(lineStyle.Sprintf("%s|\n", v.gutter()))
	for n := v.startLine; n <= v.endLine; n++ {
		b.WriteString(lineStyle.Sprintf("%*d | ", v.width, n))
		b.WriteString(strings.TrimPrefix(v.lines[n-1], v.indent))
		b.WriteByte('\n')
	}
	return b.String()
}

// Underline marks the reported columns with tildes, followed by the
// message. Without source only the message is printed.
func (v issueView) Underline() string {
	msg := lineStyle.Sprintf("%s= ", v.gutter()) + messageStyle.Sprintf("%s\n", v.message)
	if !v.hasSnippet() {
		return msg
	}
	shift := visualWidth(v.indent)
	from := max(calculateVisualColumn(v.lines[v.startLine-1], v.startCol)-shift, 0)
	to := calculateVisualColumn(v.lines[v.endLine-1], v.endCol) - shift
	marks := strings.Repeat("~", max(to-from+1, 1))
	return lineStyle.Sprintf("%s| ", v.gutter()) + strings.Repeat(" ", from) +
		messageStyle.Sprintf("%s\n", marks) + msg
}

func (v issueView) Suggestion() string {
	if v.suggestion == "" {
		return ""
	}
	bar := lineStyle.Sprintf("%s|\n", v.gutter())
	var b strings.Builder
	b.WriteString(suggestionStyle.Sprint("Suggestion:\n"))
	b.WriteString(bar)
	for _, line := range strings.Split(v.suggestion, "\n") {
		b.WriteString(lineStyle.Sprintf("%s| ", v.gutter()) + line + "\n")
	}
	b.WriteString(bar)
	return b.String()
}

func (v issueView) Note() string {
	if v.note == "" {
		return ""
	}
	return suggestionStyle.Sprint("Note: ") + lineStyle.Sprintf("%s\n", v.note)
}

func (v issueView) Message() string { return messageStyle.Sprintf("%s\n", v.message) }

// Warning explains what the reported access does at run time.
func (v issueView) Warning() string {
	var s string
	switch v.rule {
	case OutOfBounds:
		s = "this access panics whenever it runs."
	case UncheckedIndex:
		s = "index access without bounds checking can lead to runtime panics."
	default:
		return ""
	}
	return warningStyle.Sprint("warning: ") + s + "\n"
}

// calculateVisualColumn returns the display offset of the 1-based rune
// column in line, expanding tabs.
func calculateVisualColumn(line string, column int) int {
	col := 0
	for i, ch := range []rune(line) {
		if i >= column-1 {
			break
		}
		if ch == '\t' {
			col += tabWidth - col%tabWidth
		} else {
			col++
		}
	}
	return col
}

func visualWidth(s string) int {
	return calculateVisualColumn(s, utf8.RuneCountInString(s)+1)
}

// findCommonIndent returns the leading whitespace shared by every
// non-blank line.
func findCommonIndent(lines []string) string {
	var indent string
	seen := false
	for _, line := range lines {
		body := strings.TrimLeftFunc(line, unicode.IsSpace)
		if body == "" {
			continue
		}
		lead := line[:len(line)-len(body)]
		if !seen {
			indent, seen = lead, true
			continue
		}
		n := 0
		for n < len(indent) && n < len(lead) && indent[n] == lead[n] {
			n++
		}
		for n < len(indent) && !utf8.RuneStart(indent[n]) {
			n--
		}
		indent = indent[:n]
	}
	return indent
}
