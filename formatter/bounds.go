package formatter

// BoundsCheckFormatter renders array access issues with a hint about the
// runtime consequence.
type BoundsCheckFormatter struct{}

func (f *BoundsCheckFormatter) IssueTemplate() string {
	return `{{.Header -}}
{{.Snippet -}}
{{.Underline -}}
{{.Suggestion -}}
{{.Note -}}
{{.Warning}}
`
}
