package formatter

type GeneralIssueFormatter struct{}

func (f *GeneralIssueFormatter) IssueTemplate() string {
	return `{{.Header -}}
{{.Snippet -}}
{{.Underline -}}
{{.Suggestion -}}
{{.Note}}
`
}
