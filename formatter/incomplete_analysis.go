package formatter

// IncompleteAnalysisFormatter renders issues about the analysis itself,
// which have no source position.
type IncompleteAnalysisFormatter struct{}

func (f *IncompleteAnalysisFormatter) IssueTemplate() string {
	return `{{.Header -}}
{{.Message -}}
{{.Note}}
`
}
