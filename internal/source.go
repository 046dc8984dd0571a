package internal

import (
	"os"
	"strings"
	"unicode"
)

// SourceCode stores the content of a source code file.
type SourceCode struct {
	Lines []string
}

// NewSourceCode splits text into lines.
func NewSourceCode(text string) *SourceCode {
	if text == "" {
		return &SourceCode{}
	}
	return &SourceCode{Lines: strings.Split(strings.TrimSuffix(text, "\n"), "\n")}
}

// ReadSourceCode reads the content of a file and returns it as a `SourceCode` struct.
func ReadSourceCode(filename string) (*SourceCode, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewSourceCode(string(content)), nil
}

// Line returns the 1-based line n, or "" when n is out of range.
func (s *SourceCode) Line(n int) string {
	if s == nil || n < 1 || n > len(s.Lines) {
		return ""
	}
	return s.Lines[n-1]
}

// TokenEnd returns the column of the last character of the token starting
// at column col of line n. It returns col when the position is unknown.
func (s *SourceCode) TokenEnd(n, col int) int {
	line := []rune(s.Line(n))
	if col < 1 || col > len(line) {
		return col
	}
	end := col
	for end < len(line) && !unicode.IsSpace(line[end]) && !strings.ContainsRune(";,(){", line[end]) {
		end++
	}
	return end
}
