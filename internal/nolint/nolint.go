package nolint

import (
	"fmt"
	"go/token"
	"strings"
)

const nolintPrefix = "//nolint"

// Manager manages nolint scopes and checks if a position is nolinted.
type Manager struct {
	// scopes maps filename to a slice of nolint scopes.
	scopes map[string][]nolintScope
}

// nolintScope represents a line range of the source where nolint applies.
type nolintScope struct {
	rules map[string]struct{}
	start int
	end   int
}

// ParseSource collects the nolint comments of the source text a program
// was built from. Issues of the program are positioned in that text, so
// filename must be the name they carry.
func ParseSource(filename, src string) *Manager {
	m := &Manager{scopes: make(map[string][]nolintScope)}
	m.Add(filename, src)
	return m
}

// Add parses the nolint comments of another source.
func (m *Manager) Add(filename, src string) {
	lines := strings.Split(src, "\n")
	seenCode := false
	for i, line := range lines {
		lineNum := i + 1
		idx := strings.Index(line, nolintPrefix)
		if idx < 0 {
			if isCode(line) {
				seenCode = true
			}
			continue
		}
		ns, err := parseComment(line[idx:])
		if err != nil {
			// ignore invalid nolint comments
			continue
		}
		inline := strings.TrimSpace(line[:idx]) != ""

		switch {
		case inline:
			ns.start, ns.end = lineNum, lineNum
			seenCode = true
		case !seenCode:
			// a header comment applies to the whole source
			ns.start, ns.end = 1, len(lines)
		default:
			ns.start = lineNum
			ns.end = scopeEnd(lines, i+1)
		}
		m.scopes[filename] = append(m.scopes[filename], ns)
	}
}

// parseComment parses a single nolint comment.
func parseComment(text string) (nolintScope, error) {
	var ns nolintScope
	rest := strings.TrimPrefix(text, nolintPrefix)

	// A nolint comment can either have a list of rules after a colon (:)
	// or if no rules are specified, it applies to all rules
	if len(rest) > 0 && rest[0] != ':' && rest[0] != ' ' && rest[0] != '\t' {
		return ns, fmt.Errorf("invalid nolint comment format")
	}
	if len(rest) > 0 && rest[0] == ':' {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		if fields := strings.Fields(rest); len(fields) > 0 {
			rest = fields[0]
		}
		if rest == "" {
			return ns, fmt.Errorf("invalid nolint comment: no rules specified after colon")
		}
	} else {
		rest = ""
	}
	ns.rules = parseIgnoreRuleNames(rest)
	return ns, nil
}

// scopeEnd returns the last line covered by a standalone comment whose
// next line index is next: that line, or the whole block it opens.
func scopeEnd(lines []string, next int) int {
	if next >= len(lines) {
		return len(lines)
	}
	depth := 0
	for i := next; i < len(lines); i++ {
		code := stripComment(lines[i])
		depth += strings.Count(code, "{") - strings.Count(code, "}")
		if depth <= 0 {
			return i + 1
		}
	}
	return len(lines)
}

// parseIgnoreRuleNames parses the rule list from the nolint comment.
func parseIgnoreRuleNames(text string) map[string]struct{} {
	rulesMap := make(map[string]struct{})
	if text == "" {
		return rulesMap
	}
	rules := strings.Split(text, ",")
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule != "" {
			rulesMap[rule] = struct{}{}
		}
	}
	return rulesMap
}

func isCode(line string) bool {
	return strings.TrimSpace(stripComment(line)) != ""
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}

// IsNolint checks if a given position and rule are nolinted.
func (m *Manager) IsNolint(pos token.Position, ruleName string) bool {
	scopes, exists := m.scopes[pos.Filename]
	if !exists {
		return false
	}
	for _, ns := range scopes {
		if pos.Line < ns.start || pos.Line > ns.end {
			continue
		}
		// If the rules list is empty, nolint applies to all rules
		if len(ns.rules) == 0 {
			return true
		}
		if _, exists := ns.rules[ruleName]; exists {
			return true
		}
	}
	return false
}
