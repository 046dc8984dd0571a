package internal

import (
	"context"
	"fmt"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gnolang/tdfa/internal/analysis/dfa"
	"github.com/gnolang/tdfa/internal/analysis/ir"
	"github.com/gnolang/tdfa/internal/analysis/memory"
	"github.com/gnolang/tdfa/internal/analysis/value"
	"github.com/gnolang/tdfa/internal/nolint"
	tt "github.com/gnolang/tdfa/internal/types"
)

// Report summarizes the analysis of one program file.
type Report struct {
	Filename       string
	Program        string
	Issues         []tt.Issue
	FinalStates    int
	Verdicts       int
	StopReason     string
	ForciblyMerged bool
	Stats          dfa.Stats
	Cached         bool
}

// Engine manages the analysis process. It is safe for concurrent use once
// configured.
type Engine struct {
	logger       *zap.Logger
	opts         dfa.Options
	sideEffects  *dfa.SideEffectInterceptor
	rules        map[string]LintRule
	ignoredRules map[string]bool
	ignoredPaths []string
	cache        *Cache

	mu      sync.Mutex
	sources map[string]*SourceCode
	reports map[string]Report
}

// NewEngine creates a new analysis engine. rules overrides the default
// severity of each named rule.
func NewEngine(logger *zap.Logger, opts dfa.Options, rules map[string]tt.ConfigRule) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	engine := &Engine{
		logger:       logger,
		opts:         opts,
		ignoredRules: make(map[string]bool),
		sources:      make(map[string]*SourceCode),
		reports:      make(map[string]Report),
	}
	engine.applyRules(rules)

	return engine
}

type ruleConstructor func() LintRule

type ruleMap map[string]ruleConstructor

var allRuleConstructors = ruleMap{
	"array-index-out-of-bounds": NewOutOfBoundsRule,
	"unchecked-array-index":     NewUncheckedIndexRule,
	"constant-condition":        NewConstantConditionRule,
	"constant-comparison":       NewConstantComparisonRule,
	"side-effect":               NewSideEffectRule,
	"incomplete-analysis":       NewIncompleteAnalysisRule,
}

// RuleNames lists every known rule.
func RuleNames() []string {
	names := make([]string, 0, len(allRuleConstructors))
	for name := range allRuleConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRules returns the default severity of every known rule.
func DefaultRules() map[string]tt.ConfigRule {
	rules := make(map[string]tt.ConfigRule, len(allRuleConstructors))
	for name, newRule := range allRuleConstructors {
		rules[name] = tt.ConfigRule{Severity: newRule().Severity()}
	}
	return rules
}

func (e *Engine) applyRules(rules map[string]tt.ConfigRule) {
	e.rules = make(map[string]LintRule)
	e.registerDefaultRules()

	for key, rule := range rules {
		if rule.Severity == tt.SeverityOff {
			delete(e.rules, key)
			continue
		}
		r := e.findRule(key)
		if r == nil {
			newRuleCstr := allRuleConstructors[key]
			if newRuleCstr == nil {
				e.logger.Warn("unknown rule in configuration", zap.String("rule", key))
				continue
			}
			r = newRuleCstr()
			e.rules[key] = r
		}
		r.SetSeverity(rule.Severity)
	}
}

func (e *Engine) registerDefaultRules() {
	for key, newRuleCstr := range allRuleConstructors {
		newRule := newRuleCstr()
		if newRule.Severity() != tt.SeverityOff {
			e.rules[key] = newRule
		}
	}
}

func (e *Engine) findRule(name string) LintRule {
	if rule, ok := e.rules[name]; ok {
		return rule
	}
	return nil
}

// SetInterceptor makes every run stop at the first possible side effect.
func (e *Engine) SetInterceptor(allowedVariables, pureMethods []string) {
	e.sideEffects = dfa.NewSideEffectInterceptor(allowedVariables, pureMethods)
}

// EnableCache reuses reports stored in dir while the program file and
// dependencyFiles are unchanged and the entry is younger than maxAge.
func (e *Engine) EnableCache(dir string, maxAge time.Duration, dependencyFiles ...string) error {
	cache, err := NewCache(dir, dependencyFiles...)
	if err != nil {
		return err
	}
	cache.SetMaxAge(maxAge)
	e.cache = cache
	return nil
}

// Run analyzes the program in the given file and returns its issues.
func (e *Engine) Run(ctx context.Context, filename string) ([]tt.Issue, error) {
	if e.isIgnoredPath(filename) {
		return nil, nil
	}
	p, err := ir.LoadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error loading program: %w", err)
	}
	return e.analyze(ctx, filename, p)
}

// RunSource analyzes a program given as YAML bytes.
func (e *Engine) RunSource(ctx context.Context, source []byte) ([]tt.Issue, error) {
	p, err := ir.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("error parsing content: %w", err)
	}
	return e.analyze(ctx, "", p)
}

func (e *Engine) analyze(ctx context.Context, filename string, p *ir.Program) ([]tt.Issue, error) {
	src := NewSourceCode(p.Source)
	e.mu.Lock()
	e.sources[filename] = src
	e.mu.Unlock()

	cacheable := e.cache != nil && filename != ""
	if cacheable {
		if report, ok := e.cache.Get(filename); ok {
			e.logger.Debug("cache hit", zap.String("file", filename))
			report.Cached = true
			return e.store(report), nil
		}
	}

	opts := e.opts
	stop := &stopTracker{}
	if e.sideEffects != nil {
		opts.Interceptor = dfa.Chain(e.sideEffects, stop)
	}
	res, err := dfa.Run(ctx, p, opts)
	if err != nil {
		return nil, fmt.Errorf("error analyzing %s: %w", p.Name, err)
	}

	in := &Input{
		Filename:  filename,
		Program:   p,
		Result:    res,
		Source:    src,
		StoppedAt: stop.at,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	var allIssues []tt.Issue
	for _, rule := range e.rules {
		wg.Add(1)
		go func(r LintRule) {
			defer wg.Done()
			issues := r.Check(in)
			for i := range issues {
				issues[i].Severity = r.Severity()
			}

			mu.Lock()
			allIssues = append(allIssues, issues...)
			mu.Unlock()
		}(rule)
	}
	wg.Wait()

	allIssues = filterNolintIssues(nolint.ParseSource(filename, p.Source), allIssues)
	sortIssues(allIssues)

	report := Report{
		Filename:       filename,
		Program:        p.Name,
		Issues:         allIssues,
		FinalStates:    len(res.FinalStates),
		Verdicts:       len(res.Verdicts),
		StopReason:     res.StopReason.String(),
		ForciblyMerged: res.WasForciblyMerged,
		Stats:          res.Stats,
	}
	if cacheable {
		if err := e.cache.Set(filename, report); err != nil {
			e.logger.Warn("failed to cache report", zap.String("file", filename), zap.Error(err))
		}
	}
	return e.store(report), nil
}

// store records the report with the ignored rules filtered out and returns
// its remaining issues.
func (e *Engine) store(report Report) []tt.Issue {
	issues := make([]tt.Issue, 0, len(report.Issues))
	for _, issue := range report.Issues {
		if !e.ignoredRules[issue.Rule] {
			issues = append(issues, issue)
		}
	}
	report.Issues = issues

	e.mu.Lock()
	e.reports[report.Filename] = report
	e.mu.Unlock()
	return issues
}

// IgnoreRule drops the issues of a rule from every later run.
func (e *Engine) IgnoreRule(rule string) {
	e.ignoredRules[rule] = true
}

// IgnorePath skips files matching pattern, either a glob or a directory
// prefix.
func (e *Engine) IgnorePath(pattern string) {
	e.ignoredPaths = append(e.ignoredPaths, filepath.Clean(pattern))
}

func (e *Engine) isIgnoredPath(filename string) bool {
	filename = filepath.Clean(filename)
	for _, pattern := range e.ignoredPaths {
		if ok, _ := filepath.Match(pattern, filename); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(filename)); ok {
			return true
		}
		if strings.HasPrefix(filename, pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Source returns the source text of an analyzed file's program.
func (e *Engine) Source(filename string) (*SourceCode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	src, ok := e.sources[filename]
	return src, ok
}

// Reports returns the reports of every analyzed file, sorted by filename.
func (e *Engine) Reports() []Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	reports := make([]Report, 0, len(e.reports))
	for _, r := range e.reports {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Filename < reports[j].Filename
	})
	return reports
}

// filterNolintIssues filters issues based on nolint comments.
func filterNolintIssues(mgr *nolint.Manager, issues []tt.Issue) []tt.Issue {
	if mgr == nil {
		return issues
	}
	filtered := make([]tt.Issue, 0, len(issues))
	for _, issue := range issues {
		pos := token.Position{
			Filename: issue.Filename,
			Line:     issue.Start.Line,
		}
		if !mgr.IsNolint(pos, issue.Rule) {
			filtered = append(filtered, issue)
		}
	}
	return filtered
}

func sortIssues(issues []tt.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Start.Line != b.Start.Line {
			return a.Start.Line < b.Start.Line
		}
		if a.Start.Column != b.Start.Column {
			return a.Start.Column < b.Start.Column
		}
		return a.Rule < b.Rule
	})
}

// stopTracker remembers the instruction at which the run got cancelled.
// It must run after the interceptors that may cancel.
type stopTracker struct {
	at ir.Instruction
}

func (s *stopTracker) OnInstruction(r *dfa.Runner, inst ir.Instruction, _ *memory.State) {
	if r.IsCancelled() && s.at == nil {
		s.at = inst
	}
}

func (s *stopTracker) OnCondition(r *dfa.Runner, p dfa.Problem, _ value.Value, _ dfa.ThreeState, _ *memory.State) {
	if r.IsCancelled() && s.at == nil {
		s.at = r.Program.At(p.Instruction)
	}
}
