// Package internal connects the abstract interpreter to the reporting side
// of the tool.
//
// Key components:
//
// Engine: loads a program file, runs the dataflow analysis on it and turns
// the result into issues. It owns the rule set, the ignored rules and paths,
// the optional side-effect interceptor and the optional report cache.
//
// LintRule: an interface that reads the result of one analysis run
// (verdicts, stop reason, statistics) and reports issues.
//
// Cache: keeps reports across invocations, keyed by program file and
// invalidated when the file, a dependency file or the entry's age says so.
//
// SourceCode: the source text a program was built from, used to position
// and render issues.
//
// Usage:
//
//	engine := internal.NewEngine(logger, dfa.DefaultOptions(), config.Rules)
//	issues, err := engine.Run(ctx, "path/to/prog.dfa.yaml")
//	if err != nil {
//	    // handle error
//	}
//	for _, issue := range issues {
//	    fmt.Printf("%s: %s\n", issue.Start, issue.Message)
//	}
package internal
