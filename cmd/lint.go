package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/tdfa/formatter"
	"github.com/gnolang/tdfa/internal"
	tt "github.com/gnolang/tdfa/internal/types"
	"github.com/gnolang/tdfa/lint"
)

var (
	ignoreRules    string
	ignorePaths    string
	lintJsonOutput bool
	outPath        string
	showSummary    bool
)

var lintCmd = &cobra.Command{
	Use:   "lint [paths...]",
	Short: "Analyze program files and report issues",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Println("error: Please provide file or directory paths")
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		engine, err := lint.New(logger, cfgFile)
		if err != nil {
			logger.Fatal("Failed to initialize lint engine", zap.Error(err))
		}

		for _, rule := range splitList(ignoreRules) {
			engine.IgnoreRule(rule)
		}
		for _, path := range splitList(ignorePaths) {
			engine.IgnorePath(path)
		}

		if !runNormalLintProcess(ctx, logger, engine, args, os.Stdout) {
			os.Exit(1)
		}
	},
}

func init() {
	lintCmd.Flags().StringVar(&ignoreRules, "ignore", "", "Comma-separated list of lint rules to ignore")
	lintCmd.Flags().StringVar(&ignorePaths, "ignore-paths", "", "Comma-separated list of paths to ignore")
	lintCmd.Flags().BoolVar(&lintJsonOutput, "json", false, "Output issues in JSON format")
	lintCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output path (when using JSON)")
	lintCmd.Flags().BoolVar(&showSummary, "summary", false, "Print a table of analysis statistics per program")
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// runNormalLintProcess reports whether the run was clean: no errors and no
// issues.
func runNormalLintProcess(ctx context.Context, logger *zap.Logger, engine *internal.Engine, paths []string, w io.Writer) bool {
	issues, err := lint.ProcessFiles(ctx, logger, engine, paths, lint.ProcessFile)
	if err != nil {
		logger.Error("Error processing files", zap.Error(err))
	}

	if lintJsonOutput {
		if err := printJSON(w, issues, outPath); err != nil {
			logger.Error("Error writing JSON output", zap.Error(err))
			return false
		}
	} else {
		printIssues(w, engine, issues)
	}

	if showSummary {
		formatter.WriteSummary(w, engine.Reports())
	}

	return err == nil && len(issues) == 0
}

func groupByFile(issues []tt.Issue) (map[string][]tt.Issue, []string) {
	issuesByFile := make(map[string][]tt.Issue)
	for _, issue := range issues {
		issuesByFile[issue.Filename] = append(issuesByFile[issue.Filename], issue)
	}

	sortedFiles := make([]string, 0, len(issuesByFile))
	for filename := range issuesByFile {
		sortedFiles = append(sortedFiles, filename)
	}
	sort.Strings(sortedFiles)
	return issuesByFile, sortedFiles
}

func printIssues(w io.Writer, engine *internal.Engine, issues []tt.Issue) {
	issuesByFile, sortedFiles := groupByFile(issues)
	for _, filename := range sortedFiles {
		// programs without embedded source print without snippets
		source, _ := engine.Source(filename)
		fmt.Fprint(w, formatter.GenerateFormattedIssue(issuesByFile[filename], source))
	}
}

func printJSON(w io.Writer, issues []tt.Issue, jsonOutput string) error {
	issuesByFile, _ := groupByFile(issues)
	d, err := json.Marshal(issuesByFile)
	if err != nil {
		return fmt.Errorf("error marshalling issues to JSON: %w", err)
	}
	if jsonOutput == "" {
		_, err = fmt.Fprintln(w, string(d))
		return err
	}
	if err := os.WriteFile(jsonOutput, d, 0o644); err != nil {
		return fmt.Errorf("error writing JSON output file: %w", err)
	}
	return nil
}
