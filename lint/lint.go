package lint

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/gnolang/tdfa/internal"
	"github.com/gnolang/tdfa/internal/analysis/dfa"
	tt "github.com/gnolang/tdfa/internal/types"
)

const maxShowRecentFiles = 25

type LintEngine interface {
	Run(ctx context.Context, filePath string) ([]tt.Issue, error)
	RunSource(ctx context.Context, source []byte) ([]tt.Issue, error)
	IgnoreRule(rule string)
	IgnorePath(path string)
}

// New creates an engine configured from the given configuration file. A
// missing file, or an empty path, gives the default configuration.
func New(logger *zap.Logger, configurationPath string) (*internal.Engine, error) {
	config, err := LoadConfig(configurationPath)
	if err != nil {
		return nil, err
	}
	return config.Engine(logger, configurationPath)
}

// Engine builds the engine a configuration describes. configurationPath,
// when set, invalidates cached reports when the configuration changes.
func (c Config) Engine(logger *zap.Logger, configurationPath string) (*internal.Engine, error) {
	engine := internal.NewEngine(logger, c.Analysis.Options(), c.Rules)
	if c.Interceptor.Enabled {
		engine.SetInterceptor(c.Interceptor.AllowedVariables, c.Interceptor.PureMethods)
	}
	if c.Cache.Enabled {
		var deps []string
		if _, err := os.Stat(configurationPath); err == nil {
			deps = append(deps, configurationPath)
		}
		if err := engine.EnableCache(c.Cache.Dir, c.Cache.MaxAge, deps...); err != nil {
			return nil, fmt.Errorf("error enabling cache: %w", err)
		}
	}
	return engine, nil
}

func ProcessSources(
	ctx context.Context,
	logger *zap.Logger,
	engine LintEngine,
	sources [][]byte,
	processor func(context.Context, LintEngine, []byte) ([]tt.Issue, error),
) ([]tt.Issue, error) {
	var allIssues []tt.Issue
	for i, source := range sources {
		issues, err := processor(ctx, engine, source)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing source", zap.Int("source", i), zap.Error(err))
			}
			return nil, err
		}
		allIssues = append(allIssues, issues...)
	}

	return allIssues, nil
}

func ProcessFiles(
	ctx context.Context,
	logger *zap.Logger,
	engine LintEngine,
	paths []string,
	processor func(context.Context, LintEngine, string) ([]tt.Issue, error),
) ([]tt.Issue, error) {
	var allIssues []tt.Issue
	for _, path := range paths {
		issues, err := ProcessPath(ctx, logger, engine, path, processor)
		allIssues = append(allIssues, issues...)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing path", zap.String("path", path), zap.Error(err))
			}
			return allIssues, err
		}
	}

	return allIssues, nil
}

// ProcessPath analyzes a program file, or every program file under a
// directory. A file that fails does not stop the others; the failures are
// returned combined with the issues of the rest. When ctx ends, the issues
// found so far are returned with ctx's error.
func ProcessPath(
	ctx context.Context,
	logger *zap.Logger,
	engine LintEngine,
	path string,
	processor func(context.Context, LintEngine, string) ([]tt.Issue, error),
) ([]tt.Issue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}

	if !info.IsDir() {
		if !hasDesiredExtension(path) {
			return nil, nil
		}
		return processor(ctx, engine, path)
	}

	files, err := collectFiles(path)
	if err != nil {
		return nil, err
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	var out io.Writer = os.Stdout
	if !interactive {
		out = io.Discard
	}
	recent := newRecentFiles(out, maxShowRecentFiles, interactive)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(path),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))

	var (
		mu     sync.Mutex
		issues []tt.Issue
		errs   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, filePath := range files {
		if gctx.Err() != nil {
			break
		}
		fp := filePath
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recent.add(filepath.Base(fp))

			fileIssues, err := processor(gctx, engine, fp)
			mu.Lock()
			if err != nil {
				logger.Error("Error processing file", zap.String("file", fp), zap.Error(err))
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", fp))
			} else {
				issues = append(issues, fileIssues...)
			}
			mu.Unlock()
			_ = bar.Add(1)
			return nil
		})
	}
	waitErr := g.Wait()
	fmt.Fprintln(out)

	if err := ctx.Err(); err != nil {
		return issues, err
	}
	if waitErr != nil {
		return issues, waitErr
	}
	return issues, errs
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && hasDesiredExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", root, err)
	}
	return files, nil
}

// recentFiles shows the names of the last files picked up by workers
// above the progress bar.
type recentFiles struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	names   []string
}

func newRecentFiles(w io.Writer, n int, enabled bool) *recentFiles {
	r := &recentFiles{w: w, enabled: enabled, names: make([]string, n)}
	if enabled {
		// make space for recent files
		fmt.Fprint(w, strings.Repeat("\n", n+1))
		fmt.Fprintf(w, "\033[%dA", n+1)
	}
	return r
}

func (r *recentFiles) add(filename string) {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	copy(r.names[1:], r.names[:len(r.names)-1])
	r.names[0] = filename

	// move the cursor up
	fmt.Fprintf(r.w, "\033[%dA", len(r.names))

	for _, name := range r.names {
		// \033[2K: clear the line
		// \r: move the cursor to the beginning of the line
		fmt.Fprintf(r.w, "\033[2K\r%s\n", name)
	}
}

func ProcessFile(ctx context.Context, engine LintEngine, filePath string) ([]tt.Issue, error) {
	return engine.Run(ctx, filePath)
}

func ProcessSource(ctx context.Context, engine LintEngine, source []byte) ([]tt.Issue, error) {
	return engine.RunSource(ctx, source)
}

var desiredExtensions = []string{".dfa.yaml", ".dfa.yml"}

func hasDesiredExtension(path string) bool {
	for _, ext := range desiredExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Config represents the overall configuration of the tool.
type Config struct {
	Name        string                   `yaml:"name"`
	Analysis    AnalysisConfig           `yaml:"analysis"`
	Interceptor InterceptorConfig        `yaml:"interceptor"`
	Cache       CacheConfig              `yaml:"cache"`
	Rules       map[string]tt.ConfigRule `yaml:"rules"`
}

// AnalysisConfig bounds each analysis run.
type AnalysisConfig struct {
	StepLimit           int           `yaml:"step_limit"`
	ForceMergeThreshold int           `yaml:"force_merge_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
}

func (c AnalysisConfig) Options() dfa.Options {
	opts := dfa.DefaultOptions()
	opts.StepLimit = c.StepLimit
	opts.ForceMergeThreshold = c.ForceMergeThreshold
	opts.Timeout = c.Timeout
	return opts
}

// InterceptorConfig enables stopping each run at its first possible side
// effect.
type InterceptorConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedVariables []string `yaml:"allowed_variables,omitempty"`
	PureMethods      []string `yaml:"pure_methods,omitempty"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	MaxAge  time.Duration `yaml:"max_age"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Name: "tdfa",
		Analysis: AnalysisConfig{
			StepLimit:           dfa.DefaultStepLimit,
			ForceMergeThreshold: dfa.DefaultForceMergeThreshold,
		},
		Cache: CacheConfig{
			Dir:    ".tdfa-cache",
			MaxAge: internal.DefaultCacheMaxAge,
		},
		Rules: internal.DefaultRules(),
	}
}

// LoadConfig reads a configuration file over the defaults. Keys absent
// from the file keep their default value.
func LoadConfig(configurationPath string) (Config, error) {
	config := DefaultConfig()
	if configurationPath == "" {
		return config, nil
	}

	f, err := os.Open(configurationPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("error opening configuration: %w", err)
	}
	defer f.Close()

	rules := config.Rules
	config.Rules = nil
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return config, fmt.Errorf("error parsing configuration %s: %w", configurationPath, err)
	}
	for name, rule := range config.Rules {
		rules[name] = rule
	}
	config.Rules = rules

	return config, nil
}

// WriteConfig writes config as YAML to path.
func WriteConfig(path string, config Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error marshaling configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing configuration: %w", err)
	}
	return nil
}
