package scan

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"yaver/internal/logging"
)

// Finding is one issue flagged by a scanner. Findings are advisory:
// they are attached to the task log, never used to reject a change.
type Finding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Scanner string `json:"scanner"`
	Message string `json:"message"`
}

// Scanner inspects one file's content.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, path string, content []byte) []Finding
}

// Set runs a group of scanners concurrently over a file set.
type Set struct {
	scanners []Scanner
}

// NewSet builds the default scanner set.
func NewSet() *Set {
	return &Set{scanners: []Scanner{
		&ComplexityScanner{MaxFunctionLines: 80, MaxLineLength: 160},
		&SecurityScanner{},
		&LintScanner{},
	}}
}

// Run scans every file with every scanner, fanning out per file.
// Findings come back sorted by file then line.
func (s *Set) Run(ctx context.Context, files map[string][]byte) ([]Finding, error) {
	var mu sync.Mutex
	var all []Finding

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for path, content := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var found []Finding
			for _, sc := range s.scanners {
				found = append(found, sc.Scan(ctx, path, content)...)
			}
			if len(found) > 0 {
				mu.Lock()
				all = append(all, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].File != all[j].File {
			return all[i].File < all[j].File
		}
		return all[i].Line < all[j].Line
	})
	logging.Scan("scanned %d files, %d findings", len(files), len(all))
	return all, nil
}

// ComplexityScanner flags oversized functions and overlong lines.
type ComplexityScanner struct {
	MaxFunctionLines int
	MaxLineLength    int
}

func (c *ComplexityScanner) Name() string { return "complexity" }

var functionStart = regexp.MustCompile(`^\s*(func |def |fn |function )`)

func (c *ComplexityScanner) Scan(_ context.Context, path string, content []byte) []Finding {
	var findings []Finding
	lines := strings.Split(string(content), "\n")

	funcLine := -1
	for i, line := range lines {
		if c.MaxLineLength > 0 && len(line) > c.MaxLineLength {
			findings = append(findings, Finding{
				File: path, Line: i + 1, Scanner: c.Name(),
				Message: fmt.Sprintf("line exceeds %d characters", c.MaxLineLength),
			})
		}
		if functionStart.MatchString(line) {
			if funcLine >= 0 && i-funcLine > c.MaxFunctionLines {
				findings = append(findings, Finding{
					File: path, Line: funcLine + 1, Scanner: c.Name(),
					Message: fmt.Sprintf("function spans %d lines", i-funcLine),
				})
			}
			funcLine = i
		}
	}
	if funcLine >= 0 && len(lines)-funcLine > c.MaxFunctionLines {
		findings = append(findings, Finding{
			File: path, Line: funcLine + 1, Scanner: c.Name(),
			Message: fmt.Sprintf("function spans %d lines", len(lines)-funcLine),
		})
	}
	return findings
}

// SecurityScanner flags likely hardcoded credentials and shell
// injection patterns in generated code.
type SecurityScanner struct{}

func (s *SecurityScanner) Name() string { return "security" }

var securityPatterns = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*["'][A-Za-z0-9+/_\-]{12,}["']`), "possible hardcoded credential"},
	{regexp.MustCompile(`(?i)\bAKIA[0-9A-Z]{16}\b`), "possible AWS access key"},
	{regexp.MustCompile(`os\.system\s*\(.*[+%]`), "shell command built from string concatenation"},
	{regexp.MustCompile(`subprocess\.\w+\(.*shell\s*=\s*True`), "subprocess invoked with shell=True"},
}

func (s *SecurityScanner) Scan(_ context.Context, path string, content []byte) []Finding {
	var findings []Finding
	for i, line := range strings.Split(string(content), "\n") {
		for _, p := range securityPatterns {
			if p.re.MatchString(line) {
				findings = append(findings, Finding{
					File: path, Line: i + 1, Scanner: s.Name(), Message: p.msg,
				})
			}
		}
	}
	return findings
}

// LintScanner flags leftover debugging artifacts generated code tends
// to carry.
type LintScanner struct{}

func (l *LintScanner) Name() string { return "lint" }

var lintPatterns = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`\s+$`), "trailing whitespace"},
	{regexp.MustCompile(`(?i)^\s*(//|#)\s*(TODO|FIXME|XXX)\b`), "unresolved TODO marker"},
	{regexp.MustCompile(`\b(console\.log|fmt\.Println|print)\s*\(\s*["']debug`), "leftover debug print"},
}

func (l *LintScanner) Scan(_ context.Context, path string, content []byte) []Finding {
	var findings []Finding
	for i, line := range strings.Split(string(content), "\n") {
		for _, p := range lintPatterns {
			if p.re.MatchString(line) {
				findings = append(findings, Finding{
					File: path, Line: i + 1, Scanner: l.Name(), Message: p.msg,
				})
			}
		}
	}
	return findings
}
