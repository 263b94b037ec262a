// Package build inspects the working repository so task prompts can
// mention how the project is built and tested. Detection is by marker
// file only; nothing here runs a build.
package build

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"yaver/internal/logging"
)

// System identifies a build/test toolchain.
type System string

const (
	SystemGo      System = "go"
	SystemNode    System = "node"
	SystemPython  System = "python"
	SystemRust    System = "rust"
	SystemMake    System = "make"
	SystemUnknown System = "unknown"
)

// markerFiles maps marker files to the system they indicate, in
// detection priority order.
var markers = []struct {
	file   string
	system System
}{
	{"go.mod", SystemGo},
	{"Cargo.toml", SystemRust},
	{"package.json", SystemNode},
	{"pyproject.toml", SystemPython},
	{"setup.py", SystemPython},
	{"requirements.txt", SystemPython},
	{"Makefile", SystemMake},
}

// Detect returns the build systems present in workDir, primary first.
func Detect(workDir string) []System {
	var found []System
	seen := make(map[System]bool)
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(workDir, m.file)); err == nil && !seen[m.system] {
			found = append(found, m.system)
			seen[m.system] = true
		}
	}
	if len(found) == 0 {
		found = append(found, SystemUnknown)
	}
	logging.Get(logging.CategoryBuild).Debug("detected build systems: %v", found)
	return found
}

// Architecture tags the repository's overall shape from its primary
// build system and top-level layout. The tag goes into task prompts so
// the generator places new code where the project expects it.
func Architecture(workDir string, systems []System) string {
	if len(systems) == 0 {
		return ""
	}
	hasDir := func(name string) bool {
		info, err := os.Stat(filepath.Join(workDir, name))
		return err == nil && info.IsDir()
	}
	hasFile := func(name string) bool {
		info, err := os.Stat(filepath.Join(workDir, name))
		return err == nil && !info.IsDir()
	}
	switch systems[0] {
	case SystemGo:
		switch {
		case hasDir("cmd") && hasDir("internal"):
			return "Go application with cmd/ entrypoints and internal/ packages"
		case hasDir("cmd"):
			return "Go application with cmd/ entrypoints"
		case hasFile("main.go"):
			return "Go application with a root main package"
		default:
			return "Go library"
		}
	case SystemRust:
		if hasFile(filepath.Join("src", "main.rs")) {
			return "Rust binary crate"
		}
		return "Rust library crate"
	case SystemNode:
		if hasDir("src") {
			return "Node.js project with a src/ layout"
		}
		return "Node.js project"
	case SystemPython:
		if hasDir("src") {
			return "Python project with a src/ layout"
		}
		return "Python project"
	case SystemMake:
		return "Make-driven project"
	}
	return ""
}

// Hints returns short build/test command hints for a file, based on its
// extension and the detected systems. Used verbatim in task prompts.
func Hints(path string, systems []System) []string {
	ext := strings.ToLower(filepath.Ext(path))
	var hints []string
	for _, s := range systems {
		switch s {
		case SystemGo:
			if ext == ".go" {
				hints = append(hints, "go build ./...", "go test ./...")
			}
		case SystemRust:
			if ext == ".rs" {
				hints = append(hints, "cargo check", "cargo test")
			}
		case SystemNode:
			if ext == ".js" || ext == ".jsx" || ext == ".ts" || ext == ".tsx" {
				hints = append(hints, "npm test")
			}
		case SystemPython:
			if ext == ".py" {
				hints = append(hints, "python -m pytest")
			}
		case SystemMake:
			hints = append(hints, "make")
		}
	}
	return hints
}

// Stats summarizes the repository for the planner prompt.
type Stats struct {
	TotalFiles int
	TotalLines int
	Languages  map[string]int // Extension -> file count
}

// skipDirs are directories never counted.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "venv": true,
	"dist": true, "build": true, "target": true, ".yaver": true,
}

var sourceExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".rs": true, ".java": true, ".rb": true, ".c": true,
	".h": true, ".cpp": true, ".sh": true,
}

// CollectStats walks the repo counting source files and lines.
func CollectStats(workDir string) (*Stats, error) {
	stats := &Stats{Languages: make(map[string]int)}
	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !sourceExts[ext] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // Unreadable files are skipped, not fatal
		}
		stats.TotalFiles++
		stats.TotalLines += strings.Count(string(data), "\n")
		stats.Languages[ext]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk repo: %w", err)
	}
	return stats, nil
}

// Summary renders stats as a one-line description for prompts.
func (s *Stats) Summary() string {
	if s.TotalFiles == 0 {
		return "empty repository"
	}
	exts := make([]string, 0, len(s.Languages))
	for ext := range s.Languages {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		if s.Languages[exts[i]] != s.Languages[exts[j]] {
			return s.Languages[exts[i]] > s.Languages[exts[j]]
		}
		return exts[i] < exts[j]
	})
	parts := make([]string, len(exts))
	for i, ext := range exts {
		parts[i] = fmt.Sprintf("%s x%d", ext, s.Languages[ext])
	}
	return fmt.Sprintf("%d source files, %d lines (%s)", s.TotalFiles, s.TotalLines, strings.Join(parts, ", "))
}
