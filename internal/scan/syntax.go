// Package scan validates and inspects code the generator produced
// before it is committed. The syntax checker parses with tree-sitter
// and reports the first error node; the heuristic scanners flag
// complexity and risk markers for the task log.
package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"yaver/internal/logging"
)

// SyntaxResult reports the outcome of a syntax check. Unsupported
// languages are reported Valid with Tool "none"; only a positive parse
// failure may trigger repair.
type SyntaxResult struct {
	Valid bool
	Error string // First syntax error, empty when valid
	Tool  string // Language grammar used, "none" if unsupported
}

// SyntaxChecker parses source files with tree-sitter grammars.
type SyntaxChecker struct {
	languages map[string]*sitter.Language
}

// NewSyntaxChecker creates a checker for the supported grammars.
func NewSyntaxChecker() *SyntaxChecker {
	return &SyntaxChecker{
		languages: map[string]*sitter.Language{
			".go":  golang.GetLanguage(),
			".py":  python.GetLanguage(),
			".js":  javascript.GetLanguage(),
			".jsx": javascript.GetLanguage(),
			".ts":  typescript.GetLanguage(),
			".tsx": typescript.GetLanguage(),
			".rs":  rust.GetLanguage(),
		},
	}
}

// Check parses content as the language implied by path's extension.
func (c *SyntaxChecker) Check(ctx context.Context, path string, content []byte) SyntaxResult {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := c.languages[ext]
	if !ok {
		return SyntaxResult{Valid: true, Tool: "none"}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return SyntaxResult{Valid: false, Error: fmt.Sprintf("parse failed: %v", err), Tool: ext}
	}
	defer tree.Close()

	if errNode := firstErrorNode(tree.RootNode()); errNode != nil {
		msg := describeError(errNode, content)
		logging.Scan("syntax error in %s: %s", path, msg)
		return SyntaxResult{Valid: false, Error: msg, Tool: ext}
	}
	return SyntaxResult{Valid: true, Tool: ext}
}

// firstErrorNode walks the tree for the first ERROR or MISSING node.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func describeError(n *sitter.Node, content []byte) string {
	line := n.StartPoint().Row + 1
	col := n.StartPoint().Column + 1
	snippet := nodeText(n, content)
	if len(snippet) > 40 {
		snippet = snippet[:40] + "..."
	}
	kind := "syntax error"
	if n.IsMissing() {
		kind = fmt.Sprintf("missing %s", n.Type())
	}
	if snippet == "" {
		return fmt.Sprintf("%s at line %d:%d", kind, line, col)
	}
	return fmt.Sprintf("%s at line %d:%d near %q", kind, line, col, snippet)
}

func nodeText(n *sitter.Node, content []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if int(end) > len(content) {
		end = uint32(len(content))
	}
	if start >= end {
		return ""
	}
	return string(content[start:end])
}
