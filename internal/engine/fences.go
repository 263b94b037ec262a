package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileBlock is one fenced code block the generator addressed to a file.
type FileBlock struct {
	Path    string
	Content string
}

// fenceRe matches ```lang:path\n...``` blocks. The language tag is
// optional, the :path suffix carries the target file.
var fenceRe = regexp.MustCompile("(?s)```(?:\\w+)?(?::([^\\n]+))?\\n(.*?)```")

// ExtractFileBlocks pulls all file-addressed code blocks out of a
// generator response. Blocks without a usable path are dropped: prose
// fences, shell transcripts and blocks whose "path" is clearly not a
// file cannot be written anywhere.
func ExtractFileBlocks(workDir, response string) []FileBlock {
	var blocks []FileBlock
	for _, m := range fenceRe.FindAllStringSubmatch(response, -1) {
		path := strings.TrimSpace(m[1])
		if !plausiblePath(workDir, path) {
			continue
		}
		content := m[2]
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		blocks = append(blocks, FileBlock{Path: path, Content: content})
	}
	return blocks
}

// ExtractFirstBlock returns the first fenced block's body regardless of
// path, for prompts that request exactly one file back.
func ExtractFirstBlock(response string) (string, bool) {
	m := fenceRe.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	content := m[2]
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content, true
}

// plausiblePath rejects strings that cannot be a writable file path:
// empty or current-dir markers, anything with whitespace or call/assign
// syntax leaked from prose, directory-shaped paths, and paths that are
// an existing directory in the worktree.
func plausiblePath(workDir, path string) bool {
	switch path {
	case "", ".", "./":
		return false
	}
	if strings.ContainsAny(path, " \t") {
		return false
	}
	if strings.ContainsAny(path, "(=") {
		return false
	}
	if strings.HasSuffix(path, "/") {
		return false
	}
	if info, err := os.Stat(filepath.Join(workDir, path)); err == nil && info.IsDir() {
		return false
	}
	return true
}
