package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckValidGo(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "main.go", []byte("package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"))
	assert.True(t, res.Valid)
	assert.Equal(t, ".go", res.Tool)
	assert.Empty(t, res.Error)
}

func TestCheckInvalidGo(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "main.go", []byte("package main\n\nfunc main() {\n\tprintln(\"hi\"\n"))
	assert.False(t, res.Valid)
	assert.Equal(t, ".go", res.Tool)
	assert.NotEmpty(t, res.Error)
}

func TestCheckInvalidPython(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "app.py", []byte("def f(:\n    return 1\n"))
	assert.False(t, res.Valid)
	assert.Equal(t, ".py", res.Tool)
}

func TestCheckValidPython(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "app.py", []byte("def f(x):\n    return x + 1\n"))
	assert.True(t, res.Valid)
}

func TestCheckUnsupportedExtension(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "README.md", []byte("# anything { goes"))
	assert.True(t, res.Valid, "unsupported languages must pass")
	assert.Equal(t, "none", res.Tool)
}

func TestCheckTypescript(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "index.ts", []byte("const x: number = 1;\n"))
	assert.True(t, res.Valid)
	assert.Equal(t, ".ts", res.Tool)
}

func TestCheckErrorMentionsLine(t *testing.T) {
	c := NewSyntaxChecker()
	res := c.Check(context.Background(), "lib.rs", []byte("fn main() {\n    let x = ;\n}\n"))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "line")
}
