package codeintel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSample = `package sample

import (
	"fmt"
	"strings"
)

type Greeter struct{ name string }

type Speaker interface{ Speak() string }

func NewGreeter(name string) *Greeter { return &Greeter{name: name} }

func (g *Greeter) Speak() string {
	return fmt.Sprintf("hello %s", strings.ToUpper(g.name))
}

func helper() int { return 42 }
`

func TestAnalyzeGoSource(t *testing.T) {
	a := New(nil)
	rep, err := a.Analyze("sample.go", []byte(goSample))
	require.NoError(t, err)

	assert.Equal(t, "go", rep.Language)
	assert.ElementsMatch(t, []string{"fmt", "strings"}, rep.Imports)

	names := map[string]Symbol{}
	for _, fn := range rep.Functions {
		names[fn.Name] = fn
	}
	require.Contains(t, names, "NewGreeter")
	require.Contains(t, names, "Speak")
	require.Contains(t, names, "helper")
	assert.True(t, names["NewGreeter"].Exported)
	assert.False(t, names["helper"].Exported)
	assert.Equal(t, "method", names["Speak"].Kind)
	assert.Equal(t, "Greeter", names["Speak"].Parent)

	kinds := map[string]string{}
	for _, ty := range rep.Types {
		kinds[ty.Name] = ty.Kind
	}
	assert.Equal(t, "struct", kinds["Greeter"])
	assert.Equal(t, "interface", kinds["Speaker"])
}

func TestAnalyzeGoParseError(t *testing.T) {
	a := New(nil)
	_, err := a.Analyze("broken.go", []byte("package sample\nfunc {"))
	require.Error(t, err)
}

const pySample = `import os
from json import dumps

class Worker:
    def run(self):
        return 1

    @staticmethod
    def helper():
        return 2

def main():
    return Worker().run()
`

func TestAnalyzePythonSource(t *testing.T) {
	a := New(nil)
	rep, err := a.Analyze("worker.py", []byte(pySample))
	require.NoError(t, err)

	assert.Equal(t, "python", rep.Language)
	require.Len(t, rep.Types, 1)
	assert.Equal(t, "Worker", rep.Types[0].Name)
	assert.Equal(t, "class", rep.Types[0].Kind)

	byName := map[string]Symbol{}
	for _, fn := range rep.Functions {
		byName[fn.Name] = fn
	}
	require.Contains(t, byName, "run")
	require.Contains(t, byName, "helper")
	require.Contains(t, byName, "main")
	assert.Equal(t, "method", byName["run"].Kind)
	assert.Equal(t, "Worker", byName["run"].Parent)
	assert.Equal(t, "func", byName["main"].Kind)
	assert.Len(t, rep.Imports, 2)
}

const jsSample = `import fs from "fs";

class Queue {
  push(item) { return item; }
}

function drain(q) { return q; }

const peek = (q) => q[0];
`

func TestAnalyzeJavaScriptSource(t *testing.T) {
	a := New(nil)
	rep, err := a.Analyze("queue.js", []byte(jsSample))
	require.NoError(t, err)

	assert.Equal(t, "javascript", rep.Language)
	require.Len(t, rep.Types, 1)
	assert.Equal(t, "Queue", rep.Types[0].Name)

	byName := map[string]Symbol{}
	for _, fn := range rep.Functions {
		byName[fn.Name] = fn
	}
	require.Contains(t, byName, "push")
	require.Contains(t, byName, "drain")
	require.Contains(t, byName, "peek")
	assert.Equal(t, "Queue", byName["push"].Parent)
}

func TestAnalyzeTextFallback(t *testing.T) {
	a := New(nil)
	rep, err := a.Analyze("notes.txt", []byte("one\ntwo\nthree"))
	require.NoError(t, err)
	assert.Equal(t, "text", rep.Language)
	assert.Equal(t, 3, rep.Lines)
	assert.Empty(t, rep.Functions)
}

func TestAnalyzeFlagsLongFunctions(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("package sample\n\nfunc long() {\n")
	for i := 0; i < 100; i++ {
		sb.WriteString("\t_ = 1\n")
	}
	sb.WriteString("}\n")

	a := New(nil)
	rep, err := a.Analyze("long.go", []byte(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, rep.LongFunctions)
}

func TestAnalyzeFileMissing(t *testing.T) {
	a := New(nil)
	_, err := a.AnalyzeFile(filepath.Join(t.TempDir(), "nope.go"))
	require.Error(t, err)
}

func TestAnalyzeFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.go")
	require.NoError(t, os.WriteFile(path, []byte(goSample), 0o644))

	a := New(nil)
	rep, err := a.AnalyzeFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, rep.Path)
	assert.NotEmpty(t, rep.Summary())
}
