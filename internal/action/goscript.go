package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// GoScriptRunner evaluates .go scripts in an embedded interpreter instead of
// shelling out to the toolchain. Only a vetted subset of the stdlib is
// importable; os, os/exec, net and friends stay out of reach.
type GoScriptRunner struct {
	allowed map[string]bool
}

// NewGoScriptRunner builds a runner with the default import allowlist.
func NewGoScriptRunner() *GoScriptRunner {
	return &GoScriptRunner{
		allowed: map[string]bool{
			"bytes":           true,
			"encoding/base64": true,
			"encoding/json":   true,
			"errors":          true,
			"fmt":             true,
			"math":            true,
			"math/rand":       true,
			"path":            true,
			"path/filepath":   true,
			"regexp":          true,
			"sort":            true,
			"strconv":         true,
			"strings":         true,
			"time":            true,
			"unicode":         true,
		},
	}
}

// RunFile loads and evaluates a script file.
func (g *GoScriptRunner) RunFile(ctx context.Context, path string) (Output, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindNotFound, "run_script", err)
	}
	return g.Run(ctx, string(src))
}

// Run evaluates Go source. Scripts with a main package get main() invoked;
// bare statements evaluate directly.
func (g *GoScriptRunner) Run(ctx context.Context, src string) (Output, error) {
	if err := g.checkImports(src); err != nil {
		return Output{}, err
	}

	var stdout, stderr bytes.Buffer
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "load interpreter symbols", err)
	}

	type evalResult struct{ err error }
	done := make(chan evalResult, 1)
	go func() {
		if _, err := i.Eval(src); err != nil {
			done <- evalResult{err: err}
			return
		}
		if strings.Contains(src, "package main") && strings.Contains(src, "func main(") {
			_, err := i.Eval("main.main()")
			done <- evalResult{err: err}
			return
		}
		done <- evalResult{}
	}()

	select {
	case res := <-done:
		out := Output{Text: combineOutput(stdout.String(), stderr.String())}
		if res.err != nil {
			return out, nexuserr.Wrap(nexuserr.KindInternal, "script evaluation failed", res.err)
		}
		out.Objective = objective(true)
		return out, nil
	case <-ctx.Done():
		// The interpreter goroutine is abandoned; nothing it touches escapes
		// beyond its own buffers.
		if ctx.Err() == context.DeadlineExceeded {
			return Output{}, nexuserr.New(nexuserr.KindTimeout, "script evaluation timed out")
		}
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "script evaluation canceled", ctx.Err())
	}
}

func (g *GoScriptRunner) checkImports(src string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			if pkg := importPath(trimmed); pkg != "" && !g.allowed[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			rest := strings.TrimPrefix(trimmed, "import ")
			if pkg := importPath(rest); pkg != "" && !g.allowed[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return nexuserr.New(nexuserr.KindPolicyDenied, fmt.Sprintf("script imports not allowed: %s", strings.Join(forbidden, ", ")))
	}
	return nil
}

// importPath extracts the quoted path from an import line, dropping any alias.
func importPath(line string) string {
	start := strings.Index(line, `"`)
	if start == -1 {
		return ""
	}
	end := strings.Index(line[start+1:], `"`)
	if end == -1 {
		return ""
	}
	return line[start+1 : start+1+end]
}
