// Package codeintel produces structural reports for source files. Go files
// go through the stdlib AST; Python and JavaScript go through tree-sitter.
package codeintel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

const maxSourceBytes = 1 << 20

// longFunctionLines flags functions that likely need splitting.
const longFunctionLines = 80

// Symbol is one named declaration in a source file.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Exported  bool   `json:"exported,omitempty"`
	Parent    string `json:"parent,omitempty"`
}

// Report is the analysis result for one file.
type Report struct {
	Path          string   `json:"path"`
	Language      string   `json:"language"`
	Lines         int      `json:"lines"`
	Bytes         int      `json:"bytes"`
	Functions     []Symbol `json:"functions"`
	Types         []Symbol `json:"types"`
	Imports       []string `json:"imports"`
	LongFunctions []string `json:"long_functions,omitempty"`
}

// Summary renders a short human-readable digest.
func (r Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s): %d lines, %d functions, %d types, %d imports",
		filepath.Base(r.Path), r.Language, r.Lines, len(r.Functions), len(r.Types), len(r.Imports))
	if len(r.LongFunctions) > 0 {
		fmt.Fprintf(&sb, "; long functions: %s", strings.Join(r.LongFunctions, ", "))
	}
	return sb.String()
}

// Analyzer dispatches files to per-language parsers.
type Analyzer struct {
	scripts *scriptParser
	log     *zap.Logger
}

// New builds an analyzer. The tree-sitter parsers initialize lazily on the
// first Python or JavaScript file.
func New(log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{scripts: newScriptParser(), log: log}
}

// AnalyzeFile reads and analyzes one source file.
func (a *Analyzer) AnalyzeFile(path string) (Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, nexuserr.Wrap(nexuserr.KindNotFound, "analyze", err)
	}
	if info.IsDir() {
		return Report{}, nexuserr.Newf(nexuserr.KindValidation, "analyze: %s is a directory", path)
	}
	if info.Size() > maxSourceBytes {
		return Report{}, nexuserr.Newf(nexuserr.KindValidation, "analyze: %s is %d bytes, over the %d byte limit", path, info.Size(), maxSourceBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Report{}, nexuserr.Wrap(nexuserr.KindInternal, "analyze read", err)
	}
	return a.Analyze(path, content)
}

// Analyze inspects source content by extension.
func (a *Analyzer) Analyze(path string, content []byte) (Report, error) {
	base := Report{
		Path:  path,
		Lines: countLines(content),
		Bytes: len(content),
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return analyzeGo(base, content)
	case ".py", ".pyw":
		return a.scripts.analyzePython(base, content)
	case ".js", ".jsx", ".mjs":
		return a.scripts.analyzeJavaScript(base, content)
	default:
		base.Language = "text"
		return base, nil
	}
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	if content[len(content)-1] == '\n' {
		n--
	}
	return n
}

func flagLongFunctions(r *Report) {
	for _, fn := range r.Functions {
		if fn.EndLine-fn.StartLine+1 > longFunctionLines {
			r.LongFunctions = append(r.LongFunctions, fn.Name)
		}
	}
}
