package codeintel

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// scriptParser holds the tree-sitter parsers for non-Go languages. Parsers
// are not safe for concurrent use, so all parsing happens under the lock.
type scriptParser struct {
	mu       sync.Mutex
	pyParser *sitter.Parser
	jsParser *sitter.Parser
}

func newScriptParser() *scriptParser {
	return &scriptParser{}
}

func (sp *scriptParser) analyzePython(base Report, content []byte) (Report, error) {
	base.Language = "python"
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.pyParser == nil {
		sp.pyParser = sitter.NewParser()
		sp.pyParser.SetLanguage(python.GetLanguage())
	}
	tree, err := sp.pyParser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return Report{}, nexuserr.Wrap(nexuserr.KindValidation, "analyze: python parse", err)
	}
	defer tree.Close()

	walkPython(tree.RootNode(), content, "", &base)
	flagLongFunctions(&base)
	return base, nil
}

func walkPython(node *sitter.Node, content []byte, parent string, r *Report) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			name := fieldText(child, "name", content)
			r.Types = append(r.Types, Symbol{
				Name:      name,
				Kind:      "class",
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
			})
			if body := child.ChildByFieldName("body"); body != nil {
				walkPython(body, content, name, r)
			}
		case "function_definition":
			r.Functions = append(r.Functions, pythonFunc(child, content, parent))
		case "decorated_definition":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				inner := child.NamedChild(j)
				if inner.Type() == "function_definition" {
					fn := pythonFunc(inner, content, parent)
					fn.StartLine = int(child.StartPoint().Row) + 1
					r.Functions = append(r.Functions, fn)
				}
			}
		case "import_statement", "import_from_statement":
			text := string(content[child.StartByte():child.EndByte()])
			if first := strings.SplitN(text, "\n", 2)[0]; first != "" {
				r.Imports = append(r.Imports, first)
			}
		}
	}
}

func pythonFunc(node *sitter.Node, content []byte, parent string) Symbol {
	kind := "func"
	if parent != "" {
		kind = "method"
	}
	return Symbol{
		Name:      fieldText(node, "name", content),
		Kind:      kind,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Parent:    parent,
	}
}

func (sp *scriptParser) analyzeJavaScript(base Report, content []byte) (Report, error) {
	base.Language = "javascript"
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.jsParser == nil {
		sp.jsParser = sitter.NewParser()
		sp.jsParser.SetLanguage(javascript.GetLanguage())
	}
	tree, err := sp.jsParser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return Report{}, nexuserr.Wrap(nexuserr.KindValidation, "analyze: javascript parse", err)
	}
	defer tree.Close()

	walkJavaScript(tree.RootNode(), content, "", &base)
	flagLongFunctions(&base)
	return base, nil
}

func walkJavaScript(node *sitter.Node, content []byte, parent string, r *Report) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_declaration":
			name := fieldText(child, "name", content)
			r.Types = append(r.Types, Symbol{
				Name:      name,
				Kind:      "class",
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
			})
			if body := child.ChildByFieldName("body"); body != nil {
				walkJavaScript(body, content, name, r)
			}
		case "function_declaration", "generator_function_declaration":
			r.Functions = append(r.Functions, Symbol{
				Name:      fieldText(child, "name", content),
				Kind:      "func",
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
			})
		case "method_definition":
			r.Functions = append(r.Functions, Symbol{
				Name:      fieldText(child, "name", content),
				Kind:      "method",
				StartLine: int(child.StartPoint().Row) + 1,
				EndLine:   int(child.EndPoint().Row) + 1,
				Parent:    parent,
			})
		case "lexical_declaration", "variable_declaration":
			// const f = () => {} style definitions
			for j := 0; j < int(child.NamedChildCount()); j++ {
				decl := child.NamedChild(j)
				if decl.Type() != "variable_declarator" {
					continue
				}
				value := decl.ChildByFieldName("value")
				if value == nil {
					continue
				}
				if value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function" {
					r.Functions = append(r.Functions, Symbol{
						Name:      fieldText(decl, "name", content),
						Kind:      "func",
						StartLine: int(child.StartPoint().Row) + 1,
						EndLine:   int(child.EndPoint().Row) + 1,
					})
				}
			}
		case "import_statement":
			text := string(content[child.StartByte():child.EndByte()])
			r.Imports = append(r.Imports, strings.TrimSpace(text))
		default:
			walkJavaScript(child, content, parent, r)
		}
	}
}

func fieldText(node *sitter.Node, field string, content []byte) string {
	n := node.ChildByFieldName(field)
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}
