package codeintel

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

// analyzeGo parses Go source with the stdlib AST. Parse errors are reported
// rather than tolerated; a Go file that does not parse is worth flagging.
func analyzeGo(base Report, content []byte) (Report, error) {
	base.Language = "go"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, base.Path, content, parser.ParseComments)
	if err != nil {
		return Report{}, nexuserr.Wrap(nexuserr.KindValidation, "analyze: go parse", err)
	}

	for _, imp := range file.Imports {
		if path, err := strconv.Unquote(imp.Path.Value); err == nil {
			base.Imports = append(base.Imports, path)
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym := Symbol{
				Name:      d.Name.Name,
				Kind:      "func",
				StartLine: fset.Position(d.Pos()).Line,
				EndLine:   fset.Position(d.End()).Line,
				Exported:  d.Name.IsExported(),
			}
			if d.Recv != nil && len(d.Recv.List) > 0 {
				sym.Kind = "method"
				sym.Parent = receiverName(d.Recv.List[0].Type)
			}
			base.Functions = append(base.Functions, sym)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				kind := "type"
				switch ts.Type.(type) {
				case *ast.StructType:
					kind = "struct"
				case *ast.InterfaceType:
					kind = "interface"
				}
				base.Types = append(base.Types, Symbol{
					Name:      ts.Name.Name,
					Kind:      kind,
					StartLine: fset.Position(ts.Pos()).Line,
					EndLine:   fset.Position(ts.End()).Line,
					Exported:  ts.Name.IsExported(),
				})
			}
		}
	}

	flagLongFunctions(&base)
	return base, nil
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	}
	return ""
}
