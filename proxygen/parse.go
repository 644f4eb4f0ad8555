// Package proxygen generates the two halves of a remote module from its Go
// source: a client stub that delegates every exported function to a
// stub.Stub, and a server skeleton that registers the real declarations with a
// registry.Registry.
//
// The source is parsed, never executed. Declarations that cannot travel over
// the wire are skipped and reported.
package proxygen

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// File is the remotely relevant content of one Go source file.
type File struct {
	Filename string
	Package  string
	Imports  []*Import
	Types    []*Type // Exported, non-generic type declarations
	Funcs    []*Func // Exported top-level functions
	Skipped  []*Skip // Exported declarations that cannot be exposed

	fset     *token.FileSet
	declared map[string]bool   // Every package-level name of the file
	hidden   map[string]string // Local types a stub cannot declare, with the reason
}

// Import is one import spec of the source.
type Import struct {
	Name string // Local name: explicit alias or derived from the path
	Path string
	Spec *ast.ImportSpec
}

// Type is an exported type declaration with its exported methods.
type Type struct {
	Name    string
	Spec    *ast.TypeSpec
	Methods []*Func
}

// Func is an exported function or method with a remotable signature.
type Func struct {
	Name     string
	Recv     string // Receiver type name; empty for functions
	PtrRecv  bool
	Decl     *ast.FuncDecl
	Async    bool // First parameter is context.Context
	Failable bool // Last result is error
	Void     bool // No result besides an optional error
}

// RemoteName is the name the function is registered under: "Func" or "Type.Method".
func (f *Func) RemoteName() string {
	if f.Recv == "" {
		return f.Name
	}
	return f.Recv + "." + f.Name
}

// Skip records a declaration left out of generation.
type Skip struct {
	Name   string
	Reason string
}

func (s *Skip) String() string { return s.Name + ": " + s.Reason }

// Parse reads the package clause, imports, exported types, functions and
// methods of a Go source file.
func Parse(filename string, src []byte) (*File, error) {
	fset := token.NewFileSet()
	af, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("proxygen: %w", err)
	}

	f := &File{Filename: filename, Package: af.Name.Name, fset: fset, declared: declaredNames(af)}
	for _, spec := range af.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return nil, fmt.Errorf("proxygen: import %s: %w", spec.Path.Value, err)
		}
		imp := &Import{Path: p, Name: importName(p), Spec: spec}
		if spec.Name != nil {
			imp.Name = spec.Name.Name
		}
		f.Imports = append(f.Imports, imp)
	}

	var specs []*ast.TypeSpec
	for _, decl := range af.Decls {
		if gd, ok := decl.(*ast.GenDecl); ok && gd.Tok == token.TYPE {
			for _, spec := range gd.Specs {
				specs = append(specs, spec.(*ast.TypeSpec))
			}
		}
	}
	f.hideTypes(specs)

	types := map[string]*Type{}
	for _, ts := range specs {
		if !ts.Name.IsExported() {
			continue
		}
		if ts.TypeParams != nil && len(ts.TypeParams.List) > 0 {
			f.skip(ts.Name.Name, "generic type")
			continue
		}
		if reason := f.hidden[ts.Name.Name]; reason != "" {
			f.skip(ts.Name.Name, reason)
			continue
		}
		t := &Type{Name: ts.Name.Name, Spec: ts}
		types[t.Name] = t
		f.Types = append(f.Types, t)
	}

	for _, decl := range af.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || !fd.Name.IsExported() {
			continue
		}
		fn := &Func{Name: fd.Name.Name, Decl: fd}
		if fd.Recv != nil {
			recv, ptr, ok := receiverType(fd.Recv.List[0].Type)
			t := types[recv]
			if !ok || t == nil {
				// Methods of unexported, generic or foreign types are not remotable
				continue
			}
			fn.Recv, fn.PtrRecv = recv, ptr
			if reason := fn.check(f); reason != "" {
				f.skip(fn.RemoteName(), reason)
				continue
			}
			t.Methods = append(t.Methods, fn)
			continue
		}
		if fd.Name.Name == "init" || fd.Name.Name == "main" {
			continue
		}
		if fd.Type.TypeParams != nil && len(fd.Type.TypeParams.List) > 0 {
			f.skip(fn.Name, "generic function")
			continue
		}
		if reason := fn.check(f); reason != "" {
			f.skip(fn.Name, reason)
			continue
		}
		f.Funcs = append(f.Funcs, fn)
	}
	for _, t := range f.Types {
		sort.Slice(t.Methods, func(i, j int) bool { return t.Methods[i].Name < t.Methods[j].Name })
	}
	return f, nil
}

func declaredNames(af *ast.File) map[string]bool {
	names := map[string]bool{}
	for _, decl := range af.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				names[d.Name.Name] = true
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					names[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						names[n.Name] = true
					}
				}
			}
		}
	}
	return names
}

// hideTypes finds the local types a stub cannot declare: unexported and
// generic ones, and exported ones whose definition refers to those.
func (f *File) hideTypes(specs []*ast.TypeSpec) {
	f.hidden = map[string]string{}
	for _, ts := range specs {
		name := ts.Name.Name
		switch {
		case !ts.Name.IsExported():
			f.hidden[name] = "unexported type " + name
		case ts.TypeParams != nil && len(ts.TypeParams.List) > 0:
			f.hidden[name] = "generic type " + name
		}
	}
	for changed := true; changed; {
		changed = false
		for _, ts := range specs {
			name := ts.Name.Name
			if f.hidden[name] != "" {
				continue
			}
			if ref := f.hiddenRef(ts.Type); ref != "" {
				f.hidden[name] = fmt.Sprintf("type %s refers to %s", name, f.hidden[ref])
				changed = true
			}
		}
	}
}

// hiddenRef returns the first hidden local type named in the type expression.
func (f *File) hiddenRef(expr ast.Expr) string {
	var found string
	var walk func(ast.Expr)
	fields := func(fl *ast.FieldList) {
		if fl != nil {
			for _, field := range fl.List {
				walk(field.Type)
			}
		}
	}
	walk = func(e ast.Expr) {
		if found != "" || e == nil {
			return
		}
		switch t := e.(type) {
		case *ast.Ident:
			if f.hidden[t.Name] != "" {
				found = t.Name
			}
		case *ast.StarExpr:
			walk(t.X)
		case *ast.ParenExpr:
			walk(t.X)
		case *ast.Ellipsis:
			walk(t.Elt)
		case *ast.ArrayType:
			walk(t.Elt)
		case *ast.MapType:
			walk(t.Key)
			walk(t.Value)
		case *ast.ChanType:
			walk(t.Value)
		case *ast.IndexExpr:
			walk(t.X)
			walk(t.Index)
		case *ast.IndexListExpr:
			walk(t.X)
			for _, index := range t.Indices {
				walk(index)
			}
		case *ast.StructType:
			fields(t.Fields)
		case *ast.FuncType:
			fields(t.Params)
			fields(t.Results)
		case *ast.InterfaceType:
			fields(t.Methods)
		}
	}
	walk(expr)
	return found
}

func (f *File) skip(name, reason string) {
	f.Skipped = append(f.Skipped, &Skip{Name: name, Reason: reason})
}

var versionSuffix = regexp.MustCompile(`^v[0-9]+$`)

// importName derives the package name the Go tool would most likely find.
func importName(p string) string {
	base := path.Base(p)
	if versionSuffix.MatchString(base) && strings.Contains(p, "/") {
		base = path.Base(path.Dir(p))
	}
	base = strings.TrimPrefix(base, "go-")
	if i := strings.IndexAny(base, ".-"); i >= 0 {
		base = base[:i]
	}
	return base
}

func receiverType(expr ast.Expr) (name string, ptr bool, ok bool) {
	if star, isPtr := expr.(*ast.StarExpr); isPtr {
		expr, ptr = star.X, true
	}
	id, isIdent := expr.(*ast.Ident)
	if !isIdent {
		// Generic receivers are *ast.IndexExpr
		return "", false, false
	}
	return id.Name, ptr, true
}

// check applies the contract rules statically and returns why fn cannot be
// exposed, or "".
func (fn *Func) check(f *File) string {
	ft := fn.Decl.Type
	params := fieldTypes(ft.Params)
	for i, p := range params {
		if i == 0 && isContext(p) {
			fn.Async = true
			continue
		}
		if reason := unsupported(p); reason != "" {
			return fmt.Sprintf("parameter %d: %s", i, reason)
		}
		if ref := f.hiddenRef(p); ref != "" {
			return fmt.Sprintf("parameter %d: %s", i, f.hidden[ref])
		}
	}

	results := fieldTypes(ft.Results)
	if n := len(results); n > 0 && isIdent(results[n-1], "error") {
		fn.Failable = true
		results = results[:n-1]
	}
	switch len(results) {
	case 0:
		fn.Void = true
	case 1:
		if reason := unsupported(results[0]); reason != "" {
			return "result: " + reason
		}
		if ref := f.hiddenRef(results[0]); ref != "" {
			return "result: " + f.hidden[ref]
		}
	default:
		return fmt.Sprintf("%d result values, at most one plus error is supported", len(results))
	}
	return ""
}

// fieldTypes expands a field list to one type per declared name.
func fieldTypes(fl *ast.FieldList) []ast.Expr {
	if fl == nil {
		return nil
	}
	var out []ast.Expr
	for _, field := range fl.List {
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, field.Type)
		}
	}
	return out
}

func isContext(expr ast.Expr) bool {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "context" && sel.Sel.Name == "Context"
}

func isIdent(expr ast.Expr, name string) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == name
}

// unsupported mirrors signature's runtime rules on the syntax tree. Named
// types from other packages cannot be resolved here and are accepted.
func unsupported(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		switch t.Name {
		case "any", "error":
			return fmt.Sprintf("interface type %s has no concrete type", t.Name)
		case "complex64", "complex128", "uintptr":
			return fmt.Sprintf("type %s is not serializable", t.Name)
		}
	case *ast.InterfaceType:
		return "interface type has no concrete type"
	case *ast.ChanType:
		return "channel is not serializable"
	case *ast.FuncType:
		return "function is not serializable"
	case *ast.Ellipsis:
		return unsupported(t.Elt)
	case *ast.StarExpr:
		return unsupported(t.X)
	case *ast.ArrayType:
		return unsupported(t.Elt)
	case *ast.MapType:
		if r := unsupported(t.Key); r != "" {
			return r
		}
		return unsupported(t.Value)
	case *ast.SelectorExpr:
		if pkg, ok := t.X.(*ast.Ident); ok && pkg.Name == "unsafe" {
			return "unsafe pointer is not serializable"
		}
		if isContext(t) {
			return "context.Context is only allowed as first parameter"
		}
	}
	return ""
}

// node renders a syntax node back to source.
func (f *File) node(n ast.Node) string {
	var b strings.Builder
	printer.Fprint(&b, f.fset, n)
	return b.String()
}
