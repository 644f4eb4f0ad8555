package proxygen

import (
	"fmt"
	"go/ast"
	"go/format"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Options controls generation.
type Options struct {
	Module  string // Remote module name; defaults to the source package name
	Package string // Package clause of the generated stub; defaults to the source package

	StubPath      string // Import path of the stub package
	SignaturePath string
	RegistryPath  string

	Logger *zap.Logger
}

const (
	DefaultStubPath      = "typed-rpc/stub"
	DefaultSignaturePath = "typed-rpc/signature"
	DefaultRegistryPath  = "typed-rpc/registry"

	stubVar = "_stub"
)

func (o Options) withDefaults(f *File) Options {
	if o.Module == "" {
		o.Module = f.Package
	}
	if o.Package == "" {
		o.Package = f.Package
	}
	if o.StubPath == "" {
		o.StubPath = DefaultStubPath
	}
	if o.SignaturePath == "" {
		o.SignaturePath = DefaultSignaturePath
	}
	if o.RegistryPath == "" {
		o.RegistryPath = DefaultRegistryPath
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (f *File) report(logger *zap.Logger) {
	for _, s := range f.Skipped {
		logger.Warn("declaration skipped", zap.String("file", f.Filename), zap.String("name", s.Name), zap.String("reason", s.Reason))
	}
}

func header(f *File) string {
	return fmt.Sprintf("// Code generated by rpcgen from %s. DO NOT EDIT.\n\n", filepath.Base(f.Filename))
}

// GenerateStub emits the client side of the module: type declarations copied
// verbatim and every remotable function and method with its original
// signature, delegating to a package-level stub.
func GenerateStub(f *File, opts Options) ([]byte, error) {
	opts = opts.withDefaults(f)
	f.report(opts.Logger)

	kept := f.usedImports()
	taken := map[string]bool{stubVar: true}
	for _, imp := range kept {
		taken[imp.Name] = true
	}
	for _, t := range f.Types {
		taken[t.Name] = true
	}
	for _, fn := range f.Funcs {
		taken[fn.Name] = true
	}
	// Parameter and receiver names shadow package names inside bodies
	for _, fn := range f.remotable() {
		for _, fl := range []*ast.FieldList{fn.Decl.Recv, fn.Decl.Type.Params} {
			if fl == nil {
				continue
			}
			for _, field := range fl.List {
				for _, n := range field.Names {
					taken[n.Name] = true
				}
			}
		}
	}
	stubPkg := pickName("stub", taken)
	sigPkg := pickName("signature", taken)

	var b strings.Builder
	b.WriteString(header(f))
	fmt.Fprintf(&b, "package %s\n\n", opts.Package)

	b.WriteString("import (\n")
	for _, imp := range kept {
		b.WriteString("\t" + importLine(imp.Name, imp.Path, importName(imp.Path)) + "\n")
	}
	if len(kept) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("\t" + importLine(sigPkg, opts.SignaturePath, "signature") + "\n")
	b.WriteString("\t" + importLine(stubPkg, opts.StubPath, "stub") + "\n")
	b.WriteString(")\n\n")

	fmt.Fprintf(&b, "var %s = %s.ForModule(%q)\n\n", stubVar, stubPkg, opts.Module)

	for _, t := range f.Types {
		fmt.Fprintf(&b, "type %s\n\n", f.node(t.Spec))
	}
	for _, fn := range f.remotable() {
		f.writeProxy(&b, fn, stubPkg)
	}

	// init panics when a definition does not extract
	b.WriteString("func init() {\n")
	for _, def := range f.definitions(opts.Module, sigPkg) {
		fmt.Fprintf(&b, "\tif err := %s.DefinitionComplete(%s); err != nil {\n\t\tpanic(err)\n\t}\n", stubVar, def)
	}
	b.WriteString("}\n")

	return formatSource(b.String())
}

// GenerateSkeleton emits the server side of the module: a RegisterRemote
// function, in the source package, registering the same declarations the stub
// delegates to.
func GenerateSkeleton(f *File, opts Options) ([]byte, error) {
	opts = opts.withDefaults(f)
	f.report(opts.Logger)

	taken := map[string]bool{}
	for name := range f.declared {
		taken[name] = true
	}
	errorsPkg := pickName("errors", taken)
	regPkg := pickName("registry", taken)
	sigPkg := pickName("signature", taken)

	var b strings.Builder
	b.WriteString(header(f))
	fmt.Fprintf(&b, "package %s\n\n", f.Package)
	b.WriteString("import (\n")
	b.WriteString("\t" + importLine(errorsPkg, "errors", "errors") + "\n\n")
	b.WriteString("\t" + importLine(regPkg, opts.RegistryPath, "registry") + "\n")
	b.WriteString("\t" + importLine(sigPkg, opts.SignaturePath, "signature") + "\n")
	b.WriteString(")\n\n")

	fmt.Fprintf(&b, "// RegisterRemote registers the remotely callable declarations of module %q with reg.\n", opts.Module)
	fmt.Fprintf(&b, "func RegisterRemote(reg *%s.Registry) error {\n", regPkg)
	fmt.Fprintf(&b, "\thook := reg.Hook(%q)\n", opts.Module)
	fmt.Fprintf(&b, "\treturn %s.Join(\n", errorsPkg)
	for _, def := range f.definitions(opts.Module, sigPkg) {
		fmt.Fprintf(&b, "\t\thook.DefinitionComplete(%s),\n", def)
	}
	b.WriteString("\t)\n}\n")

	return formatSource(b.String())
}

func formatSource(src string) ([]byte, error) {
	out, err := format.Source([]byte(src))
	if err != nil {
		return nil, fmt.Errorf("proxygen: format generated source: %w\n%s", err, src)
	}
	return out, nil
}

func importLine(name, path, natural string) string {
	if name == natural {
		return strconv.Quote(path)
	}
	return name + " " + strconv.Quote(path)
}

func pickName(base string, taken map[string]bool) string {
	name := base
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	taken[name] = true
	return name
}

// definitions renders the Definition literals: one for the module functions,
// one per type with methods.
func (f *File) definitions(module, sigPkg string) []string {
	var defs []string
	var b strings.Builder
	fmt.Fprintf(&b, "%s.Definition{\nTarget: %s.TargetModule,\nName: %q,\nFunctions: map[string]any{\n", sigPkg, sigPkg, module)
	for _, fn := range f.Funcs {
		fmt.Fprintf(&b, "%q: %s,\n", fn.Name, fn.Name)
	}
	b.WriteString("},\n}")
	defs = append(defs, b.String())

	for _, t := range f.Types {
		if len(t.Methods) == 0 {
			continue
		}
		b.Reset()
		fmt.Fprintf(&b, "%s.Definition{\nTarget: %s.TargetClass,\nName: %q,\nFunctions: map[string]any{\n", sigPkg, sigPkg, t.Name)
		for _, m := range t.Methods {
			recv := t.Name
			if m.PtrRecv {
				recv = "(*" + t.Name + ")"
			}
			fmt.Fprintf(&b, "%q: %s.%s,\n", m.Name, recv, m.Name)
		}
		b.WriteString("},\n}")
		defs = append(defs, b.String())
	}
	return defs
}

// writeProxy writes fn with its original signature and a body delegating to
// the stub. Unnamed parameters get generated names so they can be forwarded.
func (f *File) writeProxy(b *strings.Builder, fn *Func, stubPkg string) {
	ft := fn.Decl.Type
	params, names := f.params(ft.Params)

	b.WriteString("func ")
	if fn.Recv != "" {
		b.WriteString(f.recv(fn.Decl.Recv.List[0]))
		b.WriteString(" ")
	}
	fmt.Fprintf(b, "%s(%s)%s {\n", fn.Name, params, f.results(ft.Results))

	var args []string
	helper := ""
	if fn.Async {
		args = append(args, names[0])
		names = names[1:]
		helper = "Async"
	}
	args = append(args, stubVar, strconv.Quote(fn.RemoteName()))
	args = append(args, names...)
	call := strings.Join(args, ", ")

	switch {
	case fn.Void && fn.Failable:
		fmt.Fprintf(b, "\treturn %s.CallVoid%s(%s)\n", stubPkg, helper, call)
	case fn.Void:
		fmt.Fprintf(b, "\t%s.MustCallVoid%s(%s)\n", stubPkg, helper, call)
	case fn.Failable:
		fmt.Fprintf(b, "\treturn %s.Call%s[%s](%s)\n", stubPkg, helper, f.node(fieldTypes(ft.Results)[0]), call)
	default:
		fmt.Fprintf(b, "\treturn %s.MustCall%s[%s](%s)\n", stubPkg, helper, f.node(fieldTypes(ft.Results)[0]), call)
	}
	b.WriteString("}\n\n")
}

// params renders a parameter list verbatim, naming unnamed and blank
// parameters, and returns the names in order.
func (f *File) params(fl *ast.FieldList) (string, []string) {
	used := map[string]bool{}
	for _, field := range fl.List {
		for _, n := range field.Names {
			used[n.Name] = true
		}
	}
	var (
		parts []string
		names []string
		next  int
	)
	fresh := func() string {
		for {
			name := fmt.Sprintf("arg%d", next)
			next++
			if !used[name] {
				used[name] = true
				return name
			}
		}
	}
	for i, field := range fl.List {
		var fieldNames []string
		if len(field.Names) == 0 {
			name := fresh()
			if i == 0 && isContext(field.Type) && !used["ctx"] {
				name = "ctx"
				used[name] = true
			}
			fieldNames = append(fieldNames, name)
		}
		for _, n := range field.Names {
			name := n.Name
			if name == "_" {
				name = fresh()
			}
			fieldNames = append(fieldNames, name)
		}
		names = append(names, fieldNames...)
		parts = append(parts, strings.Join(fieldNames, ", ")+" "+f.node(field.Type))
	}
	return strings.Join(parts, ", "), names
}

func (f *File) results(fl *ast.FieldList) string {
	if fl == nil || len(fl.List) == 0 {
		return ""
	}
	if len(fl.List) == 1 && len(fl.List[0].Names) == 0 {
		return " " + f.node(fl.List[0].Type)
	}
	var parts []string
	for _, field := range fl.List {
		if len(field.Names) == 0 {
			parts = append(parts, f.node(field.Type))
			continue
		}
		var names []string
		for _, n := range field.Names {
			names = append(names, n.Name)
		}
		parts = append(parts, strings.Join(names, ", ")+" "+f.node(field.Type))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func (f *File) recv(field *ast.Field) string {
	if len(field.Names) == 0 {
		return "(" + f.node(field.Type) + ")"
	}
	return "(" + field.Names[0].Name + " " + f.node(field.Type) + ")"
}

// remotable returns the functions followed by the methods of every type.
func (f *File) remotable() []*Func {
	out := append([]*Func(nil), f.Funcs...)
	for _, t := range f.Types {
		out = append(out, t.Methods...)
	}
	return out
}

// usedImports returns the imports referenced by the declarations the stub
// keeps, in source order.
func (f *File) usedImports() []*Import {
	refs := map[string]bool{}
	collect := func(n ast.Node) {
		ast.Inspect(n, func(n ast.Node) bool {
			if sel, ok := n.(*ast.SelectorExpr); ok {
				if id, ok := sel.X.(*ast.Ident); ok {
					refs[id.Name] = true
				}
			}
			return true
		})
	}
	for _, t := range f.Types {
		collect(t.Spec)
		for _, m := range t.Methods {
			collect(m.Decl.Type)
		}
	}
	for _, fn := range f.Funcs {
		collect(fn.Decl.Type)
	}

	var out []*Import
	for _, imp := range f.Imports {
		if imp.Name != "_" && imp.Name != "." && refs[imp.Name] {
			out = append(out, imp)
		}
	}
	return out
}
