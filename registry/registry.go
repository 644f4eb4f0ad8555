// Package registry holds the functions a process exposes remotely.
//
// A Registry is an explicit object, created by the process that serves calls
// and handed to its dispatchers. Only modules registered here can be called,
// so the registry doubles as the allow-list of the server.
//
//	reg := registry.New(logger)
//	reg.Register("calc", "Add", calc.Add)         // function → "calc.Add"
//	reg.RegisterService("zoo", &zoo.Dog{})        // methods  → "zoo.Dog.Bark", ...
package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"typed-rpc/signature"
)

// Function is a registered callable together with its contract.
type Function struct {
	*signature.TypedFunction
	fn   reflect.Value
	rcvr reflect.Value // Valid for methods: first argument of fn
}

// Call invokes the function with already decoded args. ctx is passed through
// to async functions. A panic in the callee is returned as an error.
func (f *Function) Call(ctx context.Context, args []any) (result any, err error) {
	if len(args) != len(f.Args) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", f.Signature(), len(f.Args), len(args))
	}

	in := make([]reflect.Value, 0, len(args)+2)
	if f.rcvr.IsValid() {
		in = append(in, f.rcvr)
	}
	if f.Async {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		v, err := argValue(arg, f.Args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	var out []reflect.Value
	if f.Variadic {
		out = f.fn.CallSlice(in)
	} else {
		out = f.fn.Call(in)
	}

	if f.Failable {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if f.IsVoid() {
		return signature.NoValue{}, nil
	}
	return out[0].Interface(), nil
}

func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Type().ConvertibleTo(t) && v.Kind() == t.Kind() {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%v is not assignable to %v", v.Type(), t)
}

// Registry maps module → function name → Function. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]*Function
	logger  *zap.Logger
}

// New creates an empty registry. A nil logger disables logging.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		modules: make(map[string]map[string]*Function),
		logger:  logger,
	}
}

// Register exposes fn as module.name.
func (r *Registry) Register(module, name string, fn any) error {
	tf, err := signature.Extract(module, name, fn)
	if err != nil {
		r.logger.Warn("register function failed", zap.String("module", module), zap.String("name", name), zap.Error(err))
		return err
	}
	r.add(&Function{TypedFunction: tf, fn: reflect.ValueOf(fn)})
	return nil
}

// RegisterService exposes every exported method of rcvr as module.Type.Method,
// with rcvr bound as the receiver of each call. Methods whose signature cannot
// travel over the wire are skipped and logged.
func (r *Registry) RegisterService(module string, rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return fmt.Errorf("registry: nil receiver for module %s", module)
	}
	// 指针接收者用元素类型名作为类型名
	base := typ
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	typeName := base.Name()
	if typeName == "" {
		return fmt.Errorf("registry: receiver type %v has no name", typ)
	}

	val := reflect.ValueOf(rcvr)
	registered := 0
	// 遍历所有导出方法，方法集合取决于 rcvr 是值还是指针
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		tf, err := signature.ExtractMethod(module, typeName, method)
		if err != nil {
			r.logger.Warn("skip method", zap.String("module", module), zap.String("type", typeName),
				zap.String("method", method.Name), zap.Error(err))
			continue
		}
		r.add(&Function{TypedFunction: tf, fn: method.Func, rcvr: val})
		registered++
	}
	if registered == 0 {
		err := fmt.Errorf("registry: type %s has no exported method usable remotely", typeName)
		r.logger.Warn("register service failed", zap.String("module", module), zap.Error(err))
		return err
	}
	return nil
}

// Hook returns the DefinitionHook that registers declarations of module.
// Class definitions are bound to a fresh zero receiver of their type.
func (r *Registry) Hook(module string) signature.DefinitionHook {
	return hook{r: r, module: module}
}

type hook struct {
	r      *Registry
	module string
}

func (h hook) DefinitionComplete(def signature.Definition) error {
	return h.r.define(h.module, def)
}

func (r *Registry) define(module string, def signature.Definition) error {
	tfs, err := def.ExtractAll(module)
	if err != nil {
		r.logger.Warn("definition incomplete", zap.String("module", module), zap.String("target", string(def.Target)), zap.Error(err))
	}
	names := make(map[string]string, len(def.Functions))
	for name := range def.Functions {
		key := name
		if def.Target == signature.TargetClass {
			key = def.Name + "." + name
		}
		names[key] = name
	}
	for _, tf := range tfs {
		fn := reflect.ValueOf(def.Functions[names[tf.Name]])
		f := &Function{TypedFunction: tf, fn: fn}
		if def.Target == signature.TargetClass {
			f.rcvr = zeroReceiver(fn.Type().In(0))
		}
		r.add(f)
	}
	return err
}

func zeroReceiver(t reflect.Type) reflect.Value {
	if t.Kind() == reflect.Ptr {
		return reflect.New(t.Elem())
	}
	return reflect.Zero(t)
}

func (r *Registry) add(f *Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns, ok := r.modules[f.Module]
	if !ok {
		fns = make(map[string]*Function)
		r.modules[f.Module] = fns
	}
	if _, dup := fns[f.Name]; dup {
		r.logger.Warn("function replaced", zap.String("module", f.Module), zap.String("name", f.Name))
	}
	fns[f.Name] = f
	r.logger.Debug("function registered", zap.String("signature", f.Signature()))
}

// ErrNotFound is returned by Lookup for unknown modules and functions.
var ErrNotFound = errors.New("not found")

// Lookup finds module.name. The error wraps ErrNotFound and tells whether the
// module or the function is missing.
func (r *Registry) Lookup(module, name string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fns, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("module %q %w", module, ErrNotFound)
	}
	f, ok := fns[name]
	if !ok {
		return nil, fmt.Errorf("function %q in module %q %w", name, module, ErrNotFound)
	}
	return f, nil
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for m := range r.modules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Functions returns the contracts of module, sorted by name.
func (r *Registry) Functions(module string) []*signature.TypedFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fns := r.modules[module]
	out := make([]*signature.TypedFunction, 0, len(fns))
	for _, f := range fns {
		out = append(out, f.TypedFunction)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
