package signature

import (
	"errors"
	"reflect"
	"sort"
)

// Target tells a DefinitionHook whether a Definition describes the top-level
// functions of a module or the methods of one type.
type Target string

const (
	TargetModule Target = "module"
	TargetClass  Target = "class"
)

// Definition is handed to DefinitionComplete once all declarations of a
// module (or of one type) are in place.
//
// For TargetModule, Functions maps function names to function values.
// For TargetClass, Name is the type name and Functions maps method names to
// method expressions such as (*Dog).Bark; the receiver parameter is dropped.
type Definition struct {
	Target    Target
	Name      string
	Functions map[string]any
}

// DefinitionHook is implemented by components that need the typed contracts
// of generated declarations: the stub on the calling side and the registry on
// the serving side.
type DefinitionHook interface {
	DefinitionComplete(def Definition) error
}

// ExtractAll extracts every function of def in name order. Functions that
// fail are left out and their errors are joined into the returned error.
func (def Definition) ExtractAll(module string) ([]*TypedFunction, error) {
	names := make([]string, 0, len(def.Functions))
	for name := range def.Functions {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []*TypedFunction
		errs []error
	)
	for _, name := range names {
		fn := def.Functions[name]
		var (
			tf  *TypedFunction
			err error
		)
		if def.Target == TargetClass {
			tf, err = ExtractType(module, def.Name+"."+name, reflect.TypeOf(fn), 1)
		} else {
			tf, err = Extract(module, name, fn)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, tf)
	}
	return out, errors.Join(errs...)
}
