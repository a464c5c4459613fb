package go_hub_i_guess

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ArgType describes one positional argument of a hub method, and how to
// decode it from its JSON representation.
type ArgType struct {
	// name of the Go type, used only for diagnostics.
	name string

	// decode converts the raw JSON value into the argument's type.
	decode func(raw json.RawMessage) (any, error)
}

// Arg describe an argument decoded into a value of type `T`.
//
// Struct fields are matched case-insensitively, as done by
// `encoding/json`. The decoded value is stored as a `T` (not a `*T`) in
// `Message.Args`.
func Arg[T any]() ArgType {
	var zero T

	return ArgType{
		name: fmt.Sprintf("%T", zero),
		decode: func(raw json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// String retrieve the name of the argument's type.
func (a ArgType) String() string {
	return a.name
}

// Decode the raw JSON value into the argument's type.
func (a ArgType) Decode(raw json.RawMessage) (any, error) {
	return a.decode(raw)
}

// MethodRegistry maps a hub method name to the types of its arguments.
//
// It's built once, when the hub is configured, and never modified
// afterwards. So, it may be read from any number of goroutines without
// synchronization.
type MethodRegistry struct {
	methods map[string][]ArgType
}

// NewMethodRegistry create a registry from the table `methods`, mapping
// each method name to its ordered list of arguments. The table is copied,
// so modifying it afterwards doesn't affect the registry.
func NewMethodRegistry(methods map[string][]ArgType) (*MethodRegistry, error) {
	r := &MethodRegistry{
		methods: make(map[string][]ArgType, len(methods)),
	}

	for name, args := range methods {
		if len(name) == 0 {
			return nil, InvalidMethodName
		}

		copied := make([]ArgType, len(args))
		for i, arg := range args {
			if arg.decode == nil {
				return nil, fmt.Errorf("%w: argument %d of '%s' has no type",
					InvalidConf, i, name)
			}
			copied[i] = arg
		}
		r.methods[name] = copied
	}

	return r, nil
}

// Exists check whether `methodName` was registered.
func (r *MethodRegistry) Exists(methodName string) bool {
	if len(methodName) == 0 {
		return false
	}

	_, ok := r.methods[methodName]
	return ok
}

// ArgsTypes retrieve the ordered list of argument types of `methodName`.
//
// The returned slice must not be modified.
func (r *MethodRegistry) ArgsTypes(methodName string) ([]ArgType, error) {
	if len(methodName) == 0 {
		return nil, InvalidMethodName
	}

	args, ok := r.methods[methodName]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", UnknownMethod, methodName)
	}

	return args, nil
}

// Methods retrieve the name of every registered method, sorted.
func (r *MethodRegistry) Methods() []string {
	list := make([]string, 0, len(r.methods))
	for name := range r.methods {
		list = append(list, name)
	}
	sort.Strings(list)

	return list
}
