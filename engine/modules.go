package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// hostFunc is the calling convention for functions the engine exposes to
// programs. Arguments arrive as exported script values.
type hostFunc func(args ...any) (any, error)

// Module is a named bag of symbols a program obtains through use(). A
// module may carry a Toolkit when it buffers rendering state that must
// be flushed before artifact capture.
type Module struct {
	Name    string
	Symbols map[string]any
	Toolkit Toolkit
}

// moduleRegistry maps top-level module names to their providers.
type moduleRegistry struct {
	modules map[string]*Module
}

func newModuleRegistry(presenter Presenter) *moduleRegistry {
	r := &moduleRegistry{modules: make(map[string]*Module)}
	r.register(mathModule())
	r.register(stringsModule())
	r.register(jsonModule())
	r.register(NewCanvas(presenter).Module())
	return r
}

func (r *moduleRegistry) register(mod *Module) {
	r.modules[mod.Name] = mod
}

func (r *moduleRegistry) lookup(name string) (*Module, bool) {
	mod, ok := r.modules[name]
	return mod, ok
}

// StandardModuleNames lists the modules of the standard tier. These are
// resolvable in every session without provisioning.
func StandardModuleNames() []string {
	return []string{"math", "strings", "json"}
}

func mathModule() *Module {
	unary := func(name string, fn func(float64) float64) hostFunc {
		return func(args ...any) (any, error) {
			x, err := argNumber("math."+name, args, 0)
			if err != nil {
				return nil, err
			}
			return fn(x), nil
		}
	}
	return &Module{
		Name: "math",
		Symbols: map[string]any{
			"pi":    math.Pi,
			"e":     math.E,
			"abs":   unary("abs", math.Abs),
			"floor": unary("floor", math.Floor),
			"ceil":  unary("ceil", math.Ceil),
			"round": unary("round", math.Round),
			"sqrt":  unary("sqrt", math.Sqrt),
			"sin":   unary("sin", math.Sin),
			"cos":   unary("cos", math.Cos),
			"log":   unary("log", math.Log),
			"pow": hostFunc(func(args ...any) (any, error) {
				x, err := argNumber("math.pow", args, 0)
				if err != nil {
					return nil, err
				}
				y, err := argNumber("math.pow", args, 1)
				if err != nil {
					return nil, err
				}
				return math.Pow(x, y), nil
			}),
			"min": hostFunc(func(args ...any) (any, error) {
				return foldNumbers("math.min", args, math.Inf(1), math.Min)
			}),
			"max": hostFunc(func(args ...any) (any, error) {
				return foldNumbers("math.max", args, math.Inf(-1), math.Max)
			}),
			"random": hostFunc(func(args ...any) (any, error) {
				return rand.Float64(), nil
			}),
		},
	}
}

func stringsModule() *Module {
	return &Module{
		Name: "strings",
		Symbols: map[string]any{
			"upper": stringFunc("strings.upper", strings.ToUpper),
			"lower": stringFunc("strings.lower", strings.ToLower),
			"trim":  stringFunc("strings.trim", strings.TrimSpace),
			"contains": hostFunc(func(args ...any) (any, error) {
				s, sub, err := argTwoStrings("strings.contains", args)
				if err != nil {
					return nil, err
				}
				return strings.Contains(s, sub), nil
			}),
			"split": hostFunc(func(args ...any) (any, error) {
				s, sep, err := argTwoStrings("strings.split", args)
				if err != nil {
					return nil, err
				}
				parts := strings.Split(s, sep)
				out := make([]any, len(parts))
				for i, p := range parts {
					out[i] = p
				}
				return out, nil
			}),
			"join": hostFunc(func(args ...any) (any, error) {
				items, ok := argAt(args, 0).([]any)
				if !ok {
					return nil, fmt.Errorf("strings.join expects a list first argument")
				}
				sep, err := argString("strings.join", args, 1)
				if err != nil {
					return nil, err
				}
				parts := make([]string, len(items))
				for i, item := range items {
					parts[i] = displayString(item)
				}
				return strings.Join(parts, sep), nil
			}),
			"replace": hostFunc(func(args ...any) (any, error) {
				s, err := argString("strings.replace", args, 0)
				if err != nil {
					return nil, err
				}
				old, err := argString("strings.replace", args, 1)
				if err != nil {
					return nil, err
				}
				repl, err := argString("strings.replace", args, 2)
				if err != nil {
					return nil, err
				}
				return strings.ReplaceAll(s, old, repl), nil
			}),
			"repeat": hostFunc(func(args ...any) (any, error) {
				s, err := argString("strings.repeat", args, 0)
				if err != nil {
					return nil, err
				}
				n, err := argNumber("strings.repeat", args, 1)
				if err != nil {
					return nil, err
				}
				if n < 0 || n > 1<<20 {
					return nil, fmt.Errorf("strings.repeat count out of range: %v", n)
				}
				return strings.Repeat(s, int(n)), nil
			}),
		},
	}
}

func jsonModule() *Module {
	return &Module{
		Name: "json",
		Symbols: map[string]any{
			"stringify": hostFunc(func(args ...any) (any, error) {
				if len(args) != 1 {
					return nil, fmt.Errorf("json.stringify expects exactly one argument")
				}
				data, err := json.Marshal(args[0])
				if err != nil {
					return nil, fmt.Errorf("json.stringify: %w", err)
				}
				return string(data), nil
			}),
			"parse": hostFunc(func(args ...any) (any, error) {
				s, err := argString("json.parse", args, 0)
				if err != nil {
					return nil, err
				}
				var out any
				if err := json.Unmarshal([]byte(s), &out); err != nil {
					return nil, fmt.Errorf("json.parse: %w", err)
				}
				return out, nil
			}),
		},
	}
}

func stringFunc(name string, fn func(string) string) hostFunc {
	return func(args ...any) (any, error) {
		s, err := argString(name, args, 0)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argNumber(name string, args []any, i int) (float64, error) {
	n, ok := toNumber(argAt(args, i))
	if !ok {
		return 0, fmt.Errorf("%s: argument %d is not a number", name, i+1)
	}
	return n, nil
}

func argString(name string, args []any, i int) (string, error) {
	s, ok := argAt(args, i).(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d is not a string", name, i+1)
	}
	return s, nil
}

func argTwoStrings(name string, args []any) (string, string, error) {
	a, err := argString(name, args, 0)
	if err != nil {
		return "", "", err
	}
	b, err := argString(name, args, 1)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func foldNumbers(name string, args []any, seed float64, fn func(a, b float64) float64) (float64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s expects at least one argument", name)
	}
	acc := seed
	for i := range args {
		n, err := argNumber(name, args, i)
		if err != nil {
			return 0, err
		}
		acc = fn(acc, n)
	}
	return acc, nil
}
