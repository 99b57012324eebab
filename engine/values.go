package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// outputBuffer collects everything a run prints. One buffer lives for
// exactly one Execute call.
type outputBuffer struct {
	b strings.Builder
}

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{}
}

func (o *outputBuffer) printValues(args []any) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = displayString(arg)
	}
	o.b.WriteString(strings.Join(parts, " "))
	o.b.WriteByte('\n')
}

func (o *outputBuffer) printf(format string, args ...any) {
	fmt.Fprintf(&o.b, format+"\n", args...)
}

func (o *outputBuffer) String() string {
	return o.b.String()
}

// displayString renders a value the way print shows it.
func displayString(v any) string {
	switch val := v.(type) {
	case nil:
		return "undefined"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = displayString(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		return jsonify(val)
	case *Module:
		return "<module " + val.Name + ">"
	case *userFunction:
		return "<function " + val.displayName() + ">"
	case *classStub:
		return "<class " + val.name + ">"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatNumber(f float64) string {
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if math.IsNaN(f) {
		return "NaN"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// jsonify serializes a value for output. Values that cannot be
// marshaled fall back to their display form rather than faulting.
func jsonify(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// toNumber coerces a script value to a float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case nil:
		return math.NaN(), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	default:
		return math.NaN(), false
	}
}

// truthy applies script truthiness rules.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case int64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

// typeofString mirrors the typeof operator for interpreted values.
func typeofString(v any) string {
	switch v.(type) {
	case nil:
		return "undefined"
	case bool:
		return "boolean"
	case float64, int64, int:
		return "number"
	case string:
		return "string"
	case *userFunction, hostFunc, func(args ...any) (any, error):
		return "function"
	default:
		return "object"
	}
}
