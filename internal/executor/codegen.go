package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// literal renders one Go value as interpreter source.
func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "None", nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case string:
		return strconv.Quote(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: unsupported argument type %T", ErrInvalidMethod, v)
	}
}

// renderCall builds the invocation expression for a deployed method, printing
// the value so the device's repr comes back as the result span.
func renderCall(name string, args ...any) (string, error) {
	rendered := make([]string, 0, len(args))
	for _, a := range args {
		lit, err := literal(a)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, lit)
	}
	return fmt.Sprintf("print(%s(%s))", name, strings.Join(rendered, ", ")), nil
}

// stopFlag names the device-side global a thread-role method polls to learn
// it should stop. Generated thread bodies are expected to honor it.
func stopFlag(name string) string {
	return "_belay_stop_" + name
}
