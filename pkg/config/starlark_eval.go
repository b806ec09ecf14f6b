package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const hostVarsFunc = "host_vars"

// HostVarsEvaluator runs a Starlark script's host_vars(name, port,
// connection) function to compute extra per-host variables. The script is
// executed once at load; each call runs on a fresh thread.
type HostVarsEvaluator struct {
	filename string
	fn       starlark.Callable
	timeout  time.Duration
}

// LoadHostVarsEvaluator reads and executes the script at path.
func LoadHostVarsEvaluator(path string, timeout time.Duration) (*HostVarsEvaluator, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host vars script: %w", err)
	}
	return NewHostVarsEvaluator(path, string(src), timeout)
}

// NewHostVarsEvaluator executes script and keeps its host_vars function.
func NewHostVarsEvaluator(filename, script string, timeout time.Duration) (*HostVarsEvaluator, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	thread := newThread(filename)
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	val, ok := globals[hostVarsFunc]
	if !ok {
		return nil, fmt.Errorf("%s does not define %s(name, port, connection)", filename, hostVarsFunc)
	}
	fn, ok := val.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: %s is a %s, not a function", filename, hostVarsFunc, val.Type())
	}

	return &HostVarsEvaluator{filename: filename, fn: fn, timeout: timeout}, nil
}

// HostVars calls host_vars for one host. The result must be a dict with
// string keys; None means no extra variables.
func (e *HostVarsEvaluator) HostVars(ctx context.Context, name string, port int, connection map[string]interface{}) (map[string]interface{}, error) {
	conn, err := toStarlarkValue(connection)
	if err != nil {
		return nil, fmt.Errorf("failed to convert connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := newThread(e.filename)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(fmt.Sprintf("execution timeout after %v", e.timeout))
		case <-done:
		}
	}()

	result, err := starlark.Call(thread, e.fn, starlark.Tuple{starlark.String(name), starlark.MakeInt(port), conn}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s(%q) failed: %w", hostVarsFunc, name, err)
	}

	out, err := fromStarlarkValue(result)
	if err != nil {
		return nil, fmt.Errorf("%s(%q) result: %w", hostVarsFunc, name, err)
	}
	if out == nil {
		return nil, nil
	}
	vars, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s(%q) must return a dict, got %s", hostVarsFunc, name, result.Type())
	}
	return vars, nil
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			// Suppressed; scripts have no output channel.
		},
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
