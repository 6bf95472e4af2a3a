package buildsys

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

type builtinFunc func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func scriptBuiltins() starlark.StringDict {
	builtins := map[string]builtinFunc{
		"info":      logBuiltin(zerolog.InfoLevel),
		"warn":      logBuiltin(zerolog.WarnLevel),
		"error":     errorBuiltin,
		"path":      pathBuiltin,
		"option":    optionBuiltin,
		"getenv":    getenvBuiltin,
		"setenv":    setenvBuiltin,
		"read_json": documentBuiltin(json.Unmarshal),
		"read_yaml": documentBuiltin(yaml.Unmarshal),
		"exists":    existsBuiltin,
		"capture":   captureBuiltin,
		"task":      taskBuiltin,
	}

	result := starlark.StringDict{
		"OS":   starlark.String(runtime.GOOS),
		"ARCH": starlark.String(runtime.GOARCH),
	}
	for name, fn := range builtins {
		result[name] = starlark.NewBuiltin(name, fn)
	}
	return result
}

func logBuiltin(level zerolog.Level) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
			return nil, err
		}

		state := stateOf(thread)
		log(state.ctx).WithLevel(level).Msgf("%s: %s", state.where(thread), message)
		return starlark.None, nil
	}
}

func errorBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

// path("a", "b", relative_to = "//") joins its arguments like the task base and
// returns a slash separated path.
func pathBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var relativeTo string
	if err := starlark.UnpackArgs(fn.Name(), nil, kwargs, "relative_to?", &relativeTo); err != nil {
		return nil, err
	}

	if len(args) == 0 {
		return nil, eris.Errorf("%s: expected at least one argument", fn.Name())
	}

	parts, err := stringList(args, fn.Name())
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	result := state.resolve(parts...)
	if relativeTo != "" {
		result, err = filepath.Rel(state.resolve(relativeTo), result)
		if err != nil {
			return nil, eris.Wrap(err, fn.Name())
		}
	}

	return starlark.String(filepath.ToSlash(result)), nil
}

func optionBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, fallback, help string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &fallback, "help?", &help)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	if state.configuring {
		return nil, eris.Errorf("%s: options have to be declared at the top level", fn.Name())
	}

	state.options[name] = ScriptOption{Default: fallback, Help: help}
	if value, ok := state.values[name]; ok {
		return starlark.String(value), nil
	}
	return starlark.String(fallback), nil
}

func getenvBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &fallback); err != nil {
		return nil, err
	}

	value, ok := stateOf(thread).env[key]
	if !ok {
		value, ok = os.LookupEnv(key)
	}

	if !ok {
		return fallback, nil
	}
	return starlark.String(value), nil
}

func setenvBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	stateOf(thread).env[key] = value
	return starlark.None, nil
}

// documentBuiltin returns a builtin like read_json("package.json", "version", "0.0.0")
// which looks up a dotted key inside a decoded file.
func documentBuiltin(decode func([]byte, interface{}) error) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var file, key string
		var fallback starlark.Value = starlark.None
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback); err != nil {
			return nil, err
		}

		state := stateOf(thread)
		file = state.resolve(file)

		doc, ok := state.documents[file]
		if !ok {
			content, err := os.ReadFile(file)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to read %s", file)
			}

			if err = decode(content, &doc); err != nil {
				return nil, eris.Wrapf(err, "failed to parse %s", file)
			}
			state.documents[file] = doc
		}

		value, found := lookupKey(doc, key)
		if !found {
			return fallback, nil
		}
		return toStarlark(value)
	}
}

func lookupKey(doc interface{}, key string) (interface{}, bool) {
	current := doc
	for _, part := range strings.Split(key, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			current = node[part]
		case map[interface{}]interface{}:
			current = node[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, current != nil
}

func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case float64:
		if value == float64(int64(value)) {
			return starlark.MakeInt64(int64(value)), nil
		}
		return starlark.Float(value), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[idx] = converted
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(keys))
		for _, key := range keys {
			converted, err := toStarlark(value[key])
			if err != nil {
				return nil, err
			}
			if err = dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	return nil, eris.Errorf("unsupported value %v of type %T", value, value)
}

// exists(path, kind = "any") checks whether path exists. kind can be "file" or "dir".
func existsBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	kind := "any"
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "path", &path, "kind?", &kind); err != nil {
		return nil, err
	}

	info, err := os.Stat(stateOf(thread).resolve(path))
	if err != nil {
		return starlark.False, nil
	}

	switch kind {
	case "any":
		return starlark.True, nil
	case "file":
		return starlark.Bool(info.Mode().IsRegular()), nil
	case "dir":
		return starlark.Bool(info.IsDir()), nil
	}
	return nil, eris.Errorf("%s: unknown kind %q, expected any, file or dir", fn.Name(), kind)
}

// capture(cmd, show_error = False) runs cmd in the script's directory and returns its
// output or None if it failed. cmd is either a shell snippet or a list of arguments.
func captureBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cmd starlark.Value
	var showError bool
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "cmd", &cmd, "show_error?", &showError); err != nil {
		return nil, err
	}

	var script string
	switch value := cmd.(type) {
	case starlark.String:
		script = value.GoString()
	case starlark.Indexable:
		parts, err := stringList(value, "cmd")
		if err != nil {
			return nil, err
		}
		script = Command(parts...)
	default:
		return nil, eris.Errorf("%s: cmd is a %s, want string or list", fn.Name(), cmd.Type())
	}

	state := stateOf(thread)
	var stderr io.Writer
	if showError {
		stderr = os.Stderr
	}

	result, err := NewShell(filepath.Dir(state.file), state.env, nil, stderr).Exec(state.ctx, script)
	if err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			return nil, err
		}

		if showError {
			log(state.ctx).Error().Err(err).Msg(state.where(thread))
		}
		return starlark.None, nil
	}

	return starlark.String(result.Output), nil
}

func stringList(list starlark.Indexable, field string) ([]string, error) {
	result := make([]string, list.Len())
	for idx := range result {
		item := list.Index(idx)
		value, ok := starlark.AsString(item)
		if !ok {
			return nil, eris.Errorf("%s[%d] is a %s, want string", field, idx, item.Type())
		}
		result[idx] = value
	}
	return result, nil
}
