package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// flagNames maps well-known startup parameter keys to their docker run
// flags. Keys not listed here fall back to "--<key>" with underscores
// replaced by dashes, so new runtime options work without engine changes.
var flagNames = map[string]string{
	"ports":          "--publish",
	"volumes":        "--volume",
	"env":            "--env",
	"labels":         "--label",
	"restart_policy": "--restart",
	"network":        "--network",
	"hostname":       "--hostname",
	"entrypoint":     "--entrypoint",
	"user":           "--user",
	"memory":         "--memory",
	"cpus":           "--cpus",
}

// startupArgs renders opaque startup parameters into docker run flags plus
// the optional trailing command. Keys are emitted in sorted order so the
// rendered argv is deterministic.
func startupArgs(params map[string]any) (flags []string, command []string, err error) {
	if len(params) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "command" {
			command, err = commandArgs(params[key])
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rendered, err := flagValues(key, params[key])
		if err != nil {
			return nil, nil, err
		}
		flags = append(flags, rendered...)
	}
	return flags, command, nil
}

// flagValues renders a single parameter into argv entries. Lists repeat the
// flag per element; true booleans emit a bare flag; false booleans emit
// nothing.
func flagValues(key string, value any) ([]string, error) {
	flag, ok := flagNames[key]
	if !ok {
		flag = "--" + strings.ReplaceAll(key, "_", "-")
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return []string{flag}, nil
		}
		return nil, nil
	case []any:
		var out []string
		for _, elem := range v {
			if _, nested := elem.([]any); nested {
				return nil, fmt.Errorf("parameter %q: nested lists are not supported", key)
			}
			out = append(out, flag, fmt.Sprint(elem))
		}
		return out, nil
	case map[string]any:
		entries := make([]string, 0, len(v))
		for entryKey := range v {
			entries = append(entries, entryKey)
		}
		sort.Strings(entries)
		var out []string
		for _, entryKey := range entries {
			out = append(out, flag, fmt.Sprintf("%s=%v", entryKey, v[entryKey]))
		}
		return out, nil
	default:
		return []string{flag, fmt.Sprint(v)}, nil
	}
}

func commandArgs(value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("parameter \"command\": elements must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter \"command\": must be a string or list of strings")
	}
}
