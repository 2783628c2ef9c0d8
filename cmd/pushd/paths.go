package main

import (
	"os"
	"path/filepath"
)

const appDirName = "pushd"

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appDirName)
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+appDirName, "state")
}

// parseFlags is a tiny manual parser in the teacher's style: a flat
// --name value / --name=value loop, no subcommand framework.
func parseFlags(args []string, handlers map[string]func(string)) ([]string, error) {
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, val, hasEq := cutFlag(arg)
		if handler, ok := handlers[name]; ok {
			if hasEq {
				handler(val)
				continue
			}
			if i+1 >= len(args) {
				return nil, errMissingValue(name)
			}
			i++
			handler(args[i])
			continue
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func cutFlag(arg string) (name, value string, hasEq bool) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return arg, "", false
}

type missingValueError string

func (e missingValueError) Error() string { return string(e) + " requires a value" }

func errMissingValue(flag string) error { return missingValueError(flag) }
