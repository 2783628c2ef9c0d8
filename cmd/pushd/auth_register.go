package main

import (
	"fmt"
	"os"

	"github.com/pushhq/pushd/internal/config"
)

func authCmd(args []string) {
	configDir := defaultConfigDir()
	positional, err := parseFlags(args, map[string]func(string){
		"--config-dir": func(v string) { configDir = v },
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pushd auth <api-key> [--config-dir <dir>]")
		os.Exit(1)
	}
	store := config.New(configDir)
	if err := store.SaveAPIKey(positional[0]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("api key saved")
}

func registerCmd(args []string) {
	configDir := defaultConfigDir()
	positional, err := parseFlags(args, map[string]func(string){
		"--config-dir": func(v string) { configDir = v },
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "usage: pushd register <repo-url> <local-path> [--config-dir <dir>]")
		os.Exit(1)
	}
	store := config.New(configDir)
	if err := store.Register(positional[0], positional[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("registered %s -> %s\n", positional[0], positional[1])
}
