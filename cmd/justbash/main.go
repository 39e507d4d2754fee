// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// justbash is a sandboxed shell interpreter: it executes scripts entirely
// in-process against an in-memory filesystem, never spawning subprocesses
// or touching the host filesystem.
//
//	justbash -c 'echo hello'
//	justbash script.sh
//	echo 'echo hi' | justbash
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbreunig/just-bash/shell"
)

var (
	command    string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:           "justbash [script-file]",
		Short:         "run shell scripts in an in-process sandbox",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&command, "command", "c", "", "script to execute")
	root.Flags().StringVar(&configPath, "config", "", "YAML sandbox configuration file")
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "justbash: %v\n", err)
		os.Exit(2)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := &shell.Config{}
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return err
		}
		cfg, err = shell.LoadConfig(f)
		f.Close()
		if err != nil {
			return err
		}
	}
	script := command
	switch {
	case command != "":
		if len(args) > 0 {
			return fmt.Errorf("cannot combine -c with a script file")
		}
	case len(args) == 1:
		body, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		script = string(body)
	default:
		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		script = string(body)
	}

	sess, err := shell.NewSession(cfg)
	if err != nil {
		return err
	}
	res, err := sess.Run(script)
	if err != nil {
		return err
	}
	io.WriteString(os.Stdout, res.Stdout)
	io.WriteString(os.Stderr, res.Stderr)
	os.Exit(res.ExitCode)
	return nil
}
