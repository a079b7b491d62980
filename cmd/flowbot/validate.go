package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m3rciful/flowbot/core/scenario"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-dir>...",
		Short: "Validate scenario definition files without starting the bot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no .json files found in %s", strings.Join(args, ", "))
			}

			failed := 0
			for _, path := range files {
				if !validateFile(cmd, path) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(files))
			}
			cmd.Printf("%d definitions valid\n", len(files))
			return nil
		},
	}
}

func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	return files, nil
}

func validateFile(cmd *cobra.Command, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		cmd.PrintErrf("%s: %v\n", path, err)
		return false
	}

	sc, issues := scenario.Parse(data)
	ok := true
	for _, i := range issues {
		if i.Severity == "error" {
			ok = false
		}
		cmd.PrintErrf("%s: %s: %s\n", path, i.Severity, i.String())
	}
	if ok && sc != nil {
		cmd.Printf("%s: ok (scenario %q, %d steps)\n", path, sc.ID, len(sc.Steps))
	}
	return ok
}
