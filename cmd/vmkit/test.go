package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vmkit/internal/config"
	"vmkit/internal/expect"
)

func runTest(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "list passing files too")
	if err := fs.Parse(args); err != nil {
		return err
	}

	targets := fs.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}
	files, err := collectTestFiles(targets)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "no tests found")
		return nil
	}
	sort.Strings(files)

	passed, failed := 0, 0
	for _, path := range files {
		reason := runTestFile(cfg, path)
		if reason == "" {
			passed++
			if *verbose {
				fmt.Fprintf(out, "ok   %s\n", path)
			}
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL %s: %s\n", path, reason)
	}
	fmt.Fprintf(out, "passed %d, failed %d\n", passed, failed)
	if failed > 0 {
		return fmt.Errorf("%d test files failed", failed)
	}
	return nil
}

// runTestFile compiles and runs one file against its expect directives.
// The result is empty on success, otherwise the reason it failed.
func runTestFile(cfg *config.Config, path string) string {
	exp, err := expect.ParseFile(path)
	if err != nil {
		return err.Error()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err.Error()
	}

	var stdout bytes.Buffer
	bc, runErr := compileSource(string(data))
	if runErr == nil {
		_, runErr = execute(bc, &stdout, cfg.VMConfig())
	}

	reason, err := exp.Check(runErr, stdout.String(), filepath.Dir(path))
	if err != nil {
		return err.Error()
	}
	return reason
}

func collectTestFiles(targets []string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, abs)
		}
		return nil
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if strings.HasSuffix(target, ".tiny") {
				if err := add(target); err != nil {
					return nil, err
				}
			}
			continue
		}

		err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				base := filepath.Base(path)
				if path != target && (strings.HasPrefix(base, ".") || base == "fixtures") {
					return filepath.SkipDir
				}
				return nil
			}
			if isTestFile(path) {
				return add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func isTestFile(path string) bool {
	return strings.HasSuffix(path, ".test.tiny")
}
