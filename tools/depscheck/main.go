package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "arena-shooter/server"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// layerRule forbids packages under From from importing anything under To.
type layerRule struct {
	From string
	To   []string
}

var rules = []layerRule{
	{From: "internal/physics", To: []string{"internal/game", "internal/sim", "internal/instance", "internal/net", "internal/app"}},
	{From: "internal/game", To: []string{"internal/sim", "internal/instance", "internal/net", "internal/app"}},
	{From: "internal/sim", To: []string{"internal/instance", "internal/net", "internal/app"}},
	{From: "internal/instance", To: []string{"internal/net", "internal/app"}},
	{From: "internal/net", To: []string{"internal/app"}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	decoder := json.NewDecoder(bytes.NewReader(output))

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
			os.Exit(1)
		}
		violations = append(violations, check(pkg)...)
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(pkg packageInfo) []string {
	var violations []string
	for _, rule := range rules {
		if !within(pkg.ImportPath, rule.From) {
			continue
		}
		for _, imp := range pkg.Imports {
			for _, forbidden := range rule.To {
				if within(imp, forbidden) {
					violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
				}
			}
		}
	}
	return violations
}

func within(importPath, dir string) bool {
	prefix := modulePath + "/" + dir
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
