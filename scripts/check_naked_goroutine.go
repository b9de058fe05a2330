//go:build ignore

// check_naked_goroutine fails when non-test code under internal/ starts a
// goroutine with a bare go statement. Background work goes through
// internal/pkg/worker so it is bounded and released on shutdown.
//
// A line (or the line after a comment) marked nolint:naked-goroutine is exempt.
//
//	go run scripts/check_naked_goroutine.go
package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tag = "nolint:naked-goroutine"

var exempt = []string{"internal/pkg/worker"}

func main() {
	var findings []string
	err := filepath.WalkDir("internal", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		slash := filepath.ToSlash(path)
		if d.IsDir() {
			for _, e := range exempt {
				if slash == e {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := scan(path)
		if err != nil {
			return err
		}
		findings = append(findings, found...)
		return nil
	})
	if err != nil {
		fmt.Printf("[naked-goroutine] FAIL: %v\n", err)
		os.Exit(1)
	}
	if len(findings) > 0 {
		fmt.Println("[naked-goroutine] FAIL")
		for _, f := range findings {
			fmt.Println(f)
		}
		os.Exit(1)
	}
	fmt.Println("[naked-goroutine] OK")
}

func scan(path string) ([]string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	allowed := map[int]bool{}
	for _, group := range file.Comments {
		for _, c := range group.List {
			if strings.Contains(c.Text, tag) {
				line := fset.Position(c.Pos()).Line
				allowed[line] = true
				allowed[line+1] = true
			}
		}
	}

	var out []string
	ast.Inspect(file, func(n ast.Node) bool {
		stmt, ok := n.(*ast.GoStmt)
		if !ok {
			return true
		}
		pos := fset.Position(stmt.Pos())
		if !allowed[pos.Line] {
			out = append(out, fmt.Sprintf("%s:%d: bare go statement; submit to a worker pool instead", path, pos.Line))
		}
		return true
	})
	return out, nil
}
