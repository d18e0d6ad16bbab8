package main

import (
	"context"
	"fmt"

	"dagger/weft/internal/dagger"
)

const golangciLintVersion = "v2.8.0"

// lintOpts returns the common GolangcilintOpts used by both CheckLint and FixLint.
// It layers golangci-lint on top of goContainer() so the sqlite dev headers,
// CGO, and Go caches are already in place.
func (w *Weft) lintOpts() dagger.GolangcilintOpts {
	base := w.goContainer().
		WithExec([]string{
			"go",
			"install",
			fmt.Sprintf("github.com/golangci/golangci-lint/v2/cmd/golangci-lint@%s", golangciLintVersion),
		})

	return dagger.GolangcilintOpts{
		BaseCtr: base,
		Config:  w.Source.File(".golangci.yml"),
	}
}

// CheckLint runs golangci-lint against the weft source code without applying fixes.
func (w *Weft) CheckLint(ctx context.Context) (string, error) {
	return dag.Golangcilint(w.Source, w.lintOpts()).Check(ctx)
}

// FixLint runs golangci-lint against the weft source code with --fix, applying
// automatic fixes where possible, and returns the modified source directory.
func (w *Weft) FixLint(ctx context.Context) *dagger.Directory {
	return dag.Golangcilint(w.Source, w.lintOpts()).Lint()
}
